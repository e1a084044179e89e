package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"fileup/internal/config"
)

var (
	ErrChannelClosed   = errors.New("channel is closed")
	ErrBufferTimeout   = errors.New("data channel buffer did not drain")
	ErrChannelNotReady = errors.New("data channel did not open in time")
)

const (
	flowControlTimeout = 30 * time.Second
	readyTimeout       = 30 * time.Second
	incomingQueueSize  = 100
)

// Channel carries Messages over one ordered WebRTC data channel. The role
// specific protocol lives in its MessageHandler.
type Channel struct {
	ctx     context.Context
	cfg     *config.Config
	dc      *webrtc.DataChannel
	handler MessageHandler
	logger  *slog.Logger

	opened    chan struct{}
	openOnce  sync.Once
	lowBuffer chan struct{}

	incoming chan []byte
	outgoing chan []byte

	mu     sync.RWMutex
	closed bool

	done     chan struct{}
	doneOnce sync.Once
}

func NewChannel(ctx context.Context, cfg *config.Config, handler MessageHandler, logger *slog.Logger) *Channel {
	return &Channel{
		ctx:       ctx,
		cfg:       cfg,
		handler:   handler,
		logger:    logger,
		opened:    make(chan struct{}),
		lowBuffer: make(chan struct{}, 1),
		incoming:  make(chan []byte, incomingQueueSize),
		outgoing:  make(chan []byte),
		done:      make(chan struct{}),
	}
}

// Open creates the data channel on the offering side
func (c *Channel) Open(pc *webrtc.PeerConnection, label string) error {
	ordered := true
	dc, err := pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fmt.Errorf("failed to open data channel %q: %w", label, err)
	}
	c.bind(dc)
	return nil
}

// Accept binds the first data channel the remote peer opens
func (c *Channel) Accept(pc *webrtc.PeerConnection) {
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		c.logger.Debug("Remote data channel", "label", dc.Label(), "id", dc.ID())
		c.bind(dc)
	})
}

func (c *Channel) bind(dc *webrtc.DataChannel) {
	c.dc = dc

	dc.OnOpen(func() {
		c.logger.Debug("Data channel open", "label", dc.Label())
		c.openOnce.Do(func() { close(c.opened) })
	})
	dc.OnClose(func() {
		c.logger.Debug("Data channel closed by remote", "label", dc.Label())
		if c.markClosed() {
			c.handler.OnChannelClosed()
			c.stop()
		}
	})
	dc.OnError(func(err error) {
		c.logger.Warn("Data channel failed", "error", err)
		c.fail(err)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case c.incoming <- msg.Data:
		case <-c.ctx.Done():
		case <-c.done:
		}
	})

	dc.SetBufferedAmountLowThreshold(c.cfg.WebRTC.BufferedAmountLowThreshold)
	dc.OnBufferedAmountLow(func() {
		select {
		case c.lowBuffer <- struct{}{}:
		default:
		}
	})
}

// Start runs the message loops once the data channel opens and notifies
// the handler. The returned channel is closed when the loops stop.
func (c *Channel) Start() <-chan struct{} {
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		defer c.stop()

		if err := c.awaitOpen(); err != nil {
			c.logger.Warn("Data channel never opened", "error", err)
			c.fail(err)
			return
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.readLoop()
		}()
		go func() {
			defer wg.Done()
			c.writeLoop()
		}()

		if err := c.handler.OnChannelReady(); err != nil {
			c.logger.Warn("Channel handler refused the open channel", "error", err)
			c.fail(err)
		}

		wg.Wait()
	}()

	return stopped
}

// SendMessage hands msg to the write loop. It blocks until the loop takes
// it or the channel stops.
func (c *Channel) SendMessage(msg Message) error {
	if c.IsClosed() {
		return ErrChannelClosed
	}

	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
		return ErrChannelClosed
	case <-c.ctx.Done():
		return fmt.Errorf("channel context cancelled: %w", c.ctx.Err())
	}
}

func (c *Channel) readLoop() {
	for {
		select {
		case data := <-c.incoming:
			msg, err := DecodeMessage(data)
			if err == nil {
				err = c.handler.HandleMessage(msg)
			}
			if err != nil {
				c.logger.Warn("Dropping channel after bad message", "error", err)
				c.fail(err)
				return
			}
		case <-c.done:
			return
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Channel) writeLoop() {
	for {
		select {
		case data := <-c.outgoing:
			if err := c.write(data); err != nil {
				c.logger.Warn("Data channel write failed", "error", err)
				c.fail(err)
				return
			}
		case <-c.done:
			return
		case <-c.ctx.Done():
			return
		}
	}
}

// write sends data once the buffered amount is at most MaxBufferedAmount
func (c *Channel) write(data []byte) error {
	if c.dc.BufferedAmount() > c.cfg.WebRTC.MaxBufferedAmount {
		select {
		case <-c.lowBuffer:
		case <-c.ctx.Done():
			return c.ctx.Err()
		case <-time.After(flowControlTimeout):
			return ErrBufferTimeout
		}
	}

	if err := c.dc.Send(data); err != nil {
		return fmt.Errorf("failed to write to data channel: %w", err)
	}
	return nil
}

func (c *Channel) awaitOpen() error {
	select {
	case <-c.opened:
		if c.IsClosed() {
			return ErrChannelClosed
		}
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	case <-time.After(readyTimeout):
		return ErrChannelNotReady
	}
}

// markClosed reports whether this call closed the channel
func (c *Channel) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

func (c *Channel) fail(err error) {
	if c.markClosed() {
		c.handler.OnChannelError(err)
		c.stop()
	}
}

func (c *Channel) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close flushes and closes the data channel when it is open, then stops the
// loops. Calling it again is a no-op.
func (c *Channel) Close() error {
	if !c.markClosed() {
		return nil
	}

	if c.dc != nil && c.dc.ReadyState() == webrtc.DataChannelStateOpen {
		if err := c.dc.GracefulClose(); err != nil {
			c.logger.Warn("Data channel did not close cleanly", "error", err)
		}
	}

	c.handler.OnChannelClosed()
	c.stop()
	return nil
}

// stop ends the loops and releases anything waiting for the channel to open
func (c *Channel) stop() {
	c.doneOnce.Do(func() {
		c.markClosed()
		close(c.done)
		c.openOnce.Do(func() { close(c.opened) })
	})
}
