package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"fileup/internal/config"
	"fileup/internal/storage"
)

// DataChannelLabel names the channel batches travel on
const DataChannelLabel = "fileup"

var (
	ErrConnectionFailed = errors.New("peer connection failed")
	ErrConnectionClosed = errors.New("peer connection closed")
)

// ConnectionError reports a peer connection that reached a terminal state
type ConnectionError struct {
	Role  string
	State webrtc.PeerConnectionState
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %s peer connection is %s", e.Unwrap(), e.Role, e.State)
}

func (e *ConnectionError) Unwrap() error {
	if e.State == webrtc.PeerConnectionStateClosed {
		return ErrConnectionClosed
	}
	return ErrConnectionFailed
}

// PeerService creates peer connections and reports when they end
type PeerService struct {
	config   *config.Config
	logger   *slog.Logger
	failures chan *ConnectionError
}

func NewPeerService(cfg *config.Config, logger *slog.Logger) *PeerService {
	return &PeerService{
		config:   cfg,
		logger:   logger,
		failures: make(chan *ConnectionError, 1),
	}
}

// NewConnection creates a peer connection using the configured ICE servers
func (p *PeerService) NewConnection() (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: p.config.WebRTC.ICEServerConfig(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return pc, nil
}

// Watch logs state changes of pc and reports the first failed or closed
// state on Failures
func (p *PeerService) Watch(pc *webrtc.PeerConnection, role string) {
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Debug("Peer connection state", "role", role, "state", state.String())
		if state != webrtc.PeerConnectionStateFailed && state != webrtc.PeerConnectionStateClosed {
			return
		}
		select {
		case p.failures <- &ConnectionError{Role: role, State: state}:
		default:
		}
	})
}

func (p *PeerService) Failures() <-chan *ConnectionError {
	return p.failures
}

// Close closes pc; a nil pc is ignored
func (p *PeerService) Close(pc *webrtc.PeerConnection) error {
	if pc == nil {
		return nil
	}
	return pc.Close()
}

// CreateSenderChannel creates the data channel on peerConn and wires a
// SenderHandler to it. The handler is the upload transport.
func CreateSenderChannel(ctx context.Context, cfg *config.Config, peerConn *webrtc.PeerConnection, logger *slog.Logger) (*Channel, *SenderHandler, error) {
	handler := NewSenderHandler(ctx, cfg, logger)
	channel := NewChannel(ctx, cfg, handler, logger)
	handler.SetMessenger(channel)

	if err := channel.Open(peerConn, DataChannelLabel); err != nil {
		return nil, nil, err
	}
	return channel, handler, nil
}

// CreateReceiverChannel waits for the remote data channel on peerConn and
// stores incoming batches in sink
func CreateReceiverChannel(ctx context.Context, cfg *config.Config, peerConn *webrtc.PeerConnection, sink storage.Sink, logger *slog.Logger) (*Channel, *ReceiverHandler) {
	handler := NewReceiverHandler(ctx, cfg, sink, logger)
	channel := NewChannel(ctx, cfg, handler, logger)
	handler.SetMessenger(channel)

	channel.Accept(peerConn)
	return channel, handler
}
