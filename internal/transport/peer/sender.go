package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"fileup/internal/config"
	"fileup/internal/upload"
	"fileup/pkg/types"
)

var (
	ErrNotReady      = errors.New("receiver is not ready")
	ErrResultTimeout = errors.New("timed out waiting for batch result")
	ErrBatchAborted  = errors.New("receiver aborted the batch")
	ErrNoMessenger   = errors.New("sender has no channel")
)

// batchOutcome is what the receiver answered for a batch
type batchOutcome struct {
	result types.BatchResult
	err    error
}

// SenderHandler streams upload batches to a remote receiver. It implements
// MessageHandler for the channel and upload.Transport for the uploader.
// Batches are put on the wire one at a time.
type SenderHandler struct {
	*BaseHandler

	config    *config.Config
	logger    *slog.Logger
	messenger Messenger

	phase   SenderState
	phaseMu sync.RWMutex

	readyCh   chan struct{}
	readyOnce sync.Once

	// sendMu holds a batch on the wire until its result arrives
	sendMu sync.Mutex

	pendingMu sync.Mutex
	nextBatch int
	pendingID int
	pending   chan batchOutcome
	closeErr  error
}

func NewSenderHandler(ctx context.Context, cfg *config.Config, logger *slog.Logger) *SenderHandler {
	return &SenderHandler{
		BaseHandler: NewBaseHandler(ctx),
		config:      cfg,
		logger:      logger,
		phase:       SenderInitializing,
		readyCh:     make(chan struct{}),
	}
}

// SetMessenger sets the outgoing side (called once the channel exists)
func (s *SenderHandler) SetMessenger(m Messenger) {
	s.messenger = m
}

// State returns the current transfer state
func (s *SenderHandler) State() SenderState {
	s.phaseMu.RLock()
	defer s.phaseMu.RUnlock()
	return s.phase
}

func (s *SenderHandler) setState(state SenderState) {
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()

	if s.phase == SenderClosed || s.phase == SenderError {
		return
	}
	if s.phase != state {
		s.logger.Debug("Sender state changed", "from", s.phase, "to", state)
		s.phase = state
	}
}

// HandleMessage dispatches one message from the receiver
func (s *SenderHandler) HandleMessage(msg Message) error {
	switch msg.Type {
	case MsgReady:
		s.readyOnce.Do(func() {
			s.logger.Debug("Receiver is ready")
			s.setState(SenderIdle)
			close(s.readyCh)
		})
		return nil
	case MsgBatchResult:
		var result types.BatchResult
		if err := json.Unmarshal(msg.Payload, &result); err != nil {
			s.resolve(msg.Batch, batchOutcome{err: fmt.Errorf("failed to decode batch result: %w", err)})
			return nil
		}
		s.resolve(msg.Batch, batchOutcome{result: result})
		return nil
	case MsgError:
		s.logger.Warn("Receiver reported an error", "batch", msg.Batch, "error", msg.Error)
		err := fmt.Errorf("%w: %s", ErrBatchAborted, msg.Error)
		if msg.Batch == 0 {
			s.failPending(err)
			return nil
		}
		s.resolve(msg.Batch, batchOutcome{err: err})
		return nil
	default:
		s.logger.Warn("Sender received unexpected message", "type", msg.Type)
		return nil
	}
}

// OnChannelReady is called when the data channel is ready; the receiver
// announces itself with READY
func (s *SenderHandler) OnChannelReady() error {
	s.setState(SenderWaitingForReady)
	return nil
}

// OnChannelClosed fails whatever is still waiting for a result
func (s *SenderHandler) OnChannelClosed() {
	s.logger.Debug("Sender channel closed")
	s.setState(SenderClosed)
	s.failPending(ErrChannelClosed)
	s.BaseHandler.OnChannelClosed()
}

// OnChannelError fails pending batches with err
func (s *SenderHandler) OnChannelError(err error) {
	s.logger.Warn("Sender channel error", "error", err)
	s.setState(SenderError)
	s.failPending(fmt.Errorf("channel failed: %w", err))
	s.BaseHandler.OnChannelError(err)
}

// Submit streams one batch to the receiver and waits for its result.
func (s *SenderHandler) Submit(ctx context.Context, req *upload.Request, progress upload.ProgressFunc) (*upload.Response, error) {
	if s.messenger == nil {
		return nil, ErrNoMessenger
	}
	if err := s.waitReady(ctx); err != nil {
		return nil, err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	id, resultCh, err := s.register()
	if err != nil {
		return nil, err
	}
	defer s.unregister(id)

	s.setState(SenderSendingBatch)
	if err := s.sendBatch(ctx, id, req, progress); err != nil {
		if ctx.Err() != nil {
			// best effort, the receiver discards the partial batch
			_ = s.messenger.SendMessage(ControlMessage(MsgError, id, "batch cancelled by sender"))
		}
		s.setState(SenderIdle)
		return nil, err
	}

	s.setState(SenderWaitingForResult)
	defer s.setState(SenderIdle)

	timeout := time.NewTimer(s.config.WebRTC.ResultTimeout)
	defer timeout.Stop()

	select {
	case outcome := <-resultCh:
		if outcome.err != nil {
			return nil, outcome.err
		}
		return toResponse(outcome.result), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout.C:
		return nil, ErrResultTimeout
	case <-s.Context().Done():
		return nil, ErrChannelClosed
	}
}

func (s *SenderHandler) waitReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	default:
	}

	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.Context().Done():
		return ErrNotReady
	}
}

// sendBatch writes BATCH_START, the file data and BATCH_END for req
func (s *SenderHandler) sendBatch(ctx context.Context, id int, req *upload.Request, progress upload.ProgressFunc) error {
	batch := req.Batch
	total := batch.Bytes()

	manifest := types.BatchManifest{
		Seq:        batch.Seq,
		ParamName:  req.ParamName,
		Fields:     req.Fields,
		Files:      make([]types.FileMetadata, len(batch.Files)),
		TotalBytes: total,
	}
	for i, f := range batch.Files {
		manifest.Files[i] = types.FileMetadata{
			Index:    batch.Index(i),
			Name:     req.FileName(f),
			Size:     f.Size(),
			MimeType: f.MimeType(),
		}
	}

	payload, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to encode batch manifest: %w", err)
	}
	if err := s.messenger.SendMessage(Message{Type: MsgBatchStart, Batch: id, Payload: payload}); err != nil {
		return fmt.Errorf("failed to send batch start: %w", err)
	}

	var sent int64
	report := func() {
		if progress != nil {
			progress(sent, total)
		}
	}
	report()

	buf := make([]byte, s.config.WebRTC.PacketSize)
	for i, f := range batch.Files {
		n, err := s.sendFile(ctx, id, i, f, buf, func(n int) {
			sent += int64(n)
			report()
		})
		if err != nil {
			return fmt.Errorf("failed to send %s after %d bytes: %w", f.Name(), n, err)
		}
	}

	if err := s.messenger.SendMessage(ControlMessage(MsgBatchEnd, id, "")); err != nil {
		return fmt.Errorf("failed to send batch end: %w", err)
	}
	return nil
}

// sendFile streams f as FILE_DATA packets followed by FILE_END
func (s *SenderHandler) sendFile(ctx context.Context, id, index int, f upload.File, buf []byte, sent func(n int)) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := rc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := s.messenger.SendMessage(Message{Type: MsgFileData, Batch: id, File: index, Payload: chunk}); err != nil {
				return written, err
			}
			written += int64(n)
			sent(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, readErr
		}
	}

	if err := s.messenger.SendMessage(Message{Type: MsgFileEnd, Batch: id, File: index}); err != nil {
		return written, err
	}
	return written, nil
}

func (s *SenderHandler) register() (int, chan batchOutcome, error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if s.closeErr != nil {
		return 0, nil, s.closeErr
	}
	s.nextBatch++
	s.pendingID = s.nextBatch
	s.pending = make(chan batchOutcome, 1)
	return s.pendingID, s.pending, nil
}

func (s *SenderHandler) unregister(id int) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if s.pendingID == id {
		s.pendingID = 0
		s.pending = nil
	}
}

// resolve delivers an outcome to the batch waiting under id
func (s *SenderHandler) resolve(id int, outcome batchOutcome) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if s.pending == nil || s.pendingID != id {
		s.logger.Debug("Dropping result for unknown batch", "batch", id)
		return
	}
	select {
	case s.pending <- outcome:
	default:
	}
}

// failPending fails the batch in flight and every later submission
func (s *SenderHandler) failPending(err error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if s.closeErr == nil {
		s.closeErr = err
	}
	if s.pending != nil {
		select {
		case s.pending <- batchOutcome{err: err}:
		default:
		}
	}
}

func toResponse(result types.BatchResult) *upload.Response {
	header := make(http.Header)
	if len(result.Body) > 0 && json.Valid(result.Body) {
		header.Set("Content-Type", "application/json")
	}
	return &upload.Response{
		StatusCode: result.Status,
		Status:     fmt.Sprintf("%d %s", result.Status, http.StatusText(result.Status)),
		Header:     header,
		Body:       result.Body,
	}
}
