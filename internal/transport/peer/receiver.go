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

	"fileup/internal/config"
	"fileup/internal/storage"
	"fileup/pkg/types"
)

var ErrNoBatch = errors.New("no batch in progress")

// ReceiverStats summarizes what a receiver stored
type ReceiverStats struct {
	Batches       int
	FailedBatches int
	Files         int
	Bytes         int64
}

// incomingFile is a file being streamed into the sink
type incomingFile struct {
	index int
	meta  types.FileMetadata
	pw    *io.PipeWriter
	done  chan putResult
}

type putResult struct {
	obj storage.Object
	err error
}

// incomingBatch tracks the batch currently on the wire
type incomingBatch struct {
	id       int
	manifest types.BatchManifest
	stored   []types.StoredFile
	current  *incomingFile
	err      error
}

// ReceiverHandler implements MessageHandler for storing received batches.
// Messages are handled on the channel's single incoming loop.
type ReceiverHandler struct {
	*BaseHandler

	config    *config.Config
	logger    *slog.Logger
	messenger Messenger
	sink      storage.Sink

	// batchMu guards batch against close events from other goroutines
	batchMu sync.Mutex
	batch   *incomingBatch

	mu    sync.Mutex
	phase ReceiverState
	stats ReceiverStats

	// OnFileStored is called after each file was persisted
	OnFileStored func(types.StoredFile)
}

func NewReceiverHandler(ctx context.Context, cfg *config.Config, sink storage.Sink, logger *slog.Logger) *ReceiverHandler {
	return &ReceiverHandler{
		BaseHandler: NewBaseHandler(ctx),
		config:      cfg,
		logger:      logger,
		sink:        sink,
		phase:       ReceiverInitializing,
	}
}

// SetMessenger sets the outgoing side (called once the channel exists)
func (r *ReceiverHandler) SetMessenger(m Messenger) {
	r.messenger = m
}

// Stats returns a snapshot of what was received so far
func (r *ReceiverHandler) Stats() ReceiverStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// State returns the current receiver state
func (r *ReceiverHandler) State() ReceiverState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func (r *ReceiverHandler) setState(state ReceiverState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != state {
		r.logger.Debug("Receiver state changed", "from", r.phase, "to", state)
		r.phase = state
	}
}

// HandleMessage applies one message from the sender
func (r *ReceiverHandler) HandleMessage(msg Message) error {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()

	switch msg.Type {
	case MsgBatchStart:
		return r.handleBatchStart(msg)
	case MsgFileData:
		r.handleFileData(msg)
		return nil
	case MsgFileEnd:
		r.handleFileEnd(msg)
		return nil
	case MsgBatchEnd:
		return r.handleBatchEnd(msg)
	case MsgError:
		r.logger.Warn("Sender aborted batch", "batch", msg.Batch, "error", msg.Error)
		if r.batch != nil && r.batch.id == msg.Batch {
			r.abortBatch(fmt.Errorf("sender aborted: %s", msg.Error))
			r.setState(ReceiverReady)
		}
		return nil
	default:
		r.logger.Warn("Receiver received unexpected message", "type", msg.Type)
		return nil
	}
}

// OnChannelReady announces the receiver to the sender
func (r *ReceiverHandler) OnChannelReady() error {
	if err := r.messenger.SendMessage(ControlMessage(MsgReady, 0, "")); err != nil {
		return fmt.Errorf("failed to send READY: %w", err)
	}
	r.setState(ReceiverReady)
	return nil
}

func (r *ReceiverHandler) OnChannelClosed() {
	r.logger.Debug("Receiver channel closed")
	// cancel first so a blocked sink write returns
	r.BaseHandler.OnChannelClosed()
	r.batchMu.Lock()
	r.abortBatch(ErrChannelClosed)
	r.batchMu.Unlock()
	r.setState(ReceiverCompleted)
}

func (r *ReceiverHandler) OnChannelError(err error) {
	r.logger.Warn("Receiver channel error", "error", err)
	r.BaseHandler.OnChannelError(err)
	r.batchMu.Lock()
	r.abortBatch(err)
	r.batchMu.Unlock()
	r.setState(ReceiverError)
}

func (r *ReceiverHandler) handleBatchStart(msg Message) error {
	if r.batch != nil {
		r.logger.Warn("New batch started before the previous one ended", "previous", r.batch.id, "batch", msg.Batch)
		r.abortBatch(fmt.Errorf("superseded by batch %d", msg.Batch))
	}

	var manifest types.BatchManifest
	if err := json.Unmarshal(msg.Payload, &manifest); err != nil {
		r.batch = &incomingBatch{id: msg.Batch}
		r.failBatch(fmt.Errorf("invalid batch manifest: %w", err))
		return nil
	}

	r.batch = &incomingBatch{id: msg.Batch, manifest: manifest}
	r.logger.Info("Receiving batch", "batch", manifest.Seq, "files", len(manifest.Files), "bytes", manifest.TotalBytes)
	r.setState(ReceiverReceivingBatch)
	return nil
}

func (r *ReceiverHandler) handleFileData(msg Message) {
	f := r.fileFor(msg)
	if f == nil {
		return
	}
	if _, err := f.pw.Write(msg.Payload); err != nil {
		r.failBatch(fmt.Errorf("failed to store %s: %w", f.meta.Name, r.finishFile(r.batch, f, err)))
	}
}

func (r *ReceiverHandler) handleFileEnd(msg Message) {
	f := r.fileFor(msg)
	if f == nil {
		return
	}
	if err := r.finishFile(r.batch, f, nil); err != nil {
		r.failBatch(fmt.Errorf("failed to store %s: %w", f.meta.Name, err))
	}
}

func (r *ReceiverHandler) handleBatchEnd(msg Message) error {
	b := r.batch
	if b == nil || b.id != msg.Batch {
		return r.sendResult(msg.Batch, 0, http.StatusBadRequest, errorBody(ErrNoBatch))
	}
	if b.current != nil {
		if err := r.finishFile(b, b.current, nil); err != nil && b.err == nil {
			b.err = err
		}
	}
	r.batch = nil
	defer r.setState(ReceiverReady)

	r.mu.Lock()
	if b.err != nil {
		r.stats.FailedBatches++
	} else {
		r.stats.Batches++
	}
	r.mu.Unlock()

	if b.err != nil {
		return r.sendResult(b.id, b.manifest.Seq, http.StatusInternalServerError, errorBody(b.err))
	}

	stored := b.stored
	if stored == nil {
		stored = []types.StoredFile{}
	}
	body, err := json.Marshal(types.UploadResult{Files: stored, Fields: b.manifest.Fields})
	if err != nil {
		return fmt.Errorf("failed to encode upload result: %w", err)
	}
	return r.sendResult(b.id, b.manifest.Seq, http.StatusOK, body)
}

// fileFor returns the incoming file msg belongs to, opening it in the sink
// on its first message. It returns nil while the batch is being discarded.
func (r *ReceiverHandler) fileFor(msg Message) *incomingFile {
	b := r.batch
	if b == nil || b.id != msg.Batch || b.err != nil {
		return nil
	}
	if b.current != nil && b.current.index == msg.File {
		return b.current
	}
	if b.current != nil {
		if err := r.finishFile(b, b.current, nil); err != nil {
			r.failBatch(err)
			return nil
		}
	}
	if msg.File < 0 || msg.File >= len(b.manifest.Files) {
		r.failBatch(fmt.Errorf("file %d is not part of batch %d", msg.File, b.manifest.Seq))
		return nil
	}

	meta := b.manifest.Files[msg.File]
	pr, pw := io.Pipe()
	f := &incomingFile{index: msg.File, meta: meta, pw: pw, done: make(chan putResult, 1)}
	go func() {
		obj, err := r.sink.Put(r.Context(), meta.Name, meta.MimeType, pr)
		if err != nil {
			pr.CloseWithError(err)
		} else {
			pr.CloseWithError(io.ErrClosedPipe)
		}
		f.done <- putResult{obj: obj, err: err}
	}()

	b.current = f
	return f
}

// finishFile closes the file's stream and waits for the sink. cause, when
// set, aborts the stream instead.
func (r *ReceiverHandler) finishFile(b *incomingBatch, f *incomingFile, cause error) error {
	if b.current == f {
		b.current = nil
	}

	if cause != nil {
		f.pw.CloseWithError(cause)
	} else {
		f.pw.Close()
	}
	res := <-f.done
	if cause != nil {
		if res.err != nil {
			return res.err
		}
		return cause
	}
	if res.err != nil {
		return res.err
	}

	stored := types.StoredFile{
		Field:       fmt.Sprintf("%s[%d]", b.manifest.ParamName, f.meta.Index),
		Name:        f.meta.Name,
		Key:         res.obj.Key,
		Size:        res.obj.Size,
		ContentType: res.obj.ContentType,
	}
	b.stored = append(b.stored, stored)

	r.mu.Lock()
	r.stats.Files++
	r.stats.Bytes += stored.Size
	r.mu.Unlock()

	r.logger.Debug("Stored file", "name", stored.Name, "key", stored.Key, "size", stored.Size)
	if r.OnFileStored != nil {
		r.OnFileStored(stored)
	}
	return nil
}

// failBatch records the first failure and discards the rest of the batch
func (r *ReceiverHandler) failBatch(err error) {
	b := r.batch
	if b == nil || b.err != nil {
		return
	}
	r.logger.Warn("Discarding batch", "batch", b.manifest.Seq, "error", err)
	b.err = err
	if b.current != nil {
		_ = r.finishFile(b, b.current, err)
	}
	r.setState(ReceiverDiscardingBatch)
}

// abortBatch drops the current batch without answering it
func (r *ReceiverHandler) abortBatch(err error) {
	b := r.batch
	if b == nil {
		return
	}
	if b.current != nil {
		_ = r.finishFile(b, b.current, err)
	}
	r.batch = nil

	r.mu.Lock()
	r.stats.FailedBatches++
	r.mu.Unlock()
}

func (r *ReceiverHandler) sendResult(id, seq, status int, body []byte) error {
	payload, err := json.Marshal(types.BatchResult{Seq: seq, Status: status, Body: body})
	if err != nil {
		return fmt.Errorf("failed to encode batch result: %w", err)
	}
	if err := r.messenger.SendMessage(Message{Type: MsgBatchResult, Batch: id, Payload: payload}); err != nil {
		return fmt.Errorf("failed to send batch result: %w", err)
	}
	return nil
}

func errorBody(err error) []byte {
	body, _ := json.Marshal(map[string]string{"error": err.Error()})
	return body
}
