package peer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fileup/internal/config"
	"fileup/internal/file"
	"fileup/internal/storage"
	"fileup/internal/upload"
	"fileup/pkg/types"
)

var testLogger = slog.New(slog.DiscardHandler)

// memEnd is one side of an in-memory channel. Messages go through the JSON
// codec like on a real data channel.
type memEnd struct {
	peer    *memEnd
	handler MessageHandler
	inbox   chan []byte
	done    chan struct{}
	once    sync.Once
}

func (m *memEnd) SendMessage(msg Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	select {
	case m.peer.inbox <- data:
		return nil
	case <-m.done:
		return ErrChannelClosed
	}
}

func (m *memEnd) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *memEnd) run() {
	for {
		select {
		case data := <-m.inbox:
			msg, err := DecodeMessage(data)
			if err == nil {
				err = m.handler.HandleMessage(msg)
			}
			if err != nil {
				m.handler.OnChannelError(err)
				return
			}
		case <-m.done:
			return
		}
	}
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.WebRTC.PacketSize = 4
	cfg.WebRTC.ResultTimeout = 5 * time.Second
	return cfg
}

// connect wires sender and receiver together and exchanges READY
func connect(t *testing.T, sender *SenderHandler, receiver *ReceiverHandler) {
	t.Helper()

	done := make(chan struct{})
	a := &memEnd{handler: sender, inbox: make(chan []byte, 64), done: done}
	b := &memEnd{handler: receiver, inbox: make(chan []byte, 64), done: done}
	a.peer, b.peer = b, a
	sender.SetMessenger(a)
	receiver.SetMessenger(b)

	go a.run()
	go b.run()
	t.Cleanup(func() { close(done) })

	require.NoError(t, sender.OnChannelReady())
	require.NoError(t, receiver.OnChannelReady())
}

func newDiskSink(t *testing.T) (*storage.DiskSink, string) {
	t.Helper()
	dir := t.TempDir()
	sink, err := storage.NewDiskSink(dir, "in/", file.NewFileService())
	require.NoError(t, err)
	return sink, dir
}

func batchOf(files ...upload.File) upload.Batch {
	return upload.Partition(files, 0)[0]
}

type progressLog struct {
	mu      sync.Mutex
	samples [][2]int64
}

func (p *progressLog) record(loaded, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = append(p.samples, [2]int64{loaded, total})
}

func (p *progressLog) last() [2]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.samples[len(p.samples)-1]
}

func TestSubmit_StoresBatch(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	sink, dir := newDiskSink(t)

	sender := NewSenderHandler(ctx, cfg, testLogger)
	receiver := NewReceiverHandler(ctx, cfg, sink, testLogger)
	var stored []types.StoredFile
	receiver.OnFileStored = func(f types.StoredFile) { stored = append(stored, f) }
	connect(t, sender, receiver)

	req := &upload.Request{
		Batch: batchOf(
			upload.NewMemoryFile("a.txt", "text/plain", []byte("hello world")),
			upload.NewMemoryFile("empty.bin", "application/octet-stream", nil),
		),
		ParamName: "files",
		Fields:    map[string]string{"album": "trip"},
		Rename:    func(name string) (string, bool) { return "x-" + name, true },
	}
	var progress progressLog

	resp, err := sender.Submit(ctx, req, progress.record)

	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "200 OK", resp.Status)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, [2]int64{11, 11}, progress.last())

	var result types.UploadResult
	require.NoError(t, json.Unmarshal(resp.Body, &result))
	require.Len(t, result.Files, 2)
	assert.Equal(t, map[string]string{"album": "trip"}, result.Fields)

	assert.Equal(t, "files[0]", result.Files[0].Field)
	assert.Equal(t, "x-a.txt", result.Files[0].Name)
	assert.Equal(t, int64(11), result.Files[0].Size)
	assert.Equal(t, "text/plain", result.Files[0].ContentType)
	assert.Equal(t, "files[1]", result.Files[1].Field)
	assert.Equal(t, int64(0), result.Files[1].Size)

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(result.Files[0].Key)))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	assert.Equal(t, result.Files, stored)
	assert.Equal(t, ReceiverStats{Batches: 1, Files: 2, Bytes: 11}, receiver.Stats())
	assert.Equal(t, SenderIdle, sender.State())
}

type failingSink struct {
	fail bool
	next storage.Sink
}

func (f *failingSink) Put(ctx context.Context, name, contentType string, r io.Reader) (storage.Object, error) {
	if f.fail {
		_, _ = io.CopyN(io.Discard, r, 2)
		return storage.Object{}, errors.New("disk full")
	}
	return f.next.Put(ctx, name, contentType, r)
}

func TestSubmit_SinkFailureAnswers500(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	disk, _ := newDiskSink(t)
	sink := &failingSink{fail: true, next: disk}

	sender := NewSenderHandler(ctx, cfg, testLogger)
	receiver := NewReceiverHandler(ctx, cfg, sink, testLogger)
	connect(t, sender, receiver)

	req := &upload.Request{
		Batch:     batchOf(upload.NewMemoryFile("big.txt", "text/plain", []byte("0123456789abcdef"))),
		ParamName: "files",
	}

	resp, err := sender.Submit(ctx, req, nil)

	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "disk full")

	// the receiver recovers for the next batch
	sink.fail = false
	resp, err = sender.Submit(ctx, req, nil)

	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, ReceiverStats{Batches: 1, FailedBatches: 1, Files: 1, Bytes: 16}, receiver.Stats())
}

func TestSubmit_ThroughUploader(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	sink, _ := newDiskSink(t)

	sender := NewSenderHandler(ctx, cfg, testLogger)
	receiver := NewReceiverHandler(ctx, cfg, sink, testLogger)
	connect(t, sender, receiver)

	opts := upload.DefaultOptions()
	opts.URL = "peer://test"
	opts.MaxFilesPerRequest = 2
	opts.MaxConcurrentRequests = 0

	var mu sync.Mutex
	var responses []any
	u, err := upload.New(opts, sender, upload.Hooks{
		UploadFinished: func(f upload.File, response any, elapsed time.Duration, resp *upload.Response) bool {
			mu.Lock()
			defer mu.Unlock()
			responses = append(responses, response)
			return true
		},
	}, testLogger)
	require.NoError(t, err)

	job, err := u.Add(ctx, []upload.File{
		upload.NewMemoryFile("1.txt", "text/plain", []byte("one")),
		upload.NewMemoryFile("2.txt", "text/plain", []byte("two")),
		upload.NewMemoryFile("3.txt", "text/plain", []byte("three")),
	})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, job.Wait(waitCtx))

	stats := job.Stats()
	assert.Equal(t, 3, stats.FilesDone)
	assert.Equal(t, 2, stats.Batches[upload.BatchDone])
	assert.Len(t, responses, 3)
	assert.Equal(t, 3, receiver.Stats().Files)
}

// recordingMessenger collects what a handler sends
type recordingMessenger struct {
	mu     sync.Mutex
	msgs   []Message
	onSend func(Message)
}

func (r *recordingMessenger) SendMessage(msg Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	onSend := r.onSend
	r.mu.Unlock()
	if onSend != nil {
		onSend(msg)
	}
	return nil
}

func (r *recordingMessenger) Close() error { return nil }

func (r *recordingMessenger) types() []MessageType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MessageType, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Type
	}
	return out
}

func readySender(t *testing.T, ctx context.Context, onSend func(Message)) (*SenderHandler, *recordingMessenger) {
	t.Helper()
	sender := NewSenderHandler(ctx, testConfig(), testLogger)
	m := &recordingMessenger{onSend: onSend}
	sender.SetMessenger(m)
	require.NoError(t, sender.HandleMessage(ControlMessage(MsgReady, 0, "")))
	return sender, m
}

func TestSubmit_WireSequence(t *testing.T) {
	ctx := context.Background()
	var sender *SenderHandler
	sender, m := readySender(t, ctx, func(msg Message) {
		if msg.Type == MsgBatchEnd {
			go func() {
				payload, _ := json.Marshal(types.BatchResult{Status: 201, Body: json.RawMessage(`"ok"`)})
				_ = sender.HandleMessage(Message{Type: MsgBatchResult, Batch: msg.Batch, Payload: payload})
			}()
		}
	})

	req := &upload.Request{
		Batch:     batchOf(upload.NewMemoryFile("a", "", []byte("123456")), upload.NewMemoryFile("b", "", nil)),
		ParamName: "files",
	}
	resp, err := sender.Submit(ctx, req, nil)

	require.NoError(t, err)
	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, "201 Created", resp.Status)
	assert.Equal(t, []MessageType{
		MsgBatchStart,
		MsgFileData, MsgFileData, MsgFileEnd,
		MsgFileEnd,
		MsgBatchEnd,
	}, m.types())

	var manifest types.BatchManifest
	require.NoError(t, json.Unmarshal(m.msgs[0].Payload, &manifest))
	assert.Equal(t, int64(6), manifest.TotalBytes)
	assert.Equal(t, []types.FileMetadata{{Index: 0, Name: "a", Size: 6}, {Index: 1, Name: "b"}}, manifest.Files)
	assert.Equal(t, 1, m.msgs[4].File)
}

func TestSubmit_Failures(t *testing.T) {
	req := &upload.Request{Batch: batchOf(upload.NewMemoryFile("a", "", []byte("data")))}

	t.Run("receiver error", func(t *testing.T) {
		var sender *SenderHandler
		sender, _ = readySender(t, context.Background(), func(msg Message) {
			if msg.Type == MsgBatchEnd {
				go func() { _ = sender.HandleMessage(ControlMessage(MsgError, msg.Batch, "quota exceeded")) }()
			}
		})

		_, err := sender.Submit(context.Background(), req, nil)

		assert.ErrorIs(t, err, ErrBatchAborted)
		assert.ErrorContains(t, err, "quota exceeded")
	})

	t.Run("channel closed while waiting", func(t *testing.T) {
		var sender *SenderHandler
		sender, _ = readySender(t, context.Background(), func(msg Message) {
			if msg.Type == MsgBatchEnd {
				go sender.OnChannelClosed()
			}
		})

		_, err := sender.Submit(context.Background(), req, nil)
		assert.ErrorIs(t, err, ErrChannelClosed)

		_, err = sender.Submit(context.Background(), req, nil)
		assert.Error(t, err, "a closed sender rejects new batches")
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sender, _ := readySender(t, context.Background(), func(msg Message) {
			if msg.Type == MsgBatchEnd {
				cancel()
			}
		})

		_, err := sender.Submit(ctx, req, nil)

		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("result timeout", func(t *testing.T) {
		sender, _ := readySender(t, context.Background(), nil)
		sender.config.WebRTC.ResultTimeout = 10 * time.Millisecond

		_, err := sender.Submit(context.Background(), req, nil)

		assert.ErrorIs(t, err, ErrResultTimeout)
	})

	t.Run("not ready", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		sender := NewSenderHandler(context.Background(), testConfig(), testLogger)
		sender.SetMessenger(&recordingMessenger{})

		_, err := sender.Submit(ctx, req, nil)

		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestReceiver_SenderAbortDiscardsBatch(t *testing.T) {
	sink, dir := newDiskSink(t)
	receiver := NewReceiverHandler(context.Background(), testConfig(), sink, testLogger)
	m := &recordingMessenger{}
	receiver.SetMessenger(m)
	require.NoError(t, receiver.OnChannelReady())

	manifest, err := json.Marshal(types.BatchManifest{
		ParamName: "files",
		Files:     []types.FileMetadata{{Name: "a.txt", Size: 8}},
	})
	require.NoError(t, err)

	require.NoError(t, receiver.HandleMessage(Message{Type: MsgBatchStart, Batch: 7, Payload: manifest}))
	require.NoError(t, receiver.HandleMessage(Message{Type: MsgFileData, Batch: 7, Payload: []byte("half")}))
	assert.Equal(t, ReceiverReceivingBatch, receiver.State())
	require.NoError(t, receiver.HandleMessage(ControlMessage(MsgError, 7, "cancelled")))

	assert.Equal(t, ReceiverReady, receiver.State())
	assert.Equal(t, []MessageType{MsgReady}, m.types(), "an aborted batch is not answered")
	assert.Equal(t, 1, receiver.Stats().FailedBatches)

	var leftovers []string
	_ = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			leftovers = append(leftovers, p)
		}
		return nil
	})
	assert.Empty(t, leftovers, "partial files are removed")
}

func TestReceiver_UnknownBatchEnd(t *testing.T) {
	sink, _ := newDiskSink(t)
	receiver := NewReceiverHandler(context.Background(), testConfig(), sink, testLogger)
	m := &recordingMessenger{}
	receiver.SetMessenger(m)

	require.NoError(t, receiver.HandleMessage(ControlMessage(MsgBatchEnd, 3, "")))

	require.Len(t, m.msgs, 1)
	var result types.BatchResult
	require.NoError(t, json.Unmarshal(m.msgs[0].Payload, &result))
	assert.Equal(t, 400, result.Status)
	assert.Equal(t, 3, m.msgs[0].Batch)
}

func TestMessageCodec(t *testing.T) {
	msg := Message{Type: MsgFileData, Batch: 2, File: 1, Payload: []byte{0, 1, 2}}

	data, err := EncodeMessage(msg)
	require.NoError(t, err)
	got, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	_, err = DecodeMessage([]byte("not json"))
	assert.Error(t, err)
}
