package upload

import (
	"sync"
	"time"
)

// Hooks are the lifecycle callbacks of an Uploader. Every slot is optional.
// Hooks of one Uploader never run concurrently with each other, except
// Rename, which must be pure.
type Hooks struct {
	// BeforeEach fires once per accepted file, in order, before the job's
	// first transport call.
	BeforeEach func(f File)

	// BeforeSend holds a batch back until next is called.
	BeforeSend func(b Batch, next func())

	// AfterAll fires once per job when every accepted file resolved.
	AfterAll func()

	// Rename rewrites a file name before submission; ok=false keeps it.
	Rename func(name string) (renamed string, ok bool)

	Error         func(err error)
	UploadStarted func(f File)

	// UploadFinished receives the decoded JSON body, the raw string when the
	// body is not JSON, or nil when it is empty. Returning false stops the job
	// from submitting further batches.
	UploadFinished func(f File, response any, elapsed time.Duration, resp *Response) bool

	ProgressUpdated       func(b Batch, f File, percent int)
	GlobalProgressUpdated func(percent int)
	SpeedUpdated          func(b Batch, f File, bytesPerSecond float64)
}

// hookRunner serializes hook invocation for one Uploader.
type hookRunner struct {
	mu    sync.Mutex
	hooks Hooks
}

func (h *hookRunner) beforeEach(f File) {
	if h.hooks.BeforeEach == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks.BeforeEach(f)
}

func (h *hookRunner) afterAll() {
	if h.hooks.AfterAll == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks.AfterAll()
}

func (h *hookRunner) error(err error) {
	if h.hooks.Error == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks.Error(err)
}

func (h *hookRunner) uploadStarted(files []File) {
	if h.hooks.UploadStarted == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, f := range files {
		h.hooks.UploadStarted(f)
	}
}

// uploadFinished runs the hook for every file. When any of them returns
// false, stop is called before the lock is released.
func (h *hookRunner) uploadFinished(files []File, response any, elapsed time.Duration, resp *Response, stop func()) {
	if h.hooks.UploadFinished == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	proceed := true
	for _, f := range files {
		if !h.hooks.UploadFinished(f, response, elapsed, resp) {
			proceed = false
		}
	}
	if !proceed {
		stop()
	}
}

func (h *hookRunner) progress(b Batch, s progressSample, global int, globalChanged bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.percentChanged && h.hooks.ProgressUpdated != nil {
		for _, f := range b.Files {
			h.hooks.ProgressUpdated(b, f, s.percent)
		}
	}
	if s.speedReady && h.hooks.SpeedUpdated != nil {
		for _, f := range b.Files {
			h.hooks.SpeedUpdated(b, f, s.speed)
		}
	}
	if globalChanged && h.hooks.GlobalProgressUpdated != nil {
		h.hooks.GlobalProgressUpdated(global)
	}
}

func (h *hookRunner) globalProgress(percent int) {
	if h.hooks.GlobalProgressUpdated == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks.GlobalProgressUpdated(percent)
}

// beforeSend returns a channel closed once the hook let the batch proceed.
// next may be called from any goroutine, any number of times.
func (h *hookRunner) beforeSend(b Batch) <-chan struct{} {
	ready := make(chan struct{})
	if h.hooks.BeforeSend == nil {
		close(ready)
		return ready
	}
	var once sync.Once
	next := func() { once.Do(func() { close(ready) }) }

	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks.BeforeSend(b, next)
	return ready
}

// rename is not serialized: Rename must be a pure function.
func (h *hookRunner) rename(name string) (string, bool) {
	if h.hooks.Rename == nil {
		return "", false
	}
	return h.hooks.Rename(name)
}
