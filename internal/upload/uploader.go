package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNothingStaged is returned by Upload when no files are staged.
var ErrNothingStaged = errors.New("no files staged for upload")

// Uploader validates, stages and uploads file sets. Each Uploader owns its
// options, hooks and staged files; jobs of one Uploader share its hooks.
//
// Hooks must not call Add or Upload synchronously.
type Uploader struct {
	opts   Options
	policy *Policy
	hooks  *hookRunner
	coord  *coordinator
	logger *slog.Logger

	mu     sync.Mutex
	staged []File
}

// New creates an Uploader. A nil logger discards log output.
func New(opts Options, transport Transport, hooks Hooks, logger *slog.Logger) (*Uploader, error) {
	if transport == nil {
		return nil, ErrMissingTransport
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid upload options: %w", err)
	}

	policy, err := NewPolicy(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build validation policy: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	u := &Uploader{
		opts:   opts,
		policy: policy,
		hooks:  &hookRunner{hooks: hooks},
		logger: logger,
	}
	u.coord = &coordinator{
		opts:      &u.opts,
		transport: transport,
		hooks:     u.hooks,
		logger:    logger,
		now:       time.Now,
	}
	return u, nil
}

// Add validates files and stages the accepted ones. Unless LazyLoad is set
// it then starts an upload of everything staged and returns its job.
//
// A validation failure is reported through the Error hook and returned.
// An empty list is a no-op.
func (u *Uploader) Add(ctx context.Context, files []File) (*Job, error) {
	accepted, err := Validate(files, u.policy, u.hooks.error)
	if err != nil {
		return nil, err
	}
	if len(accepted) == 0 {
		return nil, nil
	}

	u.mu.Lock()
	u.staged = append(u.staged, accepted...)
	u.mu.Unlock()

	u.logger.Debug("Files staged", "accepted", len(accepted), "rejected", len(files)-len(accepted))

	if u.opts.LazyLoad {
		return nil, nil
	}
	return u.Upload(ctx)
}

// Staged returns a copy of the files waiting for Upload
func (u *Uploader) Staged() []File {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]File(nil), u.staged...)
}

// Upload starts a job over the staged files and returns immediately.
// Completion is observed through the hooks and the returned Job.
//
// The staged set is checked against MaxFiles as a whole. When it is too
// large the TooManyFiles error is reported, the staged files are dropped and
// nothing is sent.
func (u *Uploader) Upload(ctx context.Context) (*Job, error) {
	u.mu.Lock()
	files := u.staged
	u.staged = nil
	u.mu.Unlock()

	if len(files) == 0 {
		return nil, ErrNothingStaged
	}
	if err := u.policy.checkCount(len(files)); err != nil {
		u.hooks.error(err)
		return nil, err
	}

	job := newJob(files, u.opts.MaxFilesPerRequest)
	u.logger.Info("Upload started", "job", job.ID, "files", len(files), "batches", len(job.batches))

	for _, f := range files {
		u.hooks.beforeEach(f)
	}

	go u.coord.run(ctx, job)
	return job, nil
}

// Rename applies the Rename hook to name. ok is false when no hook is set
// or the hook keeps the name.
func (u *Uploader) Rename(name string) (string, bool) {
	return u.hooks.rename(name)
}
