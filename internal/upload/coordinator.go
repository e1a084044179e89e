package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// coordinator drives the batches of a job through the transport.
type coordinator struct {
	opts      *Options
	transport Transport
	hooks     *hookRunner
	logger    *slog.Logger
	now       func() time.Time
}

// run dispatches the job's batches, bounded by MaxConcurrentRequests, and
// closes job.done once nothing is left in flight.
func (c *coordinator) run(ctx context.Context, job *Job) {
	defer close(job.done)

	limit := c.opts.MaxConcurrentRequests
	if limit <= 0 {
		limit = len(job.batches)
	}
	sem := make(chan struct{}, max(limit, 1))

	var wg sync.WaitGroup
	defer wg.Wait()

	for _, rec := range job.batches {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			c.logger.Debug("Upload cancelled, no further batches", "job", job.ID, "error", ctx.Err())
			return
		}

		if job.isStopped() || ctx.Err() != nil {
			<-sem
			c.logger.Debug("Upload stopped, no further batches", "job", job.ID, "next_batch", rec.batch.Seq)
			return
		}

		job.begin(rec)
		wg.Add(1)
		go func(rec *batchRecord) {
			defer wg.Done()
			defer func() { <-sem }()
			c.process(ctx, job, rec)
		}(rec)
	}
}

// process runs one batch from pick-up to its terminal state
func (c *coordinator) process(ctx context.Context, job *Job, rec *batchRecord) {
	b := rec.batch
	log := c.logger.With("job", job.ID, "batch", b.Seq)

	c.hooks.uploadStarted(b.Files)

	select {
	case <-c.hooks.beforeSend(b):
	case <-ctx.Done():
		log.Debug("Batch aborted while held by BeforeSend")
		c.reject(job, rec, KindAbort, ctx.Err())
		return
	}

	req := &Request{
		Batch:           b,
		URL:             c.opts.resolveURL(),
		Method:          c.opts.method(),
		Headers:         c.opts.Headers,
		WithCredentials: c.opts.WithCredentials,
		ParamName:       c.opts.ParamName,
		Fields:          c.opts.Fields,
		Rename:          c.hooks.rename,
	}

	start := c.now()
	job.track(rec, start, c.opts.Refresh)
	log.Debug("Submitting batch", "files", len(b.Files), "bytes", b.Bytes(), "url", req.URL)

	resp, err := c.submit(ctx, req, func(loaded, total int64) {
		s, global, changed := job.observe(rec, loaded, total, c.now())
		if s.percentChanged || s.speedReady || changed {
			c.hooks.progress(b, s, global, changed)
		}
	})
	if err != nil {
		kind := KindTransport
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			kind = KindAbort
		}
		log.Warn("Batch failed", "kind", kind, "error", err)
		c.reject(job, rec, kind, err)
		return
	}

	elapsed := c.now().Sub(start)
	c.hooks.uploadFinished(b.Files, parseBody(resp.Body), elapsed, resp, func() {
		log.Debug("UploadFinished asked to stop the job")
		job.stop()
	})

	if !resp.OK() {
		log.Warn("Batch answered with error status", "status", resp.StatusCode)
		for _, f := range b.Files {
			e := NewError(KindHTTPStatus, f, nil)
			e.Batch = b.Seq
			e.StatusCode = resp.StatusCode
			e.Status = resp.Status
			e.Response = resp
			c.hooks.error(e)
		}
	}

	log.Debug("Batch done", "status", resp.StatusCode, "elapsed", elapsed)
	c.finish(job, rec, BatchDone)
}

// submit calls the transport, turning a panic into an error
func (c *coordinator) submit(ctx context.Context, req *Request, progress ProgressFunc) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("transport panicked: %v", r)
		}
	}()

	resp, err = c.transport.Submit(ctx, req, progress)
	if err == nil && resp == nil {
		err = errors.New("transport returned no response")
	}
	return resp, err
}

func (c *coordinator) reject(job *Job, rec *batchRecord, kind Kind, cause error) {
	e := NewError(kind, nil, cause)
	e.Batch = rec.batch.Seq
	c.hooks.error(e)
	c.finish(job, rec, BatchRejected)
}

func (c *coordinator) finish(job *Job, rec *batchRecord, state BatchState) {
	allResolved, global, changed := job.resolve(rec, state)
	if changed {
		c.hooks.globalProgress(global)
	}
	if allResolved {
		c.hooks.afterAll()
	}
}

// parseBody decodes a JSON response body. A body that is not JSON is
// returned as a string; an empty body as nil.
func parseBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	return v
}
