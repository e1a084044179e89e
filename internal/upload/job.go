package upload

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BatchState is the lifecycle state of one batch within a job.
type BatchState int

// BatchUnknown is returned by Job.State for a seq outside the job
const BatchUnknown BatchState = -1

const (
	BatchQueued BatchState = iota
	BatchInFlight
	BatchDone
	BatchRejected
)

// String returns the string representation of BatchState
func (s BatchState) String() string {
	switch s {
	case BatchQueued:
		return "Queued"
	case BatchInFlight:
		return "InFlight"
	case BatchDone:
		return "Done"
	case BatchRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

func (s BatchState) terminal() bool {
	return s == BatchDone || s == BatchRejected
}

// batchRecord is one slot of the job's batch arena.
type batchRecord struct {
	batch     Batch
	state     BatchState
	startedAt time.Time
	tracker   *tracker
}

// Stats is a snapshot of a job's counters.
type Stats struct {
	FilesTotal    int
	FilesDone     int
	FilesRejected int
	Stopped       bool
	Batches       map[BatchState]int
}

// Job is one upload invocation over a validated file set.
type Job struct {
	ID string

	files []File

	mu            sync.Mutex
	batches       []*batchRecord
	filesDone     int
	filesRejected int
	stopped       bool
	afterAllFired bool
	global        *globalProgress

	done chan struct{}
}

func newJob(files []File, maxPerRequest int) *Job {
	batches := Partition(files, maxPerRequest)
	j := &Job{
		ID:      uuid.NewString(),
		files:   files,
		batches: make([]*batchRecord, len(batches)),
		global:  newGlobalProgress(batches),
		done:    make(chan struct{}),
	}
	for i, b := range batches {
		j.batches[i] = &batchRecord{batch: b, state: BatchQueued}
	}
	return j
}

// Files returns the accepted files of the job
func (j *Job) Files() []File {
	return j.files
}

// Batches returns the job's batches in sequence order
func (j *Job) Batches() []Batch {
	out := make([]Batch, len(j.batches))
	for i, rec := range j.batches {
		out[i] = rec.batch
	}
	return out
}

// State returns the state of batch seq, or BatchUnknown when the job has no
// such batch
func (j *Job) State(seq int) BatchState {
	if seq < 0 || seq >= len(j.batches) {
		return BatchUnknown
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.batches[seq].state
}

// Done returns a channel closed once the job reached its terminal state
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job is done or ctx is cancelled
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the job's counters
func (j *Job) Stats() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Stats{
		FilesTotal:    len(j.files),
		FilesDone:     j.filesDone,
		FilesRejected: j.filesRejected,
		Stopped:       j.stopped,
		Batches:       make(map[BatchState]int),
	}
	for _, rec := range j.batches {
		s.Batches[rec.state]++
	}
	return s
}

func (j *Job) isStopped() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stopped
}

func (j *Job) stop() {
	j.mu.Lock()
	j.stopped = true
	j.mu.Unlock()
}

// begin moves a queued batch in flight
func (j *Job) begin(rec *batchRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec.state = BatchInFlight
}

// track creates the progress state of rec at submit time
func (j *Job) track(rec *batchRecord, now time.Time, refresh time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec.startedAt = now
	rec.tracker = newTracker(now, refresh)
}

// observe feeds a progress tick of rec into its tracker and the job-wide
// aggregate.
func (j *Job) observe(rec *batchRecord, loaded, total int64, now time.Time) (progressSample, int, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if rec.state != BatchInFlight || rec.tracker == nil {
		return progressSample{}, 0, false
	}
	s := rec.tracker.observe(loaded, total, now)
	if !s.percentChanged {
		return s, 0, false
	}
	global, changed := j.global.update(rec.batch.Seq, rec.tracker.fraction())
	return s, global, changed
}

// resolve moves rec to its terminal state, updates the counters and reports
// whether this call completed the job's file count for the first time.
func (j *Job) resolve(rec *batchRecord, state BatchState) (allResolved bool, global int, globalChanged bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if rec.state.terminal() {
		return false, 0, false
	}
	rec.state = state
	rec.tracker = nil

	n := len(rec.batch.Files)
	switch state {
	case BatchDone:
		j.filesDone += n
		global, globalChanged = j.global.update(rec.batch.Seq, 1)
	case BatchRejected:
		j.filesRejected += n
	}

	if !j.afterAllFired && j.filesDone+j.filesRejected == len(j.files) {
		j.afterAllFired = true
		allResolved = true
	}
	return allResolved, global, globalChanged
}
