package upload

import (
	"math"
	"time"
)

// tracker derives percentage and throughput for one batch from raw
// transport progress ticks.
type tracker struct {
	refresh time.Duration

	bytesLoaded int64
	bytesTotal  int64

	lastSampleTime  time.Time
	lastSampleBytes int64
	currentPercent  int
}

// progressSample is what a single tick produced. Zero-valued
// flags mean nothing should be reported.
type progressSample struct {
	percentChanged bool
	percent        int
	speedReady     bool
	speed          float64 // bytes per second
}

func newTracker(start time.Time, refresh time.Duration) *tracker {
	return &tracker{
		refresh:        refresh,
		lastSampleTime: start,
		currentPercent: -1,
	}
}

// observe records a tick. total <= 0 means the length is unknown and the
// tick is ignored.
func (t *tracker) observe(loaded, total int64, now time.Time) progressSample {
	var s progressSample
	if total <= 0 {
		return s
	}
	loaded = min(max(loaded, 0), total)
	t.bytesLoaded = loaded
	t.bytesTotal = total

	percent := int(math.Round(float64(loaded) * 100 / float64(total)))
	if percent > t.currentPercent {
		t.currentPercent = percent
		s.percentChanged = true
		s.percent = percent
	}

	elapsed := now.Sub(t.lastSampleTime)
	if elapsed > 0 && elapsed >= t.refresh {
		s.speedReady = true
		s.speed = float64(loaded-t.lastSampleBytes) / elapsed.Seconds()
		t.lastSampleTime = now
		t.lastSampleBytes = loaded
	}

	return s
}

// fraction returns the completed share of the batch in [0, 1]
func (t *tracker) fraction() float64 {
	if t.bytesTotal <= 0 {
		return 0
	}
	return float64(t.bytesLoaded) / float64(t.bytesTotal)
}

// globalProgress aggregates per-batch completion into a job-wide percentage,
// weighting each batch by its file bytes.
type globalProgress struct {
	weights   []float64
	fractions []float64
	last      int
}

func newGlobalProgress(batches []Batch) *globalProgress {
	g := &globalProgress{
		weights:   make([]float64, len(batches)),
		fractions: make([]float64, len(batches)),
		last:      -1,
	}
	var total int64
	for _, b := range batches {
		total += b.Bytes()
	}
	for i, b := range batches {
		switch {
		case total > 0:
			g.weights[i] = float64(b.Bytes()) / float64(total)
		default:
			g.weights[i] = 1 / float64(len(batches))
		}
	}
	return g
}

// update sets the completed fraction of batch seq and returns the new
// percentage when it grew.
func (g *globalProgress) update(seq int, fraction float64) (int, bool) {
	if seq < 0 || seq >= len(g.fractions) {
		return 0, false
	}
	g.fractions[seq] = max(g.fractions[seq], min(fraction, 1))

	var sum float64
	for i, f := range g.fractions {
		sum += f * g.weights[i]
	}
	percent := min(int(math.Round(sum*100)), 100)
	if percent > g.last {
		g.last = percent
		return percent, true
	}
	return 0, false
}
