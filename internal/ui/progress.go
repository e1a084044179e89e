package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"fileup/internal/upload"
	"fileup/pkg/utils"
)

// Summary is what an upload job did, as seen through its hooks
type Summary struct {
	Files    int
	Bytes    int64
	Finished int
	Failed   int
	Rejected int
	Elapsed  time.Duration
	Errors   []error
}

// OK reports whether no error was seen
func (s Summary) OK() bool {
	return len(s.Errors) == 0
}

// ProgressUI renders an upload job: one bar for global progress and a line
// per error. It only ever learns about the job through hooks.
type ProgressUI struct {
	out     io.Writer
	enabled bool

	mu      sync.Mutex
	bar     *progressbar.ProgressBar
	current string
	speed   float64
	start   time.Time
	summary Summary
}

// NewProgressUI creates a progress UI writing to out. With enabled false no
// bar is drawn, but errors and the summary are still printed.
func NewProgressUI(out io.Writer, enabled bool) *ProgressUI {
	return &ProgressUI{out: out, enabled: enabled}
}

// Hooks returns the hooks that feed this UI. afterAll, when set, runs after
// the summary was printed.
func (p *ProgressUI) Hooks(afterAll func()) upload.Hooks {
	return upload.Hooks{
		BeforeEach: func(f upload.File) {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.summary.Files++
			p.summary.Bytes += f.Size()
		},
		UploadStarted: func(f upload.File) {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.start.IsZero() {
				p.start = time.Now()
			}
			p.current = f.Name()
			p.initBar()
			p.describe()
		},
		ProgressUpdated: func(b upload.Batch, f upload.File, percent int) {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.current = f.Name()
		},
		SpeedUpdated: func(b upload.Batch, f upload.File, bytesPerSecond float64) {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.speed = bytesPerSecond
			p.describe()
		},
		GlobalProgressUpdated: func(percent int) {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.bar != nil {
				_ = p.bar.Set(percent)
			}
		},
		UploadFinished: func(f upload.File, response any, elapsed time.Duration, resp *upload.Response) bool {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.summary.Finished++
			return true
		},
		Error: func(err error) {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.summary.Errors = append(p.summary.Errors, err)
			switch upload.KindOf(err) {
			case upload.KindHTTPStatus, upload.KindTransport, upload.KindAbort, upload.KindReadError:
				p.summary.Failed++
			default:
				p.summary.Rejected++
			}
			p.printLine(fmt.Sprintf("Error: %v", err))
		},
		AfterAll: func() {
			p.mu.Lock()
			if p.bar != nil {
				_ = p.bar.Finish()
			}
			if !p.start.IsZero() {
				p.summary.Elapsed = time.Since(p.start)
			}
			p.showSummary()
			p.mu.Unlock()

			if afterAll != nil {
				afterAll()
			}
		},
	}
}

// Summary returns a snapshot of what was seen so far
func (p *ProgressUI) Summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.summary
	s.Errors = append([]error(nil), p.summary.Errors...)
	return s
}

func (p *ProgressUI) initBar() {
	if p.bar != nil || !p.enabled {
		return
	}
	p.bar = progressbar.NewOptions(100,
		progressbar.OptionSetDescription("Uploading..."),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionSetPredictTime(false),
	)
}

func (p *ProgressUI) describe() {
	if p.bar == nil {
		return
	}
	if p.speed > 0 {
		p.bar.Describe(fmt.Sprintf("Uploading %s (%s/s)", p.current, utils.FormatFileSize(int64(p.speed))))
		return
	}
	p.bar.Describe(fmt.Sprintf("Uploading %s", p.current))
}

// printLine writes msg on its own line without tearing the bar
func (p *ProgressUI) printLine(msg string) {
	if p.bar != nil {
		_ = p.bar.Clear()
	}
	fmt.Fprintln(p.out, msg)
	if p.bar != nil {
		_ = p.bar.RenderBlank()
	}
}

func (p *ProgressUI) showSummary() {
	s := p.summary
	throughput := 0.0
	if s.Elapsed.Seconds() > 0 {
		throughput = float64(s.Bytes) / s.Elapsed.Seconds()
	}

	fmt.Fprintf(p.out, "\n=============================================\n")
	if len(s.Errors) == 0 {
		fmt.Fprintf(p.out, "Upload completed successfully!\n")
	} else {
		fmt.Fprintf(p.out, "Upload completed with %d error(s)\n", len(s.Errors))
	}
	fmt.Fprintf(p.out, "+ Files: %d accepted, %d finished, %d failed, %d rejected\n", s.Files, s.Finished, s.Failed, s.Rejected)
	fmt.Fprintf(p.out, "+ Total size: %s\n", utils.FormatFileSize(s.Bytes))
	fmt.Fprintf(p.out, "+ Upload time: %s\n", s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(p.out, "+ Average throughput: %s/s\n", utils.FormatFileSize(int64(throughput)))
	fmt.Fprintf(p.out, "=============================================\n")
}
