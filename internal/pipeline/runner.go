// Package pipeline schedules frame analyses: a single-flight Runner for live
// streams and a bounded worker pool for batches of stored frames.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/pathsense/internal/analysis"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrBusy is returned when a frame arrives while another is in flight.
	ErrBusy = errors.New("analysis already in flight, frame dropped")
	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("runner stopped")
)

// Analyzer is the per-frame analysis, normally *analysis.Engine.
type Analyzer interface {
	Analyze(ctx context.Context, in analysis.Input) (*analysis.Result, error)
}

// Config controls a Runner.
type Config struct {
	// Timeout bounds one frame end to end; 0 disables it.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// DefaultConfig returns the runner defaults.
func DefaultConfig() Config {
	return Config{Timeout: 5 * time.Second}
}

// Frame is one submission.
type Frame struct {
	// ID identifies the frame in logs and outputs; a UUID is assigned when empty.
	ID    string
	Input analysis.Input
}

// Output is a finished analysis.
type Output struct {
	ID       string
	Result   *analysis.Result
	Err      error
	Received time.Time
	Latency  time.Duration
}

type job struct {
	frame    Frame
	received time.Time
	ctx      context.Context //nolint:containedctx // request scoped, only set by Do
	reply    chan Output
}

// Stats is a snapshot of runner counters.
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Dropped   uint64 `json:"dropped"`
	Analyzed  uint64 `json:"analyzed"`
	Failed    uint64 `json:"failed"`
	Busy      bool   `json:"busy"`
}

// Runner runs at most one analysis at a time on its own goroutine. Frames
// submitted while busy are dropped, and Results only ever holds the most
// recent successful output.
type Runner struct {
	analyzer Analyzer
	cfg      Config

	sem     *semaphore.Weighted
	work    chan job
	results chan Output

	submitted atomic.Uint64
	dropped   atomic.Uint64
	analyzed  atomic.Uint64
	failed    atomic.Uint64
	busy      atomic.Bool

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewRunner creates a stopped runner around a.
func NewRunner(a Analyzer, cfg Config) *Runner {
	return &Runner{
		analyzer: a,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(1),
		work:     make(chan job, 1),
		results:  make(chan Output, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the worker goroutine. It is a no-op when already started.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrStopped
	}
	if r.started {
		return nil
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.started = true
	r.wg.Add(1)
	go r.loop(ctx)
	slog.Debug("Runner started", "timeout", r.cfg.Timeout)
	return nil
}

// Stop cancels the worker and waits for it to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.done)
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
	slog.Debug("Runner stopped", "stats", r.Stats())
}

// Results delivers the freshest output. Older unread outputs are replaced.
func (r *Runner) Results() <-chan Output { return r.results }

// Stats returns the current counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Submitted: r.submitted.Load(),
		Dropped:   r.dropped.Load(),
		Analyzed:  r.analyzed.Load(),
		Failed:    r.failed.Load(),
		Busy:      r.busy.Load(),
	}
}

// Submit offers f for analysis and returns its ID. It never blocks: when an
// analysis is in flight the frame is dropped and ErrBusy returned.
func (r *Runner) Submit(f Frame) (string, error) {
	j, err := r.admit(f)
	if err != nil {
		return j.frame.ID, err
	}
	return j.frame.ID, r.enqueue(j)
}

// Do analyzes f on the worker and waits for its output. It fails fast with
// ErrBusy like Submit, and its output is not published on Results.
func (r *Runner) Do(ctx context.Context, f Frame) (Output, error) {
	j, err := r.admit(f)
	if err != nil {
		return Output{ID: j.frame.ID}, err
	}
	j.ctx = ctx
	j.reply = make(chan Output, 1)
	if err := r.enqueue(j); err != nil {
		return Output{ID: j.frame.ID}, err
	}
	select {
	case out := <-j.reply:
		return out, out.Err
	case <-ctx.Done():
		return Output{ID: j.frame.ID}, ctx.Err()
	case <-r.done:
		return Output{ID: j.frame.ID}, ErrStopped
	}
}

func (r *Runner) admit(f Frame) (job, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	j := job{frame: f, received: time.Now()}

	r.mu.Lock()
	running := r.started && !r.stopped
	r.mu.Unlock()
	if !running {
		return j, ErrStopped
	}

	r.submitted.Add(1)
	framesSubmitted.Inc()
	if !r.sem.TryAcquire(1) {
		r.dropped.Add(1)
		framesDropped.Inc()
		slog.Debug("Frame dropped", "frame_id", f.ID)
		return j, ErrBusy
	}
	r.busy.Store(true)
	return j, nil
}

// enqueue hands an admitted job to the worker. The work channel has room
// for exactly the one job the semaphore admits.
func (r *Runner) enqueue(j job) error {
	select {
	case r.work <- j:
		return nil
	case <-r.done:
		r.release()
		return ErrStopped
	}
}

func (r *Runner) release() {
	r.busy.Store(false)
	r.sem.Release(1)
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-r.work:
			out := r.process(ctx, j)
			switch {
			case j.reply != nil:
				j.reply <- out
			case out.Err == nil:
				r.publish(out)
			}
			r.release()
		}
	}
}

func (r *Runner) process(ctx context.Context, j job) Output {
	if j.ctx != nil {
		// Cancelling either the runner or the request ends the frame.
		var stop func() bool
		ctx, stop = mergeCancel(ctx, j.ctx)
		defer stop()
	}
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := r.analyzer.Analyze(ctx, j.frame.Input)
	elapsed := time.Since(start)
	analysisDuration.Observe(elapsed.Seconds())

	out := Output{
		ID:       j.frame.ID,
		Result:   res,
		Received: j.received,
		Latency:  time.Since(j.received),
	}
	if err != nil {
		out.Result = nil
		out.Err = fmt.Errorf("frame %s: %w", j.frame.ID, err)
		reason := analysis.Reason(err)
		r.failed.Add(1)
		framesFailed.WithLabelValues(reason).Inc()
		if analysis.IsTransient(err) {
			slog.Warn("Frame analysis failed", "frame_id", j.frame.ID, "reason", reason, "error", err)
		} else {
			slog.Error("Frame analysis failed", "frame_id", j.frame.ID, "reason", reason, "error", err)
		}
		return out
	}

	r.analyzed.Add(1)
	framesAnalyzed.Inc()
	directivesTotal.WithLabelValues(res.Directive.Kind.String()).Inc()
	slog.Debug("Frame analyzed",
		"frame_id", j.frame.ID,
		"directive", res.Directive.Kind.String(),
		"duration_ms", elapsed.Milliseconds())
	return out
}

// publish replaces any unread output with out. Only the worker sends on
// results, so after draining the send cannot block.
func (r *Runner) publish(out Output) {
	select {
	case r.results <- out:
		return
	default:
	}
	select {
	case <-r.results:
	default:
	}
	r.results <- out
}

// mergeCancel returns a child of parent that is also cancelled when other is.
func mergeCancel(parent, other context.Context) (context.Context, func() bool) {
	ctx, cancel := context.WithCancelCause(parent)
	stop := context.AfterFunc(other, func() { cancel(context.Cause(other)) })
	return ctx, func() bool {
		cancel(nil)
		return stop()
	}
}
