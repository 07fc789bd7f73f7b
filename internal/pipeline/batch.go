package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/MeKo-Tech/pathsense/internal/analysis"
	"golang.org/x/sync/errgroup"
)

// Progress receives batch progress. Implementations must be safe for
// concurrent calls to OnProgress.
type Progress interface {
	OnStart(total int)
	OnProgress(done, total int)
	OnComplete()
}

// NoProgress discards progress updates.
type NoProgress struct{}

func (NoProgress) OnStart(int)         {}
func (NoProgress) OnProgress(int, int) {}
func (NoProgress) OnComplete()         {}

// LogProgress reports progress through slog at info level.
type LogProgress struct {
	Prefix string
	mu     sync.Mutex
	last   int
}

func (p *LogProgress) OnStart(total int) {
	slog.Info(p.Prefix+" started", "total", total)
}

func (p *LogProgress) OnProgress(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// every 10% and the last item
	if done == total || (done*10)/total > (p.last*10)/total {
		slog.Info(p.Prefix+" progress", "done", done, "total", total)
	}
	p.last = done
}

func (p *LogProgress) OnComplete() { slog.Info(p.Prefix + " finished") }

// BatchConfig controls Batch.
type BatchConfig struct {
	// Workers is the number of concurrent analyses; 0 uses runtime.NumCPU().
	Workers  int
	Progress Progress
}

// Batch analyzes every frame with a bounded worker pool. Results keep the
// input order; a failed frame has Err set and does not stop the others.
// The returned error is only non-nil when ctx ends early.
func Batch(ctx context.Context, a Analyzer, frames []Frame, cfg BatchConfig) ([]Output, error) {
	if a == nil {
		return nil, errors.New("no analyzer")
	}
	if len(frames) == 0 {
		return nil, errors.New("no frames provided")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	progress := cfg.Progress
	if progress == nil {
		progress = NoProgress{}
	}

	progress.OnStart(len(frames))
	defer progress.OnComplete()

	outputs := make([]Output, len(frames))
	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, f := range frames {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outputs[i] = Output{ID: f.ID, Err: err}
				return err
			}
			res, err := a.Analyze(gctx, f.Input)
			out := Output{ID: f.ID, Result: res}
			if err != nil {
				out.Result = nil
				out.Err = fmt.Errorf("frame %s: %w", f.ID, err)
				framesFailed.WithLabelValues(analysis.Reason(err)).Inc()
			} else {
				framesAnalyzed.Inc()
				directivesTotal.WithLabelValues(res.Directive.Kind.String()).Inc()
			}
			outputs[i] = out

			mu.Lock()
			done++
			progress.OnProgress(done, len(frames))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outputs, err
	}
	if err := ctx.Err(); err != nil {
		return outputs, err
	}
	return outputs, nil
}
