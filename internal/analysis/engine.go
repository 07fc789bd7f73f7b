// Package analysis runs the single-frame hazard pipeline: normalize the
// frame, obtain class scores and depth, group pixels into regions, classify
// obstacles, summarise six zones and decide on a directive.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/pathsense/internal/components"
	"github.com/MeKo-Tech/pathsense/internal/depth"
	"github.com/MeKo-Tech/pathsense/internal/frame"
	"github.com/MeKo-Tech/pathsense/internal/guidance"
	"github.com/MeKo-Tech/pathsense/internal/hazard"
	"github.com/MeKo-Tech/pathsense/internal/mempool"
	"github.com/MeKo-Tech/pathsense/internal/segment"
	"github.com/MeKo-Tech/pathsense/internal/zones"
	"golang.org/x/sync/errgroup"
)

// Segmenter maps an analysis-resolution image to class scores.
type Segmenter interface {
	Segment(ctx context.Context, img image.Image) (segment.ScoreTensor, error)
}

// DepthEstimator predicts a depth grid (larger is farther) from an image.
type DepthEstimator interface {
	Estimate(ctx context.Context, img image.Image) (depth.Grid, error)
}

// Input is one synchronized frame.
type Input struct {
	Image image.Image
	// Depth is the sensor grid at any resolution, in Config.DepthUnits.
	// When nil the engine's DepthEstimator is used.
	Depth *depth.Grid
}

// Option customises an Engine.
type Option func(*Engine)

// WithDepthEstimator supplies depth for inputs without a sensor grid.
func WithDepthEstimator(est DepthEstimator) Option {
	return func(e *Engine) { e.estimator = est }
}

// Engine is safe for concurrent use; it holds only static configuration.
type Engine struct {
	cfg        Config
	ignore     hazard.IgnoreSet
	normalizer frame.Normalizer
	layout     *zones.Layout
	segmenter  Segmenter
	estimator  DepthEstimator
}

// NewEngine validates cfg and builds an engine. seg may be nil when only
// AnalyzeScores is used.
func NewEngine(cfg Config, seg Segmenter, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ThresholdMode == "" {
		cfg.ThresholdMode = Absolute
	}
	if cfg.DepthUnits == "" {
		cfg.DepthUnits = depth.Meters
	}
	e := &Engine{
		cfg:    cfg,
		ignore: hazard.NewIgnoreSet(cfg.IgnoreClassIDs...),
		normalizer: frame.Normalizer{
			Width:       cfg.Width,
			Height:      cfg.Height,
			Rotation:    cfg.Rotation,
			PreviewSize: cfg.PreviewSize,
		},
		segmenter: seg,
	}
	if cfg.SourceAspectRatio > 0 {
		l, err := zones.NewLayout(cfg.Width, cfg.Height, cfg.SourceAspectRatio, cfg.Geometry)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		e.layout = &l
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Layout returns the zone layout used for frames of the given aspect ratio.
func (e *Engine) Layout(sourceAspect float64) zones.Layout {
	if e.layout != nil {
		return *e.layout
	}
	// Geometry was validated in NewEngine, so this cannot fail.
	l, _ := zones.NewLayout(e.cfg.Width, e.cfg.Height, sourceAspect, e.cfg.Geometry)
	return l
}

// Scene is the outcome of the pure analysis core.
type Scene struct {
	Width      int
	Height     int
	Mask       []bool
	Zones      [zones.Count]zones.Stats
	Directive  guidance.Directive
	Components int
	Threshold  float32
	Layout     zones.Layout
}

// AnalyzeScores runs class reduction through the guidance decision on
// scores and a depth grid that are already at analysis resolution. It
// performs no I/O and only fails on mismatched shapes.
func (e *Engine) AnalyzeScores(scores segment.ScoreTensor, grid depth.Grid, sourceAspect float64) (*Scene, error) {
	return e.analyzeScores(scores, grid, sourceAspect, e.cfg.ThresholdMode)
}

func (e *Engine) analyzeScores(scores segment.ScoreTensor, grid depth.Grid, sourceAspect float64, mode ThresholdMode) (*Scene, error) {
	w, h := e.cfg.Width, e.cfg.Height
	n := w * h
	if scores.Classes != e.cfg.NumClasses {
		return nil, fmt.Errorf("%w: scores have %d classes, configured %d", ErrInput, scores.Classes, e.cfg.NumClasses)
	}
	if scores.Pixels != n || len(scores.Data) != scores.Classes*n {
		return nil, fmt.Errorf("%w: scores cover %d pixels, grid has %d", ErrInput, scores.Pixels, n)
	}
	if grid.Width != w || grid.Height != h || len(grid.Data) != n {
		return nil, fmt.Errorf("%w: depth grid is %dx%d, want %dx%d", ErrInput, grid.Width, grid.Height, w, h)
	}

	classes := mempool.GetInt32(n)
	defer mempool.PutInt32(classes)
	segment.ArgmaxInto(classes, scores)

	ids := mempool.GetInt32(n)
	defer mempool.PutInt32(ids)
	components.LabelInto(ids, classes, w, h)
	table := components.Aggregate(ids, classes, grid.Data)

	threshold := e.threshold(grid, mode)
	mask := hazard.Classify(ids, table, e.ignore, threshold)

	layout := e.Layout(sourceAspect)
	stats := zones.Aggregate(layout, mask, classes)
	directive := guidance.Decide(stats, e.cfg.ClassNames, e.cfg.BlockedFraction)

	return &Scene{
		Width:      w,
		Height:     h,
		Mask:       mask,
		Zones:      stats,
		Directive:  directive,
		Components: table.Count(),
		Threshold:  threshold,
		Layout:     layout,
	}, nil
}

func (e *Engine) threshold(grid depth.Grid, mode ThresholdMode) float32 {
	if mode == Relative {
		return e.cfg.RelativeThreshold * depth.Max(grid)
	}
	return e.cfg.ThresholdDepth
}

// Analyze processes one frame end to end. Errors wrap ErrInput,
// ErrSegmentation, ErrDepth or ErrDegenerateDepth and mean no guidance for
// this frame.
func (e *Engine) Analyze(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	if e.segmenter == nil {
		return nil, fmt.Errorf("%w: no segmenter configured", ErrConfig)
	}
	if in.Image == nil {
		return nil, fmt.Errorf("%w: missing image", ErrInput)
	}
	if in.Depth == nil && e.estimator == nil {
		return nil, fmt.Errorf("%w: missing depth grid and no depth model configured", ErrInput)
	}
	if in.Depth != nil && !in.Depth.Valid() {
		return nil, fmt.Errorf("%w: malformed depth grid", ErrInput)
	}

	f, err := e.normalizer.Normalize(in.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInput, err)
	}
	normalized := time.Now()

	scores, raw, units, err := e.infer(ctx, f, in.Depth)
	if err != nil {
		return nil, err
	}
	inferred := time.Now()

	metric := depth.ToMeters(raw, units)
	if err := depth.Check(metric); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDegenerateDepth, err)
	}
	proximity, proximityOK := depth.Proximity(metric, e.cfg.ProximityRadius)
	resampled := depth.Resample(metric, e.cfg.Width, e.cfg.Height)

	aspect := e.cfg.SourceAspectRatio
	if aspect <= 0 {
		aspect = f.SourceAspect
	}
	// Model depth has no metric scale, so it is always thresholded against
	// the frame's own maximum and never drives proximity feedback.
	mode := e.cfg.ThresholdMode
	if in.Depth == nil {
		mode = Relative
		proximity, proximityOK = 0, false
	}
	scene, err := e.analyzeScores(scores, resampled, aspect, mode)
	if err != nil {
		return nil, err
	}
	done := time.Now()

	res := &Result{
		Scene:          *scene,
		Proximity:      proximity,
		ProximityValid: proximityOK,
		Preview:        f.Preview,
		DepthSource:    "sensor",
		Timings: Timings{
			Normalize: normalized.Sub(start),
			Inference: inferred.Sub(normalized),
			Analysis:  done.Sub(inferred),
			Total:     done.Sub(start),
		},
	}
	if in.Depth == nil {
		res.DepthSource = "model"
	}
	if proximityOK {
		res.Feedback = guidance.FeedbackFor(float64(proximity))
	} else {
		res.Feedback = guidance.FeedbackFor(0)
	}

	slog.Debug("Frame analyzed",
		"directive", res.Directive.Kind.String(),
		"obstacle", res.Directive.ObstacleName,
		"components", res.Components,
		"threshold", res.Threshold,
		"depth_source", res.DepthSource,
		"total_ms", res.Timings.Total.Milliseconds())
	return res, nil
}

// infer runs segmentation and, when no sensor depth is given, depth
// estimation in parallel under the configured timeout.
func (e *Engine) infer(ctx context.Context, f *frame.Frame, sensor *depth.Grid) (segment.ScoreTensor, depth.Grid, depth.Units, error) {
	if e.cfg.InferenceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.InferenceTimeout)
		defer cancel()
	}

	var (
		scores segment.ScoreTensor
		grid   depth.Grid
		units  = e.cfg.DepthUnits
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := e.segmenter.Segment(gctx, f.Input)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSegmentation, err)
		}
		scores = s
		return nil
	})
	if sensor != nil {
		grid = *sensor
	} else {
		units = depth.Meters
		g.Go(func() error {
			est, err := e.estimator.Estimate(gctx, f.Input)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrDepth, err)
			}
			if !est.Valid() {
				return fmt.Errorf("%w: estimator returned a malformed grid", ErrDepth)
			}
			grid = est
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("Inference timed out", "timeout", e.cfg.InferenceTimeout, "error", err)
		}
		return segment.ScoreTensor{}, depth.Grid{}, "", err
	}
	return scores, grid, units, nil
}
