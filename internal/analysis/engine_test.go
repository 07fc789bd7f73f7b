package analysis

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/pathsense/internal/depth"
	"github.com/MeKo-Tech/pathsense/internal/guidance"
	"github.com/MeKo-Tech/pathsense/internal/segment"
	"github.com/MeKo-Tech/pathsense/internal/zones"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	gridSize = 20
	wall     = 0
	floor    = 3
	person   = 12
)

// fakeSegmenter returns one-hot scores for a fixed class grid.
type fakeSegmenter struct {
	classes []int32
	n       int
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (f *fakeSegmenter) Segment(ctx context.Context, img image.Image) (segment.ScoreTensor, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return segment.ScoreTensor{}, ctx.Err()
		}
	}
	if f.err != nil {
		return segment.ScoreTensor{}, f.err
	}
	if b := img.Bounds(); b.Dx()*b.Dy() != len(f.classes) {
		return segment.ScoreTensor{}, errors.New("unexpected input size")
	}
	return oneHot(f.classes, f.n), nil
}

type fakeEstimator struct {
	grid depth.Grid
	err  error
}

func (f *fakeEstimator) Estimate(context.Context, image.Image) (depth.Grid, error) {
	return f.grid, f.err
}

func oneHot(classes []int32, n int) segment.ScoreTensor {
	px := len(classes)
	data := make([]float32, n*px)
	for i, c := range classes {
		data[int(c)*px+i] = 1
	}
	return segment.ScoreTensor{Data: data, Classes: n, Pixels: px}
}

// wallGrid is floor with a wall covering columns [x0, x1).
func wallGrid(x0, x1 int, class int32) []int32 {
	g := make([]int32, gridSize*gridSize)
	for y := range gridSize {
		for x := range gridSize {
			if x >= x0 && x < x1 {
				g[y*gridSize+x] = class
			} else {
				g[y*gridSize+x] = floor
			}
		}
	}
	return g
}

func constDepth(w, h int, v float32) *depth.Grid {
	data := make([]float32, w*h)
	for i := range data {
		data[i] = v
	}
	return &depth.Grid{Width: w, Height: h, Data: data}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Width = gridSize
	cfg.Height = gridSize
	cfg.SourceAspectRatio = 1
	cfg.ProximityRadius = 3
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, seg Segmenter, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, seg, opts...)
	require.NoError(t, err)
	return e
}

func testImage() image.Image { return image.NewNRGBA(image.Rect(0, 0, 40, 40)) }

func TestAnalyzeWallAheadMovesLeft(t *testing.T) {
	seg := &fakeSegmenter{classes: wallGrid(4, 16, wall), n: segment.NumADE20KClasses}
	e := newTestEngine(t, testConfig(), seg)

	res, err := e.Analyze(context.Background(), Input{Image: testImage(), Depth: constDepth(10, 10, 1.0)})
	require.NoError(t, err)

	assert.Equal(t, guidance.Directive{Kind: guidance.MoveLeft, ObstacleName: "Wall"}, res.Directive)
	assert.InDelta(t, 1.0, res.Zones[zones.TopMid].ObstacleFraction, 1e-12)
	assert.InDelta(t, 1.0, res.Zones[zones.BottomMid].ObstacleFraction, 1e-12)
	assert.Zero(t, res.Zones[zones.TopLeft].ObstacleFraction)
	assert.Equal(t, 3, res.Components)
	assert.InDelta(t, 12.0/20.0, res.ObstacleRatio(), 1e-12)
	assert.True(t, res.ProximityValid)
	assert.InDelta(t, 1.0, res.Proximity, 1e-6)
	assert.Equal(t, guidance.Medium, res.Feedback.Level)
	assert.Equal(t, "sensor", res.DepthSource)
	assert.Positive(t, res.Timings.Total)
}

func TestAnalyzeFarWallContinues(t *testing.T) {
	seg := &fakeSegmenter{classes: wallGrid(4, 16, wall), n: segment.NumADE20KClasses}
	e := newTestEngine(t, testConfig(), seg)

	res, err := e.Analyze(context.Background(), Input{Image: testImage(), Depth: constDepth(10, 10, 6.0)})
	require.NoError(t, err)
	assert.Equal(t, guidance.Continue, res.Directive.Kind)
	assert.Zero(t, res.ObstacleRatio())
	assert.Equal(t, guidance.None, res.Feedback.Level)
}

func TestAnalyzeEverythingBlockedStops(t *testing.T) {
	seg := &fakeSegmenter{classes: wallGrid(0, gridSize, person), n: segment.NumADE20KClasses}
	e := newTestEngine(t, testConfig(), seg)

	res, err := e.Analyze(context.Background(), Input{Image: testImage(), Depth: constDepth(4, 4, 0.4)})
	require.NoError(t, err)
	assert.Equal(t, guidance.Directive{Kind: guidance.Stop, ObstacleName: "Person"}, res.Directive)
	assert.Equal(t, guidance.Heavy, res.Feedback.Level)
}

func TestAnalyzeDisparityUnits(t *testing.T) {
	cfg := testConfig()
	cfg.DepthUnits = depth.Disparity
	seg := &fakeSegmenter{classes: wallGrid(4, 16, wall), n: segment.NumADE20KClasses}
	e := newTestEngine(t, cfg, seg)

	// disparity 2 -> 0.5m, inside the 2.5m threshold
	res, err := e.Analyze(context.Background(), Input{Image: testImage(), Depth: constDepth(5, 5, 2)})
	require.NoError(t, err)
	assert.Equal(t, guidance.MoveLeft, res.Directive.Kind)
	assert.InDelta(t, 0.5, res.Proximity, 1e-6)
}

func TestAnalyzeRelativeThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.ThresholdMode = Relative
	cfg.RelativeThreshold = 0.6
	seg := &fakeSegmenter{classes: wallGrid(4, 16, wall), n: segment.NumADE20KClasses}
	e := newTestEngine(t, cfg, seg)

	// Wall at 2m, floor reaching 10m: threshold 6m.
	g := constDepth(gridSize, gridSize, 10)
	for y := range gridSize {
		for x := 4; x < 16; x++ {
			g.Data[y*gridSize+x] = 2
		}
	}
	res, err := e.Analyze(context.Background(), Input{Image: testImage(), Depth: g})
	require.NoError(t, err)
	assert.InDelta(t, 6.0, res.Threshold, 1e-5)
	assert.Equal(t, guidance.MoveLeft, res.Directive.Kind)
}

func TestAnalyzeUsesEstimatorWithoutSensorDepth(t *testing.T) {
	seg := &fakeSegmenter{classes: wallGrid(4, 16, wall), n: segment.NumADE20KClasses}
	// Wall at disparity 50, floor at disparity 5: ten times farther.
	disparity := constDepth(gridSize, gridSize, 5)
	for y := range gridSize {
		for x := 4; x < 16; x++ {
			disparity.Data[y*gridSize+x] = 50
		}
	}
	est := &fakeEstimator{grid: depth.ToMeters(*disparity, depth.Disparity)}
	e := newTestEngine(t, testConfig(), seg, WithDepthEstimator(est))

	res, err := e.Analyze(context.Background(), Input{Image: testImage()})
	require.NoError(t, err)
	assert.Equal(t, "model", res.DepthSource)
	assert.Equal(t, guidance.MoveLeft, res.Directive.Kind)
	assert.InDelta(t, 0.6*0.2, res.Threshold, 1e-5)
	assert.False(t, res.ProximityValid)
	assert.Equal(t, guidance.None, res.Feedback.Level)
}

func TestAnalyzeEstimatedDepthIgnoresAbsoluteThreshold(t *testing.T) {
	seg := &fakeSegmenter{classes: wallGrid(4, 16, wall), n: segment.NumADE20KClasses}
	// A uniformly far scene in relative disparity is tiny in "meters", far
	// below the 2.5 absolute threshold.
	far := depth.ToMeters(*constDepth(gridSize, gridSize, 50), depth.Disparity)
	cfg := testConfig()
	require.Equal(t, Absolute, cfg.ThresholdMode)
	e := newTestEngine(t, cfg, seg, WithDepthEstimator(&fakeEstimator{grid: far}))

	res, err := e.Analyze(context.Background(), Input{Image: testImage()})
	require.NoError(t, err)
	assert.Equal(t, guidance.Continue, res.Directive.Kind)
	assert.Zero(t, res.ObstacleRatio())

	// The same grid as sensor depth is taken at face value.
	res, err = e.Analyze(context.Background(), Input{Image: testImage(), Depth: &far})
	require.NoError(t, err)
	assert.Equal(t, guidance.MoveLeft, res.Directive.Kind)
}

func TestAnalyzeDeterministic(t *testing.T) {
	classes := wallGrid(2, 9, wall)
	classes[5] = person
	classes[6] = person
	seg := &fakeSegmenter{classes: classes, n: segment.NumADE20KClasses}
	e := newTestEngine(t, testConfig(), seg)

	g := constDepth(13, 7, 0)
	for i := range g.Data {
		g.Data[i] = float32(i%11) * 0.4
	}
	first, err := e.Analyze(context.Background(), Input{Image: testImage(), Depth: g})
	require.NoError(t, err)
	for range 5 {
		again, err := e.Analyze(context.Background(), Input{Image: testImage(), Depth: g})
		require.NoError(t, err)
		assert.Equal(t, first.Directive, again.Directive)
		assert.Equal(t, first.Zones, again.Zones)
		assert.Equal(t, first.Mask, again.Mask)
		assert.Equal(t, first.Components, again.Components)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	good := &fakeSegmenter{classes: wallGrid(4, 16, wall), n: segment.NumADE20KClasses}
	img := testImage()

	tests := []struct {
		name   string
		engine func(t *testing.T) *Engine
		input  Input
		want   error
	}{
		{
			name:   "segmentation failure",
			engine: func(t *testing.T) *Engine { return newTestEngine(t, testConfig(), &fakeSegmenter{err: errors.New("boom")}) },
			input:  Input{Image: img, Depth: constDepth(4, 4, 1)},
			want:   ErrSegmentation,
		},
		{
			name:   "all zero depth",
			engine: func(t *testing.T) *Engine { return newTestEngine(t, testConfig(), good) },
			input:  Input{Image: img, Depth: constDepth(4, 4, 0)},
			want:   ErrDegenerateDepth,
		},
		{
			name:   "missing depth",
			engine: func(t *testing.T) *Engine { return newTestEngine(t, testConfig(), good) },
			input:  Input{Image: img},
			want:   ErrInput,
		},
		{
			name:   "missing image",
			engine: func(t *testing.T) *Engine { return newTestEngine(t, testConfig(), good) },
			input:  Input{Depth: constDepth(4, 4, 1)},
			want:   ErrInput,
		},
		{
			name:   "malformed depth",
			engine: func(t *testing.T) *Engine { return newTestEngine(t, testConfig(), good) },
			input:  Input{Image: img, Depth: &depth.Grid{Width: 3, Height: 3, Data: []float32{1}}},
			want:   ErrInput,
		},
		{
			name: "estimator failure",
			engine: func(t *testing.T) *Engine {
				return newTestEngine(t, testConfig(), good, WithDepthEstimator(&fakeEstimator{err: errors.New("no gpu")}))
			},
			input: Input{Image: img},
			want:  ErrDepth,
		},
		{
			name:   "no segmenter",
			engine: func(t *testing.T) *Engine { return newTestEngine(t, testConfig(), nil) },
			input:  Input{Image: img, Depth: constDepth(4, 4, 1)},
			want:   ErrConfig,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.engine(t).Analyze(context.Background(), tt.input)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAnalyzeTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.InferenceTimeout = 20 * time.Millisecond
	seg := &fakeSegmenter{classes: wallGrid(4, 16, wall), n: segment.NumADE20KClasses, delay: time.Second}
	e := newTestEngine(t, cfg, seg)

	_, err := e.Analyze(context.Background(), Input{Image: testImage(), Depth: constDepth(4, 4, 1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSegmentation)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, IsTransient(err))
	assert.Equal(t, "segmentation", Reason(err))
}

func TestAnalyzeScoresShapeMismatch(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)
	grid := *constDepth(gridSize, gridSize, 1)

	_, err := e.AnalyzeScores(oneHot(make([]int32, 4), segment.NumADE20KClasses), grid, 1)
	assert.ErrorIs(t, err, ErrInput)

	_, err = e.AnalyzeScores(oneHot(make([]int32, gridSize*gridSize), 3), grid, 1)
	assert.ErrorIs(t, err, ErrInput)

	_, err = e.AnalyzeScores(oneHot(make([]int32, gridSize*gridSize), segment.NumADE20KClasses), *constDepth(2, 2, 1), 1)
	assert.ErrorIs(t, err, ErrInput)
}

func TestAnalyzeScoresPerFrameAspect(t *testing.T) {
	cfg := testConfig()
	cfg.SourceAspectRatio = 0
	e := newTestEngine(t, cfg, nil)

	scene, err := e.AnalyzeScores(oneHot(wallGrid(0, 0, wall), segment.NumADE20KClasses),
		*constDepth(gridSize, gridSize, 1), 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, scene.Layout.Aspect, 1e-12)
	assert.Equal(t, 3, scene.Layout.Rects[zones.TopMid].Max.Y)
	assert.Equal(t, guidance.Continue, scene.Directive.Kind)
}

func TestSceneMaskImage(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)
	scene, err := e.AnalyzeScores(oneHot(wallGrid(4, 16, wall), segment.NumADE20KClasses),
		*constDepth(gridSize, gridSize, 1), 1)
	require.NoError(t, err)

	img, err := scene.MaskImage()
	require.NoError(t, err)
	assert.Equal(t, uint8(255), img.GrayAt(5, 5).Y)
	assert.Equal(t, uint8(0), img.GrayAt(0, 5).Y)
}

func TestReport(t *testing.T) {
	seg := &fakeSegmenter{classes: wallGrid(4, 16, wall), n: segment.NumADE20KClasses}
	e := newTestEngine(t, testConfig(), seg)
	res, err := e.Analyze(context.Background(), Input{Image: testImage(), Depth: constDepth(10, 10, 1.0)})
	require.NoError(t, err)

	rep := e.Report(res)
	assert.Equal(t, "Wall ahead, move left.", rep.Message)
	require.Len(t, rep.Zones, zones.Count)
	assert.Equal(t, "top_mid", rep.Zones[1].Zone)
	assert.True(t, rep.Zones[1].Blocked)
	assert.Equal(t, "Wall", rep.Zones[1].DominantClass)
	assert.Nil(t, rep.Zones[0].DominantClassID)
	require.NotNil(t, rep.Proximity)
	assert.InDelta(t, 1.0, *rep.Proximity, 1e-6)
}
