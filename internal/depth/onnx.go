package depth

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/pathsense/internal/frame"
	"github.com/MeKo-Tech/pathsense/internal/onnx"
	"github.com/disintegration/imaging"
)

// EstimatorConfig configures the monocular depth model.
type EstimatorConfig struct {
	ModelPath  string
	Width      int
	Height     int
	NumThreads int
	GPU        onnx.GPUConfig
}

// DefaultEstimatorConfig returns the 256×256 input size used by small
// MiDaS-style models.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{Width: 256, Height: 256, GPU: onnx.DefaultGPUConfig()}
}

type modelRunner interface {
	Run(ctx context.Context, in onnx.Tensor) (onnx.Tensor, error)
	Close() error
}

// ONNXEstimator predicts relative inverse depth from a single RGB frame and
// returns it inverted, so the result follows the package's larger-is-farther
// convention. The scale is relative, not metric.
type ONNXEstimator struct {
	cfg     EstimatorConfig
	session modelRunner
}

// NewONNXEstimator loads the depth model.
func NewONNXEstimator(cfg EstimatorConfig) (*ONNXEstimator, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("depth model input size must be positive, got %dx%d", cfg.Width, cfg.Height)
	}
	sess, err := onnx.NewSession(cfg.ModelPath, onnx.SessionConfig{NumThreads: cfg.NumThreads, GPU: cfg.GPU})
	if err != nil {
		return nil, fmt.Errorf("failed to load depth model: %w", err)
	}
	return &ONNXEstimator{cfg: cfg, session: sess}, nil
}

// Estimate runs the model on img.
func (e *ONNXEstimator) Estimate(ctx context.Context, img image.Image) (Grid, error) {
	if img == nil {
		return Grid{}, errors.New("input image is nil")
	}
	start := time.Now()

	resized := imaging.Resize(img, e.cfg.Width, e.cfg.Height, imaging.Lanczos)
	in, err := frame.ToTensor(resized, frame.ImageNet)
	if err != nil {
		return Grid{}, err
	}
	out, err := e.session.Run(ctx, in)
	if err != nil {
		return Grid{}, fmt.Errorf("depth inference: %w", err)
	}

	planes, h, w, err := onnx.PlaneDims(out.Shape)
	if err != nil {
		return Grid{}, fmt.Errorf("depth output: %w", err)
	}
	if planes != 1 {
		return Grid{}, fmt.Errorf("depth output has %d channels, want 1", planes)
	}
	g, err := NewGrid(w, h, out.Data)
	if err != nil {
		return Grid{}, err
	}

	if slog.Default().Enabled(ctx, slog.LevelDebug) {
		minV, maxV, mean := onnx.Stats(out.Data)
		slog.Debug("Depth estimation complete",
			"size", fmt.Sprintf("%dx%d", w, h),
			"disparity_min", minV, "disparity_max", maxV, "disparity_mean", mean,
			"duration_ms", time.Since(start).Milliseconds())
	}
	return ToMeters(g, Disparity), nil
}

// Close releases the model session.
func (e *ONNXEstimator) Close() error {
	if e.session == nil {
		return nil
	}
	return e.session.Close()
}
