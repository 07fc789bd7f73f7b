package segment

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

// Config configures the ONNX segmenter.
type Config struct {
	ModelPath  string
	Width      int
	Height     int
	NumClasses int
	NumThreads int
	GPU        onnx.GPUConfig
}

// modelRunner is the subset of *onnx.Session the segmenter needs.
type modelRunner interface {
	Run(ctx context.Context, in onnx.Tensor) (onnx.Tensor, error)
	Close() error
}

// ONNXSegmenter runs a scene-parsing model that maps an RGB image to
// per-class logits.
type ONNXSegmenter struct {
	cfg     Config
	session modelRunner
}

// NewONNXSegmenter loads the model described by cfg.
func NewONNXSegmenter(cfg Config) (*ONNXSegmenter, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("segmentation input size must be positive, got %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.NumClasses <= 0 {
		return nil, ErrNoClasses
	}
	sess, err := onnx.NewSession(cfg.ModelPath, onnx.SessionConfig{NumThreads: cfg.NumThreads, GPU: cfg.GPU})
	if err != nil {
		return nil, fmt.Errorf("failed to load segmentation model: %w", err)
	}
	return &ONNXSegmenter{cfg: cfg, session: sess}, nil
}

// Segment returns scores at the configured Width×Height. Images of another
// size are resized first; model outputs at a lower resolution are upsampled
// by nearest neighbour.
func (s *ONNXSegmenter) Segment(ctx context.Context, img image.Image) (ScoreTensor, error) {
	if img == nil {
		return ScoreTensor{}, errors.New("input image is nil")
	}
	start := time.Now()

	if b := img.Bounds(); b.Dx() != s.cfg.Width || b.Dy() != s.cfg.Height {
		img = imaging.Resize(img, s.cfg.Width, s.cfg.Height, imaging.Lanczos)
	}
	in, err := frame.ToTensor(img, frame.ImageNet)
	if err != nil {
		return ScoreTensor{}, err
	}

	out, err := s.session.Run(ctx, in)
	if err != nil {
		return ScoreTensor{}, fmt.Errorf("segmentation inference: %w", err)
	}

	classes, oh, ow, err := onnx.PlaneDims(out.Shape)
	if err != nil {
		return ScoreTensor{}, fmt.Errorf("segmentation output: %w", err)
	}
	if classes != s.cfg.NumClasses {
		return ScoreTensor{}, fmt.Errorf("segmentation output has %d classes, configured %d", classes, s.cfg.NumClasses)
	}

	data := out.Data
	if oh != s.cfg.Height || ow != s.cfg.Width {
		data = upsamplePlanes(data, classes, ow, oh, s.cfg.Width, s.cfg.Height)
	}

	slog.Debug("Segmentation complete",
		"classes", classes,
		"output_size", fmt.Sprintf("%dx%d", ow, oh),
		"duration_ms", time.Since(start).Milliseconds())

	return NewScoreTensor(data, classes, s.cfg.Width*s.cfg.Height)
}

// Close releases the model session.
func (s *ONNXSegmenter) Close() error {
	if s.session == nil {
		return nil
	}
	return s.session.Close()
}

// upsamplePlanes resizes each sw×sh plane to dw×dh by nearest neighbour.
func upsamplePlanes(src []float32, planes, sw, sh, dw, dh int) []float32 {
	out := make([]float32, planes*dw*dh)
	xs := make([]int, dw)
	for x := range dw {
		xs[x] = min(x*sw/dw, sw-1)
	}
	for p := range planes {
		sp := src[p*sw*sh : (p+1)*sw*sh]
		dp := out[p*dw*dh : (p+1)*dw*dh]
		for y := range dh {
			srow := sp[min(y*sh/dh, sh-1)*sw:]
			drow := dp[y*dw : (y+1)*dw]
			for x, sx := range xs {
				drow[x] = srow[sx]
			}
		}
	}
	return out
}
