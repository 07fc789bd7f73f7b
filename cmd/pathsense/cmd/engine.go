package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MeKo-Tech/pathsense/internal/analysis"
	"github.com/MeKo-Tech/pathsense/internal/config"
	"github.com/MeKo-Tech/pathsense/internal/depth"
	"github.com/MeKo-Tech/pathsense/internal/segment"
)

// engineFactory builds the analysis engine; tests replace it with one backed
// by a synthetic segmenter.
var engineFactory = buildEngine

// buildEngine loads the segmentation model and, when estimate is set, the
// depth model. The returned closers release the model sessions.
func buildEngine(cfg *config.Config, estimate bool) (*analysis.Engine, []io.Closer, error) {
	acfg, err := cfg.ToAnalysisConfig()
	if err != nil {
		return nil, nil, err
	}
	scfg, err := cfg.ToSegmentConfig()
	if err != nil {
		return nil, nil, err
	}

	seg, err := segment.NewONNXSegmenter(scfg)
	if err != nil {
		return nil, nil, err
	}
	closers := []io.Closer{seg}

	var opts []analysis.Option
	if estimate {
		ecfg, err := cfg.ToEstimatorConfig()
		if err != nil {
			closeAll(closers)
			return nil, nil, err
		}
		est, err := depth.NewONNXEstimator(ecfg)
		if err != nil {
			closeAll(closers)
			return nil, nil, err
		}
		closers = append(closers, est)
		opts = append(opts, analysis.WithDepthEstimator(est))
	}

	engine, err := analysis.NewEngine(acfg, seg, opts...)
	if err != nil {
		closeAll(closers)
		return nil, nil, fmt.Errorf("failed to create analysis engine: %w", err)
	}
	slog.Debug("Analysis engine ready",
		"segmentation_model", scfg.ModelPath,
		"depth_estimation", estimate,
		"size", fmt.Sprintf("%dx%d", acfg.Width, acfg.Height))
	return engine, closers, nil
}

func closeAll(closers []io.Closer) {
	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("Failed to release models", "error", err)
	}
}
