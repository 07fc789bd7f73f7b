package analysis

import (
	"fmt"
	"time"

	"github.com/MeKo-Tech/pathsense/internal/depth"
	"github.com/MeKo-Tech/pathsense/internal/frame"
	"github.com/MeKo-Tech/pathsense/internal/guidance"
	"github.com/MeKo-Tech/pathsense/internal/segment"
	"github.com/MeKo-Tech/pathsense/internal/zones"
)

// ThresholdMode selects how the obstacle depth threshold is obtained.
type ThresholdMode string

const (
	// Absolute uses ThresholdDepth in meters.
	Absolute ThresholdMode = "absolute"
	// Relative uses RelativeThreshold times the frame's largest depth.
	Relative ThresholdMode = "relative"
)

// Config is the static analysis configuration.
type Config struct {
	Width      int
	Height     int
	NumClasses int

	// IgnoreClassIDs are never obstacles.
	IgnoreClassIDs []int

	// In Absolute mode ThresholdDepth is in meters; in Relative mode the
	// threshold is RelativeThreshold times the frame's largest depth.
	// Frames whose depth comes from the estimator always use Relative.
	ThresholdDepth    float32
	ThresholdMode     ThresholdMode
	RelativeThreshold float32
	BlockedFraction   float64

	// SourceAspectRatio is width/height of camera frames after rotation.
	// 0 uses each frame's own aspect.
	SourceAspectRatio float64
	Geometry          zones.Geometry

	// DepthUnits describes supplied depth grids. Model estimates are
	// always converted internally.
	DepthUnits depth.Units

	// ProximityRadius is the half-size of the centred proximity window in
	// source depth pixels.
	ProximityRadius int

	Rotation    frame.Rotation
	PreviewSize int

	// InferenceTimeout bounds the model calls of one frame; 0 disables it.
	InferenceTimeout time.Duration

	ClassNames segment.Labels
}

// DefaultConfig returns a 512×512 ADE20K configuration with a 2.5m threshold.
func DefaultConfig() Config {
	return Config{
		Width:             512,
		Height:            512,
		NumClasses:        segment.NumADE20KClasses,
		IgnoreClassIDs:    append([]int(nil), segment.DefaultIgnoreIDs...),
		ThresholdDepth:    2.5,
		ThresholdMode:     Absolute,
		RelativeThreshold: 0.6,
		BlockedFraction:   guidance.DefaultBlockedFraction,
		Geometry:          zones.DefaultGeometry(),
		DepthUnits:        depth.Meters,
		ProximityRadius:   30,
		Rotation:          frame.Rotate0,
		InferenceTimeout:  2 * time.Second,
		ClassNames:        segment.ADE20K(),
	}
}

// Validate reports configuration errors, all wrapping ErrConfig.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: analysis size must be positive, got %dx%d", ErrConfig, c.Width, c.Height)
	}
	if c.NumClasses <= 0 {
		return fmt.Errorf("%w: number of classes must be positive, got %d", ErrConfig, c.NumClasses)
	}
	if len(c.IgnoreClassIDs) == 0 {
		return fmt.Errorf("%w: ignore list must not be empty", ErrConfig)
	}
	for _, id := range c.IgnoreClassIDs {
		if id < 0 || id >= c.NumClasses {
			return fmt.Errorf("%w: ignore id %d outside [0, %d)", ErrConfig, id, c.NumClasses)
		}
	}
	switch c.ThresholdMode {
	case Absolute, "":
		if c.ThresholdDepth <= 0 {
			return fmt.Errorf("%w: threshold depth must be positive, got %g", ErrConfig, c.ThresholdDepth)
		}
	case Relative:
		if c.RelativeThreshold <= 0 || c.RelativeThreshold > 1 {
			return fmt.Errorf("%w: relative threshold must be in (0, 1], got %g", ErrConfig, c.RelativeThreshold)
		}
	default:
		return fmt.Errorf("%w: unknown threshold mode %q", ErrConfig, c.ThresholdMode)
	}
	if c.BlockedFraction < 0 || c.BlockedFraction >= 1 {
		return fmt.Errorf("%w: blocked fraction must be in [0, 1), got %g", ErrConfig, c.BlockedFraction)
	}
	if c.SourceAspectRatio < 0 {
		return fmt.Errorf("%w: source aspect ratio must be non-negative, got %g", ErrConfig, c.SourceAspectRatio)
	}
	if err := c.Geometry.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if _, err := depth.ParseUnits(string(c.DepthUnits)); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if c.ProximityRadius < 0 {
		return fmt.Errorf("%w: proximity radius must be non-negative, got %d", ErrConfig, c.ProximityRadius)
	}
	if !c.Rotation.Valid() {
		return fmt.Errorf("%w: rotation must be 0, 90, 180 or 270, got %d", ErrConfig, c.Rotation)
	}
	if c.InferenceTimeout < 0 {
		return fmt.Errorf("%w: inference timeout must be non-negative", ErrConfig)
	}
	return nil
}
