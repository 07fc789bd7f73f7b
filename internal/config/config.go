package config

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/pathsense/internal/analysis"
	"github.com/MeKo-Tech/pathsense/internal/depth"
	"github.com/MeKo-Tech/pathsense/internal/frame"
	"github.com/MeKo-Tech/pathsense/internal/models"
	"github.com/MeKo-Tech/pathsense/internal/onnx"
	"github.com/MeKo-Tech/pathsense/internal/pipeline"
	"github.com/MeKo-Tech/pathsense/internal/segment"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	a := analysis.DefaultConfig()
	est := depth.DefaultEstimatorConfig()
	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Verbose:   false,
		Analysis: AnalysisConfig{
			Width:             a.Width,
			Height:            a.Height,
			NumClasses:        a.NumClasses,
			IgnoreClassIDs:    a.IgnoreClassIDs,
			ThresholdDepth:    a.ThresholdDepth,
			ThresholdMode:     string(a.ThresholdMode),
			RelativeThreshold: a.RelativeThreshold,
			BlockedFraction:   a.BlockedFraction,
			SourceAspectRatio: a.SourceAspectRatio,
			Zones:             a.Geometry,
			Rotation:          int(a.Rotation),
			PreviewSize:       a.PreviewSize,
			DepthUnits:        string(a.DepthUnits),
			ProximityRegion:   a.ProximityRadius,
			InferenceTimeout:  a.InferenceTimeout,
		},
		Models: ModelsConfig{
			DepthEnabled:   false,
			DepthInputSize: est.Width,
			NumThreads:     0,
		},
		Runner: RunnerConfig{
			Timeout: pipeline.DefaultConfig().Timeout,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     20,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			RateLimitRPM:    0,
		},
		Output: OutputConfig{
			Format:         "text",
			OverlayOpacity: 0.5,
		},
		Batch: BatchConfig{
			Workers:         2,
			ContinueOnError: true,
		},
		GPU: GPUConfig{
			Enabled:     false,
			Device:      0,
			MemoryLimit: "auto",
		},
	}
}

// Validate checks settings that analysis.Config.Validate does not cover,
// then the analysis settings themselves.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{"text", "json"}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}
	if c.Output.OverlayOpacity < 0 || c.Output.OverlayOpacity > 1 {
		return fmt.Errorf("invalid overlay opacity: %.2f (must be between 0.0 and 1.0)", c.Output.OverlayOpacity)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.RateLimitRPM < 0 {
		return fmt.Errorf("invalid rate limit: %d (must not be negative)", c.Server.RateLimitRPM)
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}
	if c.Runner.Timeout < 0 {
		return fmt.Errorf("invalid runner timeout: %s (must not be negative)", c.Runner.Timeout)
	}
	if c.Models.DepthEnabled && c.Models.DepthInputSize <= 0 {
		return fmt.Errorf("invalid depth input size: %d (must be positive)", c.Models.DepthInputSize)
	}

	if _, err := parseMemoryLimit(c.GPU.MemoryLimit); err != nil {
		return fmt.Errorf("invalid GPU memory limit: %w", err)
	}

	// Label files are resolved later; check the numeric settings here.
	a, err := c.analysisConfig(segment.ADE20K(), nil)
	if err != nil {
		return err
	}
	return a.Validate()
}

// ToAnalysisConfig converts the analysis section, loading the labels file
// when one is configured. A labels file with an ignore list replaces
// ignore_class_ids.
func (c *Config) ToAnalysisConfig() (analysis.Config, error) {
	names := segment.ADE20K()
	var ignore []int
	if c.Analysis.LabelsFile != "" {
		f, err := segment.LoadLabelFile(c.Analysis.LabelsFile)
		if err != nil {
			return analysis.Config{}, fmt.Errorf("%w: %w", analysis.ErrConfig, err)
		}
		if len(f.Names) > 0 {
			names = f.Labels()
		} else {
			for id, name := range f.Labels() {
				names[id] = name
			}
		}
		ignore = f.Ignore
	}
	a, err := c.analysisConfig(names, ignore)
	if err != nil {
		return analysis.Config{}, err
	}
	if err := a.Validate(); err != nil {
		return analysis.Config{}, err
	}
	return a, nil
}

func (c *Config) analysisConfig(names segment.Labels, ignore []int) (analysis.Config, error) {
	units, err := depth.ParseUnits(c.Analysis.DepthUnits)
	if err != nil {
		return analysis.Config{}, fmt.Errorf("%w: %w", analysis.ErrConfig, err)
	}
	mode := analysis.ThresholdMode(strings.ToLower(c.Analysis.ThresholdMode))
	if mode == "" {
		mode = analysis.Absolute
	}
	if len(ignore) == 0 {
		ignore = c.Analysis.IgnoreClassIDs
	}
	return analysis.Config{
		Width:             c.Analysis.Width,
		Height:            c.Analysis.Height,
		NumClasses:        c.Analysis.NumClasses,
		IgnoreClassIDs:    slices.Clone(ignore),
		ThresholdDepth:    c.Analysis.ThresholdDepth,
		ThresholdMode:     mode,
		RelativeThreshold: c.Analysis.RelativeThreshold,
		BlockedFraction:   c.Analysis.BlockedFraction,
		SourceAspectRatio: c.Analysis.SourceAspectRatio,
		Geometry:          c.Analysis.Zones,
		DepthUnits:        units,
		ProximityRadius:   c.Analysis.ProximityRegion,
		Rotation:          frame.Rotation(c.Analysis.Rotation),
		PreviewSize:       c.Analysis.PreviewSize,
		InferenceTimeout:  c.Analysis.InferenceTimeout,
		ClassNames:        names,
	}, nil
}

// ToSegmentConfig returns the segmentation model settings.
func (c *Config) ToSegmentConfig() (segment.Config, error) {
	gpu, err := c.ToGPUConfig()
	if err != nil {
		return segment.Config{}, err
	}
	path := c.Models.SegmentationPath
	if path == "" {
		path = models.GetSegmentationModelPath(c.ModelsDir)
	}
	return segment.Config{
		ModelPath:  path,
		Width:      c.Analysis.Width,
		Height:     c.Analysis.Height,
		NumClasses: c.Analysis.NumClasses,
		NumThreads: c.Models.NumThreads,
		GPU:        gpu,
	}, nil
}

// ToEstimatorConfig returns the depth model settings.
func (c *Config) ToEstimatorConfig() (depth.EstimatorConfig, error) {
	gpu, err := c.ToGPUConfig()
	if err != nil {
		return depth.EstimatorConfig{}, err
	}
	cfg := depth.DefaultEstimatorConfig()
	cfg.ModelPath = c.Models.DepthPath
	if cfg.ModelPath == "" {
		cfg.ModelPath = models.GetDepthModelPath(c.ModelsDir)
	}
	if c.Models.DepthInputSize > 0 {
		cfg.Width = c.Models.DepthInputSize
		cfg.Height = c.Models.DepthInputSize
	}
	cfg.NumThreads = c.Models.NumThreads
	cfg.GPU = gpu
	return cfg, nil
}

// ToGPUConfig converts the GPU section to ONNX Runtime provider settings.
func (c *Config) ToGPUConfig() (onnx.GPUConfig, error) {
	limit, err := parseMemoryLimit(c.GPU.MemoryLimit)
	if err != nil {
		return onnx.GPUConfig{}, err
	}
	gpu := onnx.DefaultGPUConfig()
	gpu.UseGPU = c.GPU.Enabled
	gpu.DeviceID = c.GPU.Device
	gpu.MemLimitBytes = limit
	return gpu, nil
}

// ToRunnerConfig returns the single-flight runner settings.
func (c *Config) ToRunnerConfig() pipeline.Config {
	return pipeline.Config{Timeout: c.Runner.Timeout}
}

// parseMemoryLimit parses limits such as "512MB" or "1.5GB"; "" and "auto" mean unlimited.
func parseMemoryLimit(limit string) (uint64, error) {
	if limit == "" || strings.EqualFold(limit, "auto") {
		return 0, nil
	}
	upper := strings.ToUpper(strings.TrimSpace(limit))
	units := []struct {
		suffix string
		scale  float64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(upper, u.suffix)), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.scale), nil
	}
	return 0, errors.New("memory limit must end with one of: B, KB, MB, GB")
}
