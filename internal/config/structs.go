//nolint:lll
package config

import (
	"time"

	"github.com/MeKo-Tech/pathsense/internal/zones"
)

// Config is the complete pathsense configuration. It is loaded from a
// config file, PATHSENSE_* environment variables and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Per-frame analysis
	Analysis AnalysisConfig `mapstructure:"analysis" yaml:"analysis" json:"analysis"`

	// ONNX models
	Models ModelsConfig `mapstructure:"models" yaml:"models" json:"models"`

	// Live stream scheduling
	Runner RunnerConfig `mapstructure:"runner" yaml:"runner" json:"runner"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Output configuration
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	// Multi-frame analyze
	Batch BatchConfig `mapstructure:"batch" yaml:"batch" json:"batch"`

	// GPU configuration
	GPU GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// AnalysisConfig holds the obstacle and zone parameters.
type AnalysisConfig struct {
	Width      int `mapstructure:"width" yaml:"width" json:"width"`
	Height     int `mapstructure:"height" yaml:"height" json:"height"`
	NumClasses int `mapstructure:"num_classes" yaml:"num_classes" json:"num_classes"`

	IgnoreClassIDs    []int   `mapstructure:"ignore_class_ids" yaml:"ignore_class_ids" json:"ignore_class_ids"`
	ThresholdDepth    float32 `mapstructure:"threshold_depth" yaml:"threshold_depth" json:"threshold_depth"`
	ThresholdMode     string  `mapstructure:"threshold_mode" yaml:"threshold_mode" json:"threshold_mode"`
	RelativeThreshold float32 `mapstructure:"relative_threshold" yaml:"relative_threshold" json:"relative_threshold"`
	BlockedFraction   float64 `mapstructure:"blocked_fraction" yaml:"blocked_fraction" json:"blocked_fraction"`

	SourceAspectRatio float64        `mapstructure:"source_aspect_ratio" yaml:"source_aspect_ratio" json:"source_aspect_ratio"`
	Zones             zones.Geometry `mapstructure:"zones" yaml:"zones" json:"zones"`
	Rotation          int            `mapstructure:"rotation" yaml:"rotation" json:"rotation"`
	PreviewSize       int            `mapstructure:"preview_size" yaml:"preview_size" json:"preview_size"`

	DepthUnits       string        `mapstructure:"depth_units" yaml:"depth_units" json:"depth_units"`
	ProximityRegion  int           `mapstructure:"proximity_region" yaml:"proximity_region" json:"proximity_region"`
	InferenceTimeout time.Duration `mapstructure:"inference_timeout" yaml:"inference_timeout" json:"inference_timeout"`

	// Optional YAML class table; empty uses the built-in ADE20K names.
	LabelsFile string `mapstructure:"labels_file" yaml:"labels_file" json:"labels_file"`
}

// ModelsConfig locates the segmentation and depth models.
type ModelsConfig struct {
	SegmentationPath string `mapstructure:"segmentation_path" yaml:"segmentation_path" json:"segmentation_path"`
	DepthPath        string `mapstructure:"depth_path" yaml:"depth_path" json:"depth_path"`
	DepthEnabled     bool   `mapstructure:"depth_enabled" yaml:"depth_enabled" json:"depth_enabled"`
	DepthInputSize   int    `mapstructure:"depth_input_size" yaml:"depth_input_size" json:"depth_input_size"`
	NumThreads       int    `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
}

// RunnerConfig bounds live-stream analyses.
type RunnerConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RateLimitRPM    int    `mapstructure:"rate_limit_rpm" yaml:"rate_limit_rpm" json:"rate_limit_rpm"` // 0 disables
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format         string  `mapstructure:"format" yaml:"format" json:"format"`
	File           string  `mapstructure:"file" yaml:"file" json:"file"`
	MaskDir        string  `mapstructure:"mask_dir" yaml:"mask_dir" json:"mask_dir"`
	OverlayOpacity float64 `mapstructure:"overlay_opacity" yaml:"overlay_opacity" json:"overlay_opacity"`
}

// BatchConfig contains multi-frame settings.
type BatchConfig struct {
	Workers         int  `mapstructure:"workers" yaml:"workers" json:"workers"`
	ContinueOnError bool `mapstructure:"continue_on_error" yaml:"continue_on_error" json:"continue_on_error"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}
