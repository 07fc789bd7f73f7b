package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "pathsense"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "PATHSENSE"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader returns a loader on the global viper instance, so flags bound
// by the root command take part.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWith returns a loader on v.
func NewLoaderWith(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load reads the first config file found on the search path, applies
// environment overrides and defaults, and validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.LoadWithoutValidation()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithoutValidation is Load without the final Validate.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	l.v.SetConfigName(ConfigFileName)
	l.v.SetConfigType("yaml")
	l.addConfigPaths()
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars still apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.unmarshal()
}

// LoadWithFile loads configuration from a specific file path.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	if configFile == "" {
		return l.Load()
	}
	cfg, err := l.LoadWithFileWithoutValidation(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithFileWithoutValidation loads configFile without the final Validate.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	if configFile == "" {
		return l.LoadWithoutValidation()
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configFile)
	}

	l.v.SetConfigFile(configFile)
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// analysis.threshold_depth -> PATHSENSE_ANALYSIS_THRESHOLD_DEPTH
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every key, which also makes AutomaticEnv see them.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	l.v.SetDefault("models_dir", defaults.ModelsDir)
	l.v.SetDefault("log_level", defaults.LogLevel)
	l.v.SetDefault("verbose", defaults.Verbose)

	a := defaults.Analysis
	l.v.SetDefault("analysis.width", a.Width)
	l.v.SetDefault("analysis.height", a.Height)
	l.v.SetDefault("analysis.num_classes", a.NumClasses)
	l.v.SetDefault("analysis.ignore_class_ids", a.IgnoreClassIDs)
	l.v.SetDefault("analysis.threshold_depth", a.ThresholdDepth)
	l.v.SetDefault("analysis.threshold_mode", a.ThresholdMode)
	l.v.SetDefault("analysis.relative_threshold", a.RelativeThreshold)
	l.v.SetDefault("analysis.blocked_fraction", a.BlockedFraction)
	l.v.SetDefault("analysis.source_aspect_ratio", a.SourceAspectRatio)
	l.v.SetDefault("analysis.zones.top_band", a.Zones.TopBand)
	l.v.SetDefault("analysis.zones.bottom_band", a.Zones.BottomBand)
	l.v.SetDefault("analysis.zones.side_column", a.Zones.SideColumn)
	l.v.SetDefault("analysis.rotation", a.Rotation)
	l.v.SetDefault("analysis.preview_size", a.PreviewSize)
	l.v.SetDefault("analysis.depth_units", a.DepthUnits)
	l.v.SetDefault("analysis.proximity_region", a.ProximityRegion)
	l.v.SetDefault("analysis.inference_timeout", a.InferenceTimeout)
	l.v.SetDefault("analysis.labels_file", a.LabelsFile)

	l.v.SetDefault("models.segmentation_path", defaults.Models.SegmentationPath)
	l.v.SetDefault("models.depth_path", defaults.Models.DepthPath)
	l.v.SetDefault("models.depth_enabled", defaults.Models.DepthEnabled)
	l.v.SetDefault("models.depth_input_size", defaults.Models.DepthInputSize)
	l.v.SetDefault("models.num_threads", defaults.Models.NumThreads)

	l.v.SetDefault("runner.timeout", defaults.Runner.Timeout)

	l.v.SetDefault("server.host", defaults.Server.Host)
	l.v.SetDefault("server.port", defaults.Server.Port)
	l.v.SetDefault("server.cors_origin", defaults.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", defaults.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", defaults.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)
	l.v.SetDefault("server.rate_limit_rpm", defaults.Server.RateLimitRPM)

	l.v.SetDefault("output.format", defaults.Output.Format)
	l.v.SetDefault("output.file", defaults.Output.File)
	l.v.SetDefault("output.mask_dir", defaults.Output.MaskDir)
	l.v.SetDefault("output.overlay_opacity", defaults.Output.OverlayOpacity)

	l.v.SetDefault("batch.workers", defaults.Batch.Workers)
	l.v.SetDefault("batch.continue_on_error", defaults.Batch.ContinueOnError)

	l.v.SetDefault("gpu.enabled", defaults.GPU.Enabled)
	l.v.SetDefault("gpu.device", defaults.GPU.Device)
	l.v.SetDefault("gpu.memory_limit", defaults.GPU.MemoryLimit)
}

// GetConfigSearchPaths returns the directories searched for pathsense.yaml, in order.
func GetConfigSearchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}
	if configDir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && configDir != "" {
		paths = append(paths, filepath.Join(configDir, "pathsense"))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "pathsense"))
	}
	return append(paths, "/etc/pathsense")
}

// Marshal renders cfg as YAML that Load accepts back. yaml.v3 writes
// durations as strings such as "2s".
func Marshal(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}

// GenerateDefaultConfigFile writes the defaults to filename
// (pathsense.yaml when empty). Existing files are not overwritten.
func GenerateDefaultConfigFile(filename string) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	if _, err := os.Stat(filename); err == nil {
		return fmt.Errorf("config file already exists: %s", filename)
	}
	cfg := DefaultConfig()
	data, err := Marshal(&cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
