package analysis

import (
	"testing"

	"github.com/MeKo-Tech/pathsense/internal/zones"
	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero width", mutate: func(c *Config) { c.Width = 0 }},
		{name: "negative height", mutate: func(c *Config) { c.Height = -1 }},
		{name: "no classes", mutate: func(c *Config) { c.NumClasses = 0 }},
		{name: "empty ignore list", mutate: func(c *Config) { c.IgnoreClassIDs = nil }},
		{name: "ignore id out of range", mutate: func(c *Config) { c.IgnoreClassIDs = []int{500} }},
		{name: "zero threshold", mutate: func(c *Config) { c.ThresholdDepth = 0 }},
		{name: "bad relative", mutate: func(c *Config) { c.ThresholdMode = Relative; c.RelativeThreshold = 1.5 }},
		{name: "unknown mode", mutate: func(c *Config) { c.ThresholdMode = "adaptive" }},
		{name: "blocked fraction", mutate: func(c *Config) { c.BlockedFraction = 1 }},
		{name: "negative aspect", mutate: func(c *Config) { c.SourceAspectRatio = -1 }},
		{name: "bad geometry", mutate: func(c *Config) { c.Geometry = zones.Geometry{} }},
		{name: "bad units", mutate: func(c *Config) { c.DepthUnits = "feet" }},
		{name: "negative radius", mutate: func(c *Config) { c.ProximityRadius = -1 }},
		{name: "bad rotation", mutate: func(c *Config) { c.Rotation = 45 }},
		{name: "negative timeout", mutate: func(c *Config) { c.InferenceTimeout = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			assert.ErrorIs(t, err, ErrConfig)

			_, err = NewEngine(cfg, nil)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestRelativeModeIgnoresAbsoluteThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ThresholdMode = Relative
	cfg.ThresholdDepth = 0
	assert.NoError(t, cfg.Validate())
}

func TestReason(t *testing.T) {
	assert.Equal(t, "none", Reason(nil))
	assert.Equal(t, "degenerate_depth", Reason(ErrDegenerateDepth))
	assert.Equal(t, "config", Reason(ErrConfig))
	assert.Equal(t, "other", Reason(assert.AnError))
	assert.False(t, IsTransient(ErrConfig))
	assert.True(t, IsTransient(ErrDepth))
}
