package onnx

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/yalue/onnxruntime_go"
)

// GPUConfig controls the CUDA execution provider.
type GPUConfig struct {
	UseGPU              bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	DeviceID            int    `mapstructure:"device" yaml:"device" json:"device"`
	MemLimitBytes       uint64 `mapstructure:"mem_limit_bytes" yaml:"mem_limit_bytes" json:"mem_limit_bytes"` // 0 = unlimited
	ArenaExtendStrategy string `mapstructure:"arena_extend_strategy" yaml:"arena_extend_strategy" json:"arena_extend_strategy"`
}

// DefaultGPUConfig returns a CPU-only configuration.
func DefaultGPUConfig() GPUConfig {
	return GPUConfig{
		UseGPU:              false,
		DeviceID:            0,
		ArenaExtendStrategy: "kNextPowerOfTwo",
	}
}

// Validate reports configuration mistakes. CPU-only configs are always valid.
func (c GPUConfig) Validate() error {
	if !c.UseGPU {
		return nil
	}
	if c.DeviceID < 0 {
		return fmt.Errorf("device ID must be non-negative, got %d", c.DeviceID)
	}
	switch c.ArenaExtendStrategy {
	case "", "kNextPowerOfTwo", "kSameAsRequested":
	default:
		return fmt.Errorf("invalid arena extend strategy: %s", c.ArenaExtendStrategy)
	}
	return nil
}

// providerSettings renders the CUDA provider option map.
func (c GPUConfig) providerSettings() map[string]string {
	settings := map[string]string{
		"device_id": strconv.Itoa(c.DeviceID),
	}
	if c.MemLimitBytes > 0 {
		settings["gpu_mem_limit"] = strconv.FormatUint(c.MemLimitBytes, 10)
	}
	if c.ArenaExtendStrategy != "" {
		settings["arena_extend_strategy"] = c.ArenaExtendStrategy
	}
	return settings
}

// configureGPU appends the CUDA provider to opts when enabled.
func configureGPU(opts *onnxruntime_go.SessionOptions, c GPUConfig) error {
	if !c.UseGPU {
		return nil
	}
	cudaOpts, err := onnxruntime_go.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("failed to create CUDA provider options (GPU may not be available): %w", err)
	}
	defer func() {
		if err := cudaOpts.Destroy(); err != nil {
			slog.Warn("Failed to destroy CUDA provider options", "error", err)
		}
	}()

	if err := cudaOpts.Update(c.providerSettings()); err != nil {
		return fmt.Errorf("failed to update CUDA provider options: %w", err)
	}
	if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("failed to append CUDA execution provider: %w", err)
	}
	return nil
}
