package onnx

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewImageTensor(t *testing.T) {
	data := make([]float32, 3*4*5)
	tensor, err := NewImageTensor(data, 3, 4, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 4, 5}, tensor.Shape)
	assert.Equal(t, 60, tensor.Elements())
	require.NoError(t, tensor.Verify())
}

func TestNewImageTensorErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    []float32
		c, h, w int
	}{
		{name: "nil data", data: nil, c: 3, h: 2, w: 2},
		{name: "wrong length", data: make([]float32, 5), c: 3, h: 2, w: 2},
		{name: "zero channel", data: make([]float32, 4), c: 0, h: 2, w: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewImageTensor(tt.data, tt.c, tt.h, tt.w)
			assert.Error(t, err)
		})
	}
}

func TestTensorVerify(t *testing.T) {
	assert.Error(t, Tensor{}.Verify())
	assert.Error(t, Tensor{Data: make([]float32, 4), Shape: []int64{1, 0, 2}}.Verify())
	assert.Error(t, Tensor{Data: make([]float32, 3), Shape: []int64{2, 2}}.Verify())
	assert.NoError(t, Tensor{Data: make([]float32, 4), Shape: []int64{2, 2}}.Verify())
}

func TestPlaneDims(t *testing.T) {
	tests := []struct {
		name    string
		shape   []int64
		planes  int
		h, w    int
		wantErr bool
	}{
		{name: "nchw", shape: []int64{1, 150, 64, 32}, planes: 150, h: 64, w: 32},
		{name: "chw", shape: []int64{1, 256, 256}, planes: 1, h: 256, w: 256},
		{name: "hw", shape: []int64{8, 9}, planes: 1, h: 8, w: 9},
		{name: "batch of two", shape: []int64{2, 1, 4, 4}, wantErr: true},
		{name: "rank five", shape: []int64{1, 1, 1, 1, 1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, h, w, err := PlaneDims(tt.shape)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []int{tt.planes, tt.h, tt.w}, []int{p, h, w})
		})
	}
}

func TestStats(t *testing.T) {
	minV, maxV, mean := Stats([]float32{1, -2, 4, 1})
	assert.InDelta(t, -2, minV, 1e-6)
	assert.InDelta(t, 4, maxV, 1e-6)
	assert.InDelta(t, 1, mean, 1e-6)

	minV, maxV, mean = Stats(nil)
	assert.Zero(t, minV+maxV+mean)
}

func TestGPUConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultGPUConfig().Validate())

	cfg := DefaultGPUConfig()
	cfg.UseGPU = true
	assert.NoError(t, cfg.Validate())

	cfg.DeviceID = -1
	assert.Error(t, cfg.Validate())

	cfg.DeviceID = 0
	cfg.ArenaExtendStrategy = "sometimes"
	assert.Error(t, cfg.Validate())
}

func TestProviderSettings(t *testing.T) {
	cfg := GPUConfig{UseGPU: true, DeviceID: 2, MemLimitBytes: 1024, ArenaExtendStrategy: "kSameAsRequested"}
	s := cfg.providerSettings()
	assert.Equal(t, "2", s["device_id"])
	assert.Equal(t, "1024", s["gpu_mem_limit"])
	assert.Equal(t, "kSameAsRequested", s["arena_extend_strategy"])

	s = GPUConfig{UseGPU: true}.providerSettings()
	assert.NotContains(t, s, "gpu_mem_limit")
}

func TestLibraryName(t *testing.T) {
	name, err := libraryName("linux")
	require.NoError(t, err)
	assert.Equal(t, "libonnxruntime.so", name)

	name, err = libraryName("darwin")
	require.NoError(t, err)
	assert.Equal(t, "libonnxruntime.dylib", name)

	_, err = libraryName("plan9")
	assert.Error(t, err)
}

func TestCandidatePathsOrder(t *testing.T) {
	t.Setenv(EnvLibraryPath, "/custom/libonnxruntime.so")

	paths := candidatePaths("/repo", "libonnxruntime.so", true)
	require.NotEmpty(t, paths)
	assert.Equal(t, "/custom/libonnxruntime.so", paths[0])
	assert.Equal(t, "/opt/onnxruntime/gpu/lib/libonnxruntime.so", paths[1])
	assert.Equal(t, filepath.Join("/repo", "onnxruntime", "lib", "libonnxruntime.so"), paths[len(paths)-1])

	cpu := candidatePaths("", "libonnxruntime.so", false)
	for _, p := range cpu {
		assert.NotContains(t, p, "gpu")
	}
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module x\n"), 0o600))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o750))

	got, err := findProjectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, got)
}

func TestSessionRunRejectsBadInput(t *testing.T) {
	s := &Session{}
	_, err := s.Run(context.Background(), Tensor{Data: make([]float32, 2), Shape: []int64{3}})
	assert.Error(t, err)

	_, err = s.Run(context.Background(), Tensor{Data: make([]float32, 3), Shape: []int64{3}})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestNewSessionMissingModel(t *testing.T) {
	_, err := NewSession("", SessionConfig{})
	assert.Error(t, err)

	_, err = NewSession(filepath.Join(t.TempDir(), "missing.onnx"), SessionConfig{})
	assert.Error(t, err)
}
