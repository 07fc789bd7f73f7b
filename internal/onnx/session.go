package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

// ErrSessionClosed is returned by Run after Close.
var ErrSessionClosed = errors.New("onnx session is closed")

// SessionConfig holds per-session runtime options.
type SessionConfig struct {
	NumThreads int
	GPU        GPUConfig
}

// Session is a single-input, single-output float32 model.
type Session struct {
	modelPath  string
	session    *onnxruntime_go.DynamicAdvancedSession
	inputInfo  onnxruntime_go.InputOutputInfo
	outputInfo onnxruntime_go.InputOutputInfo
	mu         sync.RWMutex
}

// NewSession loads modelPath and prepares a session for it.
func NewSession(modelPath string, cfg SessionConfig) (*Session, error) {
	if modelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s: %w", modelPath, err)
	}
	if err := cfg.GPU.Validate(); err != nil {
		return nil, fmt.Errorf("invalid GPU config: %w", err)
	}
	if err := InitEnvironment(cfg.GPU.UseGPU); err != nil {
		return nil, err
	}

	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("expected 1 input and 1 output, got %d and %d", len(inputs), len(outputs))
	}

	opts, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			slog.Warn("Failed to destroy session options", "error", err)
		}
	}()

	if err := configureGPU(opts, cfg.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	sess, err := onnxruntime_go.NewDynamicAdvancedSession(modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	slog.Debug("ONNX session ready",
		"model_path", modelPath,
		"input", inputs[0].Name,
		"input_shape", inputs[0].Dimensions,
		"output", outputs[0].Name,
		"gpu_enabled", cfg.GPU.UseGPU)

	return &Session{
		modelPath:  modelPath,
		session:    sess,
		inputInfo:  inputs[0],
		outputInfo: outputs[0],
	}, nil
}

// ModelPath returns the file the session was created from.
func (s *Session) ModelPath() string { return s.modelPath }

// InputShape returns a copy of the declared input dimensions (-1 for dynamic axes).
func (s *Session) InputShape() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int64(nil), s.inputInfo.Dimensions...)
}

// Run executes the model on in. ONNX Runtime cannot be interrupted, so when ctx
// ends first Run returns ctx.Err() and the abandoned inference finishes in the
// background, releasing its own tensors.
func (s *Session) Run(ctx context.Context, in Tensor) (Tensor, error) {
	if err := in.Verify(); err != nil {
		return Tensor{}, fmt.Errorf("invalid input tensor: %w", err)
	}

	s.mu.RLock()
	sess := s.session
	s.mu.RUnlock()
	if sess == nil {
		return Tensor{}, ErrSessionClosed
	}

	type outcome struct {
		out Tensor
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := runOnce(sess, in)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		return o.out, o.err
	case <-ctx.Done():
		return Tensor{}, ctx.Err()
	}
}

// runOnce performs one blocking inference and copies the output out of ORT memory.
func runOnce(sess *onnxruntime_go.DynamicAdvancedSession, in Tensor) (Tensor, error) {
	input, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(in.Shape...), in.Data)
	if err != nil {
		return Tensor{}, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() {
		if err := input.Destroy(); err != nil {
			slog.Warn("Failed to destroy input tensor", "error", err)
		}
	}()

	outputs := []onnxruntime_go.Value{nil}
	if err := sess.Run([]onnxruntime_go.Value{input}, outputs); err != nil {
		return Tensor{}, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		if err := outputs[0].Destroy(); err != nil {
			slog.Warn("Failed to destroy output tensor", "error", err)
		}
	}()

	ft, ok := outputs[0].(*onnxruntime_go.Tensor[float32])
	if !ok {
		return Tensor{}, fmt.Errorf("expected float32 output tensor, got %T", outputs[0])
	}
	shape := outputs[0].GetShape()
	data := make([]float32, len(ft.GetData()))
	copy(data, ft.GetData())
	return Tensor{Data: data, Shape: append([]int64(nil), shape...)}, nil
}

// Close releases the session. Further Run calls return ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	if err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}
