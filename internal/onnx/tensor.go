package onnx

import (
	"errors"
	"fmt"
)

// Tensor is a dense float32 tensor handed to or read back from ONNX Runtime.
// Images use NCHW layout.
type Tensor struct {
	Data  []float32
	Shape []int64
}

// NewImageTensor wraps NCHW image data as a [1, C, H, W] tensor.
func NewImageTensor(data []float32, c, h, w int) (Tensor, error) {
	if data == nil {
		return Tensor{}, errors.New("nil data")
	}
	if c <= 0 || h <= 0 || w <= 0 {
		return Tensor{}, fmt.Errorf("invalid image tensor dims c=%d h=%d w=%d", c, h, w)
	}
	if want := c * h * w; len(data) != want {
		return Tensor{}, fmt.Errorf("unexpected data length: got %d, want %d", len(data), want)
	}
	return Tensor{Data: data, Shape: []int64{1, int64(c), int64(h), int64(w)}}, nil
}

// Elements returns the number of elements implied by the shape.
func (t Tensor) Elements() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= int(d)
	}
	return n
}

// Verify checks that every dimension is positive and that len(Data) matches the shape.
func (t Tensor) Verify() error {
	if len(t.Shape) == 0 {
		return errors.New("empty shape")
	}
	for i, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("dimension %d must be > 0, got %d", i, d)
		}
	}
	if n := t.Elements(); len(t.Data) != n {
		return fmt.Errorf("tensor data length %d != expected %d for shape %v", len(t.Data), n, t.Shape)
	}
	return nil
}

// PlaneDims interprets an output shape as a stack of H×W planes and returns
// (planes, height, width). Accepted layouts are [N, C, H, W] with N == 1,
// [C, H, W] and [H, W].
func PlaneDims(shape []int64) (int, int, int, error) {
	switch len(shape) {
	case 4:
		if shape[0] != 1 {
			return 0, 0, 0, fmt.Errorf("batch dimension must be 1, got %d", shape[0])
		}
		return int(shape[1]), int(shape[2]), int(shape[3]), nil
	case 3:
		return int(shape[0]), int(shape[1]), int(shape[2]), nil
	case 2:
		return 1, int(shape[0]), int(shape[1]), nil
	default:
		return 0, 0, 0, fmt.Errorf("unsupported output rank %d", len(shape))
	}
}

// Stats returns min, max and mean of data for debug logging.
func Stats(data []float32) (float32, float32, float32) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	minVal, maxVal := data[0], data[0]
	var sum float64
	for _, v := range data {
		minVal = min(minVal, v)
		maxVal = max(maxVal, v)
		sum += float64(v)
	}
	return minVal, maxVal, float32(sum / float64(len(data)))
}
