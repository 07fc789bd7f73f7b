// Package segment reduces semantic-segmentation scores to one class id per
// pixel and provides the ADE20K class table and an ONNX-backed segmenter.
package segment

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/pathsense/internal/mempool"
)

// ErrNoClasses is a configuration error: the class axis must be non-empty.
var ErrNoClasses = errors.New("score tensor has no classes")

// ScoreTensor holds per-class, per-pixel scores in channel-major order:
// Data[c*Pixels+i] is the score of class c at pixel i.
type ScoreTensor struct {
	Data    []float32
	Classes int
	Pixels  int
}

// NewScoreTensor validates the layout of data.
func NewScoreTensor(data []float32, classes, pixels int) (ScoreTensor, error) {
	if classes <= 0 {
		return ScoreTensor{}, ErrNoClasses
	}
	if pixels <= 0 {
		return ScoreTensor{}, fmt.Errorf("pixel count must be positive, got %d", pixels)
	}
	if len(data) != classes*pixels {
		return ScoreTensor{}, fmt.Errorf("score data length %d != %d classes x %d pixels",
			len(data), classes, pixels)
	}
	return ScoreTensor{Data: data, Classes: classes, Pixels: pixels}, nil
}

// Argmax returns the highest-scoring class per pixel. Ties resolve to the
// lowest class id.
func Argmax(t ScoreTensor) []int32 {
	out := make([]int32, t.Pixels)
	ArgmaxInto(out, t)
	return out
}

// ArgmaxInto writes Argmax(t) into dst, which must hold t.Pixels entries.
// The scan is channel-outer so every read is sequential.
func ArgmaxInto(dst []int32, t ScoreTensor) {
	n := t.Pixels
	dst = dst[:n]
	best := mempool.GetFloat32(n)
	defer mempool.PutFloat32(best)
	copy(best, t.Data[:n])
	clear(dst)
	for c := 1; c < t.Classes; c++ {
		plane := t.Data[c*n : (c+1)*n]
		for i, v := range plane {
			if v > best[i] {
				best[i] = v
				dst[i] = int32(c) //nolint:gosec // G115: class count fits int32
			}
		}
	}
}
