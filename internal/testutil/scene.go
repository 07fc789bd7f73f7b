// Package testutil builds synthetic frames, depth grids and segmenters for
// tests that exercise the analysis stack without model files.
package testutil

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/pathsense/internal/depth"
	"github.com/MeKo-Tech/pathsense/internal/segment"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

// ADE20K ids used by synthetic scenes.
const (
	ClassWall   int32 = 0
	ClassFloor  int32 = 3
	ClassPerson int32 = 12
)

// Scene is a labelled class grid with a depth grid of the same size.
type Scene struct {
	Width   int
	Height  int
	Classes []int32
	Depth   depth.Grid
}

// FloorScene is open floor at dist meters.
func FloorScene(w, h int, dist float32) Scene {
	s := Scene{
		Width:   w,
		Height:  h,
		Classes: make([]int32, w*h),
		Depth:   depth.Grid{Width: w, Height: h, Data: make([]float32, w*h)},
	}
	for i := range s.Classes {
		s.Classes[i] = ClassFloor
		s.Depth.Data[i] = dist
	}
	return s
}

// WithBlock returns a copy of s with class painted over [x0, x1)×[y0, y1)
// at dist meters.
func (s Scene) WithBlock(x0, y0, x1, y1 int, class int32, dist float32) Scene {
	out := Scene{
		Width:   s.Width,
		Height:  s.Height,
		Classes: append([]int32(nil), s.Classes...),
		Depth:   depth.Grid{Width: s.Width, Height: s.Height, Data: append([]float32(nil), s.Depth.Data...)},
	}
	for y := max(y0, 0); y < min(y1, s.Height); y++ {
		for x := max(x0, 0); x < min(x1, s.Width); x++ {
			out.Classes[y*s.Width+x] = class
			out.Depth.Data[y*s.Width+x] = dist
		}
	}
	return out
}

// Scores returns one-hot class scores with numClasses planes.
func (s Scene) Scores(numClasses int) segment.ScoreTensor {
	px := len(s.Classes)
	data := make([]float32, numClasses*px)
	for i, c := range s.Classes {
		data[int(c)*px+i] = 1
	}
	return segment.ScoreTensor{Data: data, Classes: numClasses, Pixels: px}
}

// DepthPtr returns a pointer to a copy of the depth grid.
func (s Scene) DepthPtr() *depth.Grid {
	g := depth.Grid{Width: s.Width, Height: s.Height, Data: append([]float32(nil), s.Depth.Data...)}
	return &g
}

// StaticSegmenter reports the same scores for every image.
type StaticSegmenter struct {
	Scores segment.ScoreTensor
	Delay  time.Duration
	Err    error

	calls atomic.Int32
}

// NewStaticSegmenter segments every image as s.
func NewStaticSegmenter(s Scene) *StaticSegmenter {
	return &StaticSegmenter{Scores: s.Scores(segment.NumADE20KClasses)}
}

// Segment implements analysis.Segmenter.
func (s *StaticSegmenter) Segment(ctx context.Context, _ image.Image) (segment.ScoreTensor, error) {
	s.calls.Add(1)
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return segment.ScoreTensor{}, ctx.Err()
		}
	}
	if s.Err != nil {
		return segment.ScoreTensor{}, s.Err
	}
	return s.Scores, nil
}

// Calls reports how many times Segment ran.
func (s *StaticSegmenter) Calls() int { return int(s.calls.Load()) }

// SolidImage returns a w×h image filled with c.
func SolidImage(w, h int, c color.Color) image.Image {
	return imaging.New(w, h, c)
}

// EncodePNG encodes img as PNG.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// DepthPNG encodes g as a 16-bit millimetre PNG, the format depth cameras
// export. Values are rounded to the nearest millimetre.
func DepthPNG(t *testing.T, g depth.Grid) []byte {
	t.Helper()
	return EncodePNG(t, DepthImage(g))
}

// DepthImage renders g as 16-bit millimetres.
func DepthImage(g depth.Grid) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, g.Width, g.Height))
	for y := range g.Height {
		for x := range g.Width {
			mm := math.Round(float64(g.At(x, y)) * 1000)
			img.SetGray16(x, y, color.Gray16{Y: uint16(min(max(mm, 0), math.MaxUint16))})
		}
	}
	return img
}
