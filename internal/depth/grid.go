// Package depth holds the scalar depth grid, its bicubic resampler, unit
// conversion, proximity measurement, file decoding and a monocular depth
// estimator backed by ONNX Runtime.
//
// All values handed to analysis are metric depth: larger means farther and
// zero means no reading.
package depth

import (
	"errors"
	"fmt"
	"math"
)

// ErrDegenerate reports a grid without a single usable sample.
var ErrDegenerate = errors.New("depth grid has no positive finite samples")

// Grid is a row-major Width×Height scalar field.
type Grid struct {
	Width  int
	Height int
	Data   []float32
}

// NewGrid validates dimensions against data.
func NewGrid(w, h int, data []float32) (Grid, error) {
	if w <= 0 || h <= 0 {
		return Grid{}, fmt.Errorf("depth grid size must be positive, got %dx%d", w, h)
	}
	if len(data) != w*h {
		return Grid{}, fmt.Errorf("depth data length %d != %dx%d", len(data), w, h)
	}
	return Grid{Width: w, Height: h, Data: data}, nil
}

// At returns the sample at (x, y).
func (g Grid) At(x, y int) float32 { return g.Data[y*g.Width+x] }

// Valid reports whether the grid is well formed.
func (g Grid) Valid() bool {
	return g.Width > 0 && g.Height > 0 && len(g.Data) == g.Width*g.Height
}

// Units is the convention of a raw grid.
type Units string

const (
	// Meters is metric depth.
	Meters Units = "meters"
	// Disparity is inverse depth in 1/m.
	Disparity Units = "disparity"
)

// ParseUnits accepts "meters", "depth" and "disparity".
func ParseUnits(s string) (Units, error) {
	switch s {
	case "", "meters", "depth":
		return Meters, nil
	case "disparity":
		return Disparity, nil
	default:
		return "", fmt.Errorf("unknown depth units %q", s)
	}
}

// ToMeters returns a metric copy of g. Disparity is inverted; non-positive
// and non-finite samples become 0.
func ToMeters(g Grid, u Units) Grid {
	out := Grid{Width: g.Width, Height: g.Height, Data: make([]float32, len(g.Data))}
	for i, v := range g.Data {
		if v <= 0 || !finite(v) {
			continue
		}
		if u == Disparity {
			v = 1 / v
			if !finite(v) {
				continue
			}
		}
		out.Data[i] = v
	}
	return out
}

// Check returns ErrDegenerate when no sample is positive and finite.
func Check(g Grid) error {
	if !g.Valid() {
		return fmt.Errorf("malformed depth grid %dx%d with %d samples", g.Width, g.Height, len(g.Data))
	}
	for _, v := range g.Data {
		if v > 0 && finite(v) {
			return nil
		}
	}
	return ErrDegenerate
}

// Max returns the largest finite sample, or 0 for an empty grid.
func Max(g Grid) float32 {
	var m float32
	for _, v := range g.Data {
		if finite(v) && v > m {
			m = v
		}
	}
	return m
}

// Proximity returns the smallest positive sample in the square of half-size
// radius centred on the grid. ok is false when the square holds no reading.
func Proximity(g Grid, radius int) (float32, bool) {
	if !g.Valid() || radius <= 0 {
		return 0, false
	}
	cx, cy := g.Width/2, g.Height/2
	x0, x1 := max(0, cx-radius), min(g.Width, cx+radius)
	y0, y1 := max(0, cy-radius), min(g.Height, cy+radius)

	best := float32(math.MaxFloat32)
	found := false
	for y := y0; y < y1; y++ {
		row := g.Data[y*g.Width:]
		for x := x0; x < x1; x++ {
			if v := row[x]; v > 0 && finite(v) && v < best {
				best, found = v, true
			}
		}
	}
	if !found {
		return 0, false
	}
	return best, true
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
