package depth

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/tiff"
)

// RawExtension marks headerless little-endian float32 grids.
const RawExtension = ".f32"

// DecodeOptions control how a depth file is interpreted.
type DecodeOptions struct {
	// Width and Height are required for raw grids unless the sample count
	// is a perfect square.
	Width  int
	Height int
	// Scale multiplies every sample. 0 selects the format default: 0.001 for
	// 16-bit images (millimetres to meters) and 1 otherwise.
	Scale float32
}

// LoadFile reads a depth grid from a 16-bit or 8-bit grayscale image (PNG or
// TIFF) or a raw .f32 file.
func LoadFile(path string, opts DecodeOptions) (Grid, error) {
	f, err := os.Open(path) //nolint:gosec // G304: user-provided depth path
	if err != nil {
		return Grid{}, fmt.Errorf("failed to open depth file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f, path, opts)
}

// Decode reads a depth grid from r. name is only used for its extension.
func Decode(r io.Reader, name string, opts DecodeOptions) (Grid, error) {
	if strings.EqualFold(filepath.Ext(name), RawExtension) {
		return decodeRaw(r, opts)
	}
	img, _, err := image.Decode(r)
	if err != nil {
		return Grid{}, fmt.Errorf("failed to decode depth image: %w", err)
	}
	return FromImage(img, opts.Scale)
}

// FromImage converts a grayscale image into a grid. 16-bit images default to
// millimetres; other images are read as 8-bit values.
func FromImage(img image.Image, scale float32) (Grid, error) {
	if img == nil {
		return Grid{}, errors.New("depth image is nil")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return Grid{}, errors.New("depth image is empty")
	}

	data := make([]float32, w*h)
	switch src := img.(type) {
	case *image.Gray16:
		if scale == 0 {
			scale = 0.001
		}
		for y := range h {
			for x := range w {
				data[y*w+x] = float32(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y) * scale
			}
		}
	default:
		if scale == 0 {
			scale = 1
		}
		for y := range h {
			for x := range w {
				g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
				data[y*w+x] = float32(g.Y) * scale
			}
		}
	}
	return NewGrid(w, h, data)
}

func decodeRaw(r io.Reader, opts DecodeOptions) (Grid, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Grid{}, fmt.Errorf("failed to read raw depth: %w", err)
	}
	if len(raw)%4 != 0 {
		return Grid{}, fmt.Errorf("raw depth size %d is not a multiple of 4", len(raw))
	}
	n := len(raw) / 4

	w, h := opts.Width, opts.Height
	if w <= 0 || h <= 0 {
		side := int(math.Sqrt(float64(n)))
		if side*side != n {
			return Grid{}, fmt.Errorf("raw depth with %d samples needs explicit width and height", n)
		}
		w, h = side, side
	}

	data := make([]float32, n)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, data); err != nil {
		return Grid{}, fmt.Errorf("failed to decode raw depth: %w", err)
	}
	if opts.Scale != 0 && opts.Scale != 1 {
		for i := range data {
			data[i] *= opts.Scale
		}
	}
	return NewGrid(w, h, data)
}

// EncodeRaw writes g as little-endian float32 samples.
func EncodeRaw(w io.Writer, g Grid) error {
	return binary.Write(w, binary.LittleEndian, g.Data)
}
