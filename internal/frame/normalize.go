// Package frame prepares camera frames for the analysis grid: a fixed
// rotation, a resize to the model input resolution, an optional preview
// copy and the NCHW float tensor fed to ONNX models.
package frame

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Rotation is a clockwise rotation in degrees applied before resizing.
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// Valid reports whether r is one of the four right-angle rotations.
func (r Rotation) Valid() bool {
	switch r {
	case Rotate0, Rotate90, Rotate180, Rotate270:
		return true
	}
	return false
}

// Apply rotates img clockwise by r. imaging rotates counter-clockwise.
func (r Rotation) Apply(img image.Image) *image.NRGBA {
	switch r {
	case Rotate90:
		return imaging.Rotate270(img)
	case Rotate180:
		return imaging.Rotate180(img)
	case Rotate270:
		return imaging.Rotate90(img)
	default:
		return imaging.Clone(img)
	}
}

// Normalizer turns arbitrary camera frames into analysis-resolution images.
type Normalizer struct {
	Width    int
	Height   int
	Rotation Rotation
	// PreviewSize bounds the longest preview edge; 0 disables the preview.
	PreviewSize int
}

// Frame is the output of Normalize.
type Frame struct {
	// Input is exactly Width×Height.
	Input *image.NRGBA
	// Preview is nil unless PreviewSize > 0.
	Preview *image.NRGBA
	// SourceAspect is width/height of the rotated source frame.
	SourceAspect float64
}

// Validate checks the normalizer settings.
func (n Normalizer) Validate() error {
	if n.Width <= 0 || n.Height <= 0 {
		return fmt.Errorf("analysis size must be positive, got %dx%d", n.Width, n.Height)
	}
	if !n.Rotation.Valid() {
		return fmt.Errorf("rotation must be 0, 90, 180 or 270, got %d", n.Rotation)
	}
	if n.PreviewSize < 0 {
		return fmt.Errorf("preview size must be non-negative, got %d", n.PreviewSize)
	}
	return nil
}

// Normalize rotates img and resizes it to the analysis grid with Lanczos
// resampling. The aspect ratio is not preserved; the source aspect is reported
// so zone geometry can account for it.
func (n Normalizer) Normalize(img image.Image) (*Frame, error) {
	if img == nil {
		return nil, &ProcessingError{Operation: "normalize", Err: errors.New("input image is nil")}
	}
	if err := n.Validate(); err != nil {
		return nil, &ProcessingError{Operation: "normalize", Err: err}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &ProcessingError{Operation: "normalize", Err: errors.New("empty image")}
	}

	rotated := n.Rotation.Apply(img)
	rb := rotated.Bounds()
	out := &Frame{SourceAspect: float64(rb.Dx()) / float64(rb.Dy())}

	if rb.Dx() == n.Width && rb.Dy() == n.Height {
		out.Input = rotated
	} else {
		out.Input = imaging.Resize(rotated, n.Width, n.Height, imaging.Lanczos)
	}

	if n.PreviewSize > 0 {
		out.Preview = imaging.Fit(rotated, n.PreviewSize, n.PreviewSize, imaging.Box)
	}
	return out, nil
}
