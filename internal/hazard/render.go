package hazard

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

const (
	// ObstacleValue is the gray level of obstacle pixels.
	ObstacleValue uint8 = 255
	// ClearValue is the gray level of clear pixels.
	ClearValue uint8 = 0
)

// RenderMask draws mask as a w×h single-channel image.
func RenderMask(mask []bool, w, h int) (*image.Gray, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid mask size %dx%d", w, h)
	}
	if len(mask) != w*h {
		return nil, fmt.Errorf("mask length %d != %dx%d", len(mask), w, h)
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		row := img.Pix[y*img.Stride : y*img.Stride+w]
		for x := range w {
			if mask[y*w+x] {
				row[x] = ObstacleValue
			} else {
				row[x] = ClearValue
			}
		}
	}
	return img, nil
}

// MaskFromImage reads a rendered mask back. Any pixel at half intensity or
// above counts as an obstacle so lossy re-encodings still round-trip.
func MaskFromImage(img image.Image) ([]bool, int, int, error) {
	if img == nil {
		return nil, 0, 0, errors.New("mask image is nil")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	mask := make([]bool, w*h)
	for y := range h {
		for x := range w {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			mask[y*w+x] = g.Y >= 128
		}
	}
	return mask, w, h, nil
}

// OverlayColor tints obstacle pixels in Overlay.
var OverlayColor = color.NRGBA{R: 255, G: 32, B: 32, A: 255}

// Overlay scales the mask onto base and blends obstacle pixels with
// OverlayColor at the given opacity in [0, 1].
func Overlay(base image.Image, mask *image.Gray, opacity float64) (*image.NRGBA, error) {
	if base == nil || mask == nil {
		return nil, errors.New("overlay requires a base image and a mask")
	}
	bb := base.Bounds()
	scaled := image.NewGray(image.Rect(0, 0, bb.Dx(), bb.Dy()))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), mask, mask.Bounds(), draw.Src, nil)

	tint := image.NewNRGBA(scaled.Bounds())
	for i, v := range scaled.Pix {
		if v >= 128 {
			tint.Pix[i*4+0] = OverlayColor.R
			tint.Pix[i*4+1] = OverlayColor.G
			tint.Pix[i*4+2] = OverlayColor.B
			tint.Pix[i*4+3] = OverlayColor.A
		}
	}
	opacity = min(max(opacity, 0), 1)
	return imaging.Overlay(imaging.Clone(base), tint, image.Point{}, opacity), nil
}
