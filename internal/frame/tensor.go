package frame

import (
	"errors"
	"image"

	"github.com/MeKo-Tech/pathsense/internal/onnx"
	"github.com/disintegration/imaging"
)

// Normalization holds per-channel RGB mean and standard deviation applied to
// pixel values scaled to [0, 1].
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

// ImageNet is the normalization used by the segmentation and depth models.
var ImageNet = Normalization{
	Mean: [3]float32{0.485, 0.456, 0.406},
	Std:  [3]float32{0.229, 0.224, 0.225},
}

// Unit scales to [0, 1] without centring.
var Unit = Normalization{Std: [3]float32{1, 1, 1}}

// ToTensor converts img into a [1, 3, H, W] tensor. Alpha is dropped.
func ToTensor(img image.Image, norm Normalization) (onnx.Tensor, error) {
	if img == nil {
		return onnx.Tensor{}, &ProcessingError{Operation: "tensor", Err: errors.New("input image is nil")}
	}
	for _, s := range norm.Std {
		if s == 0 {
			return onnx.Tensor{}, &ProcessingError{Operation: "tensor", Err: errors.New("zero standard deviation")}
		}
	}

	nrgba, ok := img.(*image.NRGBA)
	if !ok || nrgba.Bounds().Min != (image.Point{}) {
		nrgba = imaging.Clone(img)
	}
	w, h := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()
	if w <= 0 || h <= 0 {
		return onnx.Tensor{}, &ProcessingError{Operation: "tensor", Err: errors.New("invalid image dimensions")}
	}

	plane := w * h
	data := make([]float32, 3*plane)
	for y := range h {
		row := nrgba.Pix[y*nrgba.Stride:]
		for x := range w {
			px := row[x*4 : x*4+3]
			idx := y*w + x
			for c := range 3 {
				data[c*plane+idx] = (float32(px[c])/255.0 - norm.Mean[c]) / norm.Std[c]
			}
		}
	}
	return onnx.NewImageTensor(data, 3, h, w)
}
