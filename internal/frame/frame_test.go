package frame

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestRotationApply(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})

	tests := []struct {
		rot    Rotation
		w, h   int
		px, py int
	}{
		{Rotate0, 4, 2, 0, 0},
		{Rotate90, 2, 4, 1, 0},
		{Rotate180, 4, 2, 3, 1},
		{Rotate270, 2, 4, 0, 3},
	}
	for _, tt := range tests {
		out := tt.rot.Apply(img)
		assert.Equal(t, tt.w, out.Bounds().Dx(), "rotation %d", tt.rot)
		assert.Equal(t, tt.h, out.Bounds().Dy(), "rotation %d", tt.rot)
		assert.Equal(t, uint8(255), out.NRGBAAt(tt.px, tt.py).R, "rotation %d", tt.rot)
	}
}

func TestNormalizerValidate(t *testing.T) {
	assert.NoError(t, Normalizer{Width: 8, Height: 8}.Validate())
	assert.Error(t, Normalizer{Width: 0, Height: 8}.Validate())
	assert.Error(t, Normalizer{Width: 8, Height: 8, Rotation: 45}.Validate())
	assert.Error(t, Normalizer{Width: 8, Height: 8, PreviewSize: -1}.Validate())
}

func TestNormalize(t *testing.T) {
	n := Normalizer{Width: 16, Height: 16, Rotation: Rotate90, PreviewSize: 10}
	f, err := n.Normalize(solid(40, 20, color.NRGBA{R: 10, G: 20, B: 30, A: 255}))
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 16, 16), f.Input.Bounds())
	assert.InDelta(t, 0.5, f.SourceAspect, 1e-9)
	require.NotNil(t, f.Preview)
	assert.Equal(t, 5, f.Preview.Bounds().Dx())
	assert.Equal(t, 10, f.Preview.Bounds().Dy())
}

func TestNormalizeWithoutPreview(t *testing.T) {
	f, err := Normalizer{Width: 8, Height: 8}.Normalize(solid(8, 8, color.NRGBA{A: 255}))
	require.NoError(t, err)
	assert.Nil(t, f.Preview)
	assert.InDelta(t, 1.0, f.SourceAspect, 1e-9)
}

func TestNormalizeErrors(t *testing.T) {
	_, err := Normalizer{Width: 8, Height: 8}.Normalize(nil)
	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "normalize", perr.Operation)

	_, err = Normalizer{Width: -1, Height: 8}.Normalize(solid(2, 2, color.NRGBA{}))
	assert.Error(t, err)
}

func TestToTensorLayout(t *testing.T) {
	img := solid(3, 2, color.NRGBA{R: 255, G: 0, B: 51, A: 255})
	tensor, err := ToTensor(img, Unit)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 3, 2, 3}, tensor.Shape)
	plane := 6
	for i := range plane {
		assert.InDelta(t, 1.0, tensor.Data[i], 1e-6)
		assert.InDelta(t, 0.0, tensor.Data[plane+i], 1e-6)
		assert.InDelta(t, 0.2, tensor.Data[2*plane+i], 1e-6)
	}
}

func TestToTensorImageNet(t *testing.T) {
	tensor, err := ToTensor(solid(1, 1, color.NRGBA{R: 0, G: 0, B: 0, A: 255}), ImageNet)
	require.NoError(t, err)
	assert.InDelta(t, -0.485/0.229, tensor.Data[0], 1e-5)
	assert.InDelta(t, -0.456/0.224, tensor.Data[1], 1e-5)
	assert.InDelta(t, -0.406/0.225, tensor.Data[2], 1e-5)
}

func TestToTensorOffsetBounds(t *testing.T) {
	img := image.NewNRGBA(image.Rect(5, 5, 7, 6))
	img.SetNRGBA(6, 5, color.NRGBA{R: 255, A: 255})
	tensor, err := ToTensor(img, Unit)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 1, 2}, tensor.Shape)
	assert.InDelta(t, 1.0, tensor.Data[1], 1e-6)
}

func TestToTensorErrors(t *testing.T) {
	_, err := ToTensor(nil, Unit)
	assert.Error(t, err)
	_, err = ToTensor(solid(1, 1, color.NRGBA{}), Normalization{})
	assert.Error(t, err)
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame.png")
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(6, 3, color.NRGBA{A: 255})))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	img, meta, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 6, img.Bounds().Dx())
	assert.Equal(t, "png", meta.Format)
	assert.InDelta(t, 2.0, meta.AspectRatio, 1e-9)
	assert.Equal(t, int64(buf.Len()), meta.SizeBytes)
}

func TestLoadImageErrors(t *testing.T) {
	_, _, err := LoadImage("")
	assert.Error(t, err)

	_, _, err = LoadImage("frame.gif")
	assert.Error(t, err)

	_, _, err = LoadImage(filepath.Join(t.TempDir(), "missing.png"))
	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	bad := filepath.Join(t.TempDir(), "bad.jpg")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0o600))
	_, _, err = LoadImage(bad)
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "decode", perr.Operation)
}

func TestIsSupportedImage(t *testing.T) {
	assert.True(t, IsSupportedImage("a.JPG"))
	assert.True(t, IsSupportedImage("a.tiff"))
	assert.False(t, IsSupportedImage("a.webp"))
}
