package depth

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/pathsense/internal/onnx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGrid(t *testing.T) {
	_, err := NewGrid(0, 1, nil)
	assert.Error(t, err)
	_, err = NewGrid(2, 2, make([]float32, 3))
	assert.Error(t, err)

	g, err := NewGrid(2, 1, []float32{1, 2})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, g.At(1, 0), 1e-9)
	assert.True(t, g.Valid())
}

func TestParseUnits(t *testing.T) {
	for in, want := range map[string]Units{"": Meters, "depth": Meters, "meters": Meters, "disparity": Disparity} {
		u, err := ParseUnits(in)
		require.NoError(t, err)
		assert.Equal(t, want, u)
	}
	_, err := ParseUnits("feet")
	assert.Error(t, err)
}

func TestToMeters(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	g := Grid{Width: 5, Height: 1, Data: []float32{2, 0, -1, nan, inf}}

	d := ToMeters(g, Disparity)
	assert.Equal(t, []float32{0.5, 0, 0, 0, 0}, d.Data)

	m := ToMeters(g, Meters)
	assert.Equal(t, []float32{2, 0, 0, 0, 0}, m.Data)
	assert.InDelta(t, 2.0, g.Data[0], 1e-9, "input must not be modified")
}

func TestCheck(t *testing.T) {
	assert.ErrorIs(t, Check(Grid{Width: 2, Height: 1, Data: []float32{0, 0}}), ErrDegenerate)
	assert.ErrorIs(t, Check(Grid{Width: 1, Height: 1, Data: []float32{float32(math.NaN())}}), ErrDegenerate)
	assert.NoError(t, Check(Grid{Width: 2, Height: 1, Data: []float32{0, 0.1}}))
	assert.Error(t, Check(Grid{Width: 2, Height: 2, Data: []float32{1}}))
}

func TestMax(t *testing.T) {
	g := Grid{Width: 3, Height: 1, Data: []float32{1, float32(math.Inf(1)), 4}}
	assert.InDelta(t, 4.0, Max(g), 1e-9)
	assert.Zero(t, Max(Grid{}))
}

func TestProximity(t *testing.T) {
	data := make([]float32, 100)
	for i := range data {
		data[i] = 9
	}
	g := Grid{Width: 10, Height: 10, Data: data}
	data[5*10+5] = 1.5
	data[0] = 0.2 // outside a radius-2 window

	v, ok := Proximity(g, 2)
	require.True(t, ok)
	assert.InDelta(t, 1.5, v, 1e-9)

	v, ok = Proximity(g, 30)
	require.True(t, ok)
	assert.InDelta(t, 0.2, v, 1e-9)

	_, ok = Proximity(Grid{Width: 4, Height: 4, Data: make([]float32, 16)}, 2)
	assert.False(t, ok)
	_, ok = Proximity(g, 0)
	assert.False(t, ok)
}

func TestResampleIdentityCopies(t *testing.T) {
	g := Grid{Width: 2, Height: 2, Data: []float32{1, 2, 3, 4}}
	out := Resample(g, 2, 2)
	assert.Equal(t, g.Data, out.Data)
	out.Data[0] = 99
	assert.InDelta(t, 1.0, g.Data[0], 1e-9)
}

func TestResampleConstantField(t *testing.T) {
	data := make([]float32, 7*5)
	for i := range data {
		data[i] = 3.25
	}
	g := Grid{Width: 7, Height: 5, Data: data}
	for _, size := range [][2]int{{14, 10}, {3, 2}, {64, 64}, {1, 1}} {
		out := Resample(g, size[0], size[1])
		require.Len(t, out.Data, size[0]*size[1])
		for _, v := range out.Data {
			assert.InDelta(t, 3.25, v, 1e-5)
		}
	}
}

func TestResampleLinearRamp(t *testing.T) {
	// Catmull-Rom reproduces linear functions away from the clamped edges.
	const n = 16
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(i)
	}
	out := Resample(Grid{Width: n, Height: 1, Data: data}, 2*n, 1)
	for x := 4; x < 2*n-4; x++ {
		want := (float64(x)+0.5)/2 - 0.5
		assert.InDelta(t, want, out.Data[x], 1e-4, "x=%d", x)
	}
}

func TestResampleNoOvershoot(t *testing.T) {
	data := []float32{0, 0, 0, 10, 10, 10}
	out := Resample(Grid{Width: 6, Height: 1, Data: data}, 24, 1)
	for _, v := range out.Data {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(10))
	}
}

func TestResampleInvalid(t *testing.T) {
	assert.False(t, Resample(Grid{}, 4, 4).Valid())
	assert.False(t, Resample(Grid{Width: 1, Height: 1, Data: []float32{1}}, 0, 4).Valid())
}

func TestDecodePNG16Millimetres(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 2, 1))
	img.SetGray16(0, 0, color.Gray16{Y: 1500})
	img.SetGray16(1, 0, color.Gray16{Y: 250})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	g, err := Decode(&buf, "depth.png", DecodeOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 1.5, g.Data[0], 1e-6)
	assert.InDelta(t, 0.25, g.Data[1], 1e-6)
}

func TestDecodePNG8(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 1, 2))
	img.SetGray(0, 1, color.Gray{Y: 200})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	g, err := Decode(&buf, "disp.png", DecodeOptions{Scale: 0.5})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 100}, g.Data)
}

func TestRawRoundTrip(t *testing.T) {
	g := Grid{Width: 3, Height: 2, Data: []float32{0.5, 1, 1.5, 2, 2.5, 3}}
	var buf bytes.Buffer
	require.NoError(t, EncodeRaw(&buf, g))

	path := filepath.Join(t.TempDir(), "depth.f32")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	back, err := LoadFile(path, DecodeOptions{Width: 3, Height: 2})
	require.NoError(t, err)
	assert.Equal(t, g, back)

	_, err = LoadFile(path, DecodeOptions{})
	assert.Error(t, err, "six samples are not square")
}

func TestRawSquareInference(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeRaw(&buf, Grid{Data: []float32{1, 2, 3, 4}}))
	g, err := Decode(&buf, "x.F32", DecodeOptions{Scale: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, g.Width)
	assert.Equal(t, []float32{2, 4, 6, 8}, g.Data)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte{1, 2, 3}), "x.f32", DecodeOptions{})
	assert.Error(t, err)
	_, err = Decode(bytes.NewReader([]byte("nope")), "x.png", DecodeOptions{})
	assert.Error(t, err)
	_, err = LoadFile(filepath.Join(t.TempDir(), "none.png"), DecodeOptions{})
	assert.Error(t, err)
	_, err = FromImage(nil, 1)
	assert.Error(t, err)
}

type fakeRunner struct {
	out onnx.Tensor
	err error
}

func (f *fakeRunner) Run(context.Context, onnx.Tensor) (onnx.Tensor, error) { return f.out, f.err }
func (f *fakeRunner) Close() error                                          { return nil }

func TestONNXEstimatorInvertsDisparity(t *testing.T) {
	e := &ONNXEstimator{
		cfg:     EstimatorConfig{Width: 4, Height: 4},
		session: &fakeRunner{out: onnx.Tensor{Shape: []int64{1, 1, 2}, Data: []float32{4, 0}}},
	}
	g, err := e.Estimate(context.Background(), image.NewNRGBA(image.Rect(0, 0, 8, 8)))
	require.NoError(t, err)
	assert.Equal(t, 2, g.Width)
	assert.Equal(t, 1, g.Height)
	assert.Equal(t, []float32{0.25, 0}, g.Data)
	require.NoError(t, e.Close())
}

func TestONNXEstimatorRejectsMultiChannel(t *testing.T) {
	e := &ONNXEstimator{
		cfg:     EstimatorConfig{Width: 2, Height: 2},
		session: &fakeRunner{out: onnx.Tensor{Shape: []int64{1, 2, 1, 1}, Data: []float32{1, 2}}},
	}
	_, err := e.Estimate(context.Background(), image.NewNRGBA(image.Rect(0, 0, 2, 2)))
	assert.Error(t, err)

	_, err = e.Estimate(context.Background(), nil)
	assert.Error(t, err)
}
