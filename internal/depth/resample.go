package depth

import (
	"math"

	"github.com/MeKo-Tech/pathsense/internal/mempool"
)

type tap struct {
	idx int
	w   float32
}

// contrib lists the source taps feeding one destination sample.
type contrib []tap

// catmullRom is the Catmull-Rom cubic (a = -0.5) with support [-2, 2].
func catmullRom(t float64) float64 {
	t = math.Abs(t)
	switch {
	case t < 1:
		return 1.5*t*t*t - 2.5*t*t + 1
	case t < 2:
		return -0.5*t*t*t + 2.5*t*t - 4*t + 2
	default:
		return 0
	}
}

// contributions builds the filter taps mapping sn samples to dn samples with
// pixel-centre alignment. When shrinking, the kernel is widened by the scale
// factor so every source sample contributes. Out-of-range taps clamp to the
// edge.
func contributions(sn, dn int) []contrib {
	scale := float64(sn) / float64(dn)
	fscale := max(scale, 1)
	support := 2 * fscale

	out := make([]contrib, dn)
	for i := range dn {
		center := (float64(i)+0.5)*scale - 0.5
		lo := int(math.Ceil(center - support))
		hi := int(math.Floor(center + support))

		var taps []tap
		var sum float64
		for j := lo; j <= hi; j++ {
			w := catmullRom((float64(j) - center) / fscale)
			if w == 0 {
				continue
			}
			taps = append(taps, tap{idx: min(max(j, 0), sn-1), w: float32(w)})
			sum += w
		}
		for k := range taps {
			taps[k].w = float32(float64(taps[k].w) / sum)
		}
		out[i] = taps
	}
	return out
}

// Resample scales g to w×h with separable bicubic Catmull-Rom filtering on
// float32 samples. Each output is clamped to the range of the samples that
// produced it, so overshoot cannot invent negative or out-of-scene depths.
func Resample(g Grid, w, h int) Grid {
	if w <= 0 || h <= 0 || !g.Valid() {
		return Grid{}
	}
	if g.Width == w && g.Height == h {
		out := make([]float32, len(g.Data))
		copy(out, g.Data)
		return Grid{Width: w, Height: h, Data: out}
	}

	cx := contributions(g.Width, w)
	cy := contributions(g.Height, h)

	tmp := mempool.GetFloat32(w * g.Height)
	defer mempool.PutFloat32(tmp)

	for y := range g.Height {
		src := g.Data[y*g.Width : (y+1)*g.Width]
		dst := tmp[y*w : (y+1)*w]
		for x, c := range cx {
			dst[x] = apply(c, func(i int) float32 { return src[i] })
		}
	}

	out := make([]float32, w*h)
	for y, c := range cy {
		dst := out[y*w : (y+1)*w]
		for x := range w {
			dst[x] = apply(c, func(i int) float32 { return tmp[i*w+x] })
		}
	}
	return Grid{Width: w, Height: h, Data: out}
}

func apply(c contrib, at func(int) float32) float32 {
	var acc float32
	lo := float32(math.MaxFloat32)
	hi := -lo
	for _, t := range c {
		v := at(t.idx)
		acc += t.w * v
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return min(max(acc, lo), hi)
}
