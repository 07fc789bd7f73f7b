// Package zones partitions the analysis grid into six fixed rectangles
// (top and bottom bands, each split into left, middle and right columns)
// and summarises the obstacle mask per rectangle.
package zones

import (
	"encoding/json"
	"fmt"
	"image"
	"math"
)

// Zone identifies one of the six rectangles.
type Zone int

const (
	TopLeft Zone = iota
	TopMid
	TopRight
	BottomLeft
	BottomMid
	BottomRight
)

// Count is the number of zones.
const Count = 6

var zoneNames = [Count]string{"top_left", "top_mid", "top_right", "bottom_left", "bottom_mid", "bottom_right"}

func (z Zone) String() string {
	if z < 0 || int(z) >= Count {
		return fmt.Sprintf("zone(%d)", int(z))
	}
	return zoneNames[z]
}

// MarshalText implements encoding.TextMarshaler.
func (z Zone) MarshalText() ([]byte, error) { return []byte(z.String()), nil }

// All lists the zones in index order.
func All() [Count]Zone {
	return [Count]Zone{TopLeft, TopMid, TopRight, BottomLeft, BottomMid, BottomRight}
}

// Geometry holds the band and column fractions.
type Geometry struct {
	TopBand    float64 `mapstructure:"top_band" yaml:"top_band" json:"top_band"`
	BottomBand float64 `mapstructure:"bottom_band" yaml:"bottom_band" json:"bottom_band"`
	SideColumn float64 `mapstructure:"side_column" yaml:"side_column" json:"side_column"`
}

// DefaultGeometry returns 30% top band, 40% bottom band and 20% side columns.
func DefaultGeometry() Geometry {
	return Geometry{TopBand: 0.3, BottomBand: 0.4, SideColumn: 0.2}
}

// Validate rejects fractions that would make bands overlap or columns vanish.
func (g Geometry) Validate() error {
	if g.TopBand <= 0 || g.BottomBand <= 0 {
		return fmt.Errorf("band fractions must be positive, got top=%g bottom=%g", g.TopBand, g.BottomBand)
	}
	if g.TopBand+g.BottomBand > 1 {
		return fmt.Errorf("band fractions overlap: top=%g + bottom=%g > 1", g.TopBand, g.BottomBand)
	}
	if g.SideColumn <= 0 || g.SideColumn >= 0.5 {
		return fmt.Errorf("side column fraction must be in (0, 0.5), got %g", g.SideColumn)
	}
	return nil
}

// Layout is the static zone geometry for one analysis grid.
type Layout struct {
	Width  int
	Height int
	// Aspect is the height scale factor k applied to both bands.
	Aspect float64
	Rects  [Count]image.Rectangle
}

// AspectFactor returns k = H / (W / sourceAspect): the analysis height over
// the height the source frame would occupy at full analysis width, clamped
// to (0, 1]. A non-positive sourceAspect yields 1.
func AspectFactor(w, h int, sourceAspect float64) float64 {
	if sourceAspect <= 0 || math.IsNaN(sourceAspect) || math.IsInf(sourceAspect, 0) {
		return 1
	}
	k := float64(h) / (float64(w) / sourceAspect)
	return min(k, 1)
}

// NewLayout computes the six rectangles. Band heights and the column width
// are truncated to whole pixels; the right column mirrors the left one.
func NewLayout(w, h int, sourceAspect float64, g Geometry) (Layout, error) {
	if w <= 0 || h <= 0 {
		return Layout{}, fmt.Errorf("grid size must be positive, got %dx%d", w, h)
	}
	if err := g.Validate(); err != nil {
		return Layout{}, err
	}
	k := AspectFactor(w, h, sourceAspect)

	topH := int(float64(h) * g.TopBand * k)
	bottomStart := h - int(float64(h)*g.BottomBand*k)
	side := int(float64(w) * g.SideColumn)
	midEnd := w - side

	l := Layout{Width: w, Height: h, Aspect: k}
	l.Rects[TopLeft] = image.Rect(0, 0, side, topH)
	l.Rects[TopMid] = image.Rect(side, 0, midEnd, topH)
	l.Rects[TopRight] = image.Rect(midEnd, 0, w, topH)
	l.Rects[BottomLeft] = image.Rect(0, bottomStart, side, h)
	l.Rects[BottomMid] = image.Rect(side, bottomStart, midEnd, h)
	l.Rects[BottomRight] = image.Rect(midEnd, bottomStart, w, h)
	return l, nil
}

// Area returns the pixel count of zone z.
func (l Layout) Area(z Zone) int {
	r := l.Rects[z]
	return r.Dx() * r.Dy()
}

// ExcludedArea returns the number of pixels that belong to no zone.
func (l Layout) ExcludedArea() int {
	total := 0
	for _, z := range All() {
		total += l.Area(z)
	}
	return l.Width*l.Height - total
}

// Locate returns the zone containing (x, y), or false for pixels in the
// horizon band between the two bands.
func (l Layout) Locate(x, y int) (Zone, bool) {
	var row Zone
	switch {
	case y < l.Rects[TopLeft].Max.Y:
		row = TopLeft
	case y >= l.Rects[BottomLeft].Min.Y:
		row = BottomLeft
	default:
		return 0, false
	}
	switch {
	case x < l.Rects[TopMid].Min.X:
		return row, true
	case x < l.Rects[TopMid].Max.X:
		return row + 1, true
	default:
		return row + 2, true
	}
}

type layoutJSON struct {
	Width  int                 `json:"width"`
	Height int                 `json:"height"`
	Aspect float64             `json:"aspect_factor"`
	Zones  map[string]rectJSON `json:"zones"`
}

type rectJSON struct {
	X0   int `json:"x0"`
	Y0   int `json:"y0"`
	X1   int `json:"x1"`
	Y1   int `json:"y1"`
	Area int `json:"area"`
}

// MarshalJSON renders the layout with named zones.
func (l Layout) MarshalJSON() ([]byte, error) {
	out := layoutJSON{Width: l.Width, Height: l.Height, Aspect: l.Aspect, Zones: make(map[string]rectJSON, Count)}
	for _, z := range All() {
		r := l.Rects[z]
		out.Zones[z.String()] = rectJSON{X0: r.Min.X, Y0: r.Min.Y, X1: r.Max.X, Y1: r.Max.Y, Area: l.Area(z)}
	}
	return json.Marshal(out)
}
