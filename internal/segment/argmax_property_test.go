package segment

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestArgmax_SelectsFirstMaximum checks that every chosen class scores at
// least as high as all others and strictly higher than every lower id.
func TestArgmax_SelectsFirstMaximum(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("argmax picks the lowest id among maxima", prop.ForAll(
		func(classes, pixels int, raw []int) bool {
			data := make([]float32, classes*pixels)
			for i := range data {
				// Small integer range so ties are common.
				data[i] = float32(raw[i%len(raw)] % 4)
			}
			st, err := NewScoreTensor(data, classes, pixels)
			if err != nil {
				return false
			}
			ids := Argmax(st)
			for i, id := range ids {
				best := data[int(id)*pixels+i]
				for c := range classes {
					v := data[c*pixels+i]
					if v > best {
						return false
					}
					if c < int(id) && v == best {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 6),
		gen.IntRange(1, 40),
		gen.SliceOfN(17, gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}
