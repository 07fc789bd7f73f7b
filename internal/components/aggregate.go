package components

import "math"

// Stats summarises one region.
type Stats struct {
	ClassID int32
	// MaxDepth is the largest depth sample over the region's pixels.
	MaxDepth float32
	Pixels   int
}

// Table holds Stats indexed by region id (the region's smallest pixel index).
// Entries for indices that are not region ids have Pixels == 0.
type Table struct {
	stats []Stats
	count int
}

// Aggregate computes per-region class id and maximum depth in one pass.
// ids, classes and depth must have equal length.
func Aggregate(ids, classes []int32, depth []float32) Table {
	n := len(ids)
	t := Table{stats: make([]Stats, n)}
	for i := range n {
		s := &t.stats[ids[i]]
		d := depth[i]
		if s.Pixels == 0 {
			s.ClassID = classes[i]
			s.MaxDepth = float32(math.Inf(-1))
			t.count++
		}
		if d > s.MaxDepth {
			s.MaxDepth = d
		}
		s.Pixels++
	}
	return t
}

// Lookup returns the stats for region id.
func (t Table) Lookup(id int32) (Stats, bool) {
	if id < 0 || int(id) >= len(t.stats) || t.stats[id].Pixels == 0 {
		return Stats{}, false
	}
	return t.stats[id], true
}

// Count returns the number of regions.
func (t Table) Count() int { return t.count }

// Each calls fn for every region in ascending id order.
func (t Table) Each(fn func(id int32, s Stats)) {
	for i, s := range t.stats {
		if s.Pixels > 0 {
			fn(int32(i), s) //nolint:gosec // G115: grid size fits int32
		}
	}
}
