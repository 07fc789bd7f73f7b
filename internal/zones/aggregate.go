package zones

// Stats summarises the obstacle mask inside one zone.
type Stats struct {
	Zone Zone `json:"zone"`
	// ObstacleFraction is obstacle pixels over zone area, 0 for empty zones.
	ObstacleFraction float64 `json:"obstacle_fraction"`
	// DominantClassID is the most frequent class among obstacle pixels,
	// lowest id on ties. Meaningless when ObstaclePixels is 0.
	DominantClassID int32 `json:"dominant_class_id"`
	ObstaclePixels  int   `json:"obstacle_pixels"`
	Area            int   `json:"area"`
}

// HasObstacles reports whether any obstacle pixel fell in the zone.
func (s Stats) HasObstacles() bool { return s.ObstaclePixels > 0 }

// Aggregate computes per-zone obstacle fraction and dominant class. mask and
// classes are row-major over the layout's grid.
func Aggregate(l Layout, mask []bool, classes []int32) [Count]Stats {
	var out [Count]Stats
	for _, z := range All() {
		r := l.Rects[z]
		st := Stats{Zone: z, Area: l.Area(z)}
		counts := make(map[int32]int)
		for y := r.Min.Y; y < r.Max.Y; y++ {
			row := y * l.Width
			for x := r.Min.X; x < r.Max.X; x++ {
				if mask[row+x] {
					st.ObstaclePixels++
					counts[classes[row+x]]++
				}
			}
		}
		if st.Area > 0 {
			st.ObstacleFraction = float64(st.ObstaclePixels) / float64(st.Area)
		}
		st.DominantClassID = dominant(counts)
		out[z] = st
	}
	return out
}

// dominant returns the key with the highest count, lowest key on ties, or 0
// for an empty map.
func dominant(counts map[int32]int) int32 {
	var best int32
	bestN := 0
	for id, n := range counts {
		if n > bestN || (n == bestN && id < best) {
			best, bestN = id, n
		}
	}
	return best
}
