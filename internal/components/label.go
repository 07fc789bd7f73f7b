// Package components groups a class-id grid into maximal 4-connected
// same-class regions and aggregates per-region class and depth.
package components

// Label assigns every pixel of the w×h row-major class grid the id of its
// region. Two pixels share an id iff a path of 4-adjacent pixels with equal
// class connects them. The id is the smallest pixel index in the region, so
// the result depends only on region membership.
//
// Unions always attach the larger root under the smaller one; with a
// row-major scan parent[i] <= i holds throughout, which lets the final
// flattening run as a single forward pass.
func Label(classes []int32, w, h int) []int32 {
	if w <= 0 || h <= 0 || len(classes) < w*h {
		return nil
	}
	return LabelInto(make([]int32, w*h), classes, w, h)
}

// LabelInto is Label writing into dst, which must hold w*h entries. It
// returns dst[:w*h].
func LabelInto(dst, classes []int32, w, h int) []int32 {
	n := w * h
	parent := dst[:n]
	for i := range parent {
		parent[i] = int32(i) //nolint:gosec // G115: grid size fits int32
	}

	for y := range h {
		row := y * w
		for x := range w {
			i := row + x
			c := classes[i]
			if x > 0 && classes[i-1] == c {
				union(parent, int32(i-1), int32(i)) //nolint:gosec // G115
			}
			if y > 0 && classes[i-w] == c {
				union(parent, int32(i-w), int32(i)) //nolint:gosec // G115
			}
		}
	}

	for i := range parent {
		parent[i] = parent[parent[i]]
	}
	return parent
}

// find returns the root of x, halving the path on the way.
func find(parent []int32, x int32) int32 {
	for parent[x] != x {
		parent[x] = parent[parent[x]]
		x = parent[x]
	}
	return x
}

func union(parent []int32, a, b int32) {
	ra, rb := find(parent, a), find(parent, b)
	switch {
	case ra < rb:
		parent[rb] = ra
	case rb < ra:
		parent[ra] = rb
	}
}
