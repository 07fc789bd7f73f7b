// Package hazard turns region statistics into a per-pixel obstacle mask and
// renders that mask as an 8-bit image.
package hazard

import (
	"slices"

	"github.com/MeKo-Tech/pathsense/internal/components"
)

// IgnoreSet holds class ids that are never obstacles (walkable or background
// surfaces). The zero value ignores nothing.
type IgnoreSet struct {
	member []bool
}

// NewIgnoreSet builds a set from class ids. Negative ids are skipped.
func NewIgnoreSet(ids ...int) IgnoreSet {
	top := -1
	for _, id := range ids {
		top = max(top, id)
	}
	s := IgnoreSet{member: make([]bool, top+1)}
	for _, id := range ids {
		if id >= 0 {
			s.member[id] = true
		}
	}
	return s
}

// Contains reports whether id is ignored.
func (s IgnoreSet) Contains(id int32) bool {
	return id >= 0 && int(id) < len(s.member) && s.member[id]
}

// IDs returns the members in ascending order.
func (s IgnoreSet) IDs() []int {
	var ids []int
	for id, ok := range s.member {
		if ok {
			ids = append(ids, id)
		}
	}
	return slices.Clip(ids)
}

// Len returns the number of ignored ids.
func (s IgnoreSet) Len() int {
	n := 0
	for _, ok := range s.member {
		if ok {
			n++
		}
	}
	return n
}

// IsObstacle is the per-region rule: the class is not ignored and the
// region's maximum depth lies below threshold.
func IsObstacle(s components.Stats, ignore IgnoreSet, threshold float32) bool {
	return !ignore.Contains(s.ClassID) && s.MaxDepth < threshold
}

// Classify marks each pixel whose region satisfies IsObstacle. The rule is
// evaluated once per region and then broadcast to its pixels.
func Classify(ids []int32, table components.Table, ignore IgnoreSet, threshold float32) []bool {
	verdict := make([]bool, len(ids))
	table.Each(func(id int32, s components.Stats) {
		verdict[id] = IsObstacle(s, ignore, threshold)
	})
	mask := make([]bool, len(ids))
	for i, id := range ids {
		mask[i] = verdict[id]
	}
	return mask
}

// Count returns the number of obstacle pixels.
func Count(mask []bool) int {
	n := 0
	for _, v := range mask {
		if v {
			n++
		}
	}
	return n
}
