package mem

import "github.com/google/btree"

type rangeMapEntry[V any] struct {
	r AddrRange
	v V
}

func rangeMapLess[V any](a, b rangeMapEntry[V]) bool {
	return a.r.Start < b.r.Start
}

// RangeMap maps non-overlapping address ranges to values. The ranges are kept
// in a B-tree ordered by start address.
type RangeMap[V any] struct {
	tree *btree.BTreeG[rangeMapEntry[V]]
}

// NewRangeMap creates an empty RangeMap.
func NewRangeMap[V any]() *RangeMap[V] {
	return &RangeMap[V]{
		tree: btree.NewG(8, rangeMapLess[V]),
	}
}

// Len returns the number of ranges in the map.
func (m *RangeMap[V]) Len() int {
	return m.tree.Len()
}

func (m *RangeMap[V]) floor(a Addr) (rangeMapEntry[V], bool) {
	var (
		found rangeMapEntry[V]
		ok    bool
	)

	pivot := rangeMapEntry[V]{r: AddrRange{Start: a}}
	m.tree.DescendLessOrEqual(pivot, func(e rangeMapEntry[V]) bool {
		found, ok = e, true
		return false
	})

	return found, ok
}

func (m *RangeMap[V]) ceil(a Addr) (rangeMapEntry[V], bool) {
	var (
		found rangeMapEntry[V]
		ok    bool
	)

	pivot := rangeMapEntry[V]{r: AddrRange{Start: a}}
	m.tree.AscendGreaterOrEqual(pivot, func(e rangeMapEntry[V]) bool {
		found, ok = e, true
		return false
	})

	return found, ok
}

// Insert adds a range. It returns false and leaves the map unchanged if the
// range is empty or overlaps with a range in the map.
func (m *RangeMap[V]) Insert(r AddrRange, v V) bool {
	if !r.Valid() {
		return false
	}

	if prev, ok := m.floor(r.Start); ok && prev.r.Intersects(r) {
		return false
	}

	if next, ok := m.ceil(r.Start); ok && next.r.Intersects(r) {
		return false
	}

	m.tree.ReplaceOrInsert(rangeMapEntry[V]{r: r, v: v})

	return true
}

// Find returns the range that contains the address and its value.
func (m *RangeMap[V]) Find(a Addr) (AddrRange, V, bool) {
	if e, ok := m.floor(a); ok && e.r.Contains(a) {
		return e.r, e.v, true
	}

	var zero V

	return AddrRange{}, zero, false
}

// EraseIf removes every range whose value satisfies pred.
func (m *RangeMap[V]) EraseIf(pred func(V) bool) {
	var erased []rangeMapEntry[V]

	m.tree.Ascend(func(e rangeMapEntry[V]) bool {
		if pred(e.v) {
			erased = append(erased, e)
		}

		return true
	})

	for _, e := range erased {
		m.tree.Delete(e)
	}
}

// Clear removes all the ranges.
func (m *RangeMap[V]) Clear() {
	m.tree.Clear(false)
}

// Each calls f for every range in ascending address order.
func (m *RangeMap[V]) Each(f func(r AddrRange, v V)) {
	m.tree.Ascend(func(e rangeMapEntry[V]) bool {
		f(e.r, e.v)
		return true
	})
}
