// Package rangemap is the reusable half-open interval map primitive called
// for in spec §9: "Range maps... A single well-tested balanced tree of
// half-open intervals with a coalesce operation is the right reusable
// primitive." It backs the in-memory shard map and the loader's
// data-move overlap and coverage checks over dataMoveKeys.
//
// Grounded on weed/filer2/memdb/memdb_store.go's use of
// github.com/google/btree as an ordered-key index (there, one entry per
// full path; here, one entry per half-open key range), generalized with a
// Split/Coalesce pair so a range-map mutation can carve out or merge
// interval boundaries in place.
package rangemap

import (
	"bytes"

	"github.com/google/btree"
)

// entry is one half-open interval [Start, End) with an associated value.
// End is exclusive; the sentinel "end of keyspace" is represented by a nil
// End, mirroring allKeys.end in spec §3/§4.2.
type entry[V any] struct {
	start []byte
	end   []byte // nil means "no upper bound"
	value V
}

func lessEntry[V any](a, b entry[V]) bool {
	return bytes.Compare(a.start, b.start) < 0
}

// Map is a half-open range map from []byte key ranges to values of type V.
type Map[V any] struct {
	tree  *btree.BTreeG[entry[V]]
	equal func(a, b V) bool
}

// New builds an empty range map covering no keys. Callers typically call
// Reset or Insert to establish full coverage of [begin, end) before use
// (spec §3's invariant that "every key in [allKeys.begin, allKeys.end) is
// covered exactly once").
func New[V any](equal func(a, b V) bool) *Map[V] {
	return &Map[V]{
		tree:  btree.NewG(32, lessEntry[V]),
		equal: equal,
	}
}

// Reset replaces the whole map with a single entry covering [begin, end)
// (end == nil means unbounded) with the given default value.
func (m *Map[V]) Reset(begin, end []byte, value V) {
	m.tree.Clear(false)
	m.tree.ReplaceOrInsert(entry[V]{start: clone(begin), end: clone(end), value: value})
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// floorEntry returns the entry whose start is <= key and which is the
// closest such entry (the entry that would contain key, if any entry
// does).
func (m *Map[V]) floorEntry(key []byte) (entry[V], bool) {
	var found entry[V]
	ok := false
	m.tree.DescendLessOrEqual(entry[V]{start: key}, func(e entry[V]) bool {
		found = e
		ok = true
		return false
	})
	return found, ok
}

func contains[V any](e entry[V], key []byte) bool {
	if bytes.Compare(key, e.start) < 0 {
		return false
	}
	if e.end == nil {
		return true
	}
	return bytes.Compare(key, e.end) < 0
}

// Split ensures a boundary exists at `at` by splitting whichever entry
// currently contains it into two entries with the same value. A no-op if
// `at` is already a boundary, or if `at` is not covered by any entry.
func (m *Map[V]) Split(at []byte) {
	e, ok := m.floorEntry(at)
	if !ok || bytes.Equal(e.start, at) {
		return
	}
	if !contains(e, at) {
		return
	}
	left := entry[V]{start: e.start, end: clone(at), value: e.value}
	right := entry[V]{start: clone(at), end: e.end, value: e.value}
	m.tree.ReplaceOrInsert(left)
	m.tree.ReplaceOrInsert(right)
}

// Assign sets the value over [start, end) (end == nil means to the end of
// the keyspace), splitting at both boundaries first and coalescing
// afterwards. This is the primitive moveShard (spec §4.3) and the
// loader's data-move overlap/coverage maps (spec §4.2) both reduce to.
func (m *Map[V]) Assign(start, end []byte, value V) {
	m.Split(start)
	if end != nil {
		m.Split(end)
	}

	var toDelete []entry[V]
	collect := func(e entry[V]) bool {
		if end != nil && bytes.Compare(e.start, end) >= 0 {
			return false
		}
		toDelete = append(toDelete, e)
		return true
	}
	if end == nil {
		m.tree.AscendGreaterOrEqual(entry[V]{start: start}, collect)
	} else {
		m.tree.AscendRange(entry[V]{start: start}, entry[V]{start: end}, collect)
	}
	for _, e := range toDelete {
		m.tree.Delete(e)
	}
	m.tree.ReplaceOrInsert(entry[V]{start: clone(start), end: clone(end), value: value})
	m.coalesceAround(start, end)
}

// Each calls fn for every entry whose interval intersects [start, end),
// in ascending order of start. end == nil means "to the end of the
// keyspace."
func (m *Map[V]) Each(start, end []byte, fn func(start, rangeEnd []byte, value V) bool) {
	visit := func(e entry[V]) bool {
		if end != nil && bytes.Compare(e.start, end) >= 0 {
			return false
		}
		return fn(e.start, e.end, e.value)
	}
	// Start from the entry that covers `start`, if its own start key is
	// less than `start` (i.e., `start` falls mid-interval).
	if floor, ok := m.floorEntry(start); ok && bytes.Compare(floor.start, start) < 0 {
		if !visit(floor) {
			return
		}
	}
	if end == nil {
		m.tree.AscendGreaterOrEqual(entry[V]{start: start}, visit)
	} else {
		m.tree.AscendRange(entry[V]{start: start}, entry[V]{start: end}, visit)
	}
}

// All calls fn for every entry in the map, in ascending order.
func (m *Map[V]) All(fn func(start, end []byte, value V) bool) {
	m.tree.Ascend(func(e entry[V]) bool {
		return fn(e.start, e.end, e.value)
	})
}

// Len returns the number of entries currently in the map.
func (m *Map[V]) Len() int { return m.tree.Len() }

// coalesceAround merges the entry now occupying [start, end) with its
// immediate neighbors if their values compare equal, keeping the map from
// accumulating spurious boundaries across repeated Assign calls.
func (m *Map[V]) coalesceAround(start, end []byte) {
	cur, ok := m.tree.Get(entry[V]{start: start})
	if !ok {
		return
	}

	// Merge with predecessor.
	var prev entry[V]
	havePrev := false
	m.tree.DescendLessOrEqual(entry[V]{start: start}, func(e entry[V]) bool {
		if bytes.Equal(e.start, start) {
			return true // cur itself; keep descending
		}
		prev = e
		havePrev = true
		return false
	})
	if havePrev && bytes.Equal(prev.end, cur.start) && m.equal(prev.value, cur.value) {
		m.tree.Delete(prev)
		m.tree.Delete(cur)
		cur = entry[V]{start: prev.start, end: cur.end, value: cur.value}
		m.tree.ReplaceOrInsert(cur)
	}

	// Merge with successor.
	var next entry[V]
	haveNext := false
	m.tree.AscendGreaterOrEqual(entry[V]{start: cur.start}, func(e entry[V]) bool {
		if bytes.Equal(e.start, cur.start) {
			return true // skip cur itself
		}
		next = e
		haveNext = true
		return false
	})
	if haveNext && bytes.Equal(cur.end, next.start) && m.equal(cur.value, next.value) {
		m.tree.Delete(cur)
		m.tree.Delete(next)
		m.tree.ReplaceOrInsert(entry[V]{start: cur.start, end: next.end, value: cur.value})
	}
}
