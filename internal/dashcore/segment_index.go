package dashcore

import (
	"math"
	"sort"
	"sync"
)

// SegmentReference locates one media segment in time (spec.md §3).
type SegmentReference struct {
	Index int // monotonic per stream

	StartTime float64  // seconds
	EndTime   *float64 // nil only for the trailing reference of a live stream

	URL       string
	ByteRange *ByteRange
}

// ByteRange is an inclusive byte offset range within a segment's URL.
type ByteRange struct {
	Start int64
	End   int64
}

// endF returns EndTime as a float64, or +Inf when nil.
func (r *SegmentReference) endF() float64 {
	if r.EndTime == nil {
		return math.Inf(1)
	}
	return *r.EndTime
}

// SegmentIndex is an ordered, mutable sequence of SegmentReferences for one
// representation (spec.md §4.2, C2). It supports correction, lookup by
// time, and append/evict for live content.
//
// Invariants (spec.md §3):
//  1. References are sorted by StartTime, strictly non-decreasing.
//  2. Adjacent references may touch but not overlap.
//  3. For live, references may be appended at the tail and evicted from the
//     head; the index never becomes non-contiguous.
//  4. After Correct(delta) is applied exactly once, every reference shifts
//     by delta, preserving invariants 1-3.
type SegmentIndex struct {
	mu        sync.RWMutex
	refs      []*SegmentReference
	corrected bool
	nextIndex int
}

// NewSegmentIndex builds an index from an already-sorted slice of
// references (the common case: a list/template source hands over refs it
// built in order). The slice is copied; callers may reuse it.
func NewSegmentIndex(refs []*SegmentReference) *SegmentIndex {
	cp := make([]*SegmentReference, len(refs))
	copy(cp, refs)
	next := 0
	for _, r := range cp {
		if r.Index >= next {
			next = r.Index + 1
		}
	}
	return &SegmentIndex{refs: cp, nextIndex: next}
}

// Length returns the number of references currently held.
func (idx *SegmentIndex) Length() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.refs)
}

// First returns the earliest reference, or nil if the index is empty.
func (idx *SegmentIndex) First() *SegmentReference {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(idx.refs) == 0 {
		return nil
	}
	return idx.refs[0]
}

// Last returns the latest reference, or nil if the index is empty.
func (idx *SegmentIndex) Last() *SegmentReference {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(idx.refs) == 0 {
		return nil
	}
	return idx.refs[len(idx.refs)-1]
}

// Find returns the reference containing t, or the nearest following
// reference if t falls in a gap. Returns nil if t is beyond the tail or the
// index is empty; never errors (spec.md §4.2 "Failure").
func (idx *SegmentIndex) Find(t float64) *SegmentReference {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.refs)
	if n == 0 {
		return nil
	}

	// First ref whose end is strictly after t (i.e. t < end, since a ref
	// containing t satisfies start <= t < end). sort.Search finds the
	// leftmost index for which the predicate holds.
	i := sort.Search(n, func(i int) bool {
		return t < idx.refs[i].endF()
	})
	if i == n {
		return nil
	}
	return idx.refs[i]
}

// Correct shifts every reference's StartTime/EndTime by delta. Idempotent
// only for delta == 0; callers must apply a nonzero correction exactly
// once per index (spec.md §4.2).
func (idx *SegmentIndex) Correct(delta float64) {
	if delta == 0 {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, r := range idx.refs {
		r.StartTime += delta
		if r.EndTime != nil {
			shifted := *r.EndTime + delta
			r.EndTime = &shifted
		}
	}
	idx.corrected = true
}

// Corrected reports whether Correct has been applied at least once.
func (idx *SegmentIndex) Corrected() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.corrected
}

// Merge replaces the tail of this index with other, splicing in at the
// first position where other's StartTime <= the existing reference's
// StartTime. Used by live manifest updates (spec.md §4.2, §4.6).
func (idx *SegmentIndex) Merge(other *SegmentIndex) {
	if other == nil {
		return
	}
	other.mu.RLock()
	incoming := make([]*SegmentReference, len(other.refs))
	copy(incoming, other.refs)
	other.mu.RUnlock()

	if len(incoming) == 0 {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	splitAt := len(idx.refs)
	firstIncomingStart := incoming[0].StartTime
	for i, r := range idx.refs {
		if firstIncomingStart <= r.StartTime {
			splitAt = i
			break
		}
	}

	merged := make([]*SegmentReference, 0, splitAt+len(incoming))
	merged = append(merged, idx.refs[:splitAt]...)
	merged = append(merged, incoming...)
	idx.refs = merged

	for _, r := range incoming {
		if r.Index >= idx.nextIndex {
			idx.nextIndex = r.Index + 1
		}
	}
}

// Append adds a reference at the tail. The caller is responsible for
// ensuring StartTime is non-decreasing relative to the current last
// reference (live sources build in order).
func (idx *SegmentIndex) Append(ref *SegmentReference) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.refs = append(idx.refs, ref)
	if ref.Index >= idx.nextIndex {
		idx.nextIndex = ref.Index + 1
	}
}

// Evict removes references whose EndTime <= threshold, preserving
// contiguity (invariant 3). References with no EndTime are never evicted.
func (idx *SegmentIndex) Evict(threshold float64) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cut := 0
	for cut < len(idx.refs) {
		r := idx.refs[cut]
		if r.EndTime == nil || *r.EndTime > threshold {
			break
		}
		cut++
	}
	if cut == 0 {
		return 0
	}
	idx.refs = idx.refs[cut:]
	return cut
}

// All returns a snapshot copy of the current references, in order.
func (idx *SegmentIndex) All() []*SegmentReference {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	cp := make([]*SegmentReference, len(idx.refs))
	copy(cp, idx.refs)
	return cp
}
