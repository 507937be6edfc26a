package dashcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ref(i int, start, end float64) *SegmentReference {
	e := end
	return &SegmentReference{Index: i, StartTime: start, EndTime: &e, URL: "seg.m4s"}
}

func openRef(i int, start float64) *SegmentReference {
	return &SegmentReference{Index: i, StartTime: start, EndTime: nil, URL: "seg.m4s"}
}

func TestSegmentIndex_FirstLastLength(t *testing.T) {
	idx := NewSegmentIndex(nil)
	assert.Equal(t, 0, idx.Length())
	assert.Nil(t, idx.First())
	assert.Nil(t, idx.Last())

	idx = NewSegmentIndex([]*SegmentReference{ref(0, 0, 6), ref(1, 6, 12), ref(2, 12, 18)})
	assert.Equal(t, 3, idx.Length())
	assert.Equal(t, 0.0, idx.First().StartTime)
	assert.Equal(t, 12.0, idx.Last().StartTime)
}

func TestSegmentIndex_Find(t *testing.T) {
	idx := NewSegmentIndex([]*SegmentReference{ref(0, 0, 6), ref(1, 6, 12), ref(2, 12, 18)})

	r := idx.Find(7.5)
	require.NotNil(t, r)
	assert.Equal(t, 1, r.Index)

	// exact boundary belongs to the following reference
	r = idx.Find(6.0)
	require.NotNil(t, r)
	assert.Equal(t, 1, r.Index)

	// beyond the tail
	assert.Nil(t, idx.Find(100))

	// empty index never errors, just returns nil
	assert.Nil(t, NewSegmentIndex(nil).Find(0))
}

func TestSegmentIndex_Correct(t *testing.T) {
	idx := NewSegmentIndex([]*SegmentReference{ref(0, 1.0, 7.0)})
	idx.Correct(0.02)

	r := idx.First()
	assert.InDelta(t, 1.02, r.StartTime, 1e-9)
	assert.InDelta(t, 7.02, *r.EndTime, 1e-9)
	assert.True(t, idx.Corrected())

	// delta == 0 is a no-op even if already corrected
	idx.Correct(0)
	assert.InDelta(t, 1.02, idx.First().StartTime, 1e-9)
}

func TestSegmentIndex_Evict(t *testing.T) {
	idx := NewSegmentIndex([]*SegmentReference{ref(0, 0, 6), ref(1, 6, 12), openRef(2, 12)})

	removed := idx.Evict(6)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, idx.Length())
	assert.Equal(t, 1, idx.First().Index)

	// trailing open reference is never evicted regardless of threshold
	removed = idx.Evict(1000)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, idx.Length())
	assert.Equal(t, 2, idx.First().Index)
}

func TestSegmentIndex_Merge(t *testing.T) {
	live := NewSegmentIndex([]*SegmentReference{ref(0, 0, 6), ref(1, 6, 12)})
	update := NewSegmentIndex([]*SegmentReference{ref(1, 6, 12), ref(2, 12, 18), openRef(3, 18)})

	live.Merge(update)

	all := live.All()
	require.Len(t, all, 4)
	assert.Equal(t, 0, all[0].Index)
	assert.Equal(t, 1, all[1].Index)
	assert.Equal(t, 2, all[2].Index)
	assert.Equal(t, 3, all[3].Index)
	assert.Nil(t, live.Last().EndTime)
}

func TestSegmentIndex_Append(t *testing.T) {
	idx := NewSegmentIndex([]*SegmentReference{ref(0, 0, 6)})
	idx.Append(ref(1, 6, 12))
	assert.Equal(t, 2, idx.Length())
	assert.Equal(t, 1, idx.Last().Index)
}
