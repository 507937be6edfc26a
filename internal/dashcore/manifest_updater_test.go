package dashcore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func explicitIndexedInfo(uniqueID int, mime string, bw int64, refs ...*SegmentReference) *StreamInfo {
	return &StreamInfo{
		UniqueID:     uniqueID,
		FullMIMEType: mime,
		Bandwidth:    bw,
		Enabled:      true,
		IndexSource:  SegmentIndexSource{Kind: SourceExplicitList, ExplicitRefs: refs},
	}
}

func TestUpdateManifest_RejectsNonDynamicKind(t *testing.T) {
	old := &Manifest{Kind: ManifestStatic}
	incoming := &Manifest{Kind: ManifestDynamic}
	_, err := UpdateManifest(old, incoming)
	assert.ErrorIs(t, err, ErrManifestIncompatible)
}

func TestUpdateManifest_RejectsEmptyPeriods(t *testing.T) {
	old := &Manifest{Kind: ManifestDynamic}
	incoming := &Manifest{Kind: ManifestDynamic, Periods: []*Period{{}}}
	_, err := UpdateManifest(old, incoming)
	assert.ErrorIs(t, err, ErrManifestIncompatible)
}

func TestUpdateManifest_MergesMatchedStreamInfoByUniqueID(t *testing.T) {
	videoInfo := explicitIndexedInfo(1, "video/mp4", 1_000_000, ref(0, 0, 6), ref(1, 6, 12))
	oldSet := &StreamSet{UniqueID: 10, ContentType: ContentTypeVideo, Streams: []*StreamInfo{videoInfo}}
	old := &Manifest{
		Kind:              ManifestDynamic,
		AvailabilityStart: 0,
		Periods:           []*Period{{Start: 0, StreamSets: []*StreamSet{oldSet}}},
	}

	newVideoInfo := explicitIndexedInfo(1, "video/mp4", 1_000_000, ref(1, 6, 12), ref(2, 12, 18))
	newSet := &StreamSet{UniqueID: 10, ContentType: ContentTypeVideo, Streams: []*StreamInfo{newVideoInfo}}
	incoming := &Manifest{
		Kind:              ManifestDynamic,
		AvailabilityStart: 6,
		UpdatePeriod:      4,
		Periods:           []*Period{{Start: 0, StreamSets: []*StreamSet{newSet}}},
	}

	result, err := UpdateManifest(old, incoming)
	require.NoError(t, err)
	assert.Empty(t, result.Removed)

	idx, err := videoInfo.IndexSource.Create(context.Background())
	require.NoError(t, err)
	all := idx.All()
	require.Len(t, all, 2, "merged, then evicted below the new availability start")
	assert.Equal(t, 1, all[0].Index)
	assert.Equal(t, 2, all[1].Index)

	assert.Equal(t, float64(4), old.UpdatePeriod)
}

func TestUpdateManifest_RemovesStreamInfoAbsentFromIncoming(t *testing.T) {
	survivor := explicitIndexedInfo(1, "audio/mp4", 128_000, ref(0, 0, 6))
	removed := explicitIndexedInfo(2, "audio/mp4", 64_000, ref(0, 0, 6))
	oldSet := &StreamSet{UniqueID: 10, ContentType: ContentTypeAudio, Streams: []*StreamInfo{survivor, removed}}
	old := &Manifest{Kind: ManifestDynamic, Periods: []*Period{{Start: 0, StreamSets: []*StreamSet{oldSet}}}}

	newSurvivor := explicitIndexedInfo(1, "audio/mp4", 128_000, ref(0, 0, 6))
	newSet := &StreamSet{UniqueID: 10, ContentType: ContentTypeAudio, Streams: []*StreamInfo{newSurvivor}}
	incoming := &Manifest{Kind: ManifestDynamic, Periods: []*Period{{Start: 0, StreamSets: []*StreamSet{newSet}}}}

	result, err := UpdateManifest(old, incoming)
	require.NoError(t, err)
	require.Len(t, result.Removed, 1)
	assert.Equal(t, removed, result.Removed[0])
	assert.Len(t, oldSet.Streams, 1, "removed StreamInfo no longer listed in the reconciled set")
}

func TestUpdateManifest_RemovesWholePeriodWithNoCounterpart(t *testing.T) {
	info := explicitIndexedInfo(1, "video/mp4", 1_000_000, ref(0, 0, 6))
	set := &StreamSet{UniqueID: 10, ContentType: ContentTypeVideo, Streams: []*StreamInfo{info}}
	old := &Manifest{Kind: ManifestDynamic, Periods: []*Period{{Start: 0, StreamSets: []*StreamSet{set}}}}

	incoming := &Manifest{Kind: ManifestDynamic, Periods: []*Period{{Start: 60}}}

	result, err := UpdateManifest(old, incoming)
	require.NoError(t, err)
	require.Len(t, result.Removed, 1)
	assert.Equal(t, info, result.Removed[0])
	assert.Empty(t, old.Periods[0].StreamSets)
}
