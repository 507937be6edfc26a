package dashcore

import (
	"context"
	"fmt"
)

// UpdateResult is what UpdateManifest hands back to the caller: the
// reconciled manifest is mutated in place on old; Removed lists every
// StreamInfo present in old but absent from new, for the coordinator to
// switch away from and destroy (spec.md §4.6).
type UpdateResult struct {
	Removed []*StreamInfo
}

// UpdateManifest merges new into old, both of kind=dynamic, matching
// periods by start time and stream sets by UniqueID (falling back to
// content-type/lang/DRM-scheme matching when IDs aren't stable across
// fetches). For each matched StreamInfo, appends new segment references and
// prunes those preceding new's AvailabilityStart.
//
// Fails with ErrManifestIncompatible if kind differs or no period alignment
// is possible.
func UpdateManifest(old, new *Manifest) (*UpdateResult, error) {
	if old.Kind != ManifestDynamic || new.Kind != ManifestDynamic {
		return nil, fmt.Errorf("%w: kind changed from %s to %s", ErrManifestIncompatible, old.Kind, new.Kind)
	}
	if len(old.Periods) == 0 || len(new.Periods) == 0 {
		return nil, fmt.Errorf("%w: no periods to align", ErrManifestIncompatible)
	}

	result := &UpdateResult{}

	matchedNew := make(map[*Period]bool, len(new.Periods))
	for _, oldPeriod := range old.Periods {
		newPeriod := findPeriodByStart(new.Periods, oldPeriod.Start, matchedNew)
		if newPeriod == nil {
			// A period with no counterpart in the new manifest has ended;
			// every StreamInfo it held is removed.
			for _, set := range oldPeriod.StreamSets {
				result.Removed = append(result.Removed, set.Streams...)
			}
			oldPeriod.StreamSets = nil
			continue
		}
		matchedNew[newPeriod] = true
		removed := reconcilePeriod(oldPeriod, newPeriod, new.AvailabilityStart)
		result.Removed = append(result.Removed, removed...)
	}

	old.UpdatePeriod = new.UpdatePeriod
	old.UpdateURL = new.UpdateURL
	old.AvailabilityStart = new.AvailabilityStart
	old.MinBufferTime = new.MinBufferTime

	return result, nil
}

func findPeriodByStart(periods []*Period, start float64, used map[*Period]bool) *Period {
	for _, p := range periods {
		if used[p] {
			continue
		}
		if p.Start == start {
			return p
		}
	}
	return nil
}

// reconcilePeriod matches oldPeriod's stream sets against newPeriod's,
// updates matched StreamInfos in place, and returns removed StreamInfos.
func reconcilePeriod(oldPeriod, newPeriod *Period, newAvailabilityStart float64) []*StreamInfo {
	var removed []*StreamInfo
	usedNew := make(map[*StreamSet]bool, len(newPeriod.StreamSets))

	for _, oldSet := range oldPeriod.StreamSets {
		newSet := findStreamSet(newPeriod.StreamSets, oldSet, usedNew)
		if newSet == nil {
			removed = append(removed, oldSet.Streams...)
			continue
		}
		usedNew[newSet] = true
		removed = append(removed, reconcileStreamSet(oldSet, newSet, newAvailabilityStart)...)
	}
	return removed
}

func findStreamSet(candidates []*StreamSet, want *StreamSet, used map[*StreamSet]bool) *StreamSet {
	for _, c := range candidates {
		if used[c] {
			continue
		}
		if c.UniqueID == want.UniqueID {
			return c
		}
	}
	for _, c := range candidates {
		if used[c] {
			continue
		}
		if c.ContentType == want.ContentType && c.Lang == want.Lang && drmEqual(c.DRMSchemes, want.DRMSchemes) {
			return c
		}
	}
	return nil
}

func drmEqual(a, b []DRMScheme) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].SystemID != b[i].SystemID {
			return false
		}
	}
	return true
}

// reconcileStreamSet matches StreamInfos within one stream set by
// UniqueID, appends new segment references to matched ones, prunes
// references before newAvailabilityStart, and returns StreamInfos present
// in oldSet but absent from newSet.
func reconcileStreamSet(oldSet, newSet *StreamSet, newAvailabilityStart float64) []*StreamInfo {
	var removed []*StreamInfo
	usedNew := make(map[*StreamInfo]bool, len(newSet.Streams))

	var kept []*StreamInfo
	for _, oldInfo := range oldSet.Streams {
		newInfo := findStreamInfo(newSet.Streams, oldInfo, usedNew)
		if newInfo == nil {
			removed = append(removed, oldInfo)
			continue
		}
		usedNew[newInfo] = true
		kept = append(kept, oldInfo)

		// Both sources are already cached by the time start_streams or a
		// prior update ran; Create here only ever hits the cache.
		ctx := context.Background()
		if idx, err := oldInfo.IndexSource.Create(ctx); err == nil && idx != nil {
			if newIdx, err := newInfo.IndexSource.Create(ctx); err == nil && newIdx != nil {
				idx.Merge(newIdx)
				idx.Evict(newAvailabilityStart)
			}
		}
	}
	oldSet.Streams = kept
	return removed
}

func findStreamInfo(candidates []*StreamInfo, want *StreamInfo, used map[*StreamInfo]bool) *StreamInfo {
	for _, c := range candidates {
		if used[c] {
			continue
		}
		if c.UniqueID == want.UniqueID {
			return c
		}
	}
	for _, c := range candidates {
		if used[c] {
			continue
		}
		if c.FullMIMEType == want.FullMIMEType && c.Bandwidth == want.Bandwidth {
			return c
		}
	}
	return nil
}
