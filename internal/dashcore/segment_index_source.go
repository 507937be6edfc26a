package dashcore

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// SegmentIndexSourceKind distinguishes the three ways a SegmentIndex can be
// produced from a manifest entry (spec.md §4.3, design note "Loose typing of
// info objects": a concrete tagged union, not an inheritance hierarchy).
type SegmentIndexSourceKind int

const (
	// SourceExplicitList carries references provided directly by the
	// manifest; Create is a no-op copy.
	SourceExplicitList SegmentIndexSourceKind = iota
	// SourceTemplateDuration generates a fixed run of references at parse
	// time from a segment duration/timescale and the period's duration.
	SourceTemplateDuration
	// SourceTemplateTimeline covers both "template + timeline" (explicit
	// S-elements) and dynamic/live sources. References are built once from
	// the Timeline entries on the first Create; for a live source the
	// trailing reference is left open-ended. The index is not re-evaluated
	// against the wall clock (Clock is not consulted); new references
	// arrive only through Merge from manifest updates.
	SourceTemplateTimeline
)

// TimelineEntry is one <S> element of a template+timeline source: a run of
// `repeat+1` segments of duration `segDuration`, in timescale units.
type TimelineEntry struct {
	StartTime   int64 // timescale units
	SegDuration int64 // timescale units
	Repeat      int   // additional repetitions beyond the first, >= 0
}

// SegmentIndexSource lazily constructs and caches a SegmentIndex from a
// manifest entry (spec.md C3). Create is idempotent: concurrent callers
// racing to build the same index all observe a single construction via
// singleflight, and subsequent calls return the cached result instantly.
type SegmentIndexSource struct {
	Kind SegmentIndexSourceKind

	// URLTemplate uses $Number$/$Time$ substitution markers, resolved by
	// buildTemplateDuration/buildTemplateTimeline. Unused for ExplicitList.
	URLTemplate string
	Timescale   int64 // units per second, > 0

	// ExplicitList inputs.
	ExplicitRefs []*SegmentReference

	// TemplateDuration inputs.
	SegmentDuration int64 // timescale units, > 0
	PeriodDuration  float64

	// TemplateTimeline inputs.
	Timeline []TimelineEntry
	IsLive   bool
	Clock    Clock

	mu     sync.Mutex
	once   sync.Once
	cached *SegmentIndex
	err    error
	group  singleflight.Group
}

// Create produces the SegmentIndex, building it on first call and returning
// the cached instance on every subsequent call (spec.md §4.3 "create()
// produces a SegmentIndex (cached; idempotent)").
func (s *SegmentIndexSource) Create(ctx context.Context) (*SegmentIndex, error) {
	v, err, _ := s.group.Do("create", func() (interface{}, error) {
		s.mu.Lock()
		if s.cached != nil || s.err != nil {
			idx, cerr := s.cached, s.err
			s.mu.Unlock()
			return idx, cerr
		}
		s.mu.Unlock()

		idx, err := s.build(ctx)

		s.mu.Lock()
		s.cached, s.err = idx, err
		s.mu.Unlock()
		return idx, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*SegmentIndex), nil
}

func (s *SegmentIndexSource) build(ctx context.Context) (*SegmentIndex, error) {
	switch s.Kind {
	case SourceExplicitList:
		return NewSegmentIndex(s.ExplicitRefs), nil
	case SourceTemplateDuration:
		return s.buildTemplateDuration()
	case SourceTemplateTimeline:
		return s.buildTemplateTimeline()
	default:
		return nil, fmt.Errorf("dashcore: unknown segment index source kind %d", s.Kind)
	}
}

// buildTemplateDuration generates ceil(period.duration / (segmentDuration /
// timescale)) references, evenly spaced (spec.md §4.3).
func (s *SegmentIndexSource) buildTemplateDuration() (*SegmentIndex, error) {
	if s.Timescale <= 0 || s.SegmentDuration <= 0 {
		return nil, fmt.Errorf("dashcore: %w: invalid timescale/segment duration", ErrUnsupportedMedia)
	}
	segSeconds := float64(s.SegmentDuration) / float64(s.Timescale)
	count := int(math.Ceil(s.PeriodDuration / segSeconds))
	if count <= 0 {
		return NewSegmentIndex(nil), nil
	}

	refs := make([]*SegmentReference, 0, count)
	for i := 0; i < count; i++ {
		start := float64(i) * segSeconds
		end := start + segSeconds
		if end > s.PeriodDuration {
			end = s.PeriodDuration
		}
		endCopy := end
		refs = append(refs, &SegmentReference{
			Index:     i,
			StartTime: start,
			EndTime:   &endCopy,
			URL:       resolveTemplate(s.URLTemplate, i, int64(start*float64(s.Timescale))),
		})
	}
	return NewSegmentIndex(refs), nil
}

// buildTemplateTimeline expands explicit <S> entries into references. For a
// live source the trailing reference's EndTime is left nil (spec.md §3,
// "end_time=null allowed only for the trailing reference of a live stream")
// until a subsequent manifest update supplies its successor via Merge.
func (s *SegmentIndexSource) buildTemplateTimeline() (*SegmentIndex, error) {
	if s.Timescale <= 0 {
		return nil, fmt.Errorf("dashcore: %w: invalid timescale", ErrUnsupportedMedia)
	}

	var refs []*SegmentReference
	idx := 0
	for _, entry := range s.Timeline {
		t := entry.StartTime
		for rep := 0; rep <= entry.Repeat; rep++ {
			start := float64(t) / float64(s.Timescale)
			end := float64(t+entry.SegDuration) / float64(s.Timescale)
			endCopy := end
			refs = append(refs, &SegmentReference{
				Index:     idx,
				StartTime: start,
				EndTime:   &endCopy,
				URL:       resolveTemplate(s.URLTemplate, idx, t),
			})
			t += entry.SegDuration
			idx++
		}
	}

	if s.IsLive && len(refs) > 0 {
		refs[len(refs)-1].EndTime = nil
	}

	return NewSegmentIndex(refs), nil
}

// resolveTemplate performs the DASH $Number$/$Time$ substitution. Real
// manifest templates additionally support width specifiers ($Number%05d$);
// this core only needs the two time-addressing forms used by the index
// source.
func resolveTemplate(tmpl string, number int, time int64) string {
	out := strings.ReplaceAll(tmpl, "$Number$", fmt.Sprintf("%d", number))
	out = strings.ReplaceAll(out, "$Time$", fmt.Sprintf("%d", time))
	return out
}
