// Package dashcore implements the adaptive streaming core of a DASH-style
// player: manifest processing, per-type segment indices, ABR, and the
// stream coordinator that drives a coordinated buffering/switching loop
// feeding a downstream media pipeline.
//
// The package treats manifest parsing, network fetching, the media sink,
// and DRM negotiation as external collaborators, consumed only through the
// interfaces in fetch.go, sink.go and clock.go.
package dashcore

import (
	"context"
	"fmt"
)

// ManifestKind distinguishes a manifest that will never change (static) from
// one expected to be periodically refetched (dynamic/live).
type ManifestKind int

const (
	// ManifestStatic describes on-demand content with a fixed duration.
	ManifestStatic ManifestKind = iota
	// ManifestDynamic describes live content; segments age in and out and
	// the manifest itself is refetched on a timer.
	ManifestDynamic
)

func (k ManifestKind) String() string {
	switch k {
	case ManifestStatic:
		return "static"
	case ManifestDynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// ContentType is one of the three media component kinds this core drives.
type ContentType int

const (
	ContentTypeVideo ContentType = iota
	ContentTypeAudio
	ContentTypeText
)

func (c ContentType) String() string {
	switch c {
	case ContentTypeVideo:
		return "video"
	case ContentTypeAudio:
		return "audio"
	case ContentTypeText:
		return "text"
	default:
		return "unknown"
	}
}

// DRMScheme is an opaque DRM descriptor; the core never interprets it, only
// carries it for the caller's key-system negotiation.
type DRMScheme struct {
	SystemID string
	Data     []byte
}

// Manifest is the root parsed description of streaming content. The
// Coordinator takes ownership of a Manifest at construction and destroys it
// on shutdown (spec.md §3 "Lifecycle").
type Manifest struct {
	Kind          ManifestKind
	MinBufferTime float64 // seconds, >= 0
	UpdateURL     string  // present only when Kind == ManifestDynamic
	UpdatePeriod  float64 // seconds, > 0; present only when Kind == ManifestDynamic

	// AvailabilityStart is the wall-clock time (unix seconds) segments are
	// addressed relative to for dynamic manifests. Zero for static.
	AvailabilityStart float64

	Periods []*Period
}

// Period is one playable timespan of the manifest.
type Period struct {
	Start      float64 // seconds, >= 0
	Duration   float64 // seconds, > 0; required when Manifest.Kind == ManifestStatic
	StreamSets []*StreamSet
}

// StreamSet (a.k.a. adaptation set) groups interchangeable representations
// of the same content component. All StreamInfos within one StreamSet are
// codec/container-compatible (enforced by the Manifest Processor, C9).
type StreamSet struct {
	UniqueID    int // dense, unique within the manifest's lifetime
	ContentType ContentType
	Lang        string // BCP-47, optional
	Main        bool
	DRMSchemes  []DRMScheme
	Streams     []*StreamInfo // non-empty after processing
}

// StreamInfo describes one representation (one encoding of one component).
type StreamInfo struct {
	UniqueID        int // dense, stable across the manifest's lifetime
	FullMIMEType    string
	Bandwidth       int64 // bits/s
	Width           int   // video only, 0 if not applicable
	Height          int   // video only, 0 if not applicable
	TimestampOffset float64 // seconds, signed

	IndexSource SegmentIndexSource
	InitSource  SegmentInitSource // optional, may be nil

	// Enabled is set false by SetRestrictions; a disabled StreamInfo is
	// never selected, presented, or fetched (spec.md §3 invariant).
	Enabled bool
}

func (s *StreamInfo) String() string {
	return fmt.Sprintf("StreamInfo{id=%d mime=%s bw=%d}", s.UniqueID, s.FullMIMEType, s.Bandwidth)
}

// SegmentInitSource produces the initialization bytes for a representation,
// if the container requires one (e.g. an ISOBMFF init segment). It is an
// external collaborator: fetching/caching the bytes is out of scope here.
type SegmentInitSource interface {
	// Create returns the initialization bytes, fetching them on first call
	// and caching the result.
	Create(ctx context.Context) ([]byte, error)
}
