package dashcore

import "context"

// SinkTrackHandle identifies one content type's track within the media
// sink, as returned by MediaSink.AddTrack.
type SinkTrackHandle int

// SinkReadyState mirrors the media sink's readiness (spec.md §6).
type SinkReadyState int

const (
	SinkNotReady SinkReadyState = iota
	SinkReady
)

// SinkEventKind distinguishes the events a MediaSink emits.
type SinkEventKind int

const (
	SinkEventOpen SinkEventKind = iota
	SinkEventSeeking
	SinkEventTimeUpdate
)

// SinkEvent is delivered to a subscriber registered via MediaSink.Subscribe.
type SinkEvent struct {
	Kind SinkEventKind
	Time float64 // playhead position at the time of the event, seconds
}

// MediaSink is the append-only downstream media pipeline (spec.md §6). It
// is an external collaborator: this core never decodes or renders media,
// only appends bytes and manages timing metadata.
type MediaSink interface {
	AddTrack(ctx context.Context, mimeType string) (SinkTrackHandle, error)
	Append(ctx context.Context, handle SinkTrackHandle, data []byte) error
	Evict(ctx context.Context, handle SinkTrackHandle, start, end float64) error
	SetTimestampOffset(handle SinkTrackHandle, delta float64) error
	SetDuration(d float64) error
	Seek(t float64) error
	EndOfStream(ctx context.Context) error

	ReadyState() SinkReadyState
	Playhead() float64

	// PlaybackRate gets/sets the sink's playback rate; used to freeze/
	// restore the rate around start_streams (spec.md §4.7 step 4/6).
	PlaybackRate() float64
	SetPlaybackRate(rate float64) error

	// Subscribe registers a listener for sink events; the returned function
	// cancels the subscription.
	Subscribe(fn func(SinkEvent)) (unsubscribe func())
}
