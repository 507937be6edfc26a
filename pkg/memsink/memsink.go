// Package memsink provides an in-memory dashcore.MediaSink test double: it
// records appended bytes per track and tracks playhead/duration/rate state
// without touching any real media pipeline. Used by the coordinator's own
// tests and the demo CLI.
package memsink

import (
	"context"
	"errors"
	"sync"

	"github.com/nilstream/dashcore/internal/dashcore"
)

var errInvalidHandle = errors.New("memsink: invalid track handle")

type track struct {
	mimeType string
	data     [][]byte
}

// Sink is a MediaSink that keeps everything in memory.
type Sink struct {
	mu sync.Mutex

	tracks      []*track
	duration    float64
	playhead    float64
	rate        float64
	readyState  dashcore.SinkReadyState
	timestampOf map[dashcore.SinkTrackHandle]float64

	listeners map[int]func(dashcore.SinkEvent)
	nextSubID int
}

// New returns a Sink already in the Ready state, rate 1.0.
func New() *Sink {
	return &Sink{
		rate:        1,
		readyState:  dashcore.SinkReady,
		timestampOf: make(map[dashcore.SinkTrackHandle]float64),
		listeners:   make(map[int]func(dashcore.SinkEvent)),
	}
}

func (s *Sink) AddTrack(ctx context.Context, mimeType string) (dashcore.SinkTrackHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, &track{mimeType: mimeType})
	return dashcore.SinkTrackHandle(len(s.tracks) - 1), nil
}

func (s *Sink) Append(ctx context.Context, handle dashcore.SinkTrackHandle, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(handle) < 0 || int(handle) >= len(s.tracks) {
		return errInvalidHandle
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.tracks[handle].data = append(s.tracks[handle].data, cp)
	return nil
}

func (s *Sink) Evict(ctx context.Context, handle dashcore.SinkTrackHandle, start, end float64) error {
	// Byte-range eviction isn't modeled in memory; tests assert on
	// SegmentIndex eviction instead, which is the source of truth.
	return nil
}

func (s *Sink) SetTimestampOffset(handle dashcore.SinkTrackHandle, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timestampOf[handle] = delta
	return nil
}

func (s *Sink) SetDuration(d float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duration = d
	return nil
}

func (s *Sink) Seek(t float64) error {
	s.mu.Lock()
	s.playhead = t
	listeners := s.snapshotListeners()
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(dashcore.SinkEvent{Kind: dashcore.SinkEventSeeking, Time: t})
	}
	return nil
}

func (s *Sink) EndOfStream(ctx context.Context) error {
	return nil
}

func (s *Sink) ReadyState() dashcore.SinkReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyState
}

func (s *Sink) Playhead() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playhead
}

func (s *Sink) PlaybackRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

func (s *Sink) SetPlaybackRate(rate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = rate
	return nil
}

func (s *Sink) Subscribe(fn func(dashcore.SinkEvent)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Sink) snapshotListeners() []func(dashcore.SinkEvent) {
	out := make([]func(dashcore.SinkEvent), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

// AdvancePlayhead moves the playhead forward by delta seconds and emits
// time_update, for tests driving playback progress.
func (s *Sink) AdvancePlayhead(delta float64) {
	s.mu.Lock()
	s.playhead += delta
	t := s.playhead
	listeners := s.snapshotListeners()
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(dashcore.SinkEvent{Kind: dashcore.SinkEventTimeUpdate, Time: t})
	}
}

// TrackData returns a snapshot of everything appended to a track, for test
// assertions.
func (s *Sink) TrackData(handle dashcore.SinkTrackHandle) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(handle) < 0 || int(handle) >= len(s.tracks) {
		return nil
	}
	return append([][]byte(nil), s.tracks[handle].data...)
}

// TimestampOffset returns the offset last set via SetTimestampOffset for a
// track, for test assertions. Zero if SetTimestampOffset was never called.
func (s *Sink) TimestampOffset(handle dashcore.SinkTrackHandle) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timestampOf[handle]
}
