package dashcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nilstream/dashcore/pkg/httpclient"
)

// Default circuit-breaker tuning for a Stream's per-representation breakers
// (SPEC_FULL.md "Circuit breaker around segment fetch"): trips after 5
// consecutive segment-fetch failures for one representation, half-opens
// after 30s to probe recovery.
const (
	DefaultCircuitFailureThreshold = 5
	DefaultCircuitTimeout          = 30 * time.Second
	DefaultCircuitHalfOpenMax      = 1
)

// StreamState is one state of the per-type state machine (spec.md §4.5).
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamStarting
	StreamBuffering
	StreamPlaying
	StreamSwitching
	StreamEnded
	StreamDestroyed
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamStarting:
		return "starting"
	case StreamBuffering:
		return "buffering"
	case StreamPlaying:
		return "playing"
	case StreamSwitching:
		return "switching"
	case StreamEnded:
		return "ended"
	case StreamDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// StreamHost is the capability subset a Stream needs from its owning
// Coordinator: report started/ended, read the current playhead. Modeled as
// an injected interface rather than a back-pointer, per SPEC_FULL.md's
// design note on cyclic Coordinator/Stream ownership — the Coordinator
// exclusively owns its Streams; a Stream never calls back into the full
// Coordinator surface.
type StreamHost interface {
	Playhead() float64
	IsLive() bool

	// ExcludeFromABR reports that uniqueID's circuit breaker has tripped
	// after persistent fetch failures: the Coordinator asks its ABR Manager
	// to stop offering this representation until its breaker half-opens
	// (SPEC_FULL.md "Circuit breaker around segment fetch").
	ExcludeFromABR(ct ContentType, uniqueID int)
}

// StreamConfig bundles a Stream's fixed collaborators and tuning, set once
// at construction.
type StreamConfig struct {
	ContentType ContentType
	Fetcher     Fetcher
	Sink        MediaSink
	Clock       Clock
	Bus         *EventBus
	Host        StreamHost
	Estimator   *BandwidthEstimator
	Retry       *RetryPolicy

	// ABR and Candidates are set only for the video Stream (spec.md §4.4):
	// after each appended segment, the Stream asks the ABR Manager whether
	// to switch, using the current bandwidth estimate and the candidate
	// StreamInfos of its active StreamSet. Both nil for audio/text Streams,
	// which never self-adapt.
	ABR        *ABRManager
	Candidates func() []*StreamInfo

	Behind time.Duration // backpressure window behind playhead, default 30s
	Ahead  time.Duration // backpressure window ahead of playhead, default 30s

	MinBufferTime time.Duration

	// CircuitFailureThreshold/Timeout/HalfOpenMax tune the per-representation
	// circuit breaker (SPEC_FULL.md "Circuit breaker around segment fetch").
	CircuitFailureThreshold int
	CircuitTimeout          time.Duration
	CircuitHalfOpenMax      int
}

// Stream is the per-content-type state machine that fetches, appends, and
// evicts media for one StreamInfo at a time, and handles representation
// switching, resync, and end-of-stream (spec.md C5).
type Stream struct {
	cfg StreamConfig
	id  uuid.UUID

	mu       sync.Mutex
	state    StreamState
	current  *StreamInfo
	handle   SinkTrackHandle
	hasTrack bool

	idx *SegmentIndex

	corrected        bool
	correctionDone   chan struct{}
	correctionValue  float64
	observedStart    float64
	observedStartSet bool

	pendingSwitch *pendingSwitch

	cancelFetch context.CancelFunc

	// breakers holds one circuit breaker per StreamInfo.UniqueID this Stream
	// has ever fetched, so a representation's failure history survives a
	// switch away and back (SPEC_FULL.md "Circuit breaker around segment
	// fetch").
	breakers map[int]*httpclient.CircuitBreaker

	logger *slog.Logger
}

type pendingSwitch struct {
	info      *StreamInfo
	immediate bool
}

// NewStream constructs a Stream in the Idle state. Call Switch to select an
// initial representation and begin fetching.
func NewStream(cfg StreamConfig, logger *slog.Logger) *Stream {
	if cfg.Behind <= 0 {
		cfg.Behind = 30 * time.Second
	}
	if cfg.Ahead <= 0 {
		cfg.Ahead = 30 * time.Second
	}
	if cfg.CircuitFailureThreshold <= 0 {
		cfg.CircuitFailureThreshold = DefaultCircuitFailureThreshold
	}
	if cfg.CircuitTimeout <= 0 {
		cfg.CircuitTimeout = DefaultCircuitTimeout
	}
	if cfg.CircuitHalfOpenMax <= 0 {
		cfg.CircuitHalfOpenMax = DefaultCircuitHalfOpenMax
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		cfg:            cfg,
		id:             uuid.New(),
		state:          StreamIdle,
		correctionDone: make(chan struct{}),
		breakers:       make(map[int]*httpclient.CircuitBreaker),
		logger:         logger.With(slog.String("component", "stream"), slog.String("content_type", cfg.ContentType.String())),
	}
}

// breakerFor returns this Stream's circuit breaker for a representation,
// creating it on first use.
func (s *Stream) breakerFor(uniqueID int) *httpclient.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[uniqueID]
	if !ok {
		b = httpclient.NewCircuitBreaker(s.cfg.CircuitFailureThreshold, s.cfg.CircuitTimeout, s.cfg.CircuitHalfOpenMax)
		s.breakers[uniqueID] = b
	}
	return b
}

// Started returns a channel that is closed once the stream has measured
// timestamp correction for its first segment. The Coordinator's
// start_streams waits on this for every Stream before computing
// max_correction/min_correction (spec.md §4.7 step 6).
func (s *Stream) Started() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.correctionDone
}

// Correction returns the timestamp correction measured for this stream's
// first segment. Only meaningful after Started's channel has closed.
func (s *Stream) Correction() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.correctionValue
}

// State returns the stream's current state.
func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the currently selected representation, or nil if none has
// been chosen yet.
func (s *Stream) Current() *StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Index returns the current representation's SegmentIndex, or nil.
func (s *Stream) Index() *SegmentIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx
}

// Switch selects info as the representation to play. If immediate is true
// and a fetch is already in flight, it is aborted and the buffer from
// now+epsilon is cleared before the new representation is appended,
// entering StreamSwitching; otherwise the switch is queued for the next
// segment boundary (spec.md §4.5 transition table).
//
// SPEC_FULL.md Open Question 1 decision: an immediate switch never reuses
// any of the current buffer, even when the new representation's segment
// boundary is very close, matching the source's unconditional-clear
// behavior.
func (s *Stream) Switch(ctx context.Context, info *StreamInfo) error {
	return s.switchInternal(ctx, info, false)
}

// SwitchImmediate is Switch with immediate=true.
func (s *Stream) SwitchImmediate(ctx context.Context, info *StreamInfo) error {
	return s.switchInternal(ctx, info, true)
}

func (s *Stream) switchInternal(ctx context.Context, info *StreamInfo, immediate bool) error {
	s.mu.Lock()
	if s.state == StreamDestroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}

	if s.state == StreamIdle {
		s.state = StreamStarting
		s.current = info
		s.mu.Unlock()
		s.runFetchAsync(ctx, info)
		return nil
	}

	if !immediate {
		s.pendingSwitch = &pendingSwitch{info: info, immediate: false}
		s.mu.Unlock()
		return nil
	}

	// immediate: abort in-flight fetch, clear buffered data from now+epsilon,
	// switch state to Switching, then start fetching the new representation.
	if s.cancelFetch != nil {
		s.cancelFetch()
	}
	s.state = StreamSwitching
	s.current = info
	playhead := 0.0
	if s.cfg.Host != nil {
		playhead = s.cfg.Host.Playhead()
	}
	handle, hasTrack := s.handle, s.hasTrack
	s.mu.Unlock()

	const epsilon = 0.05
	if hasTrack {
		if err := s.cfg.Sink.Evict(ctx, handle, playhead+epsilon, 1<<62); err != nil {
			s.logger.Warn("evict on immediate switch failed", slog.String("error", err.Error()))
		}
	}

	s.runFetchAsync(ctx, info)
	return nil
}

// Resync aborts any in-flight fetch, locates the reference containing the
// host's current playhead, and resumes fetching from there (spec.md §4.5,
// used on a sink "seeking" event).
func (s *Stream) Resync(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StreamDestroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	if s.cancelFetch != nil {
		s.cancelFetch()
	}
	info := s.current
	s.state = StreamBuffering
	s.mu.Unlock()

	if info == nil {
		return nil
	}
	s.runFetchAsync(ctx, info)
	return nil
}

// runFetchAsync runs startFetch on its own goroutine so the coordinator
// never blocks on one Stream's fetch loop; per-type Streams progress
// independently (spec.md §5 "Ordering guarantees"). Errors surface as
// EventError rather than a return value.
func (s *Stream) runFetchAsync(ctx context.Context, info *StreamInfo) {
	go func() {
		if err := s.startFetch(ctx, info); err != nil {
			if !errors.Is(err, ErrAborted) && !errors.Is(err, context.Canceled) {
				s.publishError(err)
			}
		}
	}()
}

// Destroy aborts in-flight fetches and transitions to Destroyed from any
// state. Idempotent.
func (s *Stream) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StreamDestroyed {
		return
	}
	if s.cancelFetch != nil {
		s.cancelFetch()
	}
	s.state = StreamDestroyed
}

// startFetch fetches the init segment (if any) and the first/next media
// segment for info, then continues the fetch loop until the stream is
// buffered ahead of the playhead, switched away from, resynced, or
// destroyed.
func (s *Stream) startFetch(ctx context.Context, info *StreamInfo) error {
	fetchCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelFetch = cancel
	s.mu.Unlock()

	idx, err := info.IndexSource.Create(fetchCtx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.idx = idx
	s.mu.Unlock()

	if !s.hasTrack {
		handle, err := s.cfg.Sink.AddTrack(fetchCtx, info.FullMIMEType)
		if err != nil {
			return fmt.Errorf("%w: add track: %v", ErrAppendFailed, err)
		}
		s.mu.Lock()
		s.handle, s.hasTrack = handle, true
		s.mu.Unlock()
	}

	// Every time a new StreamInfo becomes current — initial start, an
	// immediate switch, or a queued switch promoted here from fetchLoop —
	// the sink's timestamp offset must track it, since representations
	// can declare different offsets to compensate for encoder drift
	// (spec.md §3 data model, StreamInfo.TimestampOffset).
	if err := s.cfg.Sink.SetTimestampOffset(s.handle, info.TimestampOffset); err != nil {
		return fmt.Errorf("%w: set timestamp offset: %v", ErrAppendFailed, err)
	}

	if info.InitSource != nil {
		initBytes, err := info.InitSource.Create(fetchCtx)
		if err != nil {
			return err
		}
		if err := s.cfg.Sink.Append(fetchCtx, s.handle, initBytes); err != nil {
			return fmt.Errorf("%w: %v", ErrAppendFailed, err)
		}
	}

	playhead := 0.0
	if s.cfg.Host != nil {
		playhead = s.cfg.Host.Playhead()
	}
	ref := idx.Find(playhead)
	if ref == nil {
		ref = idx.First()
	}

	return s.fetchLoop(fetchCtx, idx, ref)
}

// fetchLoop fetches successive segment references until the backpressure
// window is full, the index is exhausted (-> Ended, for static manifests),
// or a pending switch is due at the next boundary.
func (s *Stream) fetchLoop(ctx context.Context, idx *SegmentIndex, ref *SegmentReference) error {
	first := true
	for ref != nil {
		select {
		case <-ctx.Done():
			return nil // aborted: swallowed per spec.md §5
		default:
		}

		s.mu.Lock()
		if s.state == StreamDestroyed {
			s.mu.Unlock()
			return nil
		}
		pending := s.pendingSwitch
		s.mu.Unlock()

		if pending != nil {
			s.mu.Lock()
			s.pendingSwitch = nil
			s.current = pending.info
			s.state = StreamSwitching
			s.mu.Unlock()
			return s.startFetch(ctx, pending.info)
		}

		playhead := 0.0
		if s.cfg.Host != nil {
			playhead = s.cfg.Host.Playhead()
		}
		if ref.StartTime > playhead+s.cfg.Ahead.Seconds() {
			break
		}

		if err := s.fetchAndAppend(ctx, ref, first); err != nil {
			if errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled) {
				return nil
			}
			s.publishError(err)
			return err
		}
		first = false

		s.evictOutsideWindow(playhead)

		s.mu.Lock()
		switch s.state {
		case StreamStarting, StreamSwitching:
			s.state = StreamBuffering
		}
		if ref.EndTime != nil && playhead >= ref.StartTime && *ref.EndTime-playhead >= s.cfg.MinBufferTime.Seconds() {
			s.state = StreamPlaying
		}
		s.mu.Unlock()

		if ref.EndTime == nil {
			// Open-ended trailing reference of a live stream: nothing more
			// to fetch until a manifest update appends its successor.
			ref = nil
			break
		}
		next := idx.Find(*ref.EndTime)
		if next == nil || next.Index == ref.Index {
			ref = nil
			break
		}
		ref = next
	}

	s.mu.Lock()
	lastWasAppended := idx.Last() != nil && idx.Last().EndTime != nil
	host := s.cfg.Host
	s.mu.Unlock()
	if lastWasAppended && ref == nil && host != nil && !host.IsLive() {
		s.mu.Lock()
		s.state = StreamEnded
		s.mu.Unlock()
		s.cfg.Bus.Publish(Event{Kind: EventEnded, StreamID: s.id, ContentType: s.cfg.ContentType})
	}

	return nil
}

// fetchAndAppend fetches one segment reference's bytes (with retry) and
// appends them to the sink, measuring timestamp correction on the very
// first segment of the stream's lifetime.
func (s *Stream) fetchAndAppend(ctx context.Context, ref *SegmentReference, isFirst bool) error {
	var fr FetchRange
	if ref.ByteRange != nil {
		fr = FetchRange{Start: ref.ByteRange.Start, End: ref.ByteRange.End}
	}

	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	var breaker *httpclient.CircuitBreaker
	if current != nil {
		breaker = s.breakerFor(current.UniqueID)
	}
	policy := s.retryPolicy()
	policy.Breaker = breaker

	start := time.Now()
	var result FetchResult
	fetchErr := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		var br *FetchRange
		if ref.ByteRange != nil {
			br = &fr
		}
		result, err = s.cfg.Fetcher.Fetch(ctx, ref.URL, br)
		return err
	})
	elapsed := time.Since(start)

	if fetchErr != nil {
		if errors.Is(fetchErr, ErrAborted) || errors.Is(fetchErr, context.Canceled) {
			return ErrAborted
		}
		if breaker != nil && current != nil && breaker.State() == httpclient.CircuitOpen && s.cfg.Host != nil {
			s.cfg.Host.ExcludeFromABR(s.cfg.ContentType, current.UniqueID)
		}
		return &StreamFetchError{ContentType: s.cfg.ContentType, URL: ref.URL, Status: result.Status, Err: fetchErr}
	}

	if s.cfg.Estimator != nil {
		s.cfg.Estimator.Observe(s.cfg.ContentType, uint64(len(result.Bytes)), elapsed)
	}

	if err := s.cfg.Sink.Append(ctx, s.handle, result.Bytes); err != nil {
		return fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}

	if isFirst {
		s.measureCorrection(ref)
	}
	s.maybeAdapt(ctx)
	return nil
}

// maybeAdapt asks the ABR Manager whether to switch representation after a
// successful append, for Streams that carry one (video only; spec.md §4.4
// "choose(estimate, current)"). A chosen switch is queued for the next
// segment boundary (immediate=false), matching the Playing|switch transition
// of spec.md §4.5's table.
func (s *Stream) maybeAdapt(ctx context.Context) {
	if s.cfg.ABR == nil || s.cfg.Candidates == nil || s.cfg.Estimator == nil {
		return
	}

	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current == nil {
		return
	}

	candidateInfos := s.cfg.Candidates()
	candidates := make([]abrCandidate, 0, len(candidateInfos))
	for _, info := range candidateInfos {
		if !info.Enabled {
			continue
		}
		candidates = append(candidates, abrCandidate{UniqueID: info.UniqueID, Bandwidth: info.Bandwidth})
	}
	if len(candidates) == 0 {
		return
	}

	estimate := s.cfg.Estimator.Estimate(s.cfg.ContentType)
	chosenID := s.cfg.ABR.Choose(candidates, abrCandidate{UniqueID: current.UniqueID, Bandwidth: current.Bandwidth}, estimate)
	if chosenID == current.UniqueID {
		return
	}

	var next *StreamInfo
	for _, info := range candidateInfos {
		if info.UniqueID == chosenID {
			next = info
			break
		}
	}
	if next == nil {
		return
	}

	if err := s.switchInternal(ctx, next, false); err != nil {
		return
	}
	s.cfg.Bus.Publish(Event{Kind: EventAdaptation, ContentType: s.cfg.ContentType, NewInfo: next})
}

// measureCorrection records delta = observed_start - reference_start for
// the stream's first appended segment and publishes a started event
// (spec.md §4.5 "Timestamp correction"). The coordinator, not the stream,
// applies this correction to segment indices.
func (s *Stream) measureCorrection(ref *SegmentReference) {
	s.mu.Lock()
	if s.corrected {
		s.mu.Unlock()
		return
	}
	s.corrected = true

	// Absent a real demuxed container PTS (out of scope here; that's the
	// media sink's job), a caller that never calls SetObservedStart has not
	// observed anything, so the observed start defaults to the reference's
	// own StartTime, giving delta=0. This must be a live default evaluated
	// here, not observedStart's zero value: ref.StartTime is rarely 0 for a
	// real manifest's first segment, and using the zero value as the
	// fallback would silently produce delta=-ref.StartTime instead.
	observed := s.observedStart
	if !s.observedStartSet {
		observed = ref.StartTime
	}
	delta := observed - ref.StartTime
	s.correctionValue = delta
	s.mu.Unlock()

	close(s.correctionDone)
	s.cfg.Bus.Publish(Event{
		Kind:                EventStarted,
		StreamID:            s.id,
		ContentType:         s.cfg.ContentType,
		TimestampCorrection: delta,
	})
}

// SetObservedStart records the PTS actually observed for the next segment
// marked isFirst, for measureCorrection to diff against that reference's
// declared StartTime. Must be called before Switch. Without a call here,
// measureCorrection assumes the reference's own StartTime was observed
// (delta=0) rather than defaulting to float64's zero value.
func (s *Stream) SetObservedStart(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observedStart = t
	s.observedStartSet = true
}

func (s *Stream) evictOutsideWindow(playhead float64) {
	s.mu.Lock()
	idx := s.idx
	handle, hasTrack := s.handle, s.hasTrack
	s.mu.Unlock()
	if idx == nil || !hasTrack {
		return
	}
	threshold := playhead - s.cfg.Behind.Seconds()
	evicted := idx.Evict(threshold)
	if evicted > 0 {
		_ = s.cfg.Sink.Evict(context.Background(), handle, 0, threshold)
	}
}

func (s *Stream) retryPolicy() *RetryPolicy {
	if s.cfg.Retry != nil {
		return s.cfg.Retry
	}
	return NewRetryPolicy(DefaultRetryAttempts, DefaultRetryBaseDelay, DefaultRetryBackoffFactor, s.cfg.Clock, nil)
}

func (s *Stream) publishError(err error) {
	s.cfg.Bus.Publish(Event{Kind: EventError, StreamID: s.id, ContentType: s.cfg.ContentType, Err: err})
}
