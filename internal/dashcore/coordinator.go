package dashcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Restrictions bounds which StreamInfos may be selected (spec.md §4.7
// "Restrictions"). A zero value in a field means "no bound" for that field.
type Restrictions struct {
	MaxWidth     int
	MaxHeight    int
	MaxBandwidth int64
	MinBandwidth int64
}

func (r Restrictions) allows(info *StreamInfo) bool {
	if r.MaxWidth > 0 && info.Width > r.MaxWidth {
		return false
	}
	if r.MaxHeight > 0 && info.Height > r.MaxHeight {
		return false
	}
	if r.MaxBandwidth > 0 && info.Bandwidth > r.MaxBandwidth {
		return false
	}
	if r.MinBandwidth > 0 && info.Bandwidth < r.MinBandwidth {
		return false
	}
	return true
}

// PlayWindow is the mutually available time range across the currently
// selected indices (spec.md §3).
type PlayWindow struct {
	Start float64
	End   float64
}

// Track is a materialised view of one StreamInfo for the track listing
// operations, flagging the currently active representation (spec.md §4.7).
type Track struct {
	UniqueID  int
	MIMEType  string
	Bandwidth int64
	Width     int
	Height    int
	Lang      string
	Enabled   bool
	Active    bool
}

// CoordinatorConfig bundles a Coordinator's fixed collaborators, set once at
// construction.
type CoordinatorConfig struct {
	Fetcher       Fetcher
	Clock         Clock
	TypeSupport   TypeSupport
	Credentials   CredentialProvider
	Bus           *EventBus
	Logger        *slog.Logger
	MinBufferTime time.Duration // default for streams lacking a manifest value

	Behind time.Duration
	Ahead  time.Duration

	RetryAttempts      int
	RetryBaseDelay     time.Duration
	RetryBackoffFactor float64

	ABRInitialTargetFactor float64
	ABRUpswitchFactor      float64
	ABRUpswitchSustainFor  time.Duration
	ABRDownswitchFactor    float64

	BandwidthWindowSize   int
	BandwidthSamplePeriod time.Duration

	CircuitFailureThreshold int
	CircuitTimeout          time.Duration
	CircuitHalfOpenMax      int

	// ManifestParser reparses a freshly fetched dynamic-manifest payload
	// into a *Manifest for the live update loop (runUpdate). Manifest
	// parsing is an external collaborator (spec.md §1 "Out of scope"), so
	// production callers must supply this; it defaults to a func returning
	// an error, not to a package-level hook, so two Coordinators configured
	// with different parsers never race over shared state.
	ManifestParser func([]byte) (*Manifest, error)
}

// Coordinator is the Stream Coordinator (spec.md C7, §4.7): it owns the set
// of per-type Streams, selects representations from the processed manifest,
// computes the common play window, and drives start/seek/EOS/update.
type Coordinator struct {
	cfg CoordinatorConfig

	mu                sync.Mutex
	manifest          *Manifest
	loaded            bool
	destroyed         bool
	preferredLanguage string

	streamSetsByType map[ContentType][]*StreamSet
	streams          map[ContentType]*Stream
	restrictions      Restrictions
	textEnabled      bool

	abr       *ABRManager
	estimator *BandwidthEstimator

	sink                 MediaSink
	originalPlaybackRate float64
	firstSeekSeen        bool
	unsubscribeSink      func()

	window PlayWindow

	updateTimer    Timer
	updateInFlight bool
	lastUpdateAt   time.Time

	period *Period // the single active period (§9 open question 3)

	endedTypes map[ContentType]bool
	eosSub     *Subscription

	logger *slog.Logger
}

// NewCoordinator constructs a Coordinator that takes ownership of manifest.
func NewCoordinator(manifest *Manifest, cfg CoordinatorConfig) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ManifestParser == nil {
		cfg.ManifestParser = func([]byte) (*Manifest, error) {
			return nil, fmt.Errorf("dashcore: no manifest parser configured")
		}
	}
	bus := cfg.Bus
	if bus == nil {
		bus = NewEventBus()
	}
	c := &Coordinator{
		cfg:              cfg,
		manifest:         manifest,
		streamSetsByType: make(map[ContentType][]*StreamSet),
		streams:          make(map[ContentType]*Stream),
		textEnabled:      true,
		logger:           cfg.Logger.With(slog.String("component", "coordinator")),
	}
	c.cfg.Bus = bus
	c.estimator = NewBandwidthEstimator(cfg.BandwidthWindowSize, cfg.BandwidthSamplePeriod, bus)
	c.abr = NewABRManager(cfg.ABRInitialTargetFactor, cfg.ABRUpswitchFactor, cfg.ABRDownswitchFactor, cfg.ABRUpswitchSustainFor, cfg.Clock)
	return c
}

// Load runs the Manifest Processor (C9), remembers preferredLanguage, and
// marks the coordinator loaded (spec.md §4.7 "load").
func (c *Coordinator) Load(preferredLanguage string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	if c.loaded {
		return ErrAlreadyLoaded
	}
	if err := ProcessManifest(c.manifest, c.cfg.TypeSupport); err != nil {
		return err
	}
	c.preferredLanguage = preferredLanguage
	c.loaded = true
	if len(c.manifest.Periods) > 0 {
		c.period = c.manifest.Periods[0]
	}
	return nil
}

// Configurations returns, per content type, the ordered list of eligible
// StreamSets for the active period, before selection.
func (c *Coordinator) Configurations() map[ContentType][]*StreamSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[ContentType][]*StreamSet)
	if c.period == nil {
		return out
	}
	for _, set := range c.period.StreamSets {
		out[set.ContentType] = append(out[set.ContentType], set)
	}
	return out
}

// SelectConfigurations applies the selection policy of spec.md §4.7:
// video keeps exactly one StreamSet, audio keeps every MIME-compatible set,
// text keeps every set; audio/text are then ordered by language match
// against the preferred language, falling back to the set flagged main.
func (c *Coordinator) SelectConfigurations(chosen map[ContentType][]*StreamSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	if !c.loaded {
		return ErrNotLoaded
	}

	for ct, sets := range chosen {
		cp := make([]*StreamSet, len(sets))
		copy(cp, sets)

		if ct == ContentTypeVideo && len(cp) > 1 {
			cp = cp[:1]
		}

		if ct == ContentTypeAudio || ct == ContentTypeText {
			orderByLanguage(cp, c.preferredLanguage)
		}

		c.streamSetsByType[ct] = cp
	}
	return nil
}

// orderByLanguage moves the best language match (C8's fuzz ladder) to the
// front of sets, in place.
func orderByLanguage(sets []*StreamSet, preferred string) {
	if len(sets) <= 1 {
		return
	}
	candidates := make([]langCandidate, len(sets))
	for i, s := range sets {
		candidates[i] = langCandidate{Index: i, Lang: s.Lang, Main: s.Main}
	}
	best := MatchLanguage(candidates, preferred)
	if best <= 0 {
		return
	}
	sets[0], sets[best] = sets[best], sets[0]
}

// VideoTracks, AudioTracks, and TextTracks return materialised views over
// stream_sets_by_type filtered by enabled, with the active representation
// flagged.
func (c *Coordinator) VideoTracks() []Track { return c.tracksFor(ContentTypeVideo) }
func (c *Coordinator) AudioTracks() []Track { return c.tracksFor(ContentTypeAudio) }
func (c *Coordinator) TextTracks() []Track  { return c.tracksFor(ContentTypeText) }

func (c *Coordinator) tracksFor(ct ContentType) []Track {
	c.mu.Lock()
	defer c.mu.Unlock()

	var activeID int
	if stream, ok := c.streams[ct]; ok {
		if info := stream.Current(); info != nil {
			activeID = info.UniqueID
		}
	}

	var out []Track
	for _, set := range c.streamSetsByType[ct] {
		for _, info := range set.Streams {
			if !info.Enabled {
				continue
			}
			out = append(out, Track{
				UniqueID:  info.UniqueID,
				MIMEType:  info.FullMIMEType,
				Bandwidth: info.Bandwidth,
				Width:     info.Width,
				Height:    info.Height,
				Lang:      set.Lang,
				Enabled:   info.Enabled,
				Active:    info.UniqueID == activeID,
			})
		}
	}
	return out
}

// SelectVideoTrack, SelectAudioTrack, and SelectTextTrack find the
// StreamInfo with matching uniqueID among the selected sets for that type
// and forward to the type's Stream.Switch. Returns false if not found or the
// type has no active Stream.
func (c *Coordinator) SelectVideoTrack(ctx context.Context, uniqueID int, immediate bool) bool {
	return c.selectTrack(ctx, ContentTypeVideo, uniqueID, immediate)
}
func (c *Coordinator) SelectAudioTrack(ctx context.Context, uniqueID int, immediate bool) bool {
	return c.selectTrack(ctx, ContentTypeAudio, uniqueID, immediate)
}
func (c *Coordinator) SelectTextTrack(ctx context.Context, uniqueID int, immediate bool) bool {
	return c.selectTrack(ctx, ContentTypeText, uniqueID, immediate)
}

func (c *Coordinator) selectTrack(ctx context.Context, ct ContentType, uniqueID int, immediate bool) bool {
	c.mu.Lock()
	stream, ok := c.streams[ct]
	info := c.findStreamInfo(ct, uniqueID)
	c.mu.Unlock()
	if !ok || info == nil {
		return false
	}
	var err error
	if immediate {
		err = stream.SwitchImmediate(ctx, info)
	} else {
		err = stream.Switch(ctx, info)
	}
	if err != nil {
		c.logger.Warn("track switch failed", slog.String("error", err.Error()))
		return false
	}
	c.cfg.Bus.Publish(Event{Kind: EventAdaptation, ContentType: ct, NewInfo: info})
	c.cfg.Bus.Publish(Event{Kind: EventTracksChanged})
	return true
}

func (c *Coordinator) findStreamInfo(ct ContentType, uniqueID int) *StreamInfo {
	for _, set := range c.streamSetsByType[ct] {
		for _, info := range set.Streams {
			if info.UniqueID == uniqueID {
				return info
			}
		}
	}
	return nil
}

// EnableTextTrack toggles whether the text Stream participates in
// start_streams and update handling.
func (c *Coordinator) EnableTextTrack(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.textEnabled = on
}

// EnableAdaptation toggles the ABR Manager.
func (c *Coordinator) EnableAdaptation(on bool) {
	c.abr.Enable(on)
}

// SetRestrictions walks every StreamInfo in every period, enabling/disabling
// by width/height/bandwidth bound, and immediately switches away from any
// currently-playing but now-disabled representation (spec.md §4.7
// "Restrictions"). Idempotent: applying the same restrictions twice yields
// the same enabled map.
func (c *Coordinator) SetRestrictions(ctx context.Context, r Restrictions) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	c.restrictions = r
	for _, period := range c.manifest.Periods {
		for _, set := range period.StreamSets {
			for _, info := range set.Streams {
				info.Enabled = r.allows(info)
			}
		}
	}

	type needsSwitch struct {
		ct      ContentType
		stream  *Stream
		current *StreamInfo
	}
	var toSwitch []needsSwitch
	for ct, stream := range c.streams {
		cur := stream.Current()
		if cur != nil && !cur.Enabled {
			toSwitch = append(toSwitch, needsSwitch{ct: ct, stream: stream, current: cur})
		}
	}
	c.mu.Unlock()

	for _, ns := range toSwitch {
		replacement := c.bestEnabledPeer(ns.ct, ns.current)
		if replacement == nil {
			return ErrNoPlayableStream
		}
		if err := ns.stream.SwitchImmediate(ctx, replacement); err != nil {
			return err
		}
		c.cfg.Bus.Publish(Event{Kind: EventAdaptation, ContentType: ns.ct, NewInfo: replacement})
	}
	c.cfg.Bus.Publish(Event{Kind: EventTracksChanged})
	return nil
}

// bestEnabledPeer finds an enabled StreamInfo of the same content type,
// preferring one in current's own StreamSet before trying other sets of the
// same type (spec.md §4.7 "Restrictions").
func (c *Coordinator) bestEnabledPeer(ct ContentType, current *StreamInfo) *StreamInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, set := range c.streamSetsByType[ct] {
		for _, info := range set.Streams {
			if info == current || !info.Enabled {
				continue
			}
			for _, own := range set.Streams {
				if own == current {
					return info
				}
			}
		}
	}
	for _, set := range c.streamSetsByType[ct] {
		for _, info := range set.Streams {
			if info.Enabled && info != current {
				return info
			}
		}
	}
	return nil
}

// IsLive reports whether the manifest is dynamic.
func (c *Coordinator) IsLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manifest.Kind == ManifestDynamic
}

// Playhead implements StreamHost for the owned Streams.
func (c *Coordinator) Playhead() float64 {
	if c.sink == nil {
		return 0
	}
	return c.sink.Playhead()
}

// ExcludeFromABR implements StreamHost: a Stream's per-representation
// circuit breaker tripped, so the ABR Manager stops offering uniqueID until
// the breaker's reset timeout elapses (SPEC_FULL.md "Circuit breaker around
// segment fetch").
func (c *Coordinator) ExcludeFromABR(ct ContentType, uniqueID int) {
	if ct != ContentTypeVideo {
		return
	}
	var nowSeconds float64
	if c.cfg.Clock != nil {
		nowSeconds = c.cfg.Clock.Monotonic()
	}
	timeout := c.cfg.CircuitTimeout
	if timeout <= 0 {
		timeout = DefaultCircuitTimeout
	}
	c.abr.Exclude(uniqueID, nowSeconds+timeout.Seconds())
	c.logger.Warn("representation excluded from ABR after circuit trip", slog.Int("unique_id", uniqueID))
}

// ResumeThreshold is the manifest's min_buffer_time.
func (c *Coordinator) ResumeThreshold() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.manifest.MinBufferTime * float64(time.Second))
}

// Attach binds to the media sink, waits for sink-ready, then runs
// start_streams. Returns once the first bytes are appended.
func (c *Coordinator) Attach(ctx context.Context, sink MediaSink) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if !c.loaded {
		c.mu.Unlock()
		return ErrNotLoaded
	}
	c.sink = sink
	c.mu.Unlock()

	for sink.ReadyState() != SinkReady {
		ready := make(chan struct{})
		unsub := sink.Subscribe(func(ev SinkEvent) {
			if ev.Kind == SinkEventOpen {
				select {
				case ready <- struct{}{}:
				default:
				}
			}
		})
		select {
		case <-ready:
		case <-ctx.Done():
			unsub()
			return ctx.Err()
		}
		unsub()
	}

	c.unsubscribeSink = sink.Subscribe(c.onSinkEvent)
	c.watchForEndOfStream()

	return c.startStreams(ctx)
}

// watchForEndOfStream subscribes to EventEnded and signals the sink's
// endOfStream once every active type's Stream has ended, for static
// manifests only (spec.md §4.7 "End of stream"). The subscription lives for
// the Coordinator's lifetime; Destroy tears it down.
func (c *Coordinator) watchForEndOfStream() {
	sub := c.cfg.Bus.Subscribe(EventEnded)
	c.mu.Lock()
	c.eosSub = sub
	if c.endedTypes == nil {
		c.endedTypes = make(map[ContentType]bool)
	}
	c.mu.Unlock()

	go func() {
		for ev := range sub.Events() {
			c.mu.Lock()
			c.endedTypes[ev.ContentType] = true
			allEnded := len(c.streams) > 0 && len(c.endedTypes) >= len(c.streams)
			isStatic := c.manifest.Kind == ManifestStatic
			destroyed := c.destroyed
			c.mu.Unlock()

			if allEnded && isStatic && !destroyed {
				c.onAllStreamsEnded(context.Background())
			}
		}
	}()
}

// onAllStreamsEnded runs SPEC_FULL.md Open Question 3's decision: advance to
// the next non-empty period by start order if one exists, otherwise signal
// endOfStream to the sink (spec.md §4.7 "End of stream").
func (c *Coordinator) onAllStreamsEnded(ctx context.Context) {
	next := c.nextPeriod()
	if next != nil {
		c.advancePeriod(ctx, next)
		return
	}

	c.mu.Lock()
	sink := c.sink
	destroyed := c.destroyed
	c.mu.Unlock()
	if destroyed || sink == nil || sink.ReadyState() != SinkReady {
		return
	}
	if err := sink.EndOfStream(ctx); err != nil {
		c.logger.Warn("end of stream signal failed", slog.String("error", err.Error()))
	}
}

// nextPeriod returns the first non-empty period after the currently active
// one, by manifest order (manifest.Periods is already start-ordered), or nil
// if none exists.
func (c *Coordinator) nextPeriod() *Period {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.period == nil {
		return nil
	}
	found := false
	for _, p := range c.manifest.Periods {
		if found {
			if len(p.StreamSets) > 0 {
				return p
			}
			continue
		}
		if p == c.period {
			found = true
		}
	}
	return nil
}

// advancePeriod tears down the current period's Streams, applies the
// selection policy (§4.7 "Selection policy") to next's stream sets, and
// restarts the start sequence against it.
func (c *Coordinator) advancePeriod(ctx context.Context, next *Period) {
	c.mu.Lock()
	streams := make([]*Stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	c.mu.Unlock()
	for _, s := range streams {
		s.Destroy()
	}

	c.mu.Lock()
	byType := make(map[ContentType][]*StreamSet)
	for _, set := range next.StreamSets {
		byType[set.ContentType] = append(byType[set.ContentType], set)
	}
	for ct, sets := range byType {
		cp := make([]*StreamSet, len(sets))
		copy(cp, sets)
		if ct == ContentTypeVideo && len(cp) > 1 {
			cp = cp[:1]
		}
		if ct == ContentTypeAudio || ct == ContentTypeText {
			orderByLanguage(cp, c.preferredLanguage)
		}
		byType[ct] = cp
	}
	c.period = next
	c.streamSetsByType = byType
	c.streams = make(map[ContentType]*Stream)
	c.endedTypes = make(map[ContentType]bool)
	c.mu.Unlock()

	if err := c.startStreams(ctx); err != nil {
		c.cfg.Bus.Publish(Event{Kind: EventError, Err: err})
	}
}

func (c *Coordinator) onSinkEvent(ev SinkEvent) {
	if ev.Kind != SinkEventSeeking {
		return
	}
	c.mu.Lock()
	if !c.firstSeekSeen {
		c.firstSeekSeen = true
		c.mu.Unlock()
		return
	}
	streams := make([]*Stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	c.mu.Unlock()

	for _, s := range streams {
		if err := s.Resync(context.Background()); err != nil {
			c.logger.Warn("resync failed", slog.String("error", err.Error()))
		}
	}
}

// startStreams runs the six-step sequence of spec.md §4.7 "Start
// sequence".
func (c *Coordinator) startStreams(ctx context.Context) error {
	c.mu.Lock()
	period := c.period
	byType := make(map[ContentType][]*StreamSet, len(c.streamSetsByType))
	for ct, sets := range c.streamSetsByType {
		byType[ct] = sets
	}
	textEnabled := c.textEnabled
	sink := c.sink
	c.mu.Unlock()

	if period == nil {
		return ErrManifestEmpty
	}

	// Step 1: pick an initial StreamInfo per present type.
	initial := make(map[ContentType]*StreamInfo)
	for ct, sets := range byType {
		if ct == ContentTypeText && !textEnabled {
			continue
		}
		if len(sets) == 0 || len(sets[0].Streams) == 0 {
			continue
		}
		set := sets[0]
		switch ct {
		case ContentTypeVideo:
			candidates := make([]abrCandidate, len(set.Streams))
			for i, info := range set.Streams {
				candidates[i] = abrCandidate{UniqueID: info.UniqueID, Bandwidth: info.Bandwidth}
			}
			estimate := c.estimator.Estimate(ContentTypeVideo)
			id := c.abr.InitialVideoID(candidates, estimate)
			initial[ct] = findByID(set.Streams, id)
		case ContentTypeAudio:
			initial[ct] = set.Streams[len(set.Streams)/2]
		case ContentTypeText:
			initial[ct] = set.Streams[0]
		}
	}

	// Step 2: create each chosen StreamInfo's SegmentIndex in parallel.
	indices := make(map[ContentType]*SegmentIndex, len(initial))
	var idxMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for ct, info := range initial {
		ct, info := ct, info
		g.Go(func() error {
			idx, err := info.IndexSource.Create(gctx)
			if err != nil {
				return err
			}
			idxMu.Lock()
			indices[ct] = idx
			idxMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Step 3: reject if any index is empty or the window is disjoint.
	window, ok := computePlayWindow(indices, c.manifest.Kind, float64(c.cfg.MinBufferTime.Seconds()), period.Duration)
	if !ok {
		if c.manifest.Kind == ManifestDynamic {
			c.scheduleUpdate(0)
			return nil
		}
		return ErrStreamsNotAvailable
	}

	// Step 4: freeze playback rate, set duration, seek.
	c.mu.Lock()
	c.originalPlaybackRate = sink.PlaybackRate()
	c.window = window
	c.mu.Unlock()

	_ = sink.SetPlaybackRate(0)
	duration := period.Duration
	if c.manifest.Kind == ManifestDynamic {
		duration = window.End
	}
	_ = sink.SetDuration(duration)
	if c.manifest.Kind == ManifestDynamic {
		_ = sink.Seek(window.End)
	} else {
		_ = sink.Seek(window.Start)
	}

	// Step 5: instantiate and start one Stream per type.
	started := make([]*Stream, 0, len(initial))
	for ct, info := range initial {
		scfg := StreamConfig{
			ContentType:             ct,
			Fetcher:                 c.cfg.Fetcher,
			Sink:                    sink,
			Clock:                   c.cfg.Clock,
			Bus:                     c.cfg.Bus,
			Host:                    c,
			Estimator:               c.estimator,
			Retry:                   NewRetryPolicy(c.cfg.RetryAttempts, c.cfg.RetryBaseDelay, c.cfg.RetryBackoffFactor, c.cfg.Clock, nil),
			Behind:                  c.cfg.Behind,
			Ahead:                   c.cfg.Ahead,
			MinBufferTime:           c.cfg.MinBufferTime,
			CircuitFailureThreshold: c.cfg.CircuitFailureThreshold,
			CircuitTimeout:          c.cfg.CircuitTimeout,
			CircuitHalfOpenMax:      c.cfg.CircuitHalfOpenMax,
		}
		if ct == ContentTypeVideo {
			scfg.ABR = c.abr
			scfg.Candidates = func() []*StreamInfo { return c.videoCandidates() }
		}
		stream := NewStream(scfg, c.logger)

		c.mu.Lock()
		c.streams[ct] = stream
		c.mu.Unlock()

		if err := stream.Switch(ctx, info); err != nil {
			return err
		}
		started = append(started, stream)
	}

	// Step 6: wait for every Stream to report started, compute corrections.
	corrections := make([]float64, 0, len(started))
	for _, stream := range started {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stream.Started():
			corrections = append(corrections, stream.Correction())
		}
	}

	if len(corrections) > 0 {
		maxC, minC := corrections[0], corrections[0]
		for _, d := range corrections {
			if d > maxC {
				maxC = d
			}
			if d < minC {
				minC = d
			}
		}
		if (maxC > 0 && minC < 0) || (maxC < 0 && minC > 0) {
			c.logger.Warn("timestamp corrections disagree in sign", slog.Float64("max", maxC), slog.Float64("min", minC))
		}
		if maxC != 0 {
			for _, idx := range indices {
				idx.Correct(maxC)
			}
			_ = sink.Seek(sink.Playhead() + maxC)
		}
	}

	_ = sink.SetPlaybackRate(c.originalPlaybackRate)

	if c.manifest.Kind == ManifestDynamic {
		c.scheduleUpdate(c.manifest.UpdatePeriod)
	}

	return nil
}

// videoCandidates returns the active video StreamSet's StreamInfos, for the
// video Stream's ongoing ABR decisions (spec.md §4.4).
func (c *Coordinator) videoCandidates() []*StreamInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	sets := c.streamSetsByType[ContentTypeVideo]
	if len(sets) == 0 {
		return nil
	}
	return sets[0].Streams
}

func findByID(streams []*StreamInfo, id int) *StreamInfo {
	for _, s := range streams {
		if s.UniqueID == id {
			return s
		}
	}
	if len(streams) > 0 {
		return streams[0]
	}
	return nil
}

// computePlayWindow implements spec.md §4.7 "Play window computation".
// Returns ok=false if any index is empty or start > end (disjoint).
func computePlayWindow(indices map[ContentType]*SegmentIndex, kind ManifestKind, minBufferTime, periodDuration float64) (PlayWindow, bool) {
	if len(indices) == 0 {
		return PlayWindow{}, false
	}

	start := 0.0
	first := true
	ends := make([]float64, 0, len(indices))
	allHaveFiniteEnd := true

	for _, idx := range indices {
		firstRef := idx.First()
		lastRef := idx.Last()
		if firstRef == nil || lastRef == nil {
			return PlayWindow{}, false
		}
		if first || firstRef.StartTime > start {
			start = firstRef.StartTime
			first = false
		}

		switch kind {
		case ManifestDynamic:
			end := lastRef.StartTime - minBufferTime
			if end < 0 {
				end = 0
			}
			ends = append(ends, end)
		default:
			if lastRef.EndTime != nil {
				ends = append(ends, *lastRef.EndTime)
			} else {
				allHaveFiniteEnd = false
			}
		}
	}

	var end float64
	if kind == ManifestDynamic {
		end = ends[0]
		for _, e := range ends[1:] {
			if e < end {
				end = e
			}
		}
	} else if allHaveFiniteEnd && len(ends) > 0 {
		end = ends[0]
		for _, e := range ends[1:] {
			if e < end {
				end = e
			}
		}
	} else {
		end = periodDuration
	}

	if start > end {
		return PlayWindow{}, false
	}
	return PlayWindow{Start: start, End: end}, true
}

// scheduleUpdate arms a one-shot timer after max(updatePeriod-elapsed, 3s),
// using robfig/cron's constant-delay schedule to compute the fire time
// (spec.md §4.7 "Live update loop").
func (c *Coordinator) scheduleUpdate(updatePeriod float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed || c.manifest.Kind != ManifestDynamic {
		return
	}
	if c.updateTimer != nil {
		c.updateTimer.Stop()
	}

	minDelay := 3 * time.Second
	delay := time.Duration(updatePeriod * float64(time.Second))
	if updatePeriod > 0 {
		elapsed := time.Duration(0)
		if !c.lastUpdateAt.IsZero() {
			elapsed = time.Since(c.lastUpdateAt)
		}
		sched := cron.ConstantDelaySchedule{Delay: delay}
		fire := sched.Next(time.Now().Add(-elapsed))
		delay = time.Until(fire)
	}
	if delay < minDelay {
		delay = minDelay
	}

	c.updateTimer = c.cfg.Clock.AfterFunc(delay.Seconds(), func() {
		c.runUpdate(context.Background())
	})
}

// runUpdate fetches the manifest via the injected hook, runs the Manifest
// Updater (C6), reconciles removed StreamInfos, re-applies restrictions, and
// reschedules (spec.md §4.7 "Live update loop"). At most one update runs at
// a time; a second timer fire is coalesced.
func (c *Coordinator) runUpdate(ctx context.Context) {
	c.mu.Lock()
	if c.destroyed || c.updateInFlight {
		c.mu.Unlock()
		return
	}
	c.updateInFlight = true
	updateURL := c.manifest.UpdateURL
	updatePeriod := c.manifest.UpdatePeriod
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.updateInFlight = false
		c.lastUpdateAt = time.Now()
		c.mu.Unlock()
		c.scheduleUpdate(updatePeriod)
	}()

	result, err := c.cfg.Fetcher.Fetch(ctx, updateURL, nil)
	if err != nil {
		if errors.Is(err, ErrAborted) {
			return
		}
		c.cfg.Bus.Publish(Event{Kind: EventError, Err: err})
		return
	}

	newManifest, err := c.cfg.ManifestParser(result.Bytes)
	if err != nil {
		c.cfg.Bus.Publish(Event{Kind: EventError, Err: err})
		return
	}

	c.mu.Lock()
	updateResult, err := UpdateManifest(c.manifest, newManifest)
	c.mu.Unlock()
	if err != nil {
		c.cfg.Bus.Publish(Event{Kind: EventError, Err: err})
		return
	}

	for _, removedInfo := range updateResult.Removed {
		c.handleRemovedStreamInfo(ctx, removedInfo)
	}

	restrictions := c.currentRestrictions()
	_ = c.SetRestrictions(ctx, restrictions)

	c.mu.Lock()
	noStreamsYet := len(c.streams) == 0
	c.mu.Unlock()
	if noStreamsYet {
		_ = c.startStreams(ctx)
	}
}

func (c *Coordinator) currentRestrictions() Restrictions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restrictions
}

// handleRemovedStreamInfo switches the owning Stream away from a removed
// StreamInfo if it was active, then lets it go (spec.md §4.7 "Live update
// loop").
func (c *Coordinator) handleRemovedStreamInfo(ctx context.Context, removed *StreamInfo) {
	c.mu.Lock()
	var target ContentType
	var stream *Stream
	for ct, s := range c.streams {
		if s.Current() == removed {
			target, stream = ct, s
			break
		}
	}
	c.mu.Unlock()
	if stream == nil {
		return
	}

	replacement := c.bestEnabledPeer(target, removed)
	if replacement == nil {
		c.logger.Warn("removed stream info had no surviving replacement", slog.String("content_type", target.String()))
		return
	}
	if err := stream.SwitchImmediate(ctx, replacement); err != nil {
		c.logger.Warn("switch away from removed stream info failed", slog.String("error", err.Error()))
	}
}

// Destroy cancels the update timer, aborts all in-flight fetches, destroys
// every Stream, and marks the coordinator Destroyed. Idempotent; after
// Destroy every public operation is a no-op or returns ErrDestroyed.
func (c *Coordinator) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	if c.updateTimer != nil {
		c.updateTimer.Stop()
	}
	streams := make([]*Stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	unsub := c.unsubscribeSink
	eosSub := c.eosSub
	c.mu.Unlock()

	for _, s := range streams {
		s.Destroy()
	}
	if unsub != nil {
		unsub()
	}
	if eosSub != nil {
		eosSub.Unsubscribe()
	}
	c.cfg.Bus.Close()
}
