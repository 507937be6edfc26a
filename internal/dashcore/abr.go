package dashcore

import (
	"sync"
	"time"
)

// Default ABR hysteresis tuning (spec.md C4, mirrored in
// internal/config.ABRConfig defaults).
const (
	DefaultInitialTargetFactor = 0.8
	DefaultUpswitchFactor      = 1.15
	DefaultUpswitchSustainFor  = 5 * time.Second
	DefaultDownswitchFactor    = 0.8
)

// abrCandidate is the minimal view of a video StreamInfo the manager needs
// to rank representations: its unique ID and bandwidth.
type abrCandidate struct {
	UniqueID  int
	Bandwidth int64
}

// ABRManager picks an initial video representation and decides ongoing
// switches from a bandwidth estimate, applying upswitch/downswitch
// hysteresis so a noisy estimate doesn't cause switch thrashing (spec.md
// §4.4).
type ABRManager struct {
	mu      sync.Mutex
	enabled bool

	initialTargetFactor float64
	upswitchFactor      float64
	upswitchSustainFor  time.Duration
	downswitchFactor    float64

	clock Clock

	// sustainedSince tracks when the estimate first crossed the upswitch
	// threshold for the current candidate target, so Choose can require it
	// to have held for upswitchSustainFor before committing.
	sustainedSince   time.Time
	sustainedTarget  int
	sustainedPending bool

	// excluded holds representations a Stream's circuit breaker has tripped
	// on, keyed by StreamInfo.UniqueID, mapped to the monotonic time they
	// become eligible again (SPEC_FULL.md "Circuit breaker around segment
	// fetch"). Filtered out of candidate lists unless doing so would leave
	// no candidate at all.
	excluded map[int]float64
}

// NewABRManager builds a manager with the given hysteresis tuning. clock
// supplies monotonic time for the upswitch sustain window; pass a fake in
// tests for determinism.
func NewABRManager(initialTargetFactor, upswitchFactor, downswitchFactor float64, upswitchSustainFor time.Duration, clock Clock) *ABRManager {
	if initialTargetFactor <= 0 {
		initialTargetFactor = DefaultInitialTargetFactor
	}
	if upswitchFactor <= 0 {
		upswitchFactor = DefaultUpswitchFactor
	}
	if downswitchFactor <= 0 {
		downswitchFactor = DefaultDownswitchFactor
	}
	if upswitchSustainFor <= 0 {
		upswitchSustainFor = DefaultUpswitchSustainFor
	}
	return &ABRManager{
		enabled:             true,
		initialTargetFactor: initialTargetFactor,
		upswitchFactor:      upswitchFactor,
		downswitchFactor:    downswitchFactor,
		upswitchSustainFor:  upswitchSustainFor,
		clock:               clock,
		excluded:            make(map[int]float64),
	}
}

// Exclude removes uniqueID from candidate consideration until untilSeconds
// (in the manager's clock's Monotonic domain) has passed (SPEC_FULL.md
// "Circuit breaker around segment fetch"): called when a Stream's breaker
// for that representation trips.
func (a *ABRManager) Exclude(uniqueID int, untilSeconds float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.excluded[uniqueID] = untilSeconds
}

// filterExcluded drops currently-excluded candidates, unless that would
// leave none (a fully-tripped StreamSet must still offer something).
func (a *ABRManager) filterExcluded(candidates []abrCandidate) []abrCandidate {
	if len(a.excluded) == 0 {
		return candidates
	}
	var nowSeconds float64
	if a.clock != nil {
		nowSeconds = a.clock.Monotonic()
	}

	out := make([]abrCandidate, 0, len(candidates))
	for _, c := range candidates {
		until, excluded := a.excluded[c.UniqueID]
		if excluded && nowSeconds < until {
			continue
		}
		if excluded {
			delete(a.excluded, c.UniqueID)
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return candidates
	}
	return out
}

// Enable turns adaptation on or off. When disabled, Choose always returns
// the current representation unchanged (spec.md §4.4).
func (a *ABRManager) Enable(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = on
	a.sustainedPending = false
}

// InitialVideoID picks a starting representation: the highest bitrate whose
// bandwidth is <= estimate * initialTargetFactor, or the lowest bitrate
// candidate if none qualifies (spec.md §4.4).
func (a *ABRManager) InitialVideoID(candidates []abrCandidate, estimateBps float64) int {
	if len(candidates) == 0 {
		return 0
	}

	a.mu.Lock()
	target := estimateBps * a.initialTargetFactor
	candidates = a.filterExcluded(candidates)
	a.mu.Unlock()

	best := candidates[0]
	haveQualifying := false
	lowest := candidates[0]

	for _, c := range candidates {
		if c.Bandwidth < lowest.Bandwidth {
			lowest = c
		}
		if float64(c.Bandwidth) <= target {
			if !haveQualifying || c.Bandwidth > best.Bandwidth {
				best = c
				haveQualifying = true
			}
		}
	}
	if !haveQualifying {
		return lowest.UniqueID
	}
	return best.UniqueID
}

// Choose decides whether to switch from current given a fresh bandwidth
// estimate and the set of candidates in the active StreamSet. Returns
// current.UniqueID unchanged when disabled, when no hysteresis condition is
// met, or when an upswitch hasn't yet sustained for upswitchSustainFor.
//
// Policy (spec.md §4.4): downswitch immediately when estimate drops below
// current * downswitchFactor; upswitch only when the estimate has stayed at
// or above target * upswitchFactor for >= upswitchSustainFor, where target
// is the bandwidth of the best candidate the estimate could otherwise
// support.
func (a *ABRManager) Choose(candidates []abrCandidate, current abrCandidate, estimateBps float64) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.enabled {
		return current.UniqueID
	}

	candidates = a.filterExcluded(candidates)

	if estimateBps < float64(current.Bandwidth)*a.downswitchFactor {
		a.sustainedPending = false
		return a.pickDownswitch(candidates, current, estimateBps)
	}

	upswitchTarget := a.pickUpswitchTarget(candidates, current, estimateBps)
	if upswitchTarget == nil {
		a.sustainedPending = false
		return current.UniqueID
	}

	now := monotonicTime(a.clock)
	if !a.sustainedPending || a.sustainedTarget != upswitchTarget.UniqueID {
		a.sustainedPending = true
		a.sustainedTarget = upswitchTarget.UniqueID
		a.sustainedSince = now
		return current.UniqueID
	}

	if now.Sub(a.sustainedSince) >= a.upswitchSustainFor {
		a.sustainedPending = false
		return upswitchTarget.UniqueID
	}
	return current.UniqueID
}

// pickUpswitchTarget returns the highest-bitrate candidate above current
// whose bandwidth is <= estimate / upswitchFactor, i.e. the estimate clears
// that candidate's bandwidth by at least upswitchFactor headroom.
func (a *ABRManager) pickUpswitchTarget(candidates []abrCandidate, current abrCandidate, estimateBps float64) *abrCandidate {
	var best *abrCandidate
	for i := range candidates {
		c := candidates[i]
		if c.Bandwidth <= current.Bandwidth {
			continue
		}
		if estimateBps < float64(c.Bandwidth)*a.upswitchFactor {
			continue
		}
		if best == nil || c.Bandwidth > best.Bandwidth {
			best = &c
		}
	}
	return best
}

// pickDownswitch returns the highest-bitrate candidate at or below the
// estimate, or the lowest-bitrate candidate if none qualifies.
func (a *ABRManager) pickDownswitch(candidates []abrCandidate, current abrCandidate, estimateBps float64) int {
	if len(candidates) == 0 {
		return current.UniqueID
	}
	best := candidates[0]
	haveQualifying := false
	lowest := candidates[0]
	for _, c := range candidates {
		if c.Bandwidth < lowest.Bandwidth {
			lowest = c
		}
		if float64(c.Bandwidth) <= estimateBps {
			if !haveQualifying || c.Bandwidth > best.Bandwidth {
				best = c
				haveQualifying = true
			}
		}
	}
	if !haveQualifying {
		return lowest.UniqueID
	}
	return best.UniqueID
}

func monotonicTime(c Clock) time.Time {
	if c == nil {
		return time.Time{}
	}
	return time.Unix(0, int64(c.Monotonic()*float64(time.Second)))
}
