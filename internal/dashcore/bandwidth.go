package dashcore

import (
	"math"
	"sync"
	"time"
)

// Default bandwidth estimator tuning (spec.md C1, mirrored in
// internal/config.BandwidthConfig defaults).
const (
	DefaultBandwidthWindowSize   = 30
	DefaultBandwidthSamplePeriod = time.Second

	// ewmaHalfLife controls how quickly the estimate forgets past samples;
	// chosen so a sustained rate change dominates the estimate within a
	// handful of sample periods, matching the "sustained for >= 5s" hysteresis
	// the ABR Manager layers on top (spec.md §4.4).
	ewmaHalfLife = 4.0
)

// bandwidthSample is one observed fetch: bytes transferred over a duration.
type bandwidthSample struct {
	bytes    uint64
	duration time.Duration
}

// BandwidthEstimator keeps an exponentially-weighted throughput estimate per
// content type from observed segment fetches (spec.md C1), in bits/sec so it
// is directly comparable to StreamInfo.Bandwidth. It also keeps a short
// rolling sample history for diagnostics/UI, mirroring the teacher's edge
// bandwidth trackers.
type BandwidthEstimator struct {
	mu           sync.RWMutex
	windowSize   int
	samplePeriod time.Duration

	estimate map[ContentType]float64 // bits/sec, EWMA
	history  map[ContentType][]bandwidthSample

	bus *EventBus
}

// NewBandwidthEstimator creates an estimator with the given window/sample
// settings. Pass bus to publish "bandwidth" events on every Observe; may be
// nil.
func NewBandwidthEstimator(windowSize int, samplePeriod time.Duration, bus *EventBus) *BandwidthEstimator {
	if windowSize <= 0 {
		windowSize = DefaultBandwidthWindowSize
	}
	if samplePeriod <= 0 {
		samplePeriod = DefaultBandwidthSamplePeriod
	}
	return &BandwidthEstimator{
		windowSize:   windowSize,
		samplePeriod: samplePeriod,
		estimate:     make(map[ContentType]float64),
		history:      make(map[ContentType][]bandwidthSample),
		bus:          bus,
	}
}

// Observe records one completed fetch of byteCount bytes over elapsed and
// folds it into the content type's EWMA estimate.
func (b *BandwidthEstimator) Observe(ct ContentType, byteCount uint64, elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}

	instantBps := 8 * float64(byteCount) / elapsed.Seconds()

	b.mu.Lock()
	prev, ok := b.estimate[ct]
	if !ok {
		b.estimate[ct] = instantBps
	} else {
		alpha := 1 - math.Pow(2, -1.0/ewmaHalfLife)
		b.estimate[ct] = alpha*instantBps + (1-alpha)*prev
	}

	hist := append(b.history[ct], bandwidthSample{bytes: byteCount, duration: elapsed})
	if len(hist) > b.windowSize {
		hist = hist[len(hist)-b.windowSize:]
	}
	b.history[ct] = hist
	current := b.estimate[ct]
	b.mu.Unlock()

	if b.bus != nil {
		b.bus.Publish(Event{Kind: EventBandwidth, ContentType: ct, BandwidthBps: current})
	}
}

// Estimate returns the current EWMA throughput estimate in bits/sec for a
// content type, or 0 if no samples have been observed yet.
func (b *BandwidthEstimator) Estimate(ct ContentType) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.estimate[ct]
}

// History returns a snapshot of recent per-fetch throughput samples
// (bits/sec) for a content type, most recent last.
func (b *BandwidthEstimator) History(ct ContentType) []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	samples := b.history[ct]
	out := make([]float64, len(samples))
	for i, s := range samples {
		if s.duration > 0 {
			out[i] = 8 * float64(s.bytes) / s.duration.Seconds()
		}
	}
	return out
}

// Reset clears all tracked state for a content type.
func (b *BandwidthEstimator) Reset(ct ContentType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.estimate, ct)
	delete(b.history, ct)
}
