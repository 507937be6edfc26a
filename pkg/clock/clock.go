// Package clock provides the production dashcore.Clock implementation
// backed by the standard library's monotonic/wall time and timers.
package clock

import (
	"time"

	"github.com/nilstream/dashcore/internal/dashcore"
)

// System is the real wall/monotonic clock and timer source.
type System struct {
	origin time.Time
}

// New returns a System clock whose Monotonic origin is the moment of
// construction.
func New() *System {
	return &System{origin: time.Now()}
}

// Monotonic returns seconds elapsed since the clock was constructed.
func (s *System) Monotonic() float64 {
	return time.Since(s.origin).Seconds()
}

// Wall returns the current unix time in seconds.
func (s *System) Wall() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// AfterFunc schedules fn to run once after d seconds.
func (s *System) AfterFunc(d float64, fn func()) dashcore.Timer {
	return timerHandle{t: time.AfterFunc(time.Duration(d*float64(time.Second)), fn)}
}

// timerHandle adapts *time.Timer to dashcore.Timer's Stop() bool signature.
type timerHandle struct {
	t *time.Timer
}

func (h timerHandle) Stop() bool { return h.t.Stop() }
