package dashcore

import "context"

// Clock is the scheduler's monotonic and wall-clock time source (spec.md
// §6 "Consumed interfaces"). Production callers use pkg/clock.New();
// tests use a fake so timer-driven behavior (the live update loop,
// exponential backoff) is deterministic.
type Clock interface {
	// Monotonic returns seconds from an arbitrary, monotonically
	// increasing origin. Used for buffer windows and backoff timing.
	Monotonic() float64

	// Wall returns the current wall-clock time in unix seconds. No code in
	// this package calls it: segment availability of a dynamic manifest is
	// not evaluated against Manifest.AvailabilityStart.
	Wall() float64

	// AfterFunc schedules fn to run once after d has elapsed (seconds),
	// returning a handle whose Stop cancels the pending fire. Models the
	// scheduler's "one-shot timer" primitive (spec.md §5).
	AfterFunc(d float64, fn func()) Timer
}

// Timer is a cancellable one-shot timer handle.
type Timer interface {
	// Stop cancels the timer. Returns false if it already fired or was
	// already stopped.
	Stop() bool
}

// CredentialProvider supplies short-lived fetch credentials asynchronously.
// Modeled per SPEC_FULL.md's Open Question 2: the core never performs a
// synchronous "setToken" call; a token is always fetched on demand.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}
