package dashcore

import "errors"

// Sentinel errors matching the error taxonomy in spec.md §7. Callers should
// use errors.Is/errors.As against these rather than matching message text.
var (
	// ErrAborted marks a cancellation. It is swallowed internally and never
	// surfaced to a caller of a public Coordinator operation.
	ErrAborted = errors.New("dashcore: aborted")

	// ErrAlreadyLoaded is returned by Load when called more than once.
	ErrAlreadyLoaded = errors.New("dashcore: manifest already loaded")

	// ErrNotLoaded is returned by operations that require Load to have
	// succeeded first.
	ErrNotLoaded = errors.New("dashcore: manifest not loaded")

	// ErrManifestEmpty is returned when, after processing, no period has any
	// playable stream set.
	ErrManifestEmpty = errors.New("dashcore: manifest has no playable content")

	// ErrManifestIncompatible is returned by the Manifest Updater when the
	// incoming manifest cannot be reconciled with the live one.
	ErrManifestIncompatible = errors.New("dashcore: incoming manifest incompatible with live manifest")

	// ErrUnsupportedMedia is returned by SegmentIndexSource.Create when a
	// template source has an invalid timescale or segment duration.
	ErrUnsupportedMedia = errors.New("dashcore: no representation of a supported media type")

	// ErrStreamFetch is the kind used when a segment fetch has exhausted its
	// retry budget. Use StreamFetchError to recover the HTTP-ish status.
	ErrStreamFetch = errors.New("dashcore: segment fetch failed")

	// ErrStreamsNotAvailable is returned by startStreams when any selected
	// index is empty or the computed play window is disjoint.
	ErrStreamsNotAvailable = errors.New("dashcore: streams not available")

	// ErrNoPlayableStream is returned when restrictions excluded every
	// representation of some active content type.
	ErrNoPlayableStream = errors.New("dashcore: no playable stream left after restrictions")

	// ErrAppendFailed is returned when the media sink rejects appended bytes.
	// Treated as fatal.
	ErrAppendFailed = errors.New("dashcore: sink rejected appended bytes")

	// ErrDestroyed is returned by any public Coordinator/Stream operation
	// invoked after destroy() has run.
	ErrDestroyed = errors.New("dashcore: destroyed")

	// ErrTrackNotFound names the case where no StreamInfo with a given
	// unique ID exists for a content type. The Select*Track methods report
	// that case by returning false and do not return this error.
	ErrTrackNotFound = errors.New("dashcore: track not found")
)

// StreamFetchError carries the HTTP-ish status code behind ErrStreamFetch.
// errors.Is(err, ErrStreamFetch) is true for any *StreamFetchError.
type StreamFetchError struct {
	ContentType ContentType
	URL         string
	Status      int
	Err         error
}

func (e *StreamFetchError) Error() string {
	if e.Err != nil {
		return "dashcore: segment fetch failed (" + e.ContentType.String() + " " + e.URL + "): " + e.Err.Error()
	}
	return "dashcore: segment fetch failed (" + e.ContentType.String() + " " + e.URL + ")"
}

func (e *StreamFetchError) Unwrap() error { return ErrStreamFetch }
