package dashcore

import "context"

// FetchRange requests a byte range of a URL; both fields are 0 (and
// ignored) for a whole-resource fetch.
type FetchRange struct {
	Start int64
	End   int64 // 0 means "to end of resource" when Start is also 0
}

// FetchResult is what a Fetcher hands back on success.
type FetchResult struct {
	Bytes  []byte
	Status int // HTTP-ish status code, 0 if not meaningful for this transport
}

// Fetcher is the injected network collaborator (spec.md §6). Network
// fetching of manifests and media segments is explicitly out of scope for
// this core; Stream and the Coordinator only ever see this interface.
//
// Contract: on context cancellation, Fetch must return an error that
// errors.Is(err, context.Canceled) (the core maps this to ErrAborted and
// swallows it per spec.md §5 "Cancellation"). On an HTTP-ish error, Fetch
// returns a *StreamFetchError-compatible error via FetchResult.Status plus
// a non-nil error, or a plain error for transport failures.
type Fetcher interface {
	Fetch(ctx context.Context, url string, byteRange *FetchRange) (FetchResult, error)
}
