package dashcore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dynamicManifest(updateURL string) *Manifest {
	videoA := streamSet(ContentTypeVideo, "", true, "video/mp4;codecs=avc1.640028")
	period := &Period{Duration: 0, StreamSets: []*StreamSet{videoA}}
	return &Manifest{
		Kind:         ManifestDynamic,
		UpdateURL:    updateURL,
		UpdatePeriod: 2,
		Periods:      []*Period{period},
	}
}

// TestCoordinator_RunUpdate_DefaultManifestParserErrorsWithoutRacingOtherCoordinators
// covers the CoordinatorConfig.ManifestParser field (SPEC_FULL.md: manifest
// reparsing must not be package-level mutable state). A Coordinator left
// with the zero-value ManifestParser reports an EventError rather than
// panicking on a nil func, and configuring one Coordinator's parser has no
// effect on a second, concurrently running Coordinator — the global-hook
// version of this code could not make that guarantee.
func TestCoordinator_RunUpdate_DefaultManifestParserErrorsWithoutRacingOtherCoordinators(t *testing.T) {
	fetcherA := newFakeFetcher()
	fetcherA.responses["update.mpd"] = FetchResult{Bytes: []byte("<MPD/>")}
	cfgA := baseCoordinatorConfig(fetcherA)
	cfgA.Bus = NewEventBus()
	coordA := NewCoordinator(dynamicManifest("update.mpd"), cfgA)

	reparsed := dynamicManifest("update.mpd")
	fetcherB := newFakeFetcher()
	fetcherB.responses["update.mpd"] = FetchResult{Bytes: []byte("<MPD/>")}
	cfgB := baseCoordinatorConfig(fetcherB)
	cfgB.Bus = NewEventBus()
	cfgB.ManifestParser = func([]byte) (*Manifest, error) { return reparsed, nil }
	coordB := NewCoordinator(dynamicManifest("update.mpd"), cfgB)

	subA := cfgA.Bus.Subscribe(EventError)
	defer subA.Unsubscribe()

	coordA.runUpdate(context.Background())
	coordB.runUpdate(context.Background())

	select {
	case ev := <-subA.Events():
		require.Error(t, ev.Err)
		assert.Contains(t, ev.Err.Error(), "no manifest parser configured")
	case <-time.After(time.Second):
		t.Fatal("expected coordinator A's default ManifestParser to report an error")
	}

	// Coordinator B, configured with its own parser, ran its update through
	// to completion and cleared its in-flight flag.
	assert.False(t, coordB.updateInFlight)
}
