package cmd

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/nilstream/dashcore/internal/dashcore"
)

// segmentServer serves canned segment bodies for the synthetic manifest
// built by buildSyntheticManifest, so the demo exercises pkg/fetch.HTTPFetcher
// against a real HTTP round trip instead of an in-process fake.
type segmentServer struct {
	srv *httptest.Server
}

func newSegmentServer(segmentBytes int) *segmentServer {
	body := strings.Repeat("x", segmentBytes)
	mux := http.NewServeMux()
	mux.HandleFunc("/seg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte(body))
	})
	return &segmentServer{srv: httptest.NewServer(mux)}
}

func (s *segmentServer) URL() string { return s.srv.URL + "/seg" }
func (s *segmentServer) Close()      { s.srv.Close() }

// buildSyntheticManifest constructs a two-representation video set, an
// English audio set, and an English text set, each with segCount explicit
// segment references of segDuration seconds pointed at srv.
func buildSyntheticManifest(srv *segmentServer, segCount int, segDuration float64) *dashcore.Manifest {
	videoLow := &dashcore.StreamInfo{
		UniqueID:     1,
		FullMIMEType: "video/mp4;codecs=avc1.640020",
		Bandwidth:    500_000,
		Width:        640,
		Height:       360,
		Enabled:      true,
		IndexSource:  explicitIndexSource(srv, segCount, segDuration),
	}
	videoHigh := &dashcore.StreamInfo{
		UniqueID:     2,
		FullMIMEType: "video/mp4;codecs=avc1.640028",
		Bandwidth:    3_000_000,
		Width:        1920,
		Height:       1080,
		Enabled:      true,
		IndexSource:  explicitIndexSource(srv, segCount, segDuration),
	}
	videoSet := &dashcore.StreamSet{
		ContentType: dashcore.ContentTypeVideo,
		Main:        true,
		Streams:     []*dashcore.StreamInfo{videoLow, videoHigh},
	}

	audio := &dashcore.StreamInfo{
		UniqueID:     3,
		FullMIMEType: "audio/mp4;codecs=mp4a.40.2",
		Bandwidth:    128_000,
		Enabled:      true,
		IndexSource:  explicitIndexSource(srv, segCount, segDuration),
	}
	audioSet := &dashcore.StreamSet{
		ContentType: dashcore.ContentTypeAudio,
		Lang:        "en",
		Main:        true,
		Streams:     []*dashcore.StreamInfo{audio},
	}

	text := &dashcore.StreamInfo{
		UniqueID:     4,
		FullMIMEType: "text/vtt",
		Enabled:      true,
		IndexSource:  explicitIndexSource(srv, segCount, segDuration),
	}
	textSet := &dashcore.StreamSet{
		ContentType: dashcore.ContentTypeText,
		Lang:        "en",
		Streams:     []*dashcore.StreamInfo{text},
	}

	period := &dashcore.Period{
		Duration:   float64(segCount) * segDuration,
		StreamSets: []*dashcore.StreamSet{videoSet, audioSet, textSet},
	}
	return &dashcore.Manifest{Kind: dashcore.ManifestStatic, Periods: []*dashcore.Period{period}}
}

func explicitIndexSource(srv *segmentServer, segCount int, segDuration float64) dashcore.SegmentIndexSource {
	refs := make([]*dashcore.SegmentReference, segCount)
	for i := 0; i < segCount; i++ {
		start := float64(i) * segDuration
		end := start + segDuration
		refs[i] = &dashcore.SegmentReference{
			Index:     i,
			StartTime: start,
			EndTime:   &end,
			URL:       fmt.Sprintf("%s?i=%d", srv.URL(), i),
		}
	}
	return dashcore.SegmentIndexSource{Kind: dashcore.SourceExplicitList, ExplicitRefs: refs}
}
