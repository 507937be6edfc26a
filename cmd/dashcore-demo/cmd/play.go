package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/nilstream/dashcore/internal/config"
	"github.com/nilstream/dashcore/internal/dashcore"
	"github.com/nilstream/dashcore/internal/observability"
	"github.com/nilstream/dashcore/pkg/clock"
	"github.com/nilstream/dashcore/pkg/fetch"
	"github.com/nilstream/dashcore/pkg/httpclient"
	"github.com/nilstream/dashcore/pkg/memsink"
)

var (
	playSegments int
	playSegDur   float64
	playLang     string
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Drive the dashcore Coordinator against a synthetic manifest",
	Long: `play stands up a local HTTP server serving canned segment bodies,
builds an in-process manifest with two video representations plus an audio
and a text track, then wires a dashcore.Coordinator against it using the
production pkg/fetch, pkg/clock, and pkg/memsink collaborators. It prints
track selection and lifecycle events as they happen and exits once every
stream has ended.`,
	RunE: runPlay,
}

func init() {
	playCmd.Flags().IntVar(&playSegments, "segments", 5, "number of segments per representation")
	playCmd.Flags().Float64Var(&playSegDur, "segment-duration", 2, "segment duration in seconds")
	playCmd.Flags().StringVar(&playLang, "lang", "en", "preferred audio/text language")
	rootCmd.AddCommand(playCmd)
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := observability.NewLogger(cfg.Logging)

	srv := newSegmentServer(64 * 1024)
	defer srv.Close()

	manifest := buildSyntheticManifest(srv, playSegments, playSegDur)

	segmentClient := fetch.NewClientForKind(fetch.KindSegment, fetch.ClientOptions{
		Logger:                  logger,
		CircuitFailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		CircuitTimeout:          cfg.CircuitBreaker.Timeout.Duration(),
		CircuitHalfOpenMax:      cfg.CircuitBreaker.HalfOpenMax,
	})
	httpclient.DefaultRegistry.Register(fetch.KindSegment.String(), segmentClient)
	defer httpclient.DefaultRegistry.Unregister(fetch.KindSegment.String())
	fetcher := fetch.New(segmentClient, nil)

	bus := dashcore.NewEventBus()
	logEvents(bus, logger)

	coordinatorCfg := dashcore.CoordinatorConfig{
		Fetcher:                 fetcher,
		Clock:                   clock.New(),
		TypeSupport:             func(string) bool { return true },
		Bus:                     bus,
		Logger:                  logger,
		MinBufferTime:           cfg.Buffer.MinBufferTime.Duration(),
		Behind:                  cfg.Buffer.Behind.Duration(),
		Ahead:                   cfg.Buffer.Ahead.Duration(),
		RetryAttempts:           cfg.Retry.Attempts,
		RetryBaseDelay:          cfg.Retry.BaseDelay.Duration(),
		RetryBackoffFactor:      cfg.Retry.BackoffFactor,
		ABRInitialTargetFactor:  cfg.ABR.InitialTargetFactor,
		ABRUpswitchFactor:       cfg.ABR.UpswitchFactor,
		ABRUpswitchSustainFor:   cfg.ABR.UpswitchSustainFor.Duration(),
		ABRDownswitchFactor:     cfg.ABR.DownswitchFactor,
		BandwidthWindowSize:     cfg.Bandwidth.WindowSize,
		BandwidthSamplePeriod:   cfg.Bandwidth.SamplePeriod.Duration(),
		CircuitFailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		CircuitTimeout:          cfg.CircuitBreaker.Timeout.Duration(),
		CircuitHalfOpenMax:      cfg.CircuitBreaker.HalfOpenMax,
	}

	coordinator := dashcore.NewCoordinator(manifest, coordinatorCfg)
	defer coordinator.Destroy()

	if err := coordinator.Load(playLang); err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}
	if err := coordinator.SelectConfigurations(coordinator.Configurations()); err != nil {
		return fmt.Errorf("selecting configurations: %w", err)
	}

	sink := memsink.New()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := coordinator.Attach(ctx, sink); err != nil {
		return fmt.Errorf("attaching sink: %w", err)
	}

	printTracks(logger, "video", coordinator.VideoTracks())
	printTracks(logger, "audio", coordinator.AudioTracks())
	printTracks(logger, "text", coordinator.TextTracks())

	waitForAllEnded(ctx, bus)
	for _, status := range httpclient.DefaultRegistry.GetCircuitBreakerStatuses() {
		logger.Info("circuit breaker status",
			slog.String("client", status.Name),
			slog.String("state", status.State),
			slog.Int("failures", status.Failures),
		)
	}
	logger.Info("playback finished")
	return nil
}

func printTracks(logger *slog.Logger, kind string, tracks []dashcore.Track) {
	for _, t := range tracks {
		logger.Info("track",
			slog.String("kind", kind),
			slog.Int("id", t.UniqueID),
			slog.String("mime", t.MIMEType),
			slog.Int64("bandwidth", t.Bandwidth),
			slog.String("lang", t.Lang),
			slog.Bool("active", t.Active),
		)
	}
}

func logEvents(bus *dashcore.EventBus, logger *slog.Logger) {
	sub := bus.Subscribe()
	go func() {
		for ev := range sub.Events() {
			switch ev.Kind {
			case dashcore.EventError:
				logger.Warn("event", slog.String("kind", ev.Kind.String()), slog.String("error", fmt.Sprint(ev.Err)))
			case dashcore.EventAdaptation:
				logger.Info("event",
					slog.String("kind", ev.Kind.String()),
					slog.String("content_type", ev.ContentType.String()),
					slog.Int("new_id", ev.NewInfo.UniqueID),
				)
			default:
				logger.Info("event",
					slog.String("kind", ev.Kind.String()),
					slog.String("content_type", ev.ContentType.String()),
				)
			}
		}
	}()
}

// waitForAllEnded blocks until three EventEnded events (video/audio/text)
// have been observed, the subscription's channel closes, or the context is
// done.
func waitForAllEnded(ctx context.Context, bus *dashcore.EventBus) {
	sub := bus.Subscribe(dashcore.EventEnded)
	defer sub.Unsubscribe()

	seen := make(map[dashcore.ContentType]bool)
	for len(seen) < 3 {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			seen[ev.ContentType] = true
		case <-ctx.Done():
			return
		}
	}
}
