// test_ws streams Aster mark prices through the funding feed and prints the
// normalized quotes. It needs no credentials.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"funding-arb/internal/config"
	"funding-arb/internal/exchange/aster"
	"funding-arb/internal/funding"
	"funding-arb/internal/symbol"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.AsterConfig{
		BaseURL: "https://fapi.asterdex.com",
		WSURL:   "wss://fstream.asterdex.com/ws",
	}
	if url := os.Getenv("ASTER_WS_URL"); url != "" {
		cfg.WSURL = url
	}

	registry, err := symbol.NewRegistry(symbol.DefaultAssets(), nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build registry")
	}
	feed := funding.NewFeed(symbol.NewResolver(registry), aster.NewStream(aster.NewClient(cfg)))

	seen := make(map[string]bool)
	feed.Subscribe(func(q funding.Quote) {
		if seen[q.Asset] {
			return
		}
		seen[q.Asset] = true
		log.Info().
			Str("asset", q.Asset).
			Str("symbol", q.NativeSymbol).
			Float64("mark", q.MarkPrice).
			Float64("hourly", q.HourlyRate).
			Float64("apr", q.AnnualizedPct).
			Time("next", q.NextPaymentAt).
			Msg("quote")
	})

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Info().Int("assets", len(feed.Snapshot())).Interface("unresolved", feed.Unresolved()).Msg("feed status")
			}
		}
	}()

	log.Info().Str("url", cfg.WSURL).Msg("streaming mark prices, Ctrl+C to exit")
	if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("feed stopped")
	}
}
