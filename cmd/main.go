package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"funding-arb/internal/api"
	"funding-arb/internal/config"
	"funding-arb/internal/exchange"
	"funding-arb/internal/exchange/aster"
	"funding-arb/internal/exchange/hyperliquid"
	"funding-arb/internal/exchange/lighter"
	"funding-arb/internal/funding"
	"funding-arb/internal/notify"
	"funding-arb/internal/precision"
	"funding-arb/internal/store"
	"funding-arb/internal/strategy"
	"funding-arb/internal/symbol"
	"funding-arb/internal/venue"
)

const (
	hyperliquidPollInterval = 30 * time.Second
	lighterPollInterval     = time.Minute
	shutdownTimeout         = 10 * time.Second
)

func main() {
	// ── 1. Logger setup
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// ── 2. Root context setup
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── 3. Config
	cfg, err := config.LoadConfig("config")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.App.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if zerolog.GlobalLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	log.Info().Strs("venues", cfg.Strategy.Venues).Int("port", cfg.App.Port).Msg("config loaded")

	// ── 4. Symbols
	overrides, err := cfg.SymbolOverrides()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid symbol overrides")
	}
	registry, err := symbol.NewRegistry(symbol.DefaultAssets(), overrides)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build symbol registry")
	}
	resolver := symbol.NewResolver(registry)

	// ── 5. Exchange adapters and funding sources
	gateways := make(map[venue.Venue]exchange.Gateway)
	var sources []funding.Source
	var ruleSources []precision.RuleSource
	for _, v := range cfg.EnabledVenues() {
		switch v {
		case venue.Aster:
			c := aster.NewClient(cfg.Exchanges.Aster)
			gateways[v] = c
			sources = append(sources, aster.NewStream(c))
		case venue.Hyperliquid:
			c := hyperliquid.NewClient(cfg.Exchanges.Hyperliquid)
			gateways[v] = c
			sources = append(sources, hyperliquid.NewSource(c, hyperliquidPollInterval))
		case venue.Lighter:
			c := lighter.NewClient(cfg.Exchanges.Lighter)
			gateways[v] = c
			sources = append(sources, lighter.NewSource(c, lighterPollInterval))
		}
		ruleSources = append(ruleSources, gateways[v])
		log.Info().Str("venue", v.String()).Bool("credentials", gateways[v].HasCredentials()).Msg("exchange adapter initialized")
	}

	// ── 6. Feed + precision rules
	feed := funding.NewFeed(resolver, sources...)
	book := precision.NewBook(ruleSources...)
	if err := book.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("initial precision refresh incomplete, defaults will be used")
	}
	log.Info().Int("rules", book.Len()).Msg("precision rules loaded")

	// ── 7. Persistence + notifications
	st, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open state store")
	}
	defer st.Close()

	notifier := notify.Multi{notify.NewLogNotifier()}
	if len(cfg.Notify.KafkaBrokers) > 0 {
		kn := notify.NewKafkaNotifier(notify.NewKafkaWriter(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic))
		defer kn.Close()
		notifier = append(notifier, kn)
		log.Info().Strs("brokers", cfg.Notify.KafkaBrokers).Str("topic", cfg.Notify.KafkaTopic).Msg("kafka notifier enabled")
	}

	// ── 8. Engine
	engine := strategy.New(cfg.Strategy, feed, gateways, book,
		strategy.WithStore(st),
		strategy.WithNotifier(notifier),
	)

	// ── 9. HTTP server
	srv := api.NewServer(engine)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           srv.R,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── 10. Run until signalled
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feed.Run(ctx) })
	g.Go(func() error { return book.Run(ctx, precision.DefaultRefreshInterval) })
	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("exited with error")
		return
	}
	log.Info().Msg("shutdown complete")
}
