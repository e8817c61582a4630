package funding

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"funding-arb/internal/symbol"
	"funding-arb/internal/venue"
)

// Source produces raw quotes for one venue until ctx is done. Streaming sources
// reconnect internally; polling sources loop on their interval.
type Source interface {
	Venue() venue.Venue
	Run(ctx context.Context, emit func(RawQuote)) error
}

// Resolver maps native symbols onto canonical assets.
type Resolver interface {
	Resolve(native string, v venue.Venue) (symbol.Resolution, error)
}

type quoteKey struct {
	venue venue.Venue
	asset string
}

// sourceRestartDelay is how long Run waits before restarting a source that
// returned an error.
var sourceRestartDelay = 5 * time.Second

// Feed holds the latest quote per (venue, asset).
type Feed struct {
	resolver Resolver
	sources  []Source

	mu     sync.RWMutex
	quotes map[quoteKey]Quote

	subMu sync.RWMutex
	subs  []func(Quote)

	unresolvedMu sync.Mutex
	unresolved   map[venue.Venue]int64
	warned       map[string]bool

	log zerolog.Logger
}

func NewFeed(resolver Resolver, sources ...Source) *Feed {
	return &Feed{
		resolver:   resolver,
		sources:    sources,
		quotes:     make(map[quoteKey]Quote),
		unresolved: make(map[venue.Venue]int64),
		warned:     make(map[string]bool),
		log:        log.With().Str("component", "funding").Logger(),
	}
}

// Subscribe registers fn for every accepted quote. fn runs on the source's
// goroutine and must not block.
func (f *Feed) Subscribe(fn func(Quote)) {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	f.subs = append(f.subs, fn)
}

// Run starts every source and restarts any that fail until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range f.sources {
		g.Go(func() error {
			for {
				err := src.Run(ctx, f.Ingest)
				if ctx.Err() != nil {
					return nil
				}
				f.log.Warn().Err(err).Str("venue", src.Venue().String()).
					Dur("retry_in", sourceRestartDelay).Msg("funding source stopped, restarting")
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(sourceRestartDelay):
				}
			}
		})
	}
	return g.Wait()
}

// Ingest resolves and normalizes raw, replacing the previous quote for the
// same (venue, asset). Unresolvable symbols are counted and dropped.
func (f *Feed) Ingest(raw RawQuote) {
	if math.IsNaN(raw.Rate) || math.IsInf(raw.Rate, 0) || raw.MarkPrice <= 0 {
		f.log.Debug().Str("venue", raw.Venue.String()).Str("symbol", raw.Symbol).Msg("dropping quote without usable rate or mark")
		return
	}

	res, err := f.resolver.Resolve(raw.Symbol, raw.Venue)
	if err != nil {
		f.countUnresolved(raw, err)
		return
	}

	mult := res.Multiplier
	if mult <= 0 {
		mult = 1
	}
	hourly, annual := Normalize(raw.Rate, raw.PeriodHours)
	observed := raw.ObservedAt
	if observed.IsZero() {
		observed = time.Now()
	}
	q := Quote{
		Asset:           res.Asset.ID,
		Venue:           raw.Venue,
		NativeSymbol:    raw.Symbol,
		Multiplier:      mult,
		MarkPrice:       raw.MarkPrice / mult,
		NativeMarkPrice: raw.MarkPrice,
		RawRate:         raw.Rate,
		HourlyRate:      hourly,
		AnnualizedPct:   annual,
		PeriodHours:     raw.PeriodHours,
		NextPaymentAt:   raw.NextFundingAt,
		ObservedAt:      observed,
	}

	f.mu.Lock()
	f.quotes[quoteKey{venue: q.Venue, asset: q.Asset}] = q
	f.mu.Unlock()

	f.subMu.RLock()
	subs := f.subs
	f.subMu.RUnlock()
	for _, fn := range subs {
		fn(q)
	}
}

func (f *Feed) countUnresolved(raw RawQuote, err error) {
	f.unresolvedMu.Lock()
	f.unresolved[raw.Venue]++
	k := raw.Venue.String() + "/" + raw.Symbol
	first := !f.warned[k]
	f.warned[k] = true
	f.unresolvedMu.Unlock()

	if first || errors.Is(err, symbol.ErrMultiplierMismatch) {
		f.log.Warn().Err(err).Str("venue", raw.Venue.String()).Str("symbol", raw.Symbol).Msg("unresolved symbol dropped")
	}
}

// Unresolved returns per-venue counts of dropped observations.
func (f *Feed) Unresolved() map[venue.Venue]int64 {
	f.unresolvedMu.Lock()
	defer f.unresolvedMu.Unlock()
	out := make(map[venue.Venue]int64, len(f.unresolved))
	for v, n := range f.unresolved {
		out[v] = n
	}
	return out
}

// Get returns the latest quote for asset on v.
func (f *Feed) Get(v venue.Venue, asset string) (Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[quoteKey{venue: v, asset: strings.ToUpper(asset)}]
	return q, ok
}

// Snapshot returns every current quote ordered by asset then venue.
func (f *Feed) Snapshot() []Quote {
	f.mu.RLock()
	out := make([]Quote, 0, len(f.quotes))
	for _, q := range f.quotes {
		out = append(out, q)
	}
	f.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Asset != out[j].Asset {
			return out[i].Asset < out[j].Asset
		}
		return out[i].Venue < out[j].Venue
	})
	return out
}

// Reset drops every quote, e.g. after the symbol cache was invalidated.
func (f *Feed) Reset() {
	f.mu.Lock()
	f.quotes = make(map[quoteKey]Quote)
	f.mu.Unlock()
}
