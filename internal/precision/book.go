package precision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"funding-arb/internal/venue"
)

// DefaultRefreshInterval is how often Run reloads venue metadata.
const DefaultRefreshInterval = time.Hour

// RuleSource publishes the instrument rules of one venue.
type RuleSource interface {
	Venue() venue.Venue
	FetchRules(ctx context.Context) ([]Rule, error)
}

type ruleKey struct {
	venue  venue.Venue
	symbol string
}

// Book is the read-mostly rule table shared by the engine and the gateways.
type Book struct {
	mu      sync.RWMutex
	rules   map[ruleKey]Rule
	updated map[venue.Venue]time.Time

	sources  []RuleSource
	defaults atomic.Int64
	warned   sync.Map
	log      zerolog.Logger
}

func NewBook(sources ...RuleSource) *Book {
	return &Book{
		rules:   make(map[ruleKey]Rule),
		updated: make(map[venue.Venue]time.Time),
		sources: sources,
		log:     log.With().Str("component", "precision").Logger(),
	}
}

func key(v venue.Venue, symbol string) ruleKey {
	return ruleKey{venue: v, symbol: strings.ToUpper(symbol)}
}

// Set installs rules, replacing any existing rule for the same symbol.
func (b *Book) Set(rules ...Rule) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range rules {
		b.rules[key(r.Venue, r.Symbol)] = r
	}
}

// Rule returns the published rule for symbol on v.
func (b *Book) Rule(v venue.Venue, symbol string) (Rule, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.rules[key(v, symbol)]
	return r, ok
}

// Lookup returns the published rule or the default rule, counting the fallback.
func (b *Book) Lookup(v venue.Venue, symbol string) Rule {
	if r, ok := b.Rule(v, symbol); ok {
		return r
	}
	b.defaults.Add(1)
	if _, seen := b.warned.LoadOrStore(key(v, symbol), true); !seen {
		b.log.Warn().Str("venue", v.String()).Str("symbol", symbol).Msg("no precision rule, using default")
	}
	return DefaultRule(v, symbol)
}

// DefaultsUsed counts lookups that fell back to the default rule.
func (b *Book) DefaultsUsed() int64 { return b.defaults.Load() }

// Len returns the number of published rules.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rules)
}

// UpdatedAt returns when v's rules were last refreshed.
func (b *Book) UpdatedAt(v venue.Venue) time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated[v]
}

func (b *Book) RoundPrice(v venue.Venue, symbol string, price float64) float64 {
	return b.Lookup(v, symbol).RoundPrice(price)
}

func (b *Book) RoundQuantity(v venue.Venue, symbol string, qty float64, kind OrderKind) float64 {
	return b.Lookup(v, symbol).RoundQuantity(qty, kind)
}

func (b *Book) ValidateOrder(v venue.Venue, symbol string, price, qty float64, kind OrderKind) Validation {
	return b.Lookup(v, symbol).Validate(price, qty, kind)
}

// Refresh reloads rules from every source. A failing source keeps its previous
// rules; the errors are joined and returned after all sources were tried.
func (b *Book) Refresh(ctx context.Context) error {
	var errs []error
	for _, src := range b.sources {
		rules, err := src.FetchRules(ctx)
		if err != nil {
			b.log.Warn().Err(err).Str("venue", src.Venue().String()).Msg("precision refresh failed")
			errs = append(errs, fmt.Errorf("%s: %w", src.Venue(), err))
			continue
		}
		b.replace(src.Venue(), rules)
		b.log.Info().Str("venue", src.Venue().String()).Int("rules", len(rules)).Msg("precision rules refreshed")
	}
	return errors.Join(errs...)
}

func (b *Book) replace(v venue.Venue, rules []Rule) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.rules {
		if k.venue == v {
			delete(b.rules, k)
		}
	}
	for _, r := range rules {
		r.Venue = v
		b.rules[key(v, r.Symbol)] = r
	}
	b.updated[v] = time.Now()
}

// Run refreshes immediately and then every interval until ctx is done.
func (b *Book) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	_ = b.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = b.Refresh(ctx)
		}
	}
}
