package symbol

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"funding-arb/internal/venue"
)

var (
	ErrNotFound           = errors.New("symbol not found")
	ErrMultiplierMismatch = errors.New("contract multiplier mismatch")
)

// DefaultFuzzyThreshold is the minimum normalized similarity for a fuzzy match.
const DefaultFuzzyThreshold = 0.8

// MatchKind records how a native symbol was resolved.
type MatchKind string

const (
	MatchExact      MatchKind = "exact"
	MatchAlias      MatchKind = "alias"
	MatchMultiplier MatchKind = "multiplier"
	MatchFuzzy      MatchKind = "fuzzy"
)

// Resolution is the outcome of resolving one venue symbol.
type Resolution struct {
	Asset        CanonicalAsset
	Venue        venue.Venue
	NativeSymbol string
	Multiplier   float64
	Kind         MatchKind
	Similarity   float64
}

type nativeKey struct {
	venue  venue.Venue
	native string
}

type assetKey struct {
	asset string
	venue venue.Venue
}

var quoteSuffixes = []string{"USDT", "USDC", "USDE", "USD"}

var multiplierPrefixes = []struct {
	prefix string
	factor float64
}{
	{"1000000", 1_000_000},
	{"1000", 1000},
}

// Resolver maps native symbols to canonical assets. Resolutions are cached for
// the lifetime of the process; call Invalidate to drop them.
type Resolver struct {
	registry  *Registry
	threshold float64
	cache     *MapCache[nativeKey, Resolution]
	learned   *MapCache[assetKey, Resolution]
	log       zerolog.Logger
}

func NewResolver(registry *Registry) *Resolver {
	return &Resolver{
		registry:  registry,
		threshold: DefaultFuzzyThreshold,
		cache:     NewMapCache[nativeKey, Resolution](),
		learned:   NewMapCache[assetKey, Resolution](),
		log:       log.With().Str("component", "symbol").Logger(),
	}
}

// SetFuzzyThreshold changes the similarity needed for a fuzzy match.
func (r *Resolver) SetFuzzyThreshold(t float64) {
	if t > 0 && t <= 1 {
		r.threshold = t
	}
}

// Assets lists the registry contents.
func (r *Resolver) Assets() []CanonicalAsset { return r.registry.List() }

// Resolve maps a venue's native instrument name onto a canonical asset.
func (r *Resolver) Resolve(native string, v venue.Venue) (Resolution, error) {
	key := nativeKey{venue: v, native: native}
	if res, ok := r.cache.Get(key); ok {
		return res, nil
	}

	res, err := r.resolve(native, v)
	if err != nil {
		return Resolution{}, err
	}

	ak := assetKey{asset: res.Asset.ID, venue: v}
	if prev, ok := r.learned.Get(ak); ok && prev.Multiplier != res.Multiplier {
		r.log.Error().
			Str("venue", v.String()).
			Str("native", native).
			Str("asset", res.Asset.ID).
			Float64("multiplier", res.Multiplier).
			Str("previous_native", prev.NativeSymbol).
			Float64("previous_multiplier", prev.Multiplier).
			Msg("conflicting contract multiplier")
		return Resolution{}, fmt.Errorf("%s on %s: %s has x%g, %s has x%g: %w",
			res.Asset.ID, v, prev.NativeSymbol, prev.Multiplier, native, res.Multiplier, ErrMultiplierMismatch)
	}

	if res.Kind == MatchFuzzy {
		r.log.Warn().
			Str("venue", v.String()).
			Str("native", native).
			Str("asset", res.Asset.ID).
			Float64("similarity", res.Similarity).
			Str("match", string(MatchFuzzy)).
			Msg("symbol resolved by fuzzy match")
	} else {
		r.log.Debug().
			Str("venue", v.String()).
			Str("native", native).
			Str("asset", res.Asset.ID).
			Str("match", string(res.Kind)).
			Float64("multiplier", res.Multiplier).
			Msg("symbol resolved")
	}

	r.cache.Set(key, res)
	if _, ok := r.learned.Get(ak); !ok {
		r.learned.Set(ak, res)
	}
	return res, nil
}

func (r *Resolver) resolve(native string, v venue.Venue) (Resolution, error) {
	base := stripQuote(native)
	if base == "" {
		return Resolution{}, fmt.Errorf("%q on %s: %w", native, v, ErrNotFound)
	}
	upper := strings.ToUpper(base)

	if a, ok := r.registry.Get(upper); ok {
		return Resolution{Asset: a, Venue: v, NativeSymbol: native, Multiplier: 1, Kind: MatchExact, Similarity: 1}, nil
	}

	if res, ok := r.matchAlias(native, base, v); ok {
		return res, nil
	}

	if rest, factor, ok := splitMultiplier(base); ok {
		if a, ok := r.registry.Get(strings.ToUpper(rest)); ok {
			return Resolution{Asset: a, Venue: v, NativeSymbol: native, Multiplier: factor, Kind: MatchMultiplier, Similarity: 1}, nil
		}
		if res, ok := r.matchAlias(rest, rest, v); ok {
			res.NativeSymbol = native
			res.Multiplier = factor
			res.Kind = MatchMultiplier
			return res, nil
		}
	}

	if a, sim, ok := r.fuzzy(upper); ok {
		return Resolution{Asset: a, Venue: v, NativeSymbol: native, Multiplier: 1, Kind: MatchFuzzy, Similarity: sim}, nil
	}

	return Resolution{}, fmt.Errorf("%q on %s: %w", native, v, ErrNotFound)
}

func (r *Resolver) matchAlias(native, base string, v venue.Venue) (Resolution, bool) {
	upper := strings.ToUpper(base)
	for _, a := range r.registry.List() {
		if s, ok := a.PerVenueSymbol[v]; ok && (strings.EqualFold(s, native) || strings.EqualFold(stripQuote(s), base)) {
			return Resolution{Asset: a, Venue: v, NativeSymbol: native, Multiplier: a.Multiplier(v), Kind: MatchAlias, Similarity: 1}, true
		}
		for _, alias := range a.Aliases {
			if strings.ToUpper(alias) == upper {
				return Resolution{Asset: a, Venue: v, NativeSymbol: native, Multiplier: 1, Kind: MatchAlias, Similarity: 1}, true
			}
		}
	}
	return Resolution{}, false
}

func (r *Resolver) fuzzy(upper string) (CanonicalAsset, float64, bool) {
	var (
		best    CanonicalAsset
		bestSim float64
	)
	for _, a := range r.registry.List() {
		candidates := append([]string{a.ID}, a.Aliases...)
		for _, c := range candidates {
			sim := Similarity(upper, strings.ToUpper(c))
			if sim > bestSim {
				best, bestSim = a, sim
			}
		}
	}
	if bestSim >= r.threshold {
		return best, bestSim, true
	}
	return CanonicalAsset{}, 0, false
}

// ToVenueSymbol returns the instrument name for asset on v. Statically configured
// names win over names learned from the feeds.
func (r *Resolver) ToVenueSymbol(assetID string, v venue.Venue) (string, error) {
	if a, ok := r.registry.Get(assetID); ok {
		if s, ok := a.PerVenueSymbol[v]; ok && s != "" {
			return s, nil
		}
	}
	if res, ok := r.learned.Get(assetKey{asset: strings.ToUpper(assetID), venue: v}); ok {
		return res.NativeSymbol, nil
	}
	return "", fmt.Errorf("%s on %s: %w", assetID, v, ErrNotFound)
}

// Multiplier returns the contract scale used for assetID on v.
func (r *Resolver) Multiplier(assetID string, v venue.Venue) float64 {
	if res, ok := r.learned.Get(assetKey{asset: strings.ToUpper(assetID), venue: v}); ok {
		return res.Multiplier
	}
	if a, ok := r.registry.Get(assetID); ok {
		return a.Multiplier(v)
	}
	return 1
}

// Invalidate drops every cached resolution.
func (r *Resolver) Invalidate() {
	r.cache.Clear()
	r.learned.Clear()
	r.log.Info().Msg("symbol cache invalidated")
}

// Similarity is 1 - levenshtein(a, b) / max(len(a), len(b)).
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	if n == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(n)
}

// stripQuote drops separators and quote-currency suffixes: BTC-USD, BTC_USDC_PERP,
// BTCUSDT all become BTC. Case is preserved so that a lowercase k prefix survives.
func stripQuote(native string) string {
	s := strings.TrimSpace(native)
	if i := strings.IndexAny(s, "-_/:"); i > 0 {
		s = s[:i]
	}
	upper := strings.ToUpper(s)
	for _, q := range quoteSuffixes {
		if len(upper) > len(q) && strings.HasSuffix(upper, q) {
			return s[:len(s)-len(q)]
		}
	}
	return s
}

func splitMultiplier(base string) (string, float64, bool) {
	if len(base) > 1 && base[0] == 'k' && unicode.IsUpper(rune(base[1])) {
		return base[1:], 1000, true
	}
	upper := strings.ToUpper(base)
	for _, p := range multiplierPrefixes {
		if len(upper) > len(p.prefix) && strings.HasPrefix(upper, p.prefix) {
			return base[len(p.prefix):], p.factor, true
		}
	}
	return "", 0, false
}
