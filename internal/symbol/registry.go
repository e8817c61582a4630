// Package symbol maps each venue's native instrument names onto canonical assets.
package symbol

import (
	"fmt"
	"sort"
	"strings"

	"funding-arb/internal/venue"
)

// CanonicalAsset is the venue-independent identity of an underlying.
// Values are never mutated once the registry is built.
type CanonicalAsset struct {
	ID                 string                  `json:"id"`
	DisplayName        string                  `json:"display_name"`
	Aliases            []string                `json:"aliases,omitempty"`
	PerVenueSymbol     map[venue.Venue]string  `json:"per_venue_symbol,omitempty"`
	PerVenueMultiplier map[venue.Venue]float64 `json:"per_venue_multiplier,omitempty"`
}

// Multiplier returns the contract scale on v, 1 when the venue quotes the base unit.
func (a CanonicalAsset) Multiplier(v venue.Venue) float64 {
	if m, ok := a.PerVenueMultiplier[v]; ok && m > 0 {
		return m
	}
	return 1
}

// Override is a manual mapping supplied by the operator.
type Override struct {
	Asset      string
	Venue      venue.Venue
	Symbol     string
	Multiplier float64
}

// Registry holds the immutable set of known assets.
type Registry struct {
	assets map[string]CanonicalAsset
}

// NewRegistry builds a registry from assets, applying overrides on top.
func NewRegistry(assets []CanonicalAsset, overrides []Override) (*Registry, error) {
	r := &Registry{assets: make(map[string]CanonicalAsset, len(assets))}
	for _, a := range assets {
		id := strings.ToUpper(strings.TrimSpace(a.ID))
		if id == "" {
			return nil, fmt.Errorf("asset with empty id")
		}
		a.ID = id
		r.assets[id] = cloneAsset(a)
	}

	for _, o := range overrides {
		id := strings.ToUpper(strings.TrimSpace(o.Asset))
		if id == "" || o.Symbol == "" {
			return nil, fmt.Errorf("override needs asset and symbol: %+v", o)
		}
		if !o.Venue.Valid() {
			return nil, fmt.Errorf("override %s: unknown venue %q", id, o.Venue)
		}
		a, ok := r.assets[id]
		if !ok {
			a = CanonicalAsset{ID: id, DisplayName: id}
		}
		a = cloneAsset(a)
		a.PerVenueSymbol[o.Venue] = o.Symbol
		if o.Multiplier > 0 {
			a.PerVenueMultiplier[o.Venue] = o.Multiplier
		}
		r.assets[id] = a
	}
	return r, nil
}

// Get returns the asset with the given canonical id.
func (r *Registry) Get(id string) (CanonicalAsset, bool) {
	a, ok := r.assets[strings.ToUpper(id)]
	return a, ok
}

// List returns all assets sorted by id.
func (r *Registry) List() []CanonicalAsset {
	out := make([]CanonicalAsset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneAsset(a CanonicalAsset) CanonicalAsset {
	c := a
	c.Aliases = append([]string(nil), a.Aliases...)
	c.PerVenueSymbol = make(map[venue.Venue]string, len(a.PerVenueSymbol))
	for k, v := range a.PerVenueSymbol {
		c.PerVenueSymbol[k] = v
	}
	c.PerVenueMultiplier = make(map[venue.Venue]float64, len(a.PerVenueMultiplier))
	for k, v := range a.PerVenueMultiplier {
		c.PerVenueMultiplier[k] = v
	}
	if c.DisplayName == "" {
		c.DisplayName = c.ID
	}
	return c
}

// DefaultAssets is the static registry shipped with the bot.
func DefaultAssets() []CanonicalAsset {
	return []CanonicalAsset{
		{ID: "BTC", DisplayName: "Bitcoin", Aliases: []string{"XBT"}},
		{ID: "ETH", DisplayName: "Ethereum"},
		{ID: "SOL", DisplayName: "Solana"},
		{ID: "BNB", DisplayName: "BNB"},
		{ID: "XRP", DisplayName: "XRP"},
		{ID: "DOGE", DisplayName: "Dogecoin"},
		{ID: "AVAX", DisplayName: "Avalanche"},
		{ID: "LINK", DisplayName: "Chainlink"},
		{ID: "SUI", DisplayName: "Sui"},
		{ID: "ARB", DisplayName: "Arbitrum"},
		{ID: "HYPE", DisplayName: "Hyperliquid"},
		{ID: "ASTER", DisplayName: "Aster"},
		{ID: "ENA", DisplayName: "Ethena"},
		{ID: "WLD", DisplayName: "Worldcoin"},
		{ID: "TON", DisplayName: "Toncoin"},
		{ID: "POL", DisplayName: "Polygon", Aliases: []string{"MATIC"}},
		{ID: "PEPE", DisplayName: "Pepe",
			PerVenueSymbol:     map[venue.Venue]string{venue.Hyperliquid: "kPEPE", venue.Aster: "1000PEPEUSDT", venue.Lighter: "1000PEPE"},
			PerVenueMultiplier: map[venue.Venue]float64{venue.Hyperliquid: 1000, venue.Aster: 1000, venue.Lighter: 1000}},
		{ID: "BONK", DisplayName: "Bonk",
			PerVenueSymbol:     map[venue.Venue]string{venue.Hyperliquid: "kBONK", venue.Aster: "1000BONKUSDT", venue.Lighter: "1000BONK"},
			PerVenueMultiplier: map[venue.Venue]float64{venue.Hyperliquid: 1000, venue.Aster: 1000, venue.Lighter: 1000}},
		{ID: "SHIB", DisplayName: "Shiba Inu",
			PerVenueSymbol:     map[venue.Venue]string{venue.Hyperliquid: "kSHIB", venue.Aster: "1000SHIBUSDT", venue.Lighter: "1000SHIB"},
			PerVenueMultiplier: map[venue.Venue]float64{venue.Hyperliquid: 1000, venue.Aster: 1000, venue.Lighter: 1000}},
		{ID: "FLOKI", DisplayName: "Floki",
			PerVenueSymbol:     map[venue.Venue]string{venue.Hyperliquid: "kFLOKI", venue.Aster: "1000FLOKIUSDT", venue.Lighter: "1000FLOKI"},
			PerVenueMultiplier: map[venue.Venue]float64{venue.Hyperliquid: 1000, venue.Aster: 1000, venue.Lighter: 1000}},
	}
}
