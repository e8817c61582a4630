package strategy

import (
	"math"
	"sort"
	"strings"
	"time"

	"funding-arb/internal/funding"
	"funding-arb/internal/venue"
)

// Spread is a long/short venue pair for one asset. The short venue is the one
// with the larger absolute hourly rate.
type Spread struct {
	Asset               string      `json:"asset"`
	LongVenue           venue.Venue `json:"long_venue"`
	ShortVenue          venue.Venue `json:"short_venue"`
	LongSymbol          string      `json:"long_symbol"`
	ShortSymbol         string      `json:"short_symbol"`
	LongMultiplier      float64     `json:"long_multiplier"`
	ShortMultiplier     float64     `json:"short_multiplier"`
	LongRate            float64     `json:"long_rate"`
	ShortRate           float64     `json:"short_rate"`
	HourlySpread        float64     `json:"hourly_spread"`
	AnnualizedSpreadPct float64     `json:"annualized_spread_pct"`
	LongMark            float64     `json:"long_mark"`
	ShortMark           float64     `json:"short_mark"`
}

// AvgMark is the mean per-base-unit mark of both legs.
func (s Spread) AvgMark() float64 { return (s.LongMark + s.ShortMark) / 2 }

// HourlySpread returns |short| - |long|.
func HourlySpread(shortRate, longRate float64) float64 {
	return math.Abs(shortRate) - math.Abs(longRate)
}

// AnnualizedPct converts an hourly spread to annualized percent.
func AnnualizedPct(hourly float64) float64 {
	return hourly * funding.HoursPerYear * 100
}

// Pair assigns long and short for two quotes of the same asset.
func Pair(a, b funding.Quote) Spread {
	short, long := a, b
	if math.Abs(b.HourlyRate) > math.Abs(a.HourlyRate) {
		short, long = b, a
	}
	hourly := HourlySpread(short.HourlyRate, long.HourlyRate)
	return Spread{
		Asset:               a.Asset,
		LongVenue:           long.Venue,
		ShortVenue:          short.Venue,
		LongSymbol:          long.NativeSymbol,
		ShortSymbol:         short.NativeSymbol,
		LongMultiplier:      long.Multiplier,
		ShortMultiplier:     short.Multiplier,
		LongRate:            long.HourlyRate,
		ShortRate:           short.HourlyRate,
		HourlySpread:        hourly,
		AnnualizedSpreadPct: AnnualizedPct(hourly),
		LongMark:            long.MarkPrice,
		ShortMark:           short.MarkPrice,
	}
}

// ComputeSpreads builds every venue pair for assets quoted on at least two of
// venues, sorted by annualized spread descending. Excluded assets are dropped.
func ComputeSpreads(quotes []funding.Quote, venues []venue.Venue, excluded []string) []Spread {
	enabled := make(map[venue.Venue]bool, len(venues))
	for _, v := range venues {
		enabled[v] = true
	}
	skip := make(map[string]bool, len(excluded))
	for _, a := range excluded {
		skip[strings.ToUpper(a)] = true
	}

	byAsset := make(map[string][]funding.Quote)
	for _, q := range quotes {
		if !enabled[q.Venue] || skip[q.Asset] {
			continue
		}
		byAsset[q.Asset] = append(byAsset[q.Asset], q)
	}

	var out []Spread
	for _, qs := range byAsset {
		if len(qs) < 2 {
			continue
		}
		sort.Slice(qs, func(i, j int) bool { return qs[i].Venue < qs[j].Venue })
		for i := 0; i < len(qs); i++ {
			for j := i + 1; j < len(qs); j++ {
				out = append(out, Pair(qs[i], qs[j]))
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AnnualizedSpreadPct != out[j].AnnualizedSpreadPct {
			return out[i].AnnualizedSpreadPct > out[j].AnnualizedSpreadPct
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}

// FreshQuotes drops quotes observed more than maxAge before now. A
// non-positive maxAge keeps everything.
func FreshQuotes(quotes []funding.Quote, now time.Time, maxAge time.Duration) []funding.Quote {
	if maxAge <= 0 {
		return quotes
	}
	out := quotes[:0:0]
	for _, q := range quotes {
		if !isStale(q, now, maxAge) {
			out = append(out, q)
		}
	}
	return out
}

func isStale(q funding.Quote, now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && now.Sub(q.ObservedAt) > maxAge
}

// BestPerAsset keeps the first (highest) spread of each asset, up to limit.
func BestPerAsset(spreads []Spread, limit int) []Spread {
	seen := make(map[string]bool)
	var out []Spread
	for _, s := range spreads {
		if seen[s.Asset] {
			continue
		}
		seen[s.Asset] = true
		out = append(out, s)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
