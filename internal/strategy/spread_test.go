package strategy

import (
	"math"
	"testing"
	"time"

	"funding-arb/internal/funding"
	"funding-arb/internal/venue"
)

func TestPairSignCorrectness(t *testing.T) {
	cases := []struct {
		a, b      float64
		wantShort venue.Venue
	}{
		{0.02, -0.01, venue.Aster},
		{-0.02, -0.01, venue.Aster},
		{0.02, 0.01, venue.Aster},
		{-0.01, 0.02, venue.Hyperliquid},
	}
	for _, tc := range cases {
		qa := quote("X", venue.Aster, tc.a, 10)
		qb := quote("X", venue.Hyperliquid, tc.b, 10)

		for _, s := range []Spread{Pair(qa, qb), Pair(qb, qa)} {
			if s.ShortVenue != tc.wantShort {
				t.Errorf("rates (%g, %g): short = %s, want %s", tc.a, tc.b, s.ShortVenue, tc.wantShort)
			}
			if s.LongVenue == s.ShortVenue {
				t.Errorf("rates (%g, %g): long and short on the same venue", tc.a, tc.b)
			}
			if math.Abs(s.ShortRate) < math.Abs(s.LongRate) {
				t.Errorf("rates (%g, %g): |short| %g < |long| %g", tc.a, tc.b, s.ShortRate, s.LongRate)
			}
			if s.HourlySpread <= 0 {
				t.Errorf("rates (%g, %g): spread %g not positive", tc.a, tc.b, s.HourlySpread)
			}
			if err := checkInvariants(s); err != nil {
				t.Errorf("rates (%g, %g): %v", tc.a, tc.b, err)
			}
		}
	}
}

func TestComputeSpreadsNormalizedScenario(t *testing.T) {
	// 0.30% per 8h against 0.05% per hour
	hourlyA, _ := funding.Normalize(0.003, 8)
	qa := quote("X", venue.Aster, hourlyA, 100)
	qb := quote("X", venue.Hyperliquid, 0.0005, 100)

	spreads := ComputeSpreads([]funding.Quote{qa, qb}, []venue.Venue{venue.Aster, venue.Hyperliquid}, nil)
	if len(spreads) != 1 {
		t.Fatalf("spreads = %d, want 1", len(spreads))
	}
	s := spreads[0]
	if s.ShortVenue != venue.Hyperliquid || s.LongVenue != venue.Aster {
		t.Fatalf("short/long = %s/%s, want hyperliquid/aster", s.ShortVenue, s.LongVenue)
	}
	if math.Abs(s.HourlySpread-0.000125) > 1e-12 {
		t.Fatalf("hourly spread = %g, want 0.000125", s.HourlySpread)
	}
	if math.Abs(s.AnnualizedSpreadPct-109.5) > 1e-6 {
		t.Fatalf("annualized = %g, want 109.5", s.AnnualizedSpreadPct)
	}
}

func TestComputeSpreadsFiltersAndSorts(t *testing.T) {
	quotes := []funding.Quote{
		quote("BTC", venue.Aster, 0.0001, 60000),
		quote("BTC", venue.Hyperliquid, 0.00002, 60000),
		quote("BTC", venue.Lighter, -0.0003, 60000),
		quote("ETH", venue.Aster, 0.0002, 3000),
		quote("ETH", venue.Hyperliquid, 0.00001, 3000),
		quote("SOL", venue.Aster, 0.001, 150),
		quote("DOGE", venue.Aster, 0.0009, 0.1),
		quote("DOGE", venue.Hyperliquid, 0, 0.1),
	}

	spreads := ComputeSpreads(quotes, []venue.Venue{venue.Aster, venue.Hyperliquid}, []string{"doge"})
	if len(spreads) != 2 {
		t.Fatalf("spreads = %+v, want BTC and ETH only", spreads)
	}
	if spreads[0].Asset != "ETH" || spreads[1].Asset != "BTC" {
		t.Fatalf("order = %s, %s", spreads[0].Asset, spreads[1].Asset)
	}

	all := ComputeSpreads(quotes, venue.All(), nil)
	btc := 0
	for _, s := range all {
		if s.Asset == "BTC" {
			btc++
		}
	}
	if btc != 3 {
		t.Fatalf("BTC pairs = %d, want 3", btc)
	}
	for i := 1; i < len(all); i++ {
		if all[i].AnnualizedSpreadPct > all[i-1].AnnualizedSpreadPct {
			t.Fatalf("not sorted at %d", i)
		}
	}

	best := BestPerAsset(all, 0)
	seen := map[string]bool{}
	for _, s := range best {
		if seen[s.Asset] {
			t.Fatalf("duplicate asset %s", s.Asset)
		}
		seen[s.Asset] = true
	}
	if best[0].Asset != "DOGE" {
		t.Fatalf("best = %+v", best[0])
	}
	for _, s := range best {
		if s.Asset == "BTC" && (s.ShortVenue != venue.Lighter || s.LongVenue != venue.Hyperliquid) {
			t.Fatalf("BTC best pair = %s/%s, want lighter short, hyperliquid long", s.ShortVenue, s.LongVenue)
		}
	}
	if got := BestPerAsset(all, 1); len(got) != 1 {
		t.Fatalf("limit ignored: %d", len(got))
	}
}

func TestCheckInvariants(t *testing.T) {
	good := Pair(quote("X", venue.Aster, 0.001, 1), quote("X", venue.Lighter, 0, 1))
	if err := checkInvariants(good); err != nil {
		t.Fatalf("good spread: %v", err)
	}

	same := good
	same.LongVenue = same.ShortVenue
	flipped := good
	flipped.LongRate, flipped.ShortRate = flipped.ShortRate, flipped.LongRate
	zeroMult := good
	zeroMult.LongMultiplier = 0

	for name, s := range map[string]Spread{"same venue": same, "flipped": flipped, "zero multiplier": zeroMult} {
		if err := checkInvariants(s); err == nil {
			t.Errorf("%s: expected ErrInvariant", name)
		}
	}
}

func TestFreshQuotes(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	recent := quote("BTC", venue.Aster, 0.0001, 60000)
	recent.ObservedAt = now.Add(-30 * time.Second)
	old := quote("BTC", venue.Hyperliquid, 0.0002, 60000)
	old.ObservedAt = now.Add(-10 * time.Minute)
	quotes := []funding.Quote{recent, old}

	got := FreshQuotes(quotes, now, 5*time.Minute)
	if len(got) != 1 || got[0].Venue != venue.Aster {
		t.Fatalf("fresh = %+v", got)
	}
	if len(ComputeSpreads(got, venue.All(), nil)) != 0 {
		t.Fatal("spread built from a single fresh quote")
	}
	if got := FreshQuotes(quotes, now, 0); len(got) != 2 {
		t.Fatalf("disabled filter dropped quotes: %d", len(got))
	}
	if len(quotes) != 2 || quotes[1].Venue != venue.Hyperliquid {
		t.Fatal("input slice modified")
	}
}
