package precision

import (
	"context"
	"errors"
	"testing"

	"funding-arb/internal/venue"
)

func TestRoundQuantity_RoundsUpAndIsIdempotent(t *testing.T) {
	r := Rule{Venue: venue.Aster, Symbol: "BTCUSDT", PriceTick: 0.1, QtyStep: 0.001, MinNotional: 5}

	cases := []struct {
		in, want float64
	}{
		{0.0011, 0.002},
		{0.002, 0.002},
		{0.0020001, 0.003},
		{1.2345, 1.235},
		{0.0001, 0.001},
	}
	for _, tc := range cases {
		got := r.RoundQuantity(tc.in, Limit)
		if got != tc.want {
			t.Errorf("RoundQuantity(%v) = %v, want %v", tc.in, got, tc.want)
		}
		if again := r.RoundQuantity(got, Limit); again != got {
			t.Errorf("RoundQuantity not idempotent: %v -> %v", got, again)
		}
	}
}

func TestRoundQuantity_MarketStep(t *testing.T) {
	r := Rule{QtyStep: 0.001, MarketQtyStep: 0.01}
	if got := r.RoundQuantity(0.011, Market); got != 0.02 {
		t.Fatalf("market step: got %v", got)
	}
	if got := r.RoundQuantity(0.011, Limit); got != 0.011 {
		t.Fatalf("limit step: got %v", got)
	}
}

func TestRoundQuantity_NotionalNeverDropsBelowMinimum(t *testing.T) {
	r := Rule{QtyStep: 0.01, MinNotional: 10}
	price := 37.5
	for _, qty := range []float64{10.0 / 37.5, 0.2667, 0.3, 1.0 / 3} {
		if qty*price < r.MinNotional {
			continue
		}
		rounded := r.RoundQuantity(qty, Limit)
		if rounded*price < r.MinNotional {
			t.Errorf("qty %v rounded to %v gives notional %v", qty, rounded, rounded*price)
		}
	}
}

func TestRoundPrice(t *testing.T) {
	r := Rule{PriceTick: 0.5}
	cases := map[float64]float64{100.2: 100, 100.26: 100.5, 100.75: 101}
	for in, want := range cases {
		got := r.RoundPrice(in)
		if got != want {
			t.Errorf("RoundPrice(%v) = %v, want %v", in, got, want)
		}
		if r.RoundPrice(got) != got {
			t.Errorf("RoundPrice not idempotent at %v", got)
		}
	}

	byDecimals := Rule{PriceDecimals: 2}
	if got := byDecimals.RoundPrice(1.23456); got != 1.23 {
		t.Fatalf("decimals fallback: got %v", got)
	}
}

func TestValidate(t *testing.T) {
	r := Rule{Venue: venue.Lighter, Symbol: "ETH", PriceTick: 0.01, QtyStep: 0.001, QtyMin: 0.005, QtyMax: 100, MinNotional: 10}

	v := r.Validate(2000.004, 0.0051, Limit)
	if !v.Valid {
		t.Fatalf("expected valid, got %+v", v.Errors)
	}
	if v.CorrectedPrice != 2000 || v.CorrectedQuantity != 0.006 {
		t.Fatalf("corrected %v x %v", v.CorrectedPrice, v.CorrectedQuantity)
	}
	if len(v.Warnings) != 2 {
		t.Fatalf("expected adjustment warnings, got %v", v.Warnings)
	}

	cases := []struct {
		name       string
		price, qty float64
		kind       ErrorKind
	}{
		{"below notional", 1000, 0.005, BelowMinNotional},
		{"below min qty", 1_000_000, 0.001, QtyBelowMin},
		{"above max qty", 2000, 101, QtyAboveMax},
		{"zero price", 0, 1, InvalidPrice},
		{"negative qty", 2000, -1, InvalidQuantity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := r.Validate(tc.price, tc.qty, Limit)
			if v.Valid {
				t.Fatal("expected invalid")
			}
			if !v.Has(tc.kind) {
				t.Fatalf("missing %s in %+v", tc.kind, v.Errors)
			}
			if !errors.Is(v.Err(), ErrInvalidOrder) {
				t.Fatalf("Err() = %v", v.Err())
			}
		})
	}
}

func TestDecimalsHelpers(t *testing.T) {
	cases := map[float64]int{0.01: 2, 0.5: 1, 1: 0, 10: 0, 0.00001: 5}
	for step, want := range cases {
		if got := DecimalsFor(step); got != want {
			t.Errorf("DecimalsFor(%v) = %d, want %d", step, got, want)
		}
	}
	if got := StepFromDecimals(3); got != 0.001 {
		t.Fatalf("StepFromDecimals(3) = %v", got)
	}
	if got := FormatDecimals(1.5, 3); got != "1.500" {
		t.Fatalf("FormatDecimals = %q", got)
	}
	if got := ScaleToInt(2000.25, 2); got != 200025 {
		t.Fatalf("ScaleToInt = %d", got)
	}
}

type staticSource struct {
	v     venue.Venue
	rules []Rule
	err   error
	calls int
}

func (s *staticSource) Venue() venue.Venue { return s.v }

func (s *staticSource) FetchRules(context.Context) ([]Rule, error) {
	s.calls++
	return s.rules, s.err
}

func TestBook_DefaultFallbackCounted(t *testing.T) {
	b := NewBook()
	r := b.Lookup(venue.Hyperliquid, "UNKNOWN")
	if !r.Default || r.PriceDecimals != DefaultPriceDecimals || r.QtyStep != DefaultQtyStep || r.MinNotional != DefaultMinNotional {
		t.Fatalf("unexpected default rule %+v", r)
	}
	b.Lookup(venue.Hyperliquid, "UNKNOWN")
	if b.DefaultsUsed() != 2 {
		t.Fatalf("DefaultsUsed = %d", b.DefaultsUsed())
	}

	v := b.ValidateOrder(venue.Hyperliquid, "UNKNOWN", 100, 0.2, Limit)
	if !v.Valid || len(v.Warnings) == 0 {
		t.Fatalf("default-rule validation: %+v", v)
	}
}

func TestBook_RefreshKeepsRulesOnFailure(t *testing.T) {
	good := &staticSource{v: venue.Aster, rules: []Rule{{Symbol: "BTCUSDT", QtyStep: 0.001}}}
	bad := &staticSource{v: venue.Lighter, err: errors.New("boom")}
	b := NewBook(good, bad)
	b.Set(Rule{Venue: venue.Lighter, Symbol: "BTC", QtyStep: 0.00001})

	err := b.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected joined error")
	}
	if _, ok := b.Rule(venue.Aster, "btcusdt"); !ok {
		t.Fatal("aster rule missing after refresh")
	}
	if _, ok := b.Rule(venue.Lighter, "BTC"); !ok {
		t.Fatal("lighter rule dropped by failed refresh")
	}
	if b.UpdatedAt(venue.Aster).IsZero() || !b.UpdatedAt(venue.Lighter).IsZero() {
		t.Fatal("update timestamps wrong")
	}

	good.rules = nil
	if err := NewBook(good).Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestBook_RunStopsOnCancel(t *testing.T) {
	src := &staticSource{v: venue.Aster}
	b := NewBook(src)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Run(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("expected initial refresh, got %d calls", src.calls)
	}
}
