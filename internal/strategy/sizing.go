package strategy

import (
	"fmt"
	"math"
)

// entryPlan is a sized, validated candidate. Size is in base units and equal
// on both legs; quantities and prices are in venue units.
type entryPlan struct {
	Spread        Spread
	Rank          int
	AllocationPct float64
	Size          float64
	LongQty       float64
	ShortQty      float64
	LongPrice     float64
	ShortPrice    float64
}

// checkInvariants refuses spreads that would produce an inconsistent position.
func checkInvariants(s Spread) error {
	if s.LongVenue == s.ShortVenue {
		return fmt.Errorf("%w: %s long and short both on %s", ErrInvariant, s.Asset, s.LongVenue)
	}
	if math.Abs(s.ShortRate) < math.Abs(s.LongRate) {
		return fmt.Errorf("%w: %s short rate %g smaller than long rate %g", ErrInvariant, s.Asset, s.ShortRate, s.LongRate)
	}
	if s.LongMultiplier <= 0 || s.ShortMultiplier <= 0 {
		return fmt.Errorf("%w: %s multipliers %g/%g", ErrInvariant, s.Asset, s.LongMultiplier, s.ShortMultiplier)
	}
	return nil
}

// plan sizes a candidate: leg notional is required_capital * allocation% *
// leverage, split into base units at the average mark, rounded up on each
// venue, and the larger base size applied to both legs.
func (e *Engine) plan(s Spread, rank int, allocationPct float64) (entryPlan, error) {
	if err := checkInvariants(s); err != nil {
		e.log.Error().Err(err).Msg("refusing candidate")
		return entryPlan{}, err
	}
	avg := s.AvgMark()
	if avg <= 0 || s.LongMark <= 0 || s.ShortMark <= 0 {
		return entryPlan{}, fmt.Errorf("no usable mark price")
	}

	notional := e.cfg.RequiredCapital * allocationPct / 100 * e.cfg.Leverage
	base := notional / avg

	longRule := e.rules.Lookup(s.LongVenue, s.LongSymbol)
	shortRule := e.rules.Lookup(s.ShortVenue, s.ShortSymbol)

	longQty := longRule.RoundQuantity(base/s.LongMultiplier, e.kind)
	shortQty := shortRule.RoundQuantity(base/s.ShortMultiplier, e.kind)
	size := math.Max(longQty*s.LongMultiplier, shortQty*s.ShortMultiplier)
	longQty = longRule.RoundQuantity(size/s.LongMultiplier, e.kind)
	shortQty = shortRule.RoundQuantity(size/s.ShortMultiplier, e.kind)

	longCheck := longRule.Validate(s.LongMark*s.LongMultiplier, longQty, e.kind)
	if err := longCheck.Err(); err != nil {
		return entryPlan{}, fmt.Errorf("%s %s: %w", s.LongVenue, s.LongSymbol, err)
	}
	shortCheck := shortRule.Validate(s.ShortMark*s.ShortMultiplier, shortQty, e.kind)
	if err := shortCheck.Err(); err != nil {
		return entryPlan{}, fmt.Errorf("%s %s: %w", s.ShortVenue, s.ShortSymbol, err)
	}

	return entryPlan{
		Spread:        s,
		Rank:          rank,
		AllocationPct: allocationPct,
		Size:          size,
		LongQty:       longCheck.CorrectedQuantity,
		ShortQty:      shortCheck.CorrectedQuantity,
		LongPrice:     longCheck.CorrectedPrice,
		ShortPrice:    shortCheck.CorrectedPrice,
	}, nil
}
