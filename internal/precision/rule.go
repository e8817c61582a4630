// Package precision holds per-venue tick/step/notional rules and rounds orders
// against them before they reach a gateway.
package precision

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"funding-arb/internal/venue"
)

// OrderKind selects between resting and immediate execution.
type OrderKind string

const (
	Limit  OrderKind = "limit"
	Market OrderKind = "market"
)

// ParseOrderKind accepts "limit" or "market".
func ParseOrderKind(s string) (OrderKind, error) {
	switch k := OrderKind(strings.ToLower(strings.TrimSpace(s))); k {
	case Limit, Market:
		return k, nil
	default:
		return "", fmt.Errorf("unknown order kind %q", s)
	}
}

// Fallback values used when a venue publishes no rule for a symbol.
const (
	DefaultPriceDecimals = 6
	DefaultQtyStep       = 0.001
	DefaultMinNotional   = 10.0
)

// Rule is one instrument's trading constraints. Zero values mean "no constraint"
// except for PriceTick and QtyStep, which fall back to the decimals fields.
type Rule struct {
	Venue         venue.Venue `json:"venue"`
	Symbol        string      `json:"symbol"`
	PriceTick     float64     `json:"price_tick"`
	PriceDecimals int         `json:"price_decimals"`
	QtyStep       float64     `json:"qty_step"`
	QtyDecimals   int         `json:"qty_decimals"`
	QtyMin        float64     `json:"qty_min"`
	QtyMax        float64     `json:"qty_max"`
	MinNotional   float64     `json:"min_notional"`
	MarketQtyStep float64     `json:"market_qty_step,omitempty"`
	Default       bool        `json:"default,omitempty"`
}

// DefaultRule is the conservative rule applied to symbols with no published metadata.
func DefaultRule(v venue.Venue, symbol string) Rule {
	return Rule{
		Venue:         v,
		Symbol:        symbol,
		PriceTick:     StepFromDecimals(DefaultPriceDecimals),
		PriceDecimals: DefaultPriceDecimals,
		QtyStep:       DefaultQtyStep,
		QtyDecimals:   DecimalsFor(DefaultQtyStep),
		MinNotional:   DefaultMinNotional,
		Default:       true,
	}
}

func (r Rule) priceTick() decimal.Decimal {
	if r.PriceTick > 0 {
		return decimal.NewFromFloat(r.PriceTick)
	}
	return decimal.New(1, -int32(r.PriceDecimals))
}

func (r Rule) qtyStep(kind OrderKind) decimal.Decimal {
	if kind == Market && r.MarketQtyStep > 0 {
		return decimal.NewFromFloat(r.MarketQtyStep)
	}
	if r.QtyStep > 0 {
		return decimal.NewFromFloat(r.QtyStep)
	}
	return decimal.New(1, -int32(r.QtyDecimals))
}

// RoundPrice snaps price to the nearest tick.
func (r Rule) RoundPrice(price float64) float64 {
	tick := r.priceTick()
	if !tick.IsPositive() || price <= 0 {
		return price
	}
	return decimal.NewFromFloat(price).Div(tick).Round(0).Mul(tick).InexactFloat64()
}

// RoundQuantity rounds qty up to the next step for kind.
func (r Rule) RoundQuantity(qty float64, kind OrderKind) float64 {
	step := r.qtyStep(kind)
	if !step.IsPositive() || qty <= 0 {
		return qty
	}
	return decimal.NewFromFloat(qty).Div(step).Ceil().Mul(step).InexactFloat64()
}

// DecimalsFor returns the number of fractional digits in step (0.01 -> 2).
func DecimalsFor(step float64) int {
	if step <= 0 {
		return 0
	}
	exp := decimal.NewFromFloat(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return int(-exp)
}

// StepFromDecimals returns 10^-decimals.
func StepFromDecimals(decimals int) float64 {
	return decimal.New(1, -int32(decimals)).InexactFloat64()
}

// FormatDecimals renders v with exactly decimals fractional digits for wire formats.
func FormatDecimals(v float64, decimals int) string {
	return decimal.NewFromFloat(v).StringFixed(int32(decimals))
}

// ScaleToInt returns v * 10^decimals rounded to an integer, for venues that take
// integer-scaled prices and sizes.
func ScaleToInt(v float64, decimals int) int64 {
	return decimal.NewFromFloat(v).Shift(int32(decimals)).Round(0).IntPart()
}
