package precision

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrorKind classifies a validation failure.
type ErrorKind string

const (
	BelowMinNotional ErrorKind = "below_min_notional"
	QtyBelowMin      ErrorKind = "qty_below_min"
	QtyAboveMax      ErrorKind = "qty_above_max"
	InvalidPrice     ErrorKind = "invalid_price"
	InvalidQuantity  ErrorKind = "invalid_quantity"
)

// Problem is one reason an order was rejected.
type Problem struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Validation is the outcome of ValidateOrder. Corrected values are always
// populated, even when the order is invalid.
type Validation struct {
	Valid             bool      `json:"valid"`
	CorrectedPrice    float64   `json:"corrected_price"`
	CorrectedQuantity float64   `json:"corrected_quantity"`
	Errors            []Problem `json:"errors,omitempty"`
	Warnings          []string  `json:"warnings,omitempty"`
}

// Has reports whether the validation failed with kind.
func (v Validation) Has(kind ErrorKind) bool {
	for _, p := range v.Errors {
		if p.Kind == kind {
			return true
		}
	}
	return false
}

var ErrInvalidOrder = errors.New("invalid order")

// Err returns nil for a valid order, otherwise an error wrapping ErrInvalidOrder.
func (v Validation) Err() error {
	if v.Valid {
		return nil
	}
	msgs := make([]string, 0, len(v.Errors))
	for _, p := range v.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", p.Kind, p.Message))
	}
	return fmt.Errorf("%w: %s", ErrInvalidOrder, strings.Join(msgs, "; "))
}

// Validate rounds price and qty under r and checks bounds and notional on the
// corrected values. For market orders price is the reference mark used for the
// notional check.
func (r Rule) Validate(price, qty float64, kind OrderKind) Validation {
	out := Validation{
		CorrectedPrice:    r.RoundPrice(price),
		CorrectedQuantity: r.RoundQuantity(qty, kind),
	}
	if r.Default {
		out.Warnings = append(out.Warnings, fmt.Sprintf("no precision rule for %s %s, using default", r.Venue, r.Symbol))
	}

	if price <= 0 {
		out.Errors = append(out.Errors, Problem{Kind: InvalidPrice, Message: fmt.Sprintf("price %v must be positive", price)})
	}
	if qty <= 0 {
		out.Errors = append(out.Errors, Problem{Kind: InvalidQuantity, Message: fmt.Sprintf("quantity %v must be positive", qty)})
	}
	if len(out.Errors) > 0 {
		return out
	}

	if out.CorrectedPrice != price {
		out.Warnings = append(out.Warnings, fmt.Sprintf("price adjusted %v -> %v", price, out.CorrectedPrice))
	}
	if out.CorrectedQuantity != qty {
		out.Warnings = append(out.Warnings, fmt.Sprintf("quantity adjusted %v -> %v", qty, out.CorrectedQuantity))
	}

	if r.QtyMin > 0 && out.CorrectedQuantity < r.QtyMin {
		out.Errors = append(out.Errors, Problem{Kind: QtyBelowMin,
			Message: fmt.Sprintf("quantity %v below minimum %v", out.CorrectedQuantity, r.QtyMin)})
	}
	if r.QtyMax > 0 && out.CorrectedQuantity > r.QtyMax {
		out.Errors = append(out.Errors, Problem{Kind: QtyAboveMax,
			Message: fmt.Sprintf("quantity %v above maximum %v", out.CorrectedQuantity, r.QtyMax)})
	}
	notional := decimal.NewFromFloat(out.CorrectedPrice).Mul(decimal.NewFromFloat(out.CorrectedQuantity))
	if r.MinNotional > 0 && notional.LessThan(decimal.NewFromFloat(r.MinNotional)) {
		out.Errors = append(out.Errors, Problem{Kind: BelowMinNotional,
			Message: fmt.Sprintf("notional %s below minimum %v", notional.String(), r.MinNotional)})
	}

	out.Valid = len(out.Errors) == 0
	return out
}
