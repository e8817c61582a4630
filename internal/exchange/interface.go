// Package exchange defines the venue-neutral gateway contract and the helpers
// shared by the per-venue adapters: rate-limit budgets, fill verification,
// read retries and error capture.
package exchange

import (
	"context"
	"errors"

	"funding-arb/internal/precision"
	"funding-arb/internal/venue"
)

// Gateway is one venue adapter. Quantities and prices handed to PlaceOrder are
// already rounded against the venue's precision rules.
type Gateway interface {
	Venue() venue.Venue
	HasCredentials() bool

	PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error)
	GetOrderStatus(ctx context.Context, orderID, symbol string) (*OrderResult, error)
	CancelOrder(ctx context.Context, orderID, symbol string) (bool, error)
	GetBalance(ctx context.Context) (*Balance, error)

	FetchRules(ctx context.Context) ([]precision.Rule, error)
}

// StatusReader is the part of a Gateway needed to poll an order.
type StatusReader interface {
	GetOrderStatus(ctx context.Context, orderID, symbol string) (*OrderResult, error)
}

var (
	ErrNoCredentials = errors.New("venue credentials not configured")
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrOrderNotFound = errors.New("order not found")
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the side that reverses s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderStatus string

const (
	StatusFilled          OrderStatus = "FILLED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusOpen            OrderStatus = "OPEN"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusUnknown         OrderStatus = "UNKNOWN"
)

// Terminal reports whether the order can no longer change.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

type OrderRequest struct {
	Symbol     string
	Side       Side
	Quantity   float64 // venue units
	Price      float64 // limit price, or reference price for market orders
	Kind       precision.OrderKind
	ReduceOnly bool
	ClientID   string
}

// OrderResult is an order as last reported by the venue. FilledQty is in
// venue units; a PARTIALLY_FILLED result with FilledQty <= 0 means the venue
// did not report how much traded.
type OrderResult struct {
	OrderID   string
	Status    OrderStatus
	FilledQty float64
	AvgPrice  float64
}

type Balance struct {
	Asset     string
	Available float64
	Total     float64
}
