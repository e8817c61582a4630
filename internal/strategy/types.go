package strategy

import (
	"time"

	"funding-arb/internal/exchange"
	"funding-arb/internal/venue"
)

// Status is the lifecycle stage of a Position.
type Status string

const (
	StatusOpen    Status = "open"
	StatusClosing Status = "closing"
	StatusClosed  Status = "closed"
)

// Exit reasons.
const (
	ReasonRebalance      = "rebalance"
	ReasonNegativeSpread = "negative_spread"
	ReasonManual         = "manual"
)

// Trigger says what started a rebalance cycle.
type Trigger string

const (
	TriggerTimer  Trigger = "timer"
	TriggerManual Trigger = "manual"
)

// Leg is one side of a hedged position. Size is in base units; Quantity is
// what was sent to the venue (Size / Multiplier).
type Leg struct {
	Venue        venue.Venue   `json:"venue"`
	Symbol       string        `json:"symbol"`
	Side         exchange.Side `json:"side"`
	Multiplier   float64       `json:"multiplier"`
	Size         float64       `json:"size"`
	Quantity     float64       `json:"quantity"`
	EntryPrice   float64       `json:"entry_price"`
	CurrentPrice float64       `json:"current_price"`
	FundingRate  float64       `json:"funding_rate"`
	OrderID      string        `json:"order_id"`
}

func (l Leg) pnl() float64 {
	if l.Side == exchange.Sell {
		return (l.EntryPrice - l.CurrentPrice) * l.Size
	}
	return (l.CurrentPrice - l.EntryPrice) * l.Size
}

// CloseFailure records a leg that could not be flattened when its position closed.
type CloseFailure struct {
	Venue  venue.Venue `json:"venue"`
	Symbol string      `json:"symbol"`
	Error  string      `json:"error"`
}

// Position is a filled long/short pair. Spreads are annualized percent.
type Position struct {
	ID            string         `json:"id"`
	Asset         string         `json:"asset"`
	Rank          int            `json:"rank"`
	AllocationPct float64        `json:"allocation_pct"`
	Long          Leg            `json:"long"`
	Short         Leg            `json:"short"`
	Notional      float64        `json:"notional"`
	EntrySpread   float64        `json:"entry_spread"`
	CurrentSpread float64        `json:"current_spread"`
	FundingEarned float64        `json:"funding_earned"`
	PnL           float64        `json:"pnl"`
	Status        Status         `json:"status"`
	EntryTime     time.Time      `json:"entry_time"`
	LastUpdate    time.Time      `json:"last_update"`
	ExitTime      *time.Time     `json:"exit_time,omitempty"`
	ExitReason    string         `json:"exit_reason,omitempty"`
	CloseFailures []CloseFailure `json:"close_failures,omitempty"`
}

// RebalanceEvent is the audit record of one cycle.
type RebalanceEvent struct {
	Timestamp         time.Time `json:"timestamp"`
	Trigger           Trigger   `json:"trigger"`
	Entered           []string  `json:"entered"`
	Exited            []string  `json:"exited"`
	SpreadsConsidered int       `json:"spreads_considered"`
	Skipped           []string  `json:"skipped,omitempty"`
}

// UnhedgedAlert describes one-sided exposure that needs manual remediation.
type UnhedgedAlert struct {
	Asset    string        `json:"asset"`
	Venue    venue.Venue   `json:"venue"`
	Symbol   string        `json:"symbol"`
	Side     exchange.Side `json:"side"`
	Quantity float64       `json:"quantity"`
	OrderID  string        `json:"order_id,omitempty"`
	Reason   string        `json:"reason"`
}

// State is everything the engine persists between restarts.
type State struct {
	Enabled       bool             `json:"enabled"`
	Positions     []Position       `json:"positions"`
	Closed        []Position       `json:"closed"`
	Rebalances    []RebalanceEvent `json:"rebalances"`
	LastRebalance time.Time        `json:"last_rebalance"`
	SavedAt       time.Time        `json:"saved_at"`
}

// Snapshot is the read-only status view.
type Snapshot struct {
	Enabled            bool       `json:"enabled"`
	TotalCapital       float64    `json:"total_capital"`
	AllocatedCapital   float64    `json:"allocated_capital"`
	AvailableCapital   float64    `json:"available_capital"`
	OpenPositions      []Position `json:"open_positions"`
	TotalPnl           float64    `json:"total_pnl"`
	TotalFundingEarned float64    `json:"total_funding_earned"`
	LastRebalanceTime  time.Time  `json:"last_rebalance_time"`
	NextRebalanceTime  time.Time  `json:"next_rebalance_time"`
}
