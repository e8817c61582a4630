// Package notify delivers engine events to logs and Kafka.
package notify

import (
	"context"
	"time"

	"funding-arb/internal/strategy"
)

type EventType string

const (
	StrategyStarted  EventType = "strategy_started"
	StrategyStopped  EventType = "strategy_stopped"
	PositionOpened   EventType = "position_opened"
	PositionClosed   EventType = "position_closed"
	RebalanceSummary EventType = "rebalance_summary"
	NegativeSpread   EventType = "negative_spread"
	Unhedged         EventType = "unhedged_position"
	CloseFailure     EventType = "close_failure"
)

// Event is the wire form of one notification.
type Event struct {
	Type     EventType `json:"type"`
	Time     time.Time `json:"time"`
	Urgent   bool      `json:"urgent,omitempty"`
	Asset    string    `json:"asset,omitempty"`
	Duration string    `json:"duration,omitempty"`
	Payload  any       `json:"payload,omitempty"`
}

// Multi fans every event out to each notifier in order.
type Multi []strategy.Notifier

var _ strategy.Notifier = Multi(nil)

func (m Multi) StrategyStarted(ctx context.Context) {
	for _, n := range m {
		n.StrategyStarted(ctx)
	}
}

func (m Multi) StrategyStopped(ctx context.Context) {
	for _, n := range m {
		n.StrategyStopped(ctx)
	}
}

func (m Multi) PositionOpened(ctx context.Context, p strategy.Position) {
	for _, n := range m {
		n.PositionOpened(ctx, p)
	}
}

func (m Multi) PositionClosed(ctx context.Context, p strategy.Position) {
	for _, n := range m {
		n.PositionClosed(ctx, p)
	}
}

func (m Multi) RebalanceSummary(ctx context.Context, ev strategy.RebalanceEvent) {
	for _, n := range m {
		n.RebalanceSummary(ctx, ev)
	}
}

func (m Multi) NegativeSpread(ctx context.Context, p strategy.Position) {
	for _, n := range m {
		n.NegativeSpread(ctx, p)
	}
}

func (m Multi) Unhedged(ctx context.Context, a strategy.UnhedgedAlert) {
	for _, n := range m {
		n.Unhedged(ctx, a)
	}
}

func (m Multi) CloseFailure(ctx context.Context, p strategy.Position, f strategy.CloseFailure) {
	for _, n := range m {
		n.CloseFailure(ctx, p, f)
	}
}

func held(p strategy.Position) string {
	if p.ExitTime == nil {
		return ""
	}
	return p.ExitTime.Sub(p.EntryTime).Round(time.Second).String()
}
