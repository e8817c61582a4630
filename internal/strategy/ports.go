package strategy

import (
	"context"

	"funding-arb/internal/funding"
	"funding-arb/internal/precision"
	"funding-arb/internal/venue"
)

// QuoteBook is the engine's view of the funding feed.
type QuoteBook interface {
	Snapshot() []funding.Quote
	Get(v venue.Venue, asset string) (funding.Quote, bool)
}

// RuleBook supplies precision rules, falling back to defaults.
type RuleBook interface {
	Lookup(v venue.Venue, symbol string) precision.Rule
}

// Store persists engine state. Load returns an empty State when nothing was saved.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, s *State) error
}

// Notifier receives engine events. Implementations must not block for long.
type Notifier interface {
	StrategyStarted(ctx context.Context)
	StrategyStopped(ctx context.Context)
	PositionOpened(ctx context.Context, p Position)
	PositionClosed(ctx context.Context, p Position)
	RebalanceSummary(ctx context.Context, ev RebalanceEvent)
	NegativeSpread(ctx context.Context, p Position)
	Unhedged(ctx context.Context, a UnhedgedAlert)
	CloseFailure(ctx context.Context, p Position, f CloseFailure)
}

type nopNotifier struct{}

func (nopNotifier) StrategyStarted(context.Context)                      {}
func (nopNotifier) StrategyStopped(context.Context)                      {}
func (nopNotifier) PositionOpened(context.Context, Position)             {}
func (nopNotifier) PositionClosed(context.Context, Position)             {}
func (nopNotifier) RebalanceSummary(context.Context, RebalanceEvent)     {}
func (nopNotifier) NegativeSpread(context.Context, Position)             {}
func (nopNotifier) Unhedged(context.Context, UnhedgedAlert)              {}
func (nopNotifier) CloseFailure(context.Context, Position, CloseFailure) {}

type memStore struct {
	state *State
}

func (m *memStore) Load(context.Context) (*State, error) {
	if m.state == nil {
		return &State{}, nil
	}
	return m.state, nil
}

func (m *memStore) Save(_ context.Context, s *State) error {
	m.state = s
	return nil
}
