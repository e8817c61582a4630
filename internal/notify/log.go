package notify

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"funding-arb/internal/strategy"
)

// LogNotifier writes events to the global zerolog logger.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

var _ strategy.Notifier = (*LogNotifier)(nil)

func (n *LogNotifier) StrategyStarted(context.Context) {
	n.log.Info().Str("event", string(StrategyStarted)).Msg("strategy started")
}

func (n *LogNotifier) StrategyStopped(context.Context) {
	n.log.Info().Str("event", string(StrategyStopped)).Msg("strategy stopped")
}

func (n *LogNotifier) PositionOpened(_ context.Context, p strategy.Position) {
	n.log.Info().
		Str("event", string(PositionOpened)).
		Str("asset", p.Asset).
		Str("long", p.Long.Venue.String()).
		Str("short", p.Short.Venue.String()).
		Float64("notional", p.Notional).
		Float64("spread_apr", p.EntrySpread).
		Msg("position opened")
}

func (n *LogNotifier) PositionClosed(_ context.Context, p strategy.Position) {
	n.log.Info().
		Str("event", string(PositionClosed)).
		Str("asset", p.Asset).
		Str("reason", p.ExitReason).
		Float64("pnl", p.PnL).
		Float64("funding", p.FundingEarned).
		Str("held", held(p)).
		Msg("position closed")
}

func (n *LogNotifier) RebalanceSummary(_ context.Context, ev strategy.RebalanceEvent) {
	n.log.Info().
		Str("event", string(RebalanceSummary)).
		Strs("entered", ev.Entered).
		Strs("exited", ev.Exited).
		Int("spreads", ev.SpreadsConsidered).
		Msg("rebalance summary")
}

func (n *LogNotifier) NegativeSpread(_ context.Context, p strategy.Position) {
	n.log.Warn().
		Str("event", string(NegativeSpread)).
		Str("asset", p.Asset).
		Float64("spread_apr", p.CurrentSpread).
		Msg("negative spread")
}

func (n *LogNotifier) Unhedged(_ context.Context, a strategy.UnhedgedAlert) {
	n.log.Error().
		Str("event", string(Unhedged)).
		Str("asset", a.Asset).
		Str("venue", a.Venue.String()).
		Str("side", string(a.Side)).
		Float64("qty", a.Quantity).
		Str("reason", a.Reason).
		Msg("URGENT: unhedged position")
}

func (n *LogNotifier) CloseFailure(_ context.Context, p strategy.Position, f strategy.CloseFailure) {
	n.log.Error().
		Str("event", string(CloseFailure)).
		Str("asset", p.Asset).
		Str("venue", f.Venue.String()).
		Str("error", f.Error).
		Msg("close leg failed")
}
