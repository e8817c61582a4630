package strategy

import (
	"context"
	"fmt"
	"time"

	"funding-arb/internal/precision"
)

// updatePosition refreshes prices and rates from the quote book, accrues
// funding at the previous spread for the elapsed time, and recomputes PnL.
// Caller holds runMu and stateMu.
func (e *Engine) updatePosition(p *Position, now time.Time) {
	prevHourly := HourlySpread(p.Short.FundingRate, p.Long.FundingRate)
	if !p.LastUpdate.IsZero() && now.After(p.LastUpdate) {
		p.FundingEarned += p.Notional * prevHourly * now.Sub(p.LastUpdate).Hours()
	}

	// stale quotes leave the last known price and rate in place
	if q, ok := e.quotes.Get(p.Long.Venue, p.Asset); ok && !isStale(q, now, e.cfg.MaxQuoteAge()) {
		p.Long.CurrentPrice = q.MarkPrice
		p.Long.FundingRate = q.HourlyRate
	}
	if q, ok := e.quotes.Get(p.Short.Venue, p.Asset); ok && !isStale(q, now, e.cfg.MaxQuoteAge()) {
		p.Short.CurrentPrice = q.MarkPrice
		p.Short.FundingRate = q.HourlyRate
	}

	p.CurrentSpread = AnnualizedPct(HourlySpread(p.Short.FundingRate, p.Long.FundingRate))
	p.PnL = p.Long.pnl() + p.Short.pnl() + p.FundingEarned
	p.LastUpdate = now
}

func (e *Engine) refreshPositions(now time.Time) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	for _, p := range e.positions {
		e.updatePosition(p, now)
	}
}

// CheckExits updates every open position and closes those whose spread has
// turned negative. It returns the ids closed.
func (e *Engine) CheckExits(ctx context.Context) []string {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if len(e.positions) == 0 {
		return nil
	}
	e.refreshPositions(e.now())

	var closed []string
	for _, p := range e.openPositions() {
		if p.Status != StatusOpen || p.CurrentSpread >= 0 {
			continue
		}
		e.log.Warn().
			Str("id", p.ID).
			Str("asset", p.Asset).
			Float64("spread_apr", p.CurrentSpread).
			Msg("spread turned negative, closing")
		e.notifier.NegativeSpread(ctx, *p)
		e.closePosition(ctx, p, ReasonNegativeSpread)
		closed = append(closed, p.ID)
	}
	e.persist(ctx)
	return closed
}

// ClosePosition closes one position on request.
func (e *Engine) ClosePosition(ctx context.Context, id string) (*Position, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	p, ok := e.positions[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrPositionNotFound)
	}
	e.stateMu.Lock()
	e.updatePosition(p, e.now())
	e.stateMu.Unlock()

	e.closePosition(ctx, p, ReasonManual)
	e.persist(ctx)
	out := *p
	return &out, nil
}

// closePosition reverses both legs with reduce-only market orders. The
// position always ends closed; a failed leg is recorded for manual cleanup.
// Caller holds runMu.
func (e *Engine) closePosition(ctx context.Context, p *Position, reason string) {
	ctx = context.WithoutCancel(ctx)

	e.stateMu.Lock()
	p.Status = StatusClosing
	e.stateMu.Unlock()

	long := newLegOrder(p.Long, e.gateways[p.Long.Venue], p.Long.Quantity, p.Long.CurrentPrice*p.Long.Multiplier, precision.Market, true)
	short := newLegOrder(p.Short, e.gateways[p.Short.Venue], p.Short.Quantity, p.Short.CurrentPrice*p.Short.Multiplier, precision.Market, true)
	placeAll(ctx, long, short)

	var failures []CloseFailure
	for _, o := range []*legOrder{long, short} {
		if o.err == nil {
			continue
		}
		failures = append(failures, CloseFailure{Venue: o.leg.Venue, Symbol: o.leg.Symbol, Error: o.err.Error()})
	}

	now := e.now()
	e.stateMu.Lock()
	p.CloseFailures = failures
	p.Status = StatusClosed
	p.ExitTime = &now
	p.ExitReason = reason
	p.PnL = p.Long.pnl() + p.Short.pnl() + p.FundingEarned
	delete(e.positions, p.ID)
	e.closed = appendBounded(e.closed, *p, e.cfg.ClosedHistory)
	e.stateMu.Unlock()

	for _, f := range failures {
		e.log.Error().
			Str("id", p.ID).
			Str("asset", p.Asset).
			Str("venue", f.Venue.String()).
			Str("error", f.Error).
			Msg("close leg failed, residual exposure needs manual remediation")
		e.notifier.CloseFailure(ctx, *p, f)
	}
	e.log.Info().
		Str("id", p.ID).
		Str("asset", p.Asset).
		Str("reason", reason).
		Float64("pnl", p.PnL).
		Dur("held", now.Sub(p.EntryTime)).
		Msg("position closed")
	e.notifier.PositionClosed(ctx, *p)
}
