package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"funding-arb/internal/exchange"
	"funding-arb/internal/precision"
)

// fillPolls is how many status reads are spread across the fill timeout.
const fillPolls = 5

// legOrder tracks one order of a hedged entry or close.
type legOrder struct {
	leg    Leg
	gw     exchange.Gateway
	req    *exchange.OrderRequest
	result *exchange.OrderResult
	status exchange.OrderStatus
	// latest venue-reported fill, zero when unknown
	filledQty float64
	avgPrice  float64
	err       error
}

func (l *legOrder) filled() bool {
	return l.status == exchange.StatusFilled
}

func (l *legOrder) apply(res *exchange.OrderResult) {
	if res == nil {
		return
	}
	l.status = res.Status
	if res.FilledQty > 0 {
		l.filledQty = res.FilledQty
	}
	if res.AvgPrice > 0 {
		l.avgPrice = res.AvgPrice
	}
}

// sizeKnown is false when the executed quantity could not be read.
func (l *legOrder) sizeKnown() bool {
	switch l.status {
	case exchange.StatusUnknown:
		return false
	case exchange.StatusPartiallyFilled:
		return l.filledQty > 0
	}
	return true
}

// exposure is the quantity this order has put on the book. An unknown
// partial counts as the full order.
func (l *legOrder) exposure() float64 {
	switch {
	case l.filled():
		return l.req.Quantity
	case l.status == exchange.StatusPartiallyFilled && l.filledQty > 0:
		return l.filledQty
	case l.status == exchange.StatusPartiallyFilled:
		return l.req.Quantity
	}
	return 0
}

func newLegOrder(leg Leg, gw exchange.Gateway, qty, price float64, kind precision.OrderKind, reduceOnly bool) *legOrder {
	side := leg.Side
	if reduceOnly {
		side = side.Opposite()
	}
	return &legOrder{
		leg: leg,
		gw:  gw,
		req: &exchange.OrderRequest{
			Symbol:     leg.Symbol,
			Side:       side,
			Quantity:   qty,
			Price:      price,
			Kind:       kind,
			ReduceOnly: reduceOnly,
			ClientID:   uuid.NewString(),
		},
	}
}

// placeAll sends every order concurrently and returns once all have answered.
func placeAll(ctx context.Context, orders ...*legOrder) {
	var wg sync.WaitGroup
	for _, o := range orders {
		wg.Add(1)
		go func(o *legOrder) {
			defer wg.Done()
			if o.gw == nil {
				o.err = fmt.Errorf("no gateway for %s", o.leg.Venue)
				return
			}
			o.result, o.err = o.gw.PlaceOrder(ctx, o.req)
			if o.err == nil {
				o.apply(o.result)
			}
		}(o)
	}
	wg.Wait()
}

// enter opens a hedged position or leaves nothing behind. Order handling is
// not cancelled with ctx once the first order is out.
func (e *Engine) enter(ctx context.Context, plan entryPlan) (*Position, error) {
	ctx = context.WithoutCancel(ctx)
	s := plan.Spread
	logger := e.log.With().Str("asset", s.Asset).Str("long", s.LongVenue.String()).Str("short", s.ShortVenue.String()).Logger()

	if err := checkInvariants(s); err != nil {
		logger.Error().Err(err).Msg("refusing position")
		return nil, err
	}
	if total := e.allocatedPct() + plan.AllocationPct; total > 100+1e-9 {
		err := fmt.Errorf("%w: allocation would reach %.2f%%", ErrInvariant, total)
		logger.Error().Err(err).Msg("refusing position")
		return nil, err
	}

	long := newLegOrder(Leg{
		Venue: s.LongVenue, Symbol: s.LongSymbol, Side: exchange.Buy, Multiplier: s.LongMultiplier,
		Size: plan.Size, Quantity: plan.LongQty, EntryPrice: s.LongMark, CurrentPrice: s.LongMark, FundingRate: s.LongRate,
	}, e.gateways[s.LongVenue], plan.LongQty, plan.LongPrice, e.kind, false)
	short := newLegOrder(Leg{
		Venue: s.ShortVenue, Symbol: s.ShortSymbol, Side: exchange.Sell, Multiplier: s.ShortMultiplier,
		Size: plan.Size, Quantity: plan.ShortQty, EntryPrice: s.ShortMark, CurrentPrice: s.ShortMark, FundingRate: s.ShortRate,
	}, e.gateways[s.ShortVenue], plan.ShortQty, plan.ShortPrice, e.kind, false)

	logger.Info().
		Float64("size", plan.Size).
		Float64("spread_apr", s.AnnualizedSpreadPct).
		Int("rank", plan.Rank).
		Msg("opening hedged position")
	placeAll(ctx, long, short)

	switch {
	case long.err != nil && short.err != nil:
		return nil, fmt.Errorf("both legs rejected: %w", errors.Join(long.err, short.err))
	case long.err != nil:
		e.unwind(ctx, s.Asset, short)
		return nil, fmt.Errorf("long leg on %s: %w", s.LongVenue, long.err)
	case short.err != nil:
		e.unwind(ctx, s.Asset, long)
		return nil, fmt.Errorf("short leg on %s: %w", s.ShortVenue, short.err)
	}

	e.awaitFills(ctx, long, short)

	if !long.filled() && !short.filled() {
		e.cancelLeg(ctx, long)
		e.cancelLeg(ctx, short)
		// a fill can land between the last poll and the cancel
		e.settle(ctx, long)
		e.settle(ctx, short)
		if !long.filled() && !short.filled() {
			e.reportPartials(ctx, s.Asset, long, short)
			return nil, fmt.Errorf("neither leg filled within %s", e.cfg.FillTimeout())
		}
	}

	if long.filled() && short.filled() {
		return e.commit(ctx, plan, long, short), nil
	}

	filled, missing := long, short
	if short.filled() {
		filled, missing = short, long
	}
	if err := e.emergencyHedge(ctx, s.Asset, filled, missing); err != nil {
		return nil, err
	}
	return e.commit(ctx, plan, long, short), nil
}

// awaitFills polls both orders concurrently for up to the fill timeout.
func (e *Engine) awaitFills(ctx context.Context, orders ...*legOrder) {
	interval := e.cfg.FillTimeout() / fillPolls
	var wg sync.WaitGroup
	for _, o := range orders {
		if o.filled() {
			continue
		}
		wg.Add(1)
		go func(o *legOrder) {
			defer wg.Done()
			_, res, err := exchange.VerifyFill(ctx, o.gw, o.result.OrderID, o.leg.Symbol, interval, fillPolls+1)
			if err != nil {
				e.log.Warn().Err(err).Str("venue", o.leg.Venue.String()).Str("order", o.result.OrderID).Msg("fill status unavailable")
			}
			o.apply(res)
		}(o)
	}
	wg.Wait()
}

// settle re-reads the status of an order that is not known to be filled.
func (e *Engine) settle(ctx context.Context, o *legOrder) {
	if o.filled() || o.result == nil {
		return
	}
	res, err := o.gw.GetOrderStatus(ctx, o.result.OrderID, o.leg.Symbol)
	if err != nil {
		e.log.Warn().Err(err).Str("venue", o.leg.Venue.String()).Str("order", o.result.OrderID).Msg("status re-check failed")
		return
	}
	o.apply(res)
}

func (e *Engine) cancelLeg(ctx context.Context, o *legOrder) {
	if o.filled() || o.result == nil || o.status.Terminal() {
		return
	}
	ok, err := o.gw.CancelOrder(ctx, o.result.OrderID, o.leg.Symbol)
	if err != nil {
		e.log.Warn().Err(err).Str("venue", o.leg.Venue.String()).Str("order", o.result.OrderID).Msg("cancel failed")
		return
	}
	e.log.Debug().Bool("cancelled", ok).Str("venue", o.leg.Venue.String()).Str("order", o.result.OrderID).Msg("order cancelled")
}

// emergencyHedge restores neutrality after exactly one leg filled: the
// unfilled order is cancelled and its unfilled remainder is bought or sold
// at market on the same venue.
func (e *Engine) emergencyHedge(ctx context.Context, asset string, filled, missing *legOrder) error {
	logger := e.log.With().Str("asset", asset).Str("filled_venue", filled.leg.Venue.String()).Str("hedge_venue", missing.leg.Venue.String()).Logger()
	logger.Warn().Msg("one leg filled, hedging the other at market")

	e.cancelLeg(ctx, missing)
	e.settle(ctx, missing)
	if missing.filled() {
		logger.Info().Msg("missing leg filled before cancel")
		return nil
	}
	if !missing.sizeKnown() {
		reason := fmt.Sprintf("hedge leg %s with unknown fill size", missing.status)
		e.alertUnhedged(ctx, asset, filled, reason)
		return fmt.Errorf("%w: %s leg on %s: %s", ErrUnhedged, filled.leg.Side, filled.leg.Venue, reason)
	}

	remaining := decimal.NewFromFloat(missing.req.Quantity).Sub(decimal.NewFromFloat(missing.filledQty)).InexactFloat64()
	if remaining <= 0 {
		missing.status = exchange.StatusFilled
		logger.Info().Msg("missing leg fully filled before cancel")
		return nil
	}
	if missing.filledQty > 0 {
		logger.Warn().Float64("filled", missing.filledQty).Float64("remaining", remaining).Msg("hedge leg partially filled")
	}

	hedge := newLegOrder(missing.leg, missing.gw, remaining, missing.req.Price, precision.Market, false)
	placeAll(ctx, hedge)
	if hedge.err == nil && !hedge.filled() {
		e.awaitFills(ctx, hedge)
	}
	if hedge.err != nil || !hedge.filled() {
		reason := fmt.Sprintf("market hedge ended %s", hedge.status)
		if hedge.err != nil {
			reason = fmt.Sprintf("market hedge rejected: %v", hedge.err)
		}
		e.alertUnhedged(ctx, asset, filled, reason)
		return fmt.Errorf("%w: %s leg on %s: %s", ErrUnhedged, filled.leg.Side, filled.leg.Venue, reason)
	}

	if missing.filledQty > 0 && missing.avgPrice > 0 && hedge.avgPrice > 0 {
		missing.avgPrice = (missing.avgPrice*missing.filledQty + hedge.avgPrice*remaining) / missing.req.Quantity
	} else {
		missing.avgPrice = hedge.avgPrice
	}
	missing.result = hedge.result
	missing.status = exchange.StatusFilled
	missing.filledQty = missing.req.Quantity
	logger.Info().Str("order", hedge.result.OrderID).Float64("qty", remaining).Msg("emergency hedge filled")
	return nil
}

// unwind removes the exposure of a leg whose sibling was never placed.
func (e *Engine) unwind(ctx context.Context, asset string, o *legOrder) {
	e.cancelLeg(ctx, o)
	e.settle(ctx, o)
	qty := o.exposure()
	if qty <= 0 {
		return
	}

	// reduce-only caps an unknown partial at what is actually open
	flat := newLegOrder(o.leg, o.gw, qty, o.req.Price, precision.Market, true)
	placeAll(ctx, flat)
	if flat.err != nil {
		e.alertUnhedged(ctx, asset, o, fmt.Sprintf("sibling rejected and flatten failed: %v", flat.err))
		return
	}
	e.log.Warn().Str("asset", asset).Str("venue", o.leg.Venue.String()).Msg("flattened leg after sibling rejection")
}

func (e *Engine) reportPartials(ctx context.Context, asset string, orders ...*legOrder) {
	for _, o := range orders {
		if o.status == exchange.StatusPartiallyFilled {
			e.alertUnhedged(ctx, asset, o, "partially filled order left after cancel")
		}
	}
}

func (e *Engine) alertUnhedged(ctx context.Context, asset string, o *legOrder, reason string) {
	alert := UnhedgedAlert{
		Asset:    asset,
		Venue:    o.leg.Venue,
		Symbol:   o.leg.Symbol,
		Side:     o.req.Side,
		Quantity: o.req.Quantity,
		Reason:   reason,
	}
	if q := o.exposure(); q > 0 {
		alert.Quantity = q
	}
	if o.result != nil {
		alert.OrderID = o.result.OrderID
	}
	e.log.Error().
		Str("asset", asset).
		Str("venue", o.leg.Venue.String()).
		Str("side", string(alert.Side)).
		Float64("qty", alert.Quantity).
		Str("reason", reason).
		Msg("UNHEDGED POSITION, manual action required")
	e.notifier.Unhedged(ctx, alert)
}

func (e *Engine) commit(ctx context.Context, plan entryPlan, long, short *legOrder) *Position {
	now := e.now()
	for _, o := range []*legOrder{long, short} {
		o.leg.OrderID = o.result.OrderID
		if o.avgPrice > 0 {
			o.leg.EntryPrice = o.avgPrice / o.leg.Multiplier
			o.leg.CurrentPrice = o.leg.EntryPrice
		}
	}

	p := &Position{
		ID:            uuid.NewString(),
		Asset:         plan.Spread.Asset,
		Rank:          plan.Rank,
		AllocationPct: plan.AllocationPct,
		Long:          long.leg,
		Short:         short.leg,
		Notional:      plan.Size * (long.leg.EntryPrice + short.leg.EntryPrice) / 2,
		EntrySpread:   plan.Spread.AnnualizedSpreadPct,
		CurrentSpread: plan.Spread.AnnualizedSpreadPct,
		Status:        StatusOpen,
		EntryTime:     now,
		LastUpdate:    now,
	}

	e.stateMu.Lock()
	e.positions[p.ID] = p
	e.stateMu.Unlock()

	e.log.Info().
		Str("id", p.ID).
		Str("asset", p.Asset).
		Float64("notional", p.Notional).
		Float64("spread_apr", p.EntrySpread).
		Msg("position opened")
	e.notifier.PositionOpened(ctx, *p)
	return p
}
