package exchange

import (
	"context"
	"sync"
	"time"

	"funding-arb/internal/venue"
)

// Budget enforces a venue's request-weight window and per-second call cap.
// Callers block in Wait until both allow the next request.
type Budget struct {
	mu sync.Mutex

	venue     venue.Venue
	maxWeight int
	window    time.Duration
	perSecond int

	windowStart time.Time
	used        int
	secondStart time.Time
	calls       int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewBudget(v venue.Venue, maxWeight int, window time.Duration, perSecond int) *Budget {
	return &Budget{
		venue:     v,
		maxWeight: maxWeight,
		window:    window,
		perSecond: perSecond,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Venue budgets published by the exchanges.
func AsterBudget() *Budget       { return NewBudget(venue.Aster, 2400, time.Minute, 10) }
func HyperliquidBudget() *Budget { return NewBudget(venue.Hyperliquid, 1200, time.Minute, 10) }
func LighterBudget() *Budget     { return NewBudget(venue.Lighter, 60, time.Minute, 10) }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wait consumes weight from the budget, sleeping out the current window or
// second when either limit would be exceeded.
func (b *Budget) Wait(ctx context.Context, weight int) error {
	if weight <= 0 {
		weight = 1
	}
	if b.maxWeight > 0 && weight > b.maxWeight {
		weight = b.maxWeight
	}

	b.mu.Lock()
	for {
		if err := ctx.Err(); err != nil {
			b.mu.Unlock()
			return err
		}

		now := b.now()
		if b.windowStart.IsZero() || now.Sub(b.windowStart) >= b.window {
			b.windowStart = now
			b.used = 0
		}
		if b.secondStart.IsZero() || now.Sub(b.secondStart) >= time.Second {
			b.secondStart = now
			b.calls = 0
		}

		var wait time.Duration
		if b.maxWeight > 0 && b.used+weight > b.maxWeight {
			wait = b.window - now.Sub(b.windowStart)
		}
		if b.perSecond > 0 && b.calls+1 > b.perSecond {
			if w := time.Second - now.Sub(b.secondStart); w > wait {
				wait = w
			}
		}
		if wait <= 0 {
			b.used += weight
			b.calls++
			b.mu.Unlock()
			return nil
		}

		b.mu.Unlock()
		if err := b.sleep(ctx, wait); err != nil {
			return err
		}
		b.mu.Lock()
	}
}

// Used returns the weight consumed in the current window.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.now().Sub(b.windowStart) >= b.window {
		return 0
	}
	return b.used
}
