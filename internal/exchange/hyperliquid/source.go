package hyperliquid

import (
	"context"
	"strconv"
	"time"

	"funding-arb/internal/funding"
	"funding-arb/internal/venue"
)

// FundingPeriodHours is Hyperliquid's payment interval.
const FundingPeriodHours = 1

// FundingSnapshot reads every perp's funding rate and mark price.
func (c *Client) FundingSnapshot(ctx context.Context) ([]funding.RawQuote, error) {
	if err := c.budget.Wait(ctx, 20); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	state, err := c.info.MetaAndAssetCtxs(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	next := now.Truncate(time.Hour).Add(time.Hour)
	out := make([]funding.RawQuote, 0, len(state.Universe))
	for i, asset := range state.Universe {
		if i >= len(state.Ctxs) {
			break
		}
		ctxs := state.Ctxs[i]
		rate, err := strconv.ParseFloat(ctxs.Funding, 64)
		if err != nil {
			continue
		}
		mark, err := strconv.ParseFloat(ctxs.MarkPx, 64)
		if err != nil || mark <= 0 {
			mark, _ = strconv.ParseFloat(ctxs.MidPx, 64)
		}
		out = append(out, funding.RawQuote{
			Venue:         venue.Hyperliquid,
			Symbol:        asset.Name,
			MarkPrice:     mark,
			Rate:          rate,
			PeriodHours:   FundingPeriodHours,
			NextFundingAt: next,
			ObservedAt:    now,
		})
	}
	return out, nil
}

// NewSource polls FundingSnapshot every interval.
func NewSource(c *Client, interval time.Duration) funding.Source {
	return funding.NewPollSource(venue.Hyperliquid, interval, c.FundingSnapshot)
}
