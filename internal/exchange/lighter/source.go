package lighter

import (
	"context"
	"strings"
	"time"

	"funding-arb/internal/funding"
	"funding-arb/internal/venue"
)

// FundingPeriodHours is Lighter's payment interval.
const FundingPeriodHours = 1

type fundingRatesResponse struct {
	FundingRates []struct {
		MarketID int     `json:"market_id"`
		Exchange string  `json:"exchange"`
		Symbol   string  `json:"symbol"`
		Rate     float64 `json:"rate"`
	} `json:"funding_rates"`
}

// FundingSnapshot joins the venue's own funding rates with last trade prices
// from the market list.
func (c *Client) FundingSnapshot(ctx context.Context) ([]funding.RawQuote, error) {
	markets, err := c.loadMarkets(ctx)
	if err != nil {
		return nil, err
	}
	var rates fundingRatesResponse
	if err := c.get(ctx, "/api/v1/funding-rates", nil, &rates); err != nil {
		return nil, err
	}

	now := time.Now()
	next := now.Truncate(time.Hour).Add(time.Hour)
	out := make([]funding.RawQuote, 0, len(rates.FundingRates))
	for _, fr := range rates.FundingRates {
		if !strings.EqualFold(fr.Exchange, "lighter") {
			continue
		}
		m, ok := markets[strings.ToUpper(fr.Symbol)]
		if !ok {
			continue
		}
		out = append(out, funding.RawQuote{
			Venue:         venue.Lighter,
			Symbol:        fr.Symbol,
			MarkPrice:     m.LastPrice,
			Rate:          fr.Rate,
			PeriodHours:   FundingPeriodHours,
			NextFundingAt: next,
			ObservedAt:    now,
		})
	}
	return out, nil
}

// NewSource polls FundingSnapshot every interval.
func NewSource(c *Client, interval time.Duration) funding.Source {
	return funding.NewPollSource(venue.Lighter, interval, c.FundingSnapshot)
}
