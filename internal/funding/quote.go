// Package funding ingests mark prices and funding rates from every venue and
// normalizes them to an hourly and annualized basis keyed by canonical asset.
package funding

import (
	"time"

	"funding-arb/internal/venue"
)

// HoursPerYear is used to annualize hourly rates.
const HoursPerYear = 24 * 365

// RawQuote is a venue observation before symbol resolution. Rate is the
// per-period rate as published; PeriodHours is the payment interval.
type RawQuote struct {
	Venue         venue.Venue
	Symbol        string
	MarkPrice     float64
	Rate          float64
	PeriodHours   float64
	NextFundingAt time.Time
	ObservedAt    time.Time
}

// Quote is the latest normalized observation for one (venue, asset).
type Quote struct {
	Asset           string      `json:"asset"`
	Venue           venue.Venue `json:"venue"`
	NativeSymbol    string      `json:"native_symbol"`
	Multiplier      float64     `json:"multiplier"`
	MarkPrice       float64     `json:"mark_price"`
	NativeMarkPrice float64     `json:"native_mark_price"`
	RawRate         float64     `json:"raw_rate"`
	HourlyRate      float64     `json:"hourly_rate"`
	AnnualizedPct   float64     `json:"annualized_pct"`
	PeriodHours     float64     `json:"period_hours"`
	NextPaymentAt   time.Time   `json:"next_payment_at"`
	ObservedAt      time.Time   `json:"observed_at"`
}

// Normalize converts a per-period rate to hourly and annualized percent.
func Normalize(rate, periodHours float64) (hourly, annualizedPct float64) {
	if periodHours <= 0 {
		periodHours = 1
	}
	hourly = rate / periodHours
	return hourly, hourly * HoursPerYear * 100
}
