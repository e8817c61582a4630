package aster

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"funding-arb/internal/funding"
	"funding-arb/internal/venue"
	"funding-arb/pkg/ws"
)

const markPriceStream = "!markPrice@arr@1s"

// markPriceEvent is one element of the all-market mark price stream.
type markPriceEvent struct {
	Event           string `json:"e"`
	EventTime       int64  `json:"E"`
	Symbol          string `json:"s"`
	MarkPrice       string `json:"p"`
	FundingRate     string `json:"r"`
	NextFundingTime int64  `json:"T"`
}

// Stream is the streaming funding source: a REST snapshot on start, then the
// 1s mark price push stream.
type Stream struct {
	client          *Client
	wsURL           string
	intervalRefresh time.Duration
	opts            []ws.Option
}

func NewStream(client *Client, opts ...ws.Option) *Stream {
	return &Stream{
		client:          client,
		wsURL:           client.cfg.WSURL,
		intervalRefresh: time.Hour,
		opts:            opts,
	}
}

var _ funding.Source = (*Stream)(nil)

func (s *Stream) Venue() venue.Venue { return venue.Aster }

func (s *Stream) Run(ctx context.Context, emit func(funding.RawQuote)) error {
	if err := s.client.RefreshFundingIntervals(ctx); err != nil {
		s.client.log.Warn().Err(err).Msg("funding intervals unavailable, assuming 8h")
	}
	if snap, err := s.client.PremiumIndex(ctx); err != nil {
		s.client.log.Warn().Err(err).Msg("premium index snapshot failed")
	} else {
		now := time.Now()
		for _, p := range snap {
			if q, ok := s.raw(p.Symbol, p.MarkPrice, p.LastFundingRate, p.NextFundingTime, now); ok {
				emit(q)
			}
		}
	}

	go func() {
		ticker := time.NewTicker(s.intervalRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.client.RefreshFundingIntervals(ctx); err != nil {
					s.client.log.Warn().Err(err).Msg("funding interval refresh failed")
				}
			}
		}
	}()

	opts := append([]ws.Option{
		ws.WithName("aster-mark-price"),
		ws.WithSubscribe(func(send ws.SendFunc) error {
			return send(map[string]any{"method": "SUBSCRIBE", "params": []string{markPriceStream}, "id": 1})
		}),
	}, s.opts...)
	client := ws.NewClient(s.wsURL, func(data []byte) { s.handle(data, emit) }, opts...)
	return client.Run(ctx)
}

func (s *Stream) handle(data []byte, emit func(funding.RawQuote)) {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "[") {
		// subscription acks and single events
		var ev markPriceEvent
		if json.Unmarshal(data, &ev) == nil && ev.Event == "markPriceUpdate" {
			if q, ok := s.raw(ev.Symbol, ev.MarkPrice, ev.FundingRate, ev.NextFundingTime, eventTime(ev.EventTime)); ok {
				emit(q)
			}
		}
		return
	}

	var events []markPriceEvent
	if err := json.Unmarshal(data, &events); err != nil {
		s.client.log.Debug().Err(err).Msg("bad mark price frame")
		return
	}
	for _, ev := range events {
		if q, ok := s.raw(ev.Symbol, ev.MarkPrice, ev.FundingRate, ev.NextFundingTime, eventTime(ev.EventTime)); ok {
			emit(q)
		}
	}
}

func eventTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

func (s *Stream) raw(symbol, mark, rate string, nextMs int64, at time.Time) (funding.RawQuote, bool) {
	m, err1 := strconv.ParseFloat(mark, 64)
	r, err2 := strconv.ParseFloat(rate, 64)
	if err1 != nil || err2 != nil || symbol == "" {
		return funding.RawQuote{}, false
	}
	q := funding.RawQuote{
		Venue:       venue.Aster,
		Symbol:      symbol,
		MarkPrice:   m,
		Rate:        r,
		PeriodHours: s.client.FundingHours(symbol),
		ObservedAt:  at,
	}
	if nextMs > 0 {
		q.NextFundingAt = time.UnixMilli(nextMs)
	}
	return q, true
}
