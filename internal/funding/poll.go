package funding

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"funding-arb/internal/exchange"
	"funding-arb/internal/venue"
)

// PollSource adapts a snapshot fetch into a Source.
type PollSource struct {
	venue    venue.Venue
	interval time.Duration
	fetch    func(ctx context.Context) ([]RawQuote, error)
}

func NewPollSource(v venue.Venue, interval time.Duration, fetch func(ctx context.Context) ([]RawQuote, error)) *PollSource {
	return &PollSource{venue: v, interval: interval, fetch: fetch}
}

func (p *PollSource) Venue() venue.Venue { return p.venue }

// Run fetches immediately and then every interval. Transient fetch errors are
// retried; a failed round is logged and the next tick tries again.
func (p *PollSource) Run(ctx context.Context, emit func(RawQuote)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		var quotes []RawQuote
		err := exchange.Retry(ctx, 3, time.Second, func(ctx context.Context) error {
			var err error
			quotes, err = p.fetch(ctx)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Str("venue", p.venue.String()).Msg("funding poll failed")
		}
		for _, q := range quotes {
			emit(q)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
