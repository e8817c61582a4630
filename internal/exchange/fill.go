package exchange

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// VerifyFill polls the order until it is terminal or attempts run out. It never
// blocks past attempts*interval; the returned result is the last one observed,
// StatusUnknown when no read succeeded.
func VerifyFill(ctx context.Context, gw StatusReader, orderID, symbol string, interval time.Duration, attempts int) (bool, *OrderResult, error) {
	if attempts <= 0 {
		attempts = 1
	}
	last := &OrderResult{OrderID: orderID, Status: StatusUnknown}
	var lastErr error

	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, interval); err != nil {
				return false, last, err
			}
		}
		res, err := gw.GetOrderStatus(ctx, orderID, symbol)
		if err != nil {
			lastErr = err
			log.Debug().Err(err).Str("order", orderID).Int("attempt", i+1).Msg("order status read failed")
			continue
		}
		lastErr = nil
		last = res
		if res.Status == StatusFilled {
			return true, res, nil
		}
		if res.Status.Terminal() {
			return false, res, nil
		}
	}
	return false, last, lastErr
}
