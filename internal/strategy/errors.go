package strategy

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrRebalanceInProgress = errors.New("rebalance already in progress")
	ErrInvariant           = errors.New("position invariant violated")
	ErrPositionNotFound    = errors.New("position not found")
	ErrStopped             = errors.New("strategy is stopped")
	ErrUnhedged            = errors.New("unhedged exposure")
)

// CooldownError rejects a manual trigger that came too soon after the previous one.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("manual rebalance on cooldown, %s remaining", e.Remaining.Round(time.Second))
}

// ReadinessError lists everything that keeps the engine from trading.
type ReadinessError struct {
	Issues []string
}

func (e *ReadinessError) Error() string {
	return "not ready to trade: " + strings.Join(e.Issues, "; ")
}
