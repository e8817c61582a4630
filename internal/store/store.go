// Package store persists engine state between restarts.
package store

import (
	"context"
	"fmt"

	"funding-arb/internal/config"
	"funding-arb/internal/strategy"
)

// Store is a strategy.Store that holds resources.
type Store interface {
	strategy.Store
	Close()
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "file":
		return NewFileStore(cfg.Path), nil
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
