package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"funding-arb/internal/strategy"
)

const stateKey = "engine"

const schema = `
CREATE TABLE IF NOT EXISTS engine_state (
	id       TEXT PRIMARY KEY,
	state    JSONB NOT NULL,
	saved_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Querier is the part of pgx the store needs. *pgxpool.Pool, *pgx.Conn and
// pgx.Tx all satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps state in a single JSONB row.
type PostgresStore struct {
	db   Querier
	pool *pgxpool.Pool
}

// NewPostgresStoreWith wraps an existing connection. The schema must already exist.
func NewPostgresStoreWith(db Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create engine_state: %w", err)
	}
	log.Info().Str("component", "store").Msg("postgres state store ready")
	return &PostgresStore{db: pool, pool: pool}, nil
}

func (s *PostgresStore) Load(ctx context.Context) (*strategy.State, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT state FROM engine_state WHERE id = $1`, stateKey).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return &strategy.State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	var st strategy.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &st, nil
}

func (s *PostgresStore) Save(ctx context.Context, st *strategy.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO engine_state (id, state, saved_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, saved_at = now()
	`, stateKey, raw)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
