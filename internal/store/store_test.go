package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"funding-arb/internal/config"
	"funding-arb/internal/exchange"
	"funding-arb/internal/strategy"
	"funding-arb/internal/venue"
)

func sampleState() *strategy.State {
	entry := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	exit := entry.Add(6 * time.Hour)
	return &strategy.State{
		Enabled: true,
		Positions: []strategy.Position{{
			ID:            "p-1",
			Asset:         "ETH",
			Rank:          1,
			AllocationPct: 100,
			Long:          strategy.Leg{Venue: venue.Hyperliquid, Symbol: "ETH", Side: exchange.Buy, Multiplier: 1, Size: 0.5, EntryPrice: 3000},
			Short:         strategy.Leg{Venue: venue.Aster, Symbol: "ETHUSDT", Side: exchange.Sell, Multiplier: 1, Size: 0.5, EntryPrice: 3001},
			EntrySpread:   42.5,
			Status:        strategy.StatusOpen,
			EntryTime:     entry,
		}},
		Closed: []strategy.Position{{
			ID:            "p-0",
			Asset:         "SOL",
			Status:        strategy.StatusClosed,
			ExitTime:      &exit,
			ExitReason:    strategy.ReasonNegativeSpread,
			CloseFailures: []strategy.CloseFailure{{Venue: venue.Lighter, Symbol: "SOL", Error: "timeout"}},
		}},
		Rebalances:    []strategy.RebalanceEvent{{Timestamp: entry, Trigger: strategy.TriggerTimer, Entered: []string{"ETH"}, SpreadsConsidered: 4}},
		LastRebalance: entry,
	}
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	st, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st == nil || len(st.Positions) != 0 || st.Enabled {
		t.Fatalf("state = %+v", st)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	s := NewFileStore(path)
	ctx := context.Background()

	want := sampleState()
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !got.Enabled || len(got.Positions) != 1 || len(got.Closed) != 1 || len(got.Rebalances) != 1 {
		t.Fatalf("state = %+v", got)
	}
	p := got.Positions[0]
	if p.Short.Symbol != "ETHUSDT" || p.Long.Venue != venue.Hyperliquid || !p.EntryTime.Equal(want.Positions[0].EntryTime) {
		t.Fatalf("position = %+v", p)
	}
	c := got.Closed[0]
	if c.ExitTime == nil || !c.ExitTime.Equal(*want.Closed[0].ExitTime) || c.CloseFailures[0].Error != "timeout" {
		t.Fatalf("closed = %+v", c)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("leftover temp files: %v", entries)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path).Load(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.StorageConfig{Driver: "redis"}); err == nil {
		t.Fatal("expected error")
	}
	s, err := Open(context.Background(), config.StorageConfig{Driver: "file", Path: filepath.Join(t.TempDir(), "s.json")})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, ok := s.(*FileStore); !ok {
		t.Fatalf("store = %T", s)
	}
}
