package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"funding-arb/internal/config"
	"funding-arb/internal/exchange"
	"funding-arb/internal/funding"
	"funding-arb/internal/precision"
	"funding-arb/internal/venue"
)

type fakeGateway struct {
	mu       sync.Mutex
	v        venue.Venue
	noCreds  bool
	balance  float64
	block    chan struct{}
	placeFn  func(req *exchange.OrderRequest) (*exchange.OrderResult, error)
	statusFn func(id string) exchange.OrderResult
	orders   []exchange.OrderRequest
	cancels  []string
	seq      int
}

func newFakeGateway(v venue.Venue) *fakeGateway {
	return &fakeGateway{v: v, balance: 1000}
}

func (g *fakeGateway) Venue() venue.Venue   { return g.v }
func (g *fakeGateway) HasCredentials() bool { return !g.noCreds }

func (g *fakeGateway) PlaceOrder(_ context.Context, req *exchange.OrderRequest) (*exchange.OrderResult, error) {
	g.mu.Lock()
	g.seq++
	id := fmt.Sprintf("%s-%d", g.v, g.seq)
	g.orders = append(g.orders, *req)
	fn := g.placeFn
	g.mu.Unlock()

	if fn == nil {
		return &exchange.OrderResult{OrderID: id, Status: exchange.StatusFilled}, nil
	}
	res, err := fn(req)
	if res != nil && res.OrderID == "" {
		res.OrderID = id
	}
	return res, err
}

func (g *fakeGateway) GetOrderStatus(_ context.Context, orderID, _ string) (*exchange.OrderResult, error) {
	g.mu.Lock()
	fn := g.statusFn
	g.mu.Unlock()
	if fn == nil {
		return &exchange.OrderResult{OrderID: orderID, Status: exchange.StatusFilled}, nil
	}
	res := fn(orderID)
	res.OrderID = orderID
	return &res, nil
}

func always(s exchange.OrderStatus) func(string) exchange.OrderResult {
	return func(string) exchange.OrderResult { return exchange.OrderResult{Status: s} }
}

func (g *fakeGateway) CancelOrder(_ context.Context, orderID, _ string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, orderID)
	return true, nil
}

func (g *fakeGateway) GetBalance(context.Context) (*exchange.Balance, error) {
	if g.block != nil {
		<-g.block
	}
	return &exchange.Balance{Asset: "USDC", Available: g.balance, Total: g.balance}, nil
}

func (g *fakeGateway) FetchRules(context.Context) ([]precision.Rule, error) { return nil, nil }

func (g *fakeGateway) placed() []exchange.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]exchange.OrderRequest(nil), g.orders...)
}

func (g *fakeGateway) cancelled() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancels...)
}

func (g *fakeGateway) setPlace(fn func(req *exchange.OrderRequest) (*exchange.OrderResult, error)) {
	g.mu.Lock()
	g.placeFn = fn
	g.mu.Unlock()
}

type fakeQuotes struct {
	mu     sync.Mutex
	quotes map[string]funding.Quote
}

func newFakeQuotes(qs ...funding.Quote) *fakeQuotes {
	f := &fakeQuotes{quotes: make(map[string]funding.Quote)}
	f.set(qs...)
	return f
}

func (f *fakeQuotes) set(qs ...funding.Quote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range qs {
		f.quotes[string(q.Venue)+"/"+q.Asset] = q
	}
}

func (f *fakeQuotes) Snapshot() []funding.Quote {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]funding.Quote, 0, len(f.quotes))
	for _, q := range f.quotes {
		out = append(out, q)
	}
	return out
}

func (f *fakeQuotes) Get(v venue.Venue, asset string) (funding.Quote, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[string(v)+"/"+asset]
	return q, ok
}

func quote(asset string, v venue.Venue, hourly, mark float64) funding.Quote {
	return funding.Quote{
		Asset:           asset,
		Venue:           v,
		NativeSymbol:    asset,
		Multiplier:      1,
		MarkPrice:       mark,
		NativeMarkPrice: mark,
		RawRate:         hourly,
		HourlyRate:      hourly,
		AnnualizedPct:   hourly * funding.HoursPerYear * 100,
		PeriodHours:     1,
	}
}

// hourlyFor returns the hourly rate whose annualized spread against zero is apr.
func hourlyFor(apr float64) float64 {
	return apr / (funding.HoursPerYear * 100)
}

type recorder struct {
	mu            sync.Mutex
	started       int
	stopped       int
	opened        []Position
	closed        []Position
	summaries     []RebalanceEvent
	negative      []Position
	unhedged      []UnhedgedAlert
	closeFailures []CloseFailure
}

func (r *recorder) StrategyStarted(context.Context) {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
}

func (r *recorder) StrategyStopped(context.Context) {
	r.mu.Lock()
	r.stopped++
	r.mu.Unlock()
}

func (r *recorder) PositionOpened(_ context.Context, p Position) {
	r.mu.Lock()
	r.opened = append(r.opened, p)
	r.mu.Unlock()
}

func (r *recorder) PositionClosed(_ context.Context, p Position) {
	r.mu.Lock()
	r.closed = append(r.closed, p)
	r.mu.Unlock()
}

func (r *recorder) RebalanceSummary(_ context.Context, ev RebalanceEvent) {
	r.mu.Lock()
	r.summaries = append(r.summaries, ev)
	r.mu.Unlock()
}

func (r *recorder) NegativeSpread(_ context.Context, p Position) {
	r.mu.Lock()
	r.negative = append(r.negative, p)
	r.mu.Unlock()
}

func (r *recorder) Unhedged(_ context.Context, a UnhedgedAlert) {
	r.mu.Lock()
	r.unhedged = append(r.unhedged, a)
	r.mu.Unlock()
}

func (r *recorder) CloseFailure(_ context.Context, _ Position, f CloseFailure) {
	r.mu.Lock()
	r.closeFailures = append(r.closeFailures, f)
	r.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	engine *Engine
	aster  *fakeGateway
	hl     *fakeGateway
	quotes *fakeQuotes
	notes  *recorder
	store  *memStore
	clock  *fakeClock
}

func testConfig() config.StrategyConfig {
	return config.StrategyConfig{
		Venues:                   []string{"aster", "hyperliquid"},
		RequiredCapital:          100,
		TargetPositions:          1,
		Allocations:              []float64{100},
		RebalanceIntervalMinutes: 60,
		MinAPR:                   50,
		FillTimeoutMs:            10,
		ExitCheckIntervalSeconds: 3600,
		CandidateMultiple:        3,
		Leverage:                 1,
		OrderKind:                "limit",
		ManualCooldownSeconds:    60,
		ClosedHistory:            10,
		RebalanceHistory:         10,
	}
}

func newHarness(cfg config.StrategyConfig, qs ...funding.Quote) *harness {
	h := &harness{
		aster:  newFakeGateway(venue.Aster),
		hl:     newFakeGateway(venue.Hyperliquid),
		quotes: newFakeQuotes(qs...),
		notes:  &recorder{},
		store:  &memStore{},
		clock:  &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	gateways := map[venue.Venue]exchange.Gateway{
		venue.Aster:       h.aster,
		venue.Hyperliquid: h.hl,
	}
	h.engine = New(cfg, h.quotes, gateways, precision.NewBook(),
		WithStore(h.store), WithNotifier(h.notes), WithClock(h.clock.Now))
	return h
}
