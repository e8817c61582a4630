// Package strategy runs the delta-neutral funding arbitrage: it ranks venue
// spreads, sizes and opens hedged positions, and closes them on rebalance,
// negative spread or manual request.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"funding-arb/internal/config"
	"funding-arb/internal/exchange"
	"funding-arb/internal/precision"
	"funding-arb/internal/venue"
)

type Option func(*Engine)

func WithStore(s Store) Option { return func(e *Engine) { e.store = s } }

func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithClock replaces time.Now, for the manual cooldown and position timestamps.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// Engine owns all positions. Writes to positions and histories happen with
// both runMu and stateMu held; runMu holders may read without stateMu.
type Engine struct {
	cfg      config.StrategyConfig
	venues   []venue.Venue
	kind     precision.OrderKind
	quotes   QuoteBook
	gateways map[venue.Venue]exchange.Gateway
	rules    RuleBook
	store    Store
	notifier Notifier
	now      func() time.Time
	log      zerolog.Logger

	inProgress atomic.Bool
	runMu      sync.Mutex

	stateMu       sync.RWMutex
	positions     map[string]*Position
	closed        []Position
	rebalances    []RebalanceEvent
	lastRebalance time.Time
	nextRebalance time.Time

	cooldownMu sync.Mutex
	lastManual time.Time

	lifeMu  sync.Mutex
	loaded  bool
	enabled atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(cfg config.StrategyConfig, quotes QuoteBook, gateways map[venue.Venue]exchange.Gateway, rules RuleBook, opts ...Option) *Engine {
	venues, err := venue.ParseList(cfg.Venues)
	if err != nil || len(venues) == 0 {
		venues = venue.All()
	}
	kind, err := precision.ParseOrderKind(cfg.OrderKind)
	if err != nil {
		kind = precision.Market
	}
	applyDefaults(&cfg)

	e := &Engine{
		cfg:       cfg,
		venues:    venues,
		kind:      kind,
		quotes:    quotes,
		gateways:  gateways,
		rules:     rules,
		store:     &memStore{},
		notifier:  nopNotifier{},
		now:       time.Now,
		log:       log.With().Str("component", "engine").Logger(),
		positions: make(map[string]*Position),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func applyDefaults(cfg *config.StrategyConfig) {
	if cfg.RebalanceIntervalMinutes <= 0 {
		cfg.RebalanceIntervalMinutes = 60
	}
	if cfg.ExitCheckIntervalSeconds <= 0 {
		cfg.ExitCheckIntervalSeconds = 30
	}
	if cfg.FillTimeoutMs <= 0 {
		cfg.FillTimeoutMs = 30000
	}
	if cfg.CandidateMultiple <= 0 {
		cfg.CandidateMultiple = 3
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	if cfg.ManualCooldownSeconds <= 0 {
		cfg.ManualCooldownSeconds = 60
	}
	if cfg.TargetPositions <= 0 || cfg.TargetPositions > len(cfg.Allocations) {
		cfg.TargetPositions = len(cfg.Allocations)
	}
}

// Run resumes persisted state, starts trading if enabled, and stops when ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	st, err := e.load(ctx)
	if err != nil {
		return err
	}
	if e.cfg.Enabled || st.Enabled {
		if err := e.Start(ctx); err != nil {
			return err
		}
	} else {
		e.log.Info().Msg("strategy loaded in stopped state")
	}

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return e.Stop(stopCtx)
}

func (e *Engine) load(ctx context.Context) (*State, error) {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	return e.loadLocked(ctx)
}

func (e *Engine) loadLocked(ctx context.Context) (*State, error) {
	st, err := e.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if st == nil {
		st = &State{}
	}
	if e.loaded {
		return st, nil
	}

	e.stateMu.Lock()
	for i := range st.Positions {
		p := st.Positions[i]
		if p.Status == StatusClosed {
			continue
		}
		if p.Status == StatusClosing {
			e.log.Warn().Str("id", p.ID).Str("asset", p.Asset).Msg("position was mid-close at shutdown, reopening for monitoring")
			p.Status = StatusOpen
		}
		e.positions[p.ID] = &p
	}
	e.closed = st.Closed
	e.rebalances = st.Rebalances
	e.lastRebalance = st.LastRebalance
	e.stateMu.Unlock()

	e.loaded = true
	e.log.Info().Int("positions", len(st.Positions)).Int("closed", len(st.Closed)).Msg("state loaded")
	return st, nil
}

// Start reattaches the rebalance timer and exit monitor. Missed cycles are
// not replayed. Starting a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.cancel != nil {
		return nil
	}
	if _, err := e.loadLocked(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	e.cancel, e.done = cancel, done
	e.enabled.Store(true)
	e.setNext(e.now().Add(e.cfg.RebalanceInterval()))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.rebalanceLoop(runCtx)
	}()
	go func() {
		defer wg.Done()
		e.monitorLoop(runCtx)
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	e.log.Info().
		Strs("venues", e.cfg.Venues).
		Int("targets", e.cfg.TargetPositions).
		Float64("min_apr", e.cfg.MinAPR).
		Dur("interval", e.cfg.RebalanceInterval()).
		Msg("strategy started")
	e.notifier.StrategyStarted(ctx)
	e.persist(ctx)
	return nil
}

// Stop halts the timer and monitor, waiting for an in-flight cycle to finish.
// Open positions stay open.
func (e *Engine) Stop(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	<-e.done
	e.cancel, e.done = nil, nil
	e.enabled.Store(false)
	e.setNext(time.Time{})

	e.log.Info().Msg("strategy stopped")
	e.notifier.StrategyStopped(ctx)
	e.persist(ctx)
	return nil
}

func (e *Engine) Enabled() bool { return e.enabled.Load() }

func (e *Engine) rebalanceLoop(ctx context.Context) {
	interval := e.cfg.RebalanceInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.setNext(e.now().Add(interval))
			if _, err := e.RunCycle(ctx, TriggerTimer); err != nil {
				e.log.Error().Err(err).Msg("scheduled rebalance failed")
			}
		}
	}
}

func (e *Engine) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ExitCheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.CheckExits(ctx)
		}
	}
}

func (e *Engine) setNext(t time.Time) {
	e.stateMu.Lock()
	e.nextRebalance = t
	e.stateMu.Unlock()
}

// TriggerRebalance runs a manual cycle, throttled by the manual cooldown.
func (e *Engine) TriggerRebalance(ctx context.Context) (*RebalanceEvent, error) {
	if !e.enabled.Load() {
		return nil, ErrStopped
	}

	e.cooldownMu.Lock()
	now := e.now()
	if !e.lastManual.IsZero() {
		if remaining := e.cfg.ManualCooldown() - now.Sub(e.lastManual); remaining > 0 {
			e.cooldownMu.Unlock()
			return nil, &CooldownError{Remaining: remaining}
		}
	}
	e.lastManual = now
	e.cooldownMu.Unlock()

	return e.RunCycle(ctx, TriggerManual)
}

// RunCycle executes one rebalance. Only one cycle runs at a time; a concurrent
// call fails fast with ErrRebalanceInProgress.
func (e *Engine) RunCycle(ctx context.Context, trigger Trigger) (*RebalanceEvent, error) {
	if !e.inProgress.CompareAndSwap(false, true) {
		return nil, ErrRebalanceInProgress
	}
	defer e.inProgress.Store(false)

	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.rebalance(ctx, trigger)
}

func (e *Engine) rebalance(ctx context.Context, trigger Trigger) (*RebalanceEvent, error) {
	logger := e.log.With().Str("trigger", string(trigger)).Logger()

	if err := e.checkReadiness(ctx); err != nil {
		logger.Warn().Err(err).Msg("rebalance aborted")
		return nil, err
	}

	now := e.now()
	e.refreshPositions(now)

	quotes := e.quotes.Snapshot()
	fresh := FreshQuotes(quotes, now, e.cfg.MaxQuoteAge())
	if dropped := len(quotes) - len(fresh); dropped > 0 {
		logger.Debug().Int("dropped", dropped).Dur("max_age", e.cfg.MaxQuoteAge()).Msg("ignoring stale quotes")
	}
	spreads := ComputeSpreads(fresh, e.venues, e.cfg.ExcludedAssets)
	candidates := BestPerAsset(spreads, e.cfg.TargetPositions*e.cfg.CandidateMultiple)
	keep, plans, skipped := e.selectTargets(candidates)

	ev := RebalanceEvent{
		Timestamp:         now,
		Trigger:           trigger,
		Entered:           []string{},
		Exited:            []string{},
		SpreadsConsidered: len(candidates),
		Skipped:           skipped,
	}

	for _, p := range e.openPositions() {
		if keep[p.ID] {
			continue
		}
		e.closePosition(ctx, p, ReasonRebalance)
		ev.Exited = append(ev.Exited, p.Asset)
	}

	for _, plan := range plans {
		p, err := e.enter(ctx, plan)
		if err != nil {
			logger.Error().Err(err).Str("asset", plan.Spread.Asset).Msg("failed to open position")
			ev.Skipped = append(ev.Skipped, fmt.Sprintf("%s: %v", plan.Spread.Asset, err))
			continue
		}
		ev.Entered = append(ev.Entered, p.Asset)
	}

	e.stateMu.Lock()
	e.lastRebalance = now
	e.rebalances = appendBounded(e.rebalances, ev, e.cfg.RebalanceHistory)
	e.stateMu.Unlock()

	logger.Info().
		Int("candidates", len(candidates)).
		Strs("entered", ev.Entered).
		Strs("exited", ev.Exited).
		Int("open", len(e.positions)).
		Msg("rebalance complete")
	e.notifier.RebalanceSummary(ctx, ev)
	e.persist(ctx)
	return &ev, nil
}

func (e *Engine) checkReadiness(ctx context.Context) error {
	var issues []string
	for _, v := range e.venues {
		gw, ok := e.gateways[v]
		if !ok {
			issues = append(issues, fmt.Sprintf("%s: no gateway configured", v))
			continue
		}
		if !gw.HasCredentials() {
			issues = append(issues, fmt.Sprintf("%s: missing credentials", v))
			continue
		}
		bal, err := gw.GetBalance(ctx)
		if err != nil {
			issues = append(issues, fmt.Sprintf("%s: balance unavailable: %v", v, err))
			continue
		}
		equity := bal.Total
		if equity == 0 {
			equity = bal.Available
		}
		if equity < e.cfg.RequiredCapital {
			issues = append(issues, fmt.Sprintf("%s: balance %.2f below required %.2f", v, equity, e.cfg.RequiredCapital))
		}
	}
	if len(issues) > 0 {
		return &ReadinessError{Issues: issues}
	}
	return nil
}

// selectTargets keeps open positions still among the candidates with a
// positive spread, then fills the free ranks from the ranked candidates.
func (e *Engine) selectTargets(candidates []Spread) (map[string]bool, []entryPlan, []string) {
	inCandidates := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		inCandidates[c.Asset] = true
	}

	keep := make(map[string]bool)
	taken := make(map[int]bool)
	openAssets := make(map[string]bool)
	for _, p := range e.openPositions() {
		openAssets[p.Asset] = true
		if !inCandidates[p.Asset] || p.CurrentSpread <= 0 {
			continue
		}
		if p.Rank < 1 || p.Rank > e.cfg.TargetPositions || taken[p.Rank] {
			continue
		}
		keep[p.ID] = true
		taken[p.Rank] = true
	}

	var free []int
	for r := 1; r <= e.cfg.TargetPositions; r++ {
		if !taken[r] {
			free = append(free, r)
		}
	}

	var plans []entryPlan
	var skipped []string
	for _, c := range candidates {
		if len(free) == 0 {
			break
		}
		if openAssets[c.Asset] {
			continue
		}
		if c.AnnualizedSpreadPct < e.cfg.MinAPR {
			skipped = append(skipped, fmt.Sprintf("%s: spread %.2f%% below min apr %.2f%%", c.Asset, c.AnnualizedSpreadPct, e.cfg.MinAPR))
			continue
		}
		rank := free[0]
		plan, err := e.plan(c, rank, e.cfg.Allocations[rank-1])
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("%s: %v", c.Asset, err))
			continue
		}
		plans = append(plans, plan)
		free = free[1:]
	}
	return keep, plans, skipped
}

// openPositions returns live positions ordered by rank.
func (e *Engine) openPositions() []*Position {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	out := make([]*Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

func (e *Engine) allocatedPct() float64 {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	var sum float64
	for _, p := range e.positions {
		sum += p.AllocationPct
	}
	return sum
}

// Snapshot is the outward status view.
func (e *Engine) Snapshot() Snapshot {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	total := e.cfg.RequiredCapital * float64(len(e.venues))
	s := Snapshot{
		Enabled:           e.enabled.Load(),
		TotalCapital:      total,
		OpenPositions:     make([]Position, 0, len(e.positions)),
		LastRebalanceTime: e.lastRebalance,
		NextRebalanceTime: e.nextRebalance,
	}
	var allocated float64
	for _, p := range e.positions {
		s.OpenPositions = append(s.OpenPositions, *p)
		allocated += p.AllocationPct
		s.TotalPnl += p.PnL
		s.TotalFundingEarned += p.FundingEarned
	}
	for _, p := range e.closed {
		s.TotalPnl += p.PnL
		s.TotalFundingEarned += p.FundingEarned
	}
	sort.Slice(s.OpenPositions, func(i, j int) bool { return s.OpenPositions[i].Rank < s.OpenPositions[j].Rank })
	s.AllocatedCapital = total * allocated / 100
	s.AvailableCapital = total - s.AllocatedCapital
	return s
}

// ClosedPositions returns the bounded closed history, oldest first.
func (e *Engine) ClosedPositions() []Position {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return append([]Position(nil), e.closed...)
}

// Rebalances returns the bounded rebalance history, oldest first.
func (e *Engine) Rebalances() []RebalanceEvent {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return append([]RebalanceEvent(nil), e.rebalances...)
}

func (e *Engine) state() *State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	st := &State{
		Enabled:       e.enabled.Load(),
		Positions:     make([]Position, 0, len(e.positions)),
		Closed:        append([]Position(nil), e.closed...),
		Rebalances:    append([]RebalanceEvent(nil), e.rebalances...),
		LastRebalance: e.lastRebalance,
		SavedAt:       e.now(),
	}
	for _, p := range e.positions {
		st.Positions = append(st.Positions, *p)
	}
	sort.Slice(st.Positions, func(i, j int) bool { return st.Positions[i].Rank < st.Positions[j].Rank })
	return st
}

func (e *Engine) persist(ctx context.Context) {
	if err := e.store.Save(context.WithoutCancel(ctx), e.state()); err != nil {
		e.log.Error().Err(err).Msg("failed to persist state")
	}
}

func appendBounded[T any](list []T, item T, limit int) []T {
	list = append(list, item)
	if limit > 0 && len(list) > limit {
		list = append([]T(nil), list[len(list)-limit:]...)
	}
	return list
}
