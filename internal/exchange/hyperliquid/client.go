// Package hyperliquid is the gateway and funding source for Hyperliquid perps.
package hyperliquid

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sonirico/go-hyperliquid"

	"funding-arb/internal/config"
	"funding-arb/internal/exchange"
	"funding-arb/internal/precision"
	"funding-arb/internal/venue"
)

const (
	// perp prices carry at most this many decimals minus szDecimals
	maxPerpDecimals = 6
	// market orders are IOC limits this far through the reference price
	marketSlippage = 0.05
	minNotional    = 10.0
	requestTimeout = 10 * time.Second
)

type assetMeta struct {
	index      int
	szDecimals int
}

type Client struct {
	cfg    config.HyperliquidConfig
	key    *ecdsa.PrivateKey
	info   *hyperliquid.Info
	budget *exchange.Budget
	log    zerolog.Logger

	mu     sync.RWMutex
	assets map[string]assetMeta
	// rebuilt with every meta refresh so new listings resolve to asset ids
	trader *hyperliquid.Exchange
}

func NewClient(cfg config.HyperliquidConfig) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = hyperliquid.MainnetAPIURL
	}
	if cfg.Testnet && cfg.BaseURL == hyperliquid.MainnetAPIURL {
		cfg.BaseURL = hyperliquid.TestnetAPIURL
	}

	c := &Client{
		cfg:    cfg,
		budget: exchange.HyperliquidBudget(),
		log:    log.With().Str("venue", venue.Hyperliquid.String()).Logger(),
		assets: make(map[string]assetMeta),
	}

	// NewInfo(ctx, baseURL, skipWS, meta, spotMeta, opts...)
	// Empty metas keep construction offline; FetchRules loads the universe.
	c.info = hyperliquid.NewInfo(context.Background(), cfg.BaseURL, true, &hyperliquid.Meta{}, &hyperliquid.SpotMeta{})

	if cfg.PrivateKey != "" {
		pk, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			c.log.Error().Err(err).Msg("failed to parse private key, trading disabled")
		} else {
			c.key = pk
			if c.cfg.WalletAddress == "" {
				c.cfg.WalletAddress = crypto.PubkeyToAddress(pk.PublicKey).Hex()
			}
		}
	}
	return c
}

var _ exchange.Gateway = (*Client)(nil)

func (c *Client) Venue() venue.Venue { return venue.Hyperliquid }

func (c *Client) HasCredentials() bool {
	return c.key != nil && c.cfg.WalletAddress != ""
}

// exchangeClient returns the SDK trading client, loading the universe first
// when it has not been built yet.
func (c *Client) exchangeClient(ctx context.Context) (*hyperliquid.Exchange, error) {
	if !c.HasCredentials() {
		return nil, exchange.ErrNoCredentials
	}
	c.mu.RLock()
	ex := c.trader
	c.mu.RUnlock()
	if ex != nil {
		return ex, nil
	}
	if _, err := c.FetchRules(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.trader == nil {
		return nil, errors.New("hyperliquid exchange client unavailable")
	}
	return c.trader, nil
}

// roundPrice keeps 5 significant figures and at most 6-szDecimals decimals.
func roundPrice(px float64, szDecimals int) float64 {
	sig, _ := strconv.ParseFloat(strconv.FormatFloat(px, 'g', 5, 64), 64)
	decimals := maxPerpDecimals - szDecimals
	if decimals < 0 {
		decimals = 0
	}
	return decimal.NewFromFloat(sig).Round(int32(decimals)).InexactFloat64()
}

func roundSize(sz float64, szDecimals int) float64 {
	return decimal.NewFromFloat(sz).Round(int32(szDecimals)).InexactFloat64()
}

// asset resolves a coin against the loaded universe. The SDK maps unknown
// coins to asset 0, so every order path checks here first.
func (c *Client) asset(ctx context.Context, coin string) (assetMeta, error) {
	c.mu.RLock()
	a, ok := c.assets[coin]
	c.mu.RUnlock()
	if ok {
		return a, nil
	}
	if _, err := c.FetchRules(ctx); err != nil {
		return assetMeta{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if a, ok := c.assets[coin]; ok {
		return a, nil
	}
	return assetMeta{}, fmt.Errorf("%s: %w", coin, exchange.ErrUnknownSymbol)
}

func (c *Client) PlaceOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.OrderResult, error) {
	a, err := c.asset(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	ex, err := c.exchangeClient(ctx)
	if err != nil {
		return nil, err
	}

	isBuy := req.Side == exchange.Buy
	price := req.Price
	tif := hyperliquid.TifGtc
	if req.Kind == precision.Market {
		tif = hyperliquid.TifIoc
		if isBuy {
			price *= 1 + marketSlippage
		} else {
			price *= 1 - marketSlippage
		}
	}
	if price <= 0 {
		return nil, fmt.Errorf("place order %s: reference price required", req.Symbol)
	}

	orderReq := hyperliquid.CreateOrderRequest{
		Coin:  req.Symbol,
		IsBuy: isBuy,
		Price: roundPrice(price, a.szDecimals),
		Size:  roundSize(req.Quantity, a.szDecimals),
		OrderType: hyperliquid.OrderType{
			Limit: &hyperliquid.LimitOrderType{Tif: tif},
		},
		ReduceOnly: req.ReduceOnly,
	}

	if err := c.budget.Wait(ctx, 1); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	// no builder fee
	st, err := ex.Order(ctx, orderReq, nil)
	if err != nil {
		return nil, fmt.Errorf("place order %s: %w", req.Symbol, err)
	}

	switch {
	case st.Error != nil:
		return nil, fmt.Errorf("place order %s: %s", req.Symbol, *st.Error)
	case st.Filled != nil:
		filled, _ := strconv.ParseFloat(st.Filled.TotalSz, 64)
		avg, _ := strconv.ParseFloat(st.Filled.AvgPx, 64)
		c.log.Info().Str("coin", req.Symbol).Int("oid", st.Filled.Oid).Msg("order filled")
		return &exchange.OrderResult{OrderID: strconv.Itoa(st.Filled.Oid), Status: exchange.StatusFilled, FilledQty: filled, AvgPrice: avg}, nil
	case st.Resting != nil:
		c.log.Info().Str("coin", req.Symbol).Int64("oid", st.Resting.Oid).Msg("order resting")
		return &exchange.OrderResult{OrderID: strconv.FormatInt(st.Resting.Oid, 10), Status: exchange.StatusOpen}, nil
	}
	return nil, fmt.Errorf("place order %s: unrecognised status %s", req.Symbol, st.String())
}

func mapStatus(s string) exchange.OrderStatus {
	switch {
	case s == "open" || s == "triggered":
		return exchange.StatusOpen
	case s == "filled":
		return exchange.StatusFilled
	case s == "rejected" || strings.HasSuffix(s, "Rejected"):
		return exchange.StatusRejected
	case s == "canceled" || s == "scheduledCancel" || strings.HasSuffix(s, "Canceled"):
		return exchange.StatusCancelled
	default:
		return exchange.StatusUnknown
	}
}

func (c *Client) GetOrderStatus(ctx context.Context, orderID, symbol string) (*exchange.OrderResult, error) {
	if c.cfg.WalletAddress == "" {
		return nil, exchange.ErrNoCredentials
	}
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad order id %q: %w", orderID, err)
	}
	if err := c.budget.Wait(ctx, 2); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	res, err := c.info.QueryOrderByOid(ctx, c.cfg.WalletAddress, oid)
	if err != nil {
		return nil, err
	}
	if res.Status != hyperliquid.OrderQueryStatusSuccess {
		return nil, exchange.ErrOrderNotFound
	}

	o := res.Order
	status := mapStatus(string(o.Status))
	orig, _ := decimal.NewFromString(o.Order.OrigSz)
	left, _ := decimal.NewFromString(o.Order.Sz)
	filled := orig.Sub(left).InexactFloat64()
	switch {
	case status == exchange.StatusFilled && filled <= 0:
		filled = orig.InexactFloat64()
	case (status == exchange.StatusOpen || status == exchange.StatusCancelled) && filled > 0:
		status = exchange.StatusPartiallyFilled
	}
	return &exchange.OrderResult{OrderID: orderID, Status: status, FilledQty: filled}, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	if _, err := c.asset(ctx, symbol); err != nil {
		return false, err
	}
	ex, err := c.exchangeClient(ctx)
	if err != nil {
		return false, err
	}
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("bad order id %q: %w", orderID, err)
	}
	if err := c.budget.Wait(ctx, 1); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	res, err := ex.Cancel(ctx, symbol, oid)
	if err != nil {
		if res != nil {
			// already filled or cancelled
			c.log.Debug().Err(err).Str("order", orderID).Msg("cancel refused")
			return false, nil
		}
		return false, fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return true, nil
}

func (c *Client) GetBalance(ctx context.Context) (*exchange.Balance, error) {
	if c.cfg.WalletAddress == "" {
		return nil, exchange.ErrNoCredentials
	}
	var st *hyperliquid.UserState
	err := exchange.Retry(ctx, 3, 500*time.Millisecond, func(ctx context.Context) error {
		if err := c.budget.Wait(ctx, 2); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		var err error
		st, err = c.info.UserState(ctx, c.cfg.WalletAddress)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	avail, _ := strconv.ParseFloat(st.Withdrawable, 64)
	total, _ := strconv.ParseFloat(st.MarginSummary.AccountValue, 64)
	return &exchange.Balance{Asset: "USDC", Available: avail, Total: total}, nil
}

// FetchRules loads the perp universe, refreshes the coin -> asset index map
// and rebuilds the trading client against it.
func (c *Client) FetchRules(ctx context.Context) ([]precision.Rule, error) {
	var meta *hyperliquid.Meta
	err := exchange.Retry(ctx, 3, time.Second, func(ctx context.Context) error {
		if err := c.budget.Wait(ctx, 20); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		var err error
		meta, err = c.info.Meta(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("meta: %w", err)
	}
	if meta == nil {
		return nil, errors.New("meta: empty response")
	}

	assets := make(map[string]assetMeta, len(meta.Universe))
	rules := make([]precision.Rule, 0, len(meta.Universe))
	for i, u := range meta.Universe {
		assets[u.Name] = assetMeta{index: i, szDecimals: u.SzDecimals}
		rules = append(rules, ruleFor(u.Name, u.SzDecimals))
	}

	var trader *hyperliquid.Exchange
	if c.HasCredentials() {
		// NewExchange(ctx, pk, baseURL, meta, vaultAddress, accountAddress, spotMeta, opts...)
		trader = hyperliquid.NewExchange(ctx, c.key, c.cfg.BaseURL, meta, "", c.cfg.WalletAddress, &hyperliquid.SpotMeta{})
	}

	c.mu.Lock()
	c.assets = assets
	if trader != nil {
		c.trader = trader
	}
	c.mu.Unlock()
	return rules, nil
}

func ruleFor(coin string, szDecimals int) precision.Rule {
	priceDecimals := maxPerpDecimals - szDecimals
	if priceDecimals < 0 {
		priceDecimals = 0
	}
	return precision.Rule{
		Venue:         venue.Hyperliquid,
		Symbol:        coin,
		PriceDecimals: priceDecimals,
		PriceTick:     precision.StepFromDecimals(priceDecimals),
		QtyDecimals:   szDecimals,
		QtyStep:       precision.StepFromDecimals(szDecimals),
		MinNotional:   minNotional,
	}
}
