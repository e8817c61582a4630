// Package lighter is the gateway and funding source for Lighter perps.
package lighter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elliottech/lighter-go/types"
	"github.com/elliottech/lighter-go/types/txtypes"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"funding-arb/internal/config"
	"funding-arb/internal/exchange"
	"funding-arb/internal/precision"
	"funding-arb/internal/venue"
)

const (
	marketSlippage = 0.05
	limitOrderTTL  = 24 * time.Hour
	authTokenTTL   = 10 * time.Minute
)

type market struct {
	ID            uint8
	Symbol        string
	SizeDecimals  int
	PriceDecimals int
	MinBase       float64
	MinQuote      float64
	LastPrice     float64
}

type Client struct {
	cfg        config.LighterConfig
	httpClient *http.Client
	signer     TxSigner
	budget     *exchange.Budget
	log        zerolog.Logger

	mu      sync.RWMutex
	markets map[string]market

	clientIndex atomic.Int64
}

func NewClient(cfg config.LighterConfig) *Client {
	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		budget:  exchange.LighterBudget(),
		log:     log.With().Str("venue", venue.Lighter.String()).Logger(),
		markets: make(map[string]market),
	}
	c.clientIndex.Store(time.Now().UnixMilli())

	if cfg.PrivateKey != "" {
		s, err := NewSDKSigner(cfg.BaseURL, cfg.PrivateKey, cfg.ChainID, cfg.APIKeyIndex, cfg.AccountIndex)
		if err != nil {
			c.log.Error().Err(err).Msg("signer disabled")
		} else {
			c.signer = s
			c.log.Info().Msg("TxClient initialized")
		}
	}
	return c
}

// WithSigner replaces the transaction signer.
func (c *Client) WithSigner(s TxSigner) *Client {
	c.signer = s
	return c
}

var _ exchange.Gateway = (*Client)(nil)

func (c *Client) Venue() venue.Venue { return venue.Lighter }

func (c *Client) HasCredentials() bool {
	return c.signer != nil && c.cfg.AccountIndex > 0
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.budget.Wait(ctx, 1); err != nil {
		return err
	}
	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.send(req, path, out)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	if err := c.budget.Wait(ctx, 1); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.send(req, path, out)
}

type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) send(req *http.Request, path string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return exchange.NewAPIError(venue.Lighter, resp.StatusCode, body)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Code != 0 && env.Code != http.StatusOK {
		return exchange.NewAPIError(venue.Lighter, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", path, err)
	}
	return nil
}

// Order ids are "<market_id>:<client_order_index>".
func formatOrderID(marketID uint8, index int64) string {
	return fmt.Sprintf("%d:%d", marketID, index)
}

func parseOrderID(id string) (uint8, int64, error) {
	m, idx, ok := strings.Cut(id, ":")
	if !ok {
		return 0, 0, fmt.Errorf("bad order id %q", id)
	}
	mi, err := strconv.ParseUint(m, 10, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("bad order id %q: %w", id, err)
	}
	oi, err := strconv.ParseInt(idx, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad order id %q: %w", id, err)
	}
	return uint8(mi), oi, nil
}

func (c *Client) market(ctx context.Context, symbol string) (market, error) {
	symbol = strings.ToUpper(symbol)
	c.mu.RLock()
	m, ok := c.markets[symbol]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}
	if _, err := c.FetchRules(ctx); err != nil {
		return market{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.markets[symbol]; ok {
		return m, nil
	}
	return market{}, fmt.Errorf("%s: %w", symbol, exchange.ErrUnknownSymbol)
}

type sendTxResponse struct {
	Code   int    `json:"code"`
	TxHash string `json:"tx_hash"`
}

func (c *Client) sendTx(ctx context.Context, txType int, txInfo string) (*sendTxResponse, error) {
	form := url.Values{}
	form.Set("tx_type", strconv.Itoa(txType))
	form.Set("tx_info", txInfo)
	var resp sendTxResponse
	if err := c.postForm(ctx, "/api/v1/sendTx", form, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.OrderResult, error) {
	if !c.HasCredentials() {
		return nil, exchange.ErrNoCredentials
	}
	m, err := c.market(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	isMarket := req.Kind == precision.Market
	price := req.Price
	if isMarket {
		if req.Side == exchange.Buy {
			price *= 1 + marketSlippage
		} else {
			price *= 1 - marketSlippage
		}
	}
	if price <= 0 {
		return nil, fmt.Errorf("place order %s: reference price required", req.Symbol)
	}

	isAsk := uint8(0)
	if req.Side == exchange.Sell {
		isAsk = 1
	}
	reduceOnly := uint8(0)
	if req.ReduceOnly {
		reduceOnly = 1
	}
	orderType, tif := orderTypes(isMarket)
	expiry := time.Now().Add(limitOrderTTL).UnixMilli()
	if isMarket {
		expiry = 0
	}

	index := c.clientIndex.Add(1)
	txInfo, err := c.signer.CreateOrder(&types.CreateOrderTxReq{
		MarketIndex:      int16(m.ID),
		ClientOrderIndex: index,
		BaseAmount:       precision.ScaleToInt(req.Quantity, m.SizeDecimals),
		Price:            uint32(precision.ScaleToInt(price, m.PriceDecimals)),
		IsAsk:            isAsk,
		Type:             orderType,
		TimeInForce:      tif,
		ReduceOnly:       reduceOnly,
		TriggerPrice:     txtypes.NilOrderTriggerPrice,
		OrderExpiry:      expiry,
	})
	if err != nil {
		return nil, fmt.Errorf("place order %s: %w", req.Symbol, err)
	}

	resp, err := c.sendTx(ctx, txTypeCreateOrder, txInfo)
	if err != nil {
		return nil, fmt.Errorf("place order %s: %w", req.Symbol, err)
	}

	id := formatOrderID(m.ID, index)
	c.log.Info().Str("symbol", req.Symbol).Str("order_id", id).Str("tx", resp.TxHash).Msg("order submitted")
	return &exchange.OrderResult{OrderID: id, Status: exchange.StatusOpen}, nil
}

type accountOrder struct {
	OrderIndex       int64  `json:"order_index"`
	ClientOrderIndex int64  `json:"client_order_index"`
	Status           string `json:"status"`
	FilledBaseAmount string `json:"filled_base_amount"`
}

func (o accountOrder) result(orderID string) *exchange.OrderResult {
	filled := parseFloat(o.FilledBaseAmount)
	return &exchange.OrderResult{OrderID: orderID, Status: mapStatus(o.Status, filled), FilledQty: filled}
}

type ordersResponse struct {
	Orders []accountOrder `json:"orders"`
}

func mapStatus(s string, filled float64) exchange.OrderStatus {
	switch {
	case s == "filled":
		return exchange.StatusFilled
	case s == "open" || s == "pending" || s == "in-progress":
		if filled > 0 {
			return exchange.StatusPartiallyFilled
		}
		return exchange.StatusOpen
	case s == "canceled-expired":
		return exchange.StatusExpired
	case strings.HasPrefix(s, "canceled"):
		if filled > 0 {
			return exchange.StatusPartiallyFilled
		}
		return exchange.StatusCancelled
	default:
		return exchange.StatusUnknown
	}
}

func (c *Client) ordersQuery(marketID uint8) (url.Values, error) {
	token, err := c.signer.AuthToken(time.Now().Add(authTokenTTL))
	if err != nil {
		return nil, fmt.Errorf("auth token: %w", err)
	}
	q := url.Values{}
	q.Set("account_index", strconv.FormatInt(c.cfg.AccountIndex, 10))
	q.Set("market_id", strconv.Itoa(int(marketID)))
	q.Set("auth", token)
	return q, nil
}

func (c *Client) GetOrderStatus(ctx context.Context, orderID, symbol string) (*exchange.OrderResult, error) {
	if !c.HasCredentials() {
		return nil, exchange.ErrNoCredentials
	}
	marketID, index, err := parseOrderID(orderID)
	if err != nil {
		return nil, err
	}
	q, err := c.ordersQuery(marketID)
	if err != nil {
		return nil, err
	}

	var active ordersResponse
	if err := c.get(ctx, "/api/v1/accountActiveOrders", q, &active); err != nil {
		return nil, err
	}
	if o, ok := findOrder(active.Orders, index); ok {
		return o.result(orderID), nil
	}

	q.Set("limit", "50")
	var inactive ordersResponse
	if err := c.get(ctx, "/api/v1/accountInactiveOrders", q, &inactive); err != nil {
		return nil, err
	}
	if o, ok := findOrder(inactive.Orders, index); ok {
		return o.result(orderID), nil
	}
	return nil, exchange.ErrOrderNotFound
}

func findOrder(orders []accountOrder, index int64) (accountOrder, bool) {
	for _, o := range orders {
		if o.ClientOrderIndex == index || o.OrderIndex == index {
			return o, true
		}
	}
	return accountOrder{}, false
}

func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	if !c.HasCredentials() {
		return false, exchange.ErrNoCredentials
	}
	marketID, index, err := parseOrderID(orderID)
	if err != nil {
		return false, err
	}
	txInfo, err := c.signer.CancelOrder(marketID, index)
	if err != nil {
		return false, err
	}
	if _, err := c.sendTx(ctx, txTypeCancelOrder, txInfo); err != nil {
		var apiErr *exchange.APIError
		if errors.As(err, &apiErr) && !apiErr.Transient() {
			// already filled or cancelled
			c.log.Debug().Err(err).Str("order_id", orderID).Msg("cancel rejected")
			return false, nil
		}
		return false, fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return true, nil
}

type accountResponse struct {
	Accounts []struct {
		AvailableBalance string `json:"available_balance"`
		Collateral       string `json:"collateral"`
	} `json:"accounts"`
}

func (c *Client) GetBalance(ctx context.Context) (*exchange.Balance, error) {
	if c.cfg.AccountIndex <= 0 {
		return nil, exchange.ErrNoCredentials
	}
	q := url.Values{}
	q.Set("by", "index")
	q.Set("value", strconv.FormatInt(c.cfg.AccountIndex, 10))

	var resp accountResponse
	err := exchange.Retry(ctx, 3, 500*time.Millisecond, func(ctx context.Context) error {
		return c.get(ctx, "/api/v1/account", q, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	if len(resp.Accounts) == 0 {
		return nil, fmt.Errorf("get balance: account %d not found", c.cfg.AccountIndex)
	}
	a := resp.Accounts[0]
	return &exchange.Balance{Asset: "USDC", Available: parseFloat(a.AvailableBalance), Total: parseFloat(a.Collateral)}, nil
}

type orderBookDetails struct {
	Details []struct {
		Symbol         string  `json:"symbol"`
		MarketID       int     `json:"market_id"`
		Status         string  `json:"status"`
		SizeDecimals   int     `json:"size_decimals"`
		PriceDecimals  int     `json:"price_decimals"`
		MinBaseAmount  string  `json:"min_base_amount"`
		MinQuoteAmount string  `json:"min_quote_amount"`
		LastTradePrice float64 `json:"last_trade_price"`
	} `json:"order_book_details"`
}

func (c *Client) loadMarkets(ctx context.Context) (map[string]market, error) {
	var details orderBookDetails
	err := exchange.Retry(ctx, 3, time.Second, func(ctx context.Context) error {
		return c.get(ctx, "/api/v1/orderBookDetails", nil, &details)
	})
	if err != nil {
		return nil, fmt.Errorf("order book details: %w", err)
	}

	markets := make(map[string]market, len(details.Details))
	for _, d := range details.Details {
		if d.Status != "" && d.Status != "active" {
			continue
		}
		markets[strings.ToUpper(d.Symbol)] = market{
			ID:            uint8(d.MarketID),
			Symbol:        d.Symbol,
			SizeDecimals:  d.SizeDecimals,
			PriceDecimals: d.PriceDecimals,
			MinBase:       parseFloat(d.MinBaseAmount),
			MinQuote:      parseFloat(d.MinQuoteAmount),
			LastPrice:     d.LastTradePrice,
		}
	}

	c.mu.Lock()
	c.markets = markets
	c.mu.Unlock()
	return markets, nil
}

func (c *Client) FetchRules(ctx context.Context) ([]precision.Rule, error) {
	markets, err := c.loadMarkets(ctx)
	if err != nil {
		return nil, err
	}
	rules := make([]precision.Rule, 0, len(markets))
	for _, m := range markets {
		rules = append(rules, precision.Rule{
			Venue:         venue.Lighter,
			Symbol:        m.Symbol,
			PriceDecimals: m.PriceDecimals,
			PriceTick:     precision.StepFromDecimals(m.PriceDecimals),
			QtyDecimals:   m.SizeDecimals,
			QtyStep:       precision.StepFromDecimals(m.SizeDecimals),
			QtyMin:        m.MinBase,
			MinNotional:   m.MinQuote,
		})
	}
	return rules, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
