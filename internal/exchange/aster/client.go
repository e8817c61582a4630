// Package aster is the gateway and funding source for Aster perpetual futures.
package aster

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
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"funding-arb/internal/config"
	"funding-arb/internal/exchange"
	"funding-arb/internal/precision"
	"funding-arb/internal/venue"
)

// DefaultFundingHours applies to symbols missing from /fapi/v1/fundingInfo.
const DefaultFundingHours = 8

// unknown order
const codeUnknownOrder = "-2011"

type Client struct {
	cfg        config.AsterConfig
	httpClient *http.Client
	budget     *exchange.Budget
	signer     *Signer
	log        zerolog.Logger

	mu        sync.RWMutex
	intervals map[string]float64
}

func NewClient(cfg config.AsterConfig) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		budget:    exchange.AsterBudget(),
		signer:    NewSigner(cfg.APIKey, cfg.SecretKey, cfg.RecvWindow),
		log:       log.With().Str("venue", venue.Aster.String()).Logger(),
		intervals: make(map[string]float64),
	}
}

var _ exchange.Gateway = (*Client)(nil)

func (c *Client) Venue() venue.Venue { return venue.Aster }

func (c *Client) HasCredentials() bool {
	return c.cfg.APIKey != "" && c.cfg.SecretKey != ""
}

// do sends one request. Signed requests carry every parameter in the signed
// query string, which the API accepts for all methods.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool, weight int, out any) error {
	if signed && !c.HasCredentials() {
		return exchange.ErrNoCredentials
	}
	if err := c.budget.Wait(ctx, weight); err != nil {
		return err
	}

	query := ""
	if signed {
		query = c.signer.Sign(params)
	} else if len(params) > 0 {
		query = params.Encode()
	}
	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if query != "" {
		u += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return exchange.NewAPIError(venue.Aster, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", path, err)
	}
	return nil
}

type orderResponse struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Status      string `json:"status"`
	ExecutedQty string `json:"executedQty"`
	AvgPrice    string `json:"avgPrice"`
}

func (c *Client) PlaceOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("quantity", strconv.FormatFloat(req.Quantity, 'f', -1, 64))
	if req.Kind == precision.Market {
		params.Set("type", "MARKET")
	} else {
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("price", strconv.FormatFloat(req.Price, 'f', -1, 64))
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	params.Set("newOrderRespType", "RESULT")

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/fapi/v1/order", params, true, 1, &resp); err != nil {
		return nil, fmt.Errorf("place order %s: %w", req.Symbol, err)
	}

	c.log.Info().Str("symbol", req.Symbol).Str("side", string(req.Side)).
		Float64("qty", req.Quantity).Int64("order_id", resp.OrderID).Str("status", resp.Status).Msg("order placed")

	return resp.result(), nil
}

func (r orderResponse) result() *exchange.OrderResult {
	filled, _ := strconv.ParseFloat(r.ExecutedQty, 64)
	avg, _ := strconv.ParseFloat(r.AvgPrice, 64)
	return &exchange.OrderResult{
		OrderID:   strconv.FormatInt(r.OrderID, 10),
		Status:    mapStatus(r.Status),
		FilledQty: filled,
		AvgPrice:  avg,
	}
}

func mapStatus(s string) exchange.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return exchange.StatusOpen
	case "PARTIALLY_FILLED":
		return exchange.StatusPartiallyFilled
	case "FILLED":
		return exchange.StatusFilled
	case "CANCELED", "CANCELLED":
		return exchange.StatusCancelled
	case "REJECTED":
		return exchange.StatusRejected
	case "EXPIRED":
		return exchange.StatusExpired
	default:
		return exchange.StatusUnknown
	}
}

func (c *Client) GetOrderStatus(ctx context.Context, orderID, symbol string) (*exchange.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var resp orderResponse
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/order", params, true, 1, &resp); err != nil {
		var apiErr *exchange.APIError
		if errors.As(err, &apiErr) && apiErr.Code == "-2013" {
			return nil, exchange.ErrOrderNotFound
		}
		return nil, err
	}
	return resp.result(), nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	if err := c.do(ctx, http.MethodDelete, "/fapi/v1/order", params, true, 1, nil); err != nil {
		var apiErr *exchange.APIError
		if errors.As(err, &apiErr) && apiErr.Code == codeUnknownOrder {
			return false, nil
		}
		return false, fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return true, nil
}

type balanceEntry struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance"`
}

func (c *Client) GetBalance(ctx context.Context) (*exchange.Balance, error) {
	var entries []balanceEntry
	err := exchange.Retry(ctx, 3, 500*time.Millisecond, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/fapi/v2/balance", nil, true, 5, &entries)
	})
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}

	for _, e := range entries {
		if e.Asset != "USDT" {
			continue
		}
		avail, _ := strconv.ParseFloat(e.AvailableBalance, 64)
		total, _ := strconv.ParseFloat(e.Balance, 64)
		return &exchange.Balance{Asset: e.Asset, Available: avail, Total: total}, nil
	}
	return &exchange.Balance{Asset: "USDT"}, nil
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol            string `json:"symbol"`
		Status            string `json:"status"`
		ContractType      string `json:"contractType"`
		PricePrecision    int    `json:"pricePrecision"`
		QuantityPrecision int    `json:"quantityPrecision"`
		Filters           []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
			StepSize   string `json:"stepSize"`
			MinQty     string `json:"minQty"`
			MaxQty     string `json:"maxQty"`
			Notional   string `json:"notional"`
		} `json:"filters"`
	} `json:"symbols"`
}

func (c *Client) FetchRules(ctx context.Context) ([]precision.Rule, error) {
	var info exchangeInfo
	err := exchange.Retry(ctx, 3, time.Second, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false, 1, &info)
	})
	if err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}

	rules := make([]precision.Rule, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.ContractType != "" && s.ContractType != "PERPETUAL" {
			continue
		}
		if s.Status != "" && s.Status != "TRADING" {
			continue
		}
		r := precision.Rule{
			Venue:         venue.Aster,
			Symbol:        s.Symbol,
			PriceDecimals: s.PricePrecision,
			QtyDecimals:   s.QuantityPrecision,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				r.PriceTick = parseFloat(f.TickSize)
			case "LOT_SIZE":
				r.QtyStep = parseFloat(f.StepSize)
				r.QtyMin = parseFloat(f.MinQty)
				r.QtyMax = parseFloat(f.MaxQty)
			case "MARKET_LOT_SIZE":
				r.MarketQtyStep = parseFloat(f.StepSize)
			case "MIN_NOTIONAL":
				r.MinNotional = parseFloat(f.Notional)
			}
		}
		if r.PriceTick > 0 {
			r.PriceDecimals = precision.DecimalsFor(r.PriceTick)
		}
		if r.QtyStep > 0 {
			r.QtyDecimals = precision.DecimalsFor(r.QtyStep)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

type fundingInfo struct {
	Symbol               string `json:"symbol"`
	FundingIntervalHours int    `json:"fundingIntervalHours"`
}

// RefreshFundingIntervals loads per-symbol payment periods.
func (c *Client) RefreshFundingIntervals(ctx context.Context) error {
	var infos []fundingInfo
	err := exchange.Retry(ctx, 3, time.Second, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/fapi/v1/fundingInfo", nil, false, 1, &infos)
	})
	if err != nil {
		return fmt.Errorf("funding info: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, fi := range infos {
		if fi.FundingIntervalHours > 0 {
			c.intervals[fi.Symbol] = float64(fi.FundingIntervalHours)
		}
	}
	return nil
}

// FundingHours returns the payment period of symbol.
func (c *Client) FundingHours(symbol string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if h, ok := c.intervals[symbol]; ok {
		return h
	}
	return DefaultFundingHours
}

type PremiumIndexEntry struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
	Time            int64  `json:"time"`
}

// PremiumIndex returns a REST snapshot of every symbol's mark price and rate.
func (c *Client) PremiumIndex(ctx context.Context) ([]PremiumIndexEntry, error) {
	var out []PremiumIndexEntry
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/premiumIndex", nil, false, 10, &out); err != nil {
		return nil, fmt.Errorf("premium index: %w", err)
	}
	return out, nil
}
