package lighter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/elliottech/lighter-go/types"

	"funding-arb/internal/config"
	"funding-arb/internal/exchange"
	"funding-arb/internal/precision"
	"funding-arb/internal/venue"
)

type fakeSigner struct {
	created  []*types.CreateOrderTxReq
	canceled []int64
}

func (f *fakeSigner) CreateOrder(req *types.CreateOrderTxReq) (string, error) {
	f.created = append(f.created, req)
	return `{"signed":true}`, nil
}

func (f *fakeSigner) CancelOrder(marketIndex uint8, index int64) (string, error) {
	f.canceled = append(f.canceled, index)
	return `{"cancel":true}`, nil
}

func (f *fakeSigner) AuthToken(deadline time.Time) (string, error) {
	return "token", nil
}

const detailsBody = `{"code":200,"order_book_details":[
 {"symbol":"ETH","market_id":0,"status":"active","size_decimals":4,"price_decimals":2,"min_base_amount":"0.0050","min_quote_amount":"10.000000","last_trade_price":3000.5},
 {"symbol":"BTC","market_id":1,"status":"active","size_decimals":5,"price_decimals":1,"min_base_amount":"0.00020","min_quote_amount":"10.000000","last_trade_price":65000},
 {"symbol":"OLD","market_id":9,"status":"inactive","size_decimals":1,"price_decimals":1}
]}`

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *fakeSigner) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(config.LighterConfig{BaseURL: srv.URL, AccountIndex: 42})
	s := &fakeSigner{}
	c.WithSigner(s)
	return c, s
}

func TestFetchRules(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(detailsBody))
	})
	rules, err := c.FetchRules(context.Background())
	if err != nil {
		t.Fatalf("FetchRules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(rules))
	}
	for _, r := range rules {
		if r.Symbol == "ETH" {
			if r.QtyStep != 0.0001 || r.PriceDecimals != 2 || r.QtyMin != 0.005 || r.MinNotional != 10 {
				t.Fatalf("ETH rule = %+v", r)
			}
		}
	}
}

func TestPlaceOrderScalesIntegers(t *testing.T) {
	var txType, txInfo string
	c, s := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/orderBookDetails":
			w.Write([]byte(detailsBody))
		case "/api/v1/sendTx":
			r.ParseForm()
			txType = r.PostForm.Get("tx_type")
			txInfo = r.PostForm.Get("tx_info")
			w.Write([]byte(`{"code":200,"tx_hash":"0xabc"}`))
		default:
			http.NotFound(w, r)
		}
	})

	res, err := c.PlaceOrder(context.Background(), &exchange.OrderRequest{
		Symbol: "ETH", Side: exchange.Sell, Quantity: 1.5, Price: 3000, Kind: precision.Limit,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if txType != "14" || txInfo != `{"signed":true}` {
		t.Fatalf("sendTx form = %q %q", txType, txInfo)
	}
	req := s.created[0]
	if req.BaseAmount != 15000 || req.Price != 300000 || req.IsAsk != 1 {
		t.Fatalf("order req = %+v", req)
	}
	if !strings.HasPrefix(res.OrderID, "0:") || res.Status != exchange.StatusOpen {
		t.Fatalf("result = %+v", res)
	}
}

func TestPlaceOrderMarketUsesSlippageBound(t *testing.T) {
	c, s := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/orderBookDetails" {
			w.Write([]byte(detailsBody))
			return
		}
		w.Write([]byte(`{"code":200,"tx_hash":"0x1"}`))
	})
	_, err := c.PlaceOrder(context.Background(), &exchange.OrderRequest{
		Symbol: "BTC", Side: exchange.Buy, Quantity: 0.01, Price: 60000, Kind: precision.Market,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	req := s.created[0]
	if req.Price != 630000 || req.BaseAmount != 1000 || req.OrderExpiry != 0 || req.IsAsk != 0 {
		t.Fatalf("market req = %+v", req)
	}
}

func TestPlaceOrderUnknownSymbol(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(detailsBody))
	})
	_, err := c.PlaceOrder(context.Background(), &exchange.OrderRequest{Symbol: "DOGE", Side: exchange.Buy, Quantity: 1, Price: 1})
	if !errors.Is(err, exchange.ErrUnknownSymbol) {
		t.Fatalf("err = %v, want ErrUnknownSymbol", err)
	}
}

func TestPlaceOrderRejectedByVenue(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/orderBookDetails" {
			w.Write([]byte(detailsBody))
			return
		}
		w.Write([]byte(`{"code":21120,"message":"invalid signature"}`))
	})
	_, err := c.PlaceOrder(context.Background(), &exchange.OrderRequest{Symbol: "ETH", Side: exchange.Buy, Quantity: 1, Price: 3000})
	var apiErr *exchange.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "invalid signature" {
		t.Fatalf("err = %v", err)
	}
}

func TestGetOrderStatus(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("auth") != "token" || r.URL.Query().Get("account_index") != "42" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/v1/accountActiveOrders":
			w.Write([]byte(`{"code":200,"orders":[{"order_index":900,"client_order_index":7,"status":"open","filled_base_amount":"0.5"}]}`))
		case "/api/v1/accountInactiveOrders":
			w.Write([]byte(`{"code":200,"orders":[{"order_index":901,"client_order_index":8,"status":"filled","filled_base_amount":"1.0"}]}`))
		}
	})
	ctx := context.Background()

	res, err := c.GetOrderStatus(ctx, "0:7", "ETH")
	if err != nil || res.Status != exchange.StatusPartiallyFilled || res.FilledQty != 0.5 || res.OrderID != "0:7" {
		t.Fatalf("active: %+v %v", res, err)
	}
	res, err = c.GetOrderStatus(ctx, "0:8", "ETH")
	if err != nil || res.Status != exchange.StatusFilled || res.FilledQty != 1 {
		t.Fatalf("inactive: %+v %v", res, err)
	}
	if _, err := c.GetOrderStatus(ctx, "0:99", "ETH"); !errors.Is(err, exchange.ErrOrderNotFound) {
		t.Fatalf("missing: %v", err)
	}
	if _, err := c.GetOrderStatus(ctx, "garbage", "ETH"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestMapStatus(t *testing.T) {
	cases := []struct {
		in     string
		filled float64
		want   exchange.OrderStatus
	}{
		{"filled", 1, exchange.StatusFilled},
		{"open", 0, exchange.StatusOpen},
		{"pending", 0, exchange.StatusOpen},
		{"open", 0.1, exchange.StatusPartiallyFilled},
		{"canceled", 0, exchange.StatusCancelled},
		{"canceled-too-much-slippage", 0, exchange.StatusCancelled},
		{"canceled-expired", 0, exchange.StatusExpired},
		{"canceled-self-trade", 0.2, exchange.StatusPartiallyFilled},
		{"weird", 0, exchange.StatusUnknown},
	}
	for _, tc := range cases {
		if got := mapStatus(tc.in, tc.filled); got != tc.want {
			t.Errorf("mapStatus(%q, %g) = %s, want %s", tc.in, tc.filled, got, tc.want)
		}
	}
}

func TestCancelOrder(t *testing.T) {
	reject := false
	c, s := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if reject {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":21500,"message":"order not found"}`))
			return
		}
		w.Write([]byte(`{"code":200,"tx_hash":"0x2"}`))
	})
	ok, err := c.CancelOrder(context.Background(), "1:55", "BTC")
	if err != nil || !ok || s.canceled[0] != 55 {
		t.Fatalf("cancel = %v %v %v", ok, err, s.canceled)
	}
	reject = true
	ok, err = c.CancelOrder(context.Background(), "1:56", "BTC")
	if err != nil || ok {
		t.Fatalf("rejected cancel = %v %v", ok, err)
	}
}

func TestGetBalance(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("value") != "42" {
			t.Errorf("account query = %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"code":200,"accounts":[{"available_balance":"812.5","collateral":"1000.0"}]}`))
	})
	b, err := c.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if b.Available != 812.5 || b.Total != 1000 || b.Asset != "USDC" {
		t.Fatalf("balance = %+v", b)
	}
}

func TestNoCredentials(t *testing.T) {
	c := NewClient(config.LighterConfig{BaseURL: "http://127.0.0.1:1"})
	if c.HasCredentials() {
		t.Fatal("expected no credentials")
	}
	if _, err := c.PlaceOrder(context.Background(), &exchange.OrderRequest{Symbol: "ETH"}); !errors.Is(err, exchange.ErrNoCredentials) {
		t.Fatalf("PlaceOrder err = %v", err)
	}
	if _, err := c.GetBalance(context.Background()); !errors.Is(err, exchange.ErrNoCredentials) {
		t.Fatalf("GetBalance err = %v", err)
	}
}

func TestFundingSnapshot(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/orderBookDetails":
			w.Write([]byte(detailsBody))
		case "/api/v1/funding-rates":
			w.Write([]byte(`{"code":200,"funding_rates":[
			 {"market_id":0,"exchange":"lighter","symbol":"ETH","rate":0.0001},
			 {"market_id":0,"exchange":"binance","symbol":"ETH","rate":0.0003},
			 {"market_id":1,"exchange":"lighter","symbol":"BTC","rate":-0.00002},
			 {"market_id":5,"exchange":"lighter","symbol":"NOPE","rate":0.1}]}`))
		}
	})
	quotes, err := c.FundingSnapshot(context.Background())
	if err != nil {
		t.Fatalf("FundingSnapshot: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("quotes = %+v", quotes)
	}
	for _, q := range quotes {
		if q.Venue != venue.Lighter || q.PeriodHours != FundingPeriodHours {
			t.Fatalf("quote = %+v", q)
		}
		if q.Symbol == "ETH" && (q.Rate != 0.0001 || q.MarkPrice != 3000.5) {
			t.Fatalf("ETH quote = %+v", q)
		}
	}
}
