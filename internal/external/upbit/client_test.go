package upbit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/pkg/config"
	"github.com/wonny/aegis-trader/pkg/httputil"
	"github.com/wonny/aegis-trader/pkg/logger"
)

type staticSigner struct{}

func (staticSigner) Authorization(string) (string, error) { return "Bearer test", nil }

func newTestClient(t *testing.T, h http.Handler) *Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.UpbitConfig{BaseURL: srv.URL}, staticSigner{},
		httputil.New(logger.NewNop()).DisableRetry(), logger.NewNop())
}

func TestGetCurrentPrice(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ticker", r.URL.Path)
		assert.Equal(t, "KRW-BTC", r.URL.Query().Get("markets"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[{"market":"KRW-BTC","trade_price":93000000.0}]`))
	}))

	price, err := c.GetCurrentPrice(context.Background(), contracts.MarketCrypto, "KRW-BTC")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(93_000_000)))

	_, err = c.GetCurrentPrice(context.Background(), contracts.MarketCrypto, "KRW-ETH")
	assert.ErrorIs(t, err, contracts.ErrDataIntegrity)
}

func TestPlaceOrder_MarketBuySendsIdentifier(t *testing.T) {
	var body map[string]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"uuid":"u-1","state":"wait","identifier":"cid-1"}`))
	}))

	result, err := c.PlaceOrder(context.Background(), contracts.OrderRequest{
		Market:        contracts.MarketCrypto,
		Symbol:        "KRW-BTC",
		Side:          contracts.OrderSideBuy,
		Type:          contracts.OrderTypeMarket,
		Qty:           decimal.RequireFromString("0.02688172"),
		Price:         decimal.NewFromInt(93_000_000),
		ClientOrderID: "cid-1",
	})
	require.NoError(t, err)
	assert.Equal(t, contracts.OrderSuccess, result.Status)
	assert.Equal(t, "u-1", result.OrderID)

	assert.Equal(t, "cid-1", body["identifier"])
	assert.Equal(t, "bid", body["side"])
	assert.Equal(t, "price", body["ord_type"])
	assert.Equal(t, "2499999", body["price"]) // 0.02688172 × 93,000,000 = 2,499,999.96 → 내림
}

func TestPlaceOrder_MarketSell(t *testing.T) {
	var body map[string]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"uuid":"u-2","state":"done"}`))
	}))

	_, err := c.PlaceOrder(context.Background(), contracts.OrderRequest{
		Symbol: "KRW-ETH", Side: contracts.OrderSideSell, Qty: decimal.RequireFromString("1.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, "ask", body["side"])
	assert.Equal(t, "market", body["ord_type"])
	assert.Equal(t, "1.5", body["volume"])
}

func TestPlaceOrder_RejectionAndTransient(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusBadRequest)
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"error":{"name":"insufficient_funds_bid","message":"주문가능한 금액(KRW)이 부족합니다."}}`))
	}))
	req := contracts.OrderRequest{Symbol: "KRW-BTC", Side: contracts.OrderSideSell, Qty: decimal.NewFromInt(1)}

	result, err := c.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, contracts.OrderFailed, result.Status)
	assert.Contains(t, result.Message, "insufficient_funds_bid")

	status.Store(http.StatusServiceUnavailable)
	_, err = c.PlaceOrder(context.Background(), req)
	assert.ErrorIs(t, err, contracts.ErrTransientBroker)
	assert.Equal(t, int32(2), calls.Load(), "orders are never retried")
}

func TestGetAccount(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"currency":"KRW","balance":"1000000.0","locked":"250000.0","avg_buy_price":"0","unit_currency":"KRW"},
			{"currency":"BTC","balance":"0.01","locked":"0.0","avg_buy_price":"90000000","unit_currency":"KRW"},
			{"currency":"DOGE","balance":"0","locked":"0","avg_buy_price":"0","unit_currency":"KRW"}
		]`))
	}))

	snap, err := c.GetAccount(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Cash.Equal(decimal.NewFromInt(1_250_000)))
	require.Len(t, snap.Holdings, 1)
	assert.Equal(t, "KRW-BTC", snap.Holdings[0].Symbol)
	assert.True(t, snap.Holdings[0].Qty.Equal(decimal.RequireFromString("0.01")))
}

func TestHMACSigner(t *testing.T) {
	s := NewHMACSigner("access", "secret")
	token, err := s.Authorization("market=KRW-BTC")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(token, "Bearer "))

	parts := strings.Split(strings.TrimPrefix(token, "Bearer "), ".")
	require.Len(t, parts, 3)

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var claims map[string]string
	require.NoError(t, json.Unmarshal(payload, &claims))
	assert.Equal(t, "access", claims["access_key"])
	assert.Equal(t, "SHA512", claims["query_hash_alg"])
	assert.Len(t, claims["query_hash"], 128)
	assert.NotEmpty(t, claims["nonce"])
}
