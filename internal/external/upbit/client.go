// Package upbit is the Upbit (crypto, KRW market) broker client.
package upbit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/pkg/config"
	"github.com/wonny/aegis-trader/pkg/httputil"
	"github.com/wonny/aegis-trader/pkg/logger"
)

// Client handles communication with the Upbit REST API
// ⭐ SSOT: Upbit API 호출은 이 클라이언트에서만
// Implements contracts.BrokerClient and contracts.AccountClient.
type Client struct {
	httpClient *httputil.Client
	signer     Signer
	baseURL    string
	logger     *logger.Logger
}

// NewClient creates a new Upbit client
func NewClient(cfg config.UpbitConfig, signer Signer, httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		signer:     signer,
		baseURL:    cfg.BaseURL,
		logger:     log.WithComponent("upbit"),
	}
}

// Name returns the broker tag
func (c *Client) Name() contracts.Broker {
	return contracts.BrokerUpbit
}

// GetCurrentPrice returns the last trade price of a KRW market (e.g. KRW-BTC)
func (c *Client) GetCurrentPrice(ctx context.Context, market contracts.Market, symbol string) (decimal.Decimal, error) {
	if market != contracts.MarketCrypto {
		return decimal.Zero, fmt.Errorf("%w: Upbit does not quote %s", contracts.ErrInvalidInput, market)
	}

	params := url.Values{}
	params.Set("markets", symbol)

	var tickers []ticker
	if err := c.do(ctx, http.MethodGet, "/v1/ticker", params, false, &tickers); err != nil {
		return decimal.Zero, err
	}
	for _, t := range tickers {
		if t.Market == symbol && t.TradePrice.IsPositive() {
			return t.TradePrice, nil
		}
	}
	return decimal.Zero, fmt.Errorf("%w: no ticker for %s", contracts.ErrDataIntegrity, symbol)
}

// PlaceOrder submits exactly one order. The client order id is sent as Upbit's
// identifier, so a duplicate submission is rejected by the exchange.
func (c *Client) PlaceOrder(ctx context.Context, req contracts.OrderRequest) (*contracts.OrderResult, error) {
	params := url.Values{}
	params.Set("market", req.Symbol)
	if req.ClientOrderID != "" {
		params.Set("identifier", req.ClientOrderID)
	}

	switch {
	case req.Type == contracts.OrderTypeLimit:
		params.Set("side", sideOf(req.Side))
		params.Set("ord_type", "limit")
		params.Set("volume", req.Qty.String())
		params.Set("price", req.Price.String())
	case req.Side == contracts.OrderSideBuy:
		// 시장가 매수는 KRW 총액 지정 (ord_type=price)
		if !req.Price.IsPositive() {
			return nil, fmt.Errorf("%w: market buy requires a reference price", contracts.ErrInvalidInput)
		}
		params.Set("side", "bid")
		params.Set("ord_type", "price")
		params.Set("price", req.Qty.Mul(req.Price).Floor().String())
	default:
		// 시장가 매도는 수량 지정 (ord_type=market)
		params.Set("side", "ask")
		params.Set("ord_type", "market")
		params.Set("volume", req.Qty.String())
	}

	var resp orderResponse
	err := c.do(ctx, http.MethodPost, "/v1/orders", params, true, &resp)

	log := c.logger.WithFields(map[string]interface{}{
		"symbol":          req.Symbol,
		"side":            req.Side,
		"qty":             req.Qty.String(),
		"client_order_id": req.ClientOrderID,
	})

	var apiErr *APIError
	if errors.As(err, &apiErr) && !apiErr.Transient() {
		// 거래소가 거절한 주문은 결과로 반환
		log.WithField("error", apiErr.Error()).Error("Order placement failed")
		return &contracts.OrderResult{Status: contracts.OrderFailed, Message: apiErr.Error()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("place order request: %w", err)
	}

	log.WithField("uuid", resp.UUID).Info("Order placed successfully")
	return &contracts.OrderResult{
		Status:        contracts.OrderSuccess,
		OrderID:       resp.UUID,
		ExecutedPrice: req.Price,
		ExecutedQty:   req.Qty,
		Message:       resp.State,
	}, nil
}

// GetAccount returns KRW cash and coin holdings
func (c *Client) GetAccount(ctx context.Context) (*contracts.AccountSnapshot, error) {
	var accounts []account
	if err := c.do(ctx, http.MethodGet, "/v1/accounts", nil, true, &accounts); err != nil {
		return nil, err
	}

	snap := &contracts.AccountSnapshot{Cash: decimal.Zero, Holdings: make([]contracts.Holding, 0, len(accounts))}
	foundCash := false
	for _, a := range accounts {
		qty := a.Balance.Add(a.Locked)
		if a.Currency == "KRW" {
			snap.Cash = qty
			foundCash = true
			continue
		}
		if !qty.IsPositive() {
			continue
		}
		unit := a.UnitCurrency
		if unit == "" {
			unit = "KRW"
		}
		snap.Holdings = append(snap.Holdings, contracts.Holding{
			Market:   contracts.MarketCrypto,
			Symbol:   unit + "-" + a.Currency,
			Qty:      qty,
			AvgPrice: a.AvgBuyPrice,
		})
	}
	if !foundCash {
		return nil, fmt.Errorf("%w: accounts response without KRW balance", contracts.ErrDataIntegrity)
	}
	return snap, nil
}

// do performs one request. Authenticated requests carry the signer's Authorization header.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, auth bool, out interface{}) error {
	target := c.baseURL + path
	var body io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			target += "?" + params.Encode()
		}
	} else if params != nil {
		payload, err := json.Marshal(flatten(params))
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")

	if auth {
		if c.signer == nil {
			return fmt.Errorf("%w: Upbit signer is not configured", contracts.ErrFatalConfig)
		}
		token, err := c.signer.Authorization(params.Encode())
		if err != nil {
			return fmt.Errorf("sign request: %w", err)
		}
		req.Header.Set("Authorization", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrTransientBroker, err)
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if err := httputil.DecodeJSON(resp, out); err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrDataIntegrity, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var envelope errorResponse
	_ = json.Unmarshal(data, &envelope)
	apiErr := &APIError{StatusCode: resp.StatusCode, Name: envelope.Error.Name, Message: envelope.Error.Message}
	if apiErr.Message == "" {
		apiErr.Message = string(data)
	}
	if apiErr.Transient() {
		return fmt.Errorf("%w: %w", contracts.ErrTransientBroker, apiErr)
	}
	return apiErr
}

func sideOf(side contracts.OrderSide) string {
	if side == contracts.OrderSideBuy {
		return "bid"
	}
	return "ask"
}

func flatten(params url.Values) map[string]string {
	out := make(map[string]string, len(params))
	for k := range params {
		out[k] = params.Get(k)
	}
	return out
}
