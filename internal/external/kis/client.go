package kis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/pkg/config"
	"github.com/wonny/aegis-trader/pkg/httputil"
	"github.com/wonny/aegis-trader/pkg/logger"
)

// Client handles communication with KIS (한국투자증권) API
// ⭐ SSOT: KIS API 호출은 이 클라이언트에서만
// Implements contracts.BrokerClient and contracts.AccountClient for KRX and US equities.
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	cfg        config.KISConfig

	// Token management
	accessToken string
	tokenExpiry time.Time
	tokenMu     sync.RWMutex
}

// NewClient creates a new KIS API client
func NewClient(cfg config.KISConfig, httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     log.WithComponent("kis"),
		cfg:        cfg,
	}
}

// Name returns the broker tag
func (c *Client) Name() contracts.Broker {
	return contracts.BrokerKIS
}

// getToken gets a valid access token, refreshing if necessary
func (c *Client) getToken(ctx context.Context) (string, error) {
	c.tokenMu.RLock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		token := c.accessToken
		c.tokenMu.RUnlock()
		return token, nil
	}
	c.tokenMu.RUnlock()

	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	// Double-check after acquiring write lock
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	resp, err := c.httpClient.PostJSON(ctx, c.cfg.BaseURL+"/oauth2/tokenP", tokenRequest{
		GrantType: "client_credentials",
		AppKey:    c.cfg.AppKey,
		AppSecret: c.cfg.AppSecret,
	})
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}

	var tokenResp tokenResponse
	if err := httputil.DecodeJSON(resp, &tokenResp); err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", errors.New("token response without access_token")
	}

	c.accessToken = tokenResp.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn-60) * time.Second) // 1분 여유

	c.logger.WithField("expires_in", tokenResp.ExpiresIn).Info("KIS access token refreshed")
	return c.accessToken, nil
}

// request makes an authenticated request to KIS API and decodes the JSON body into out
func (c *Client) request(ctx context.Context, method, path, trID string, body []byte, hashkey string, out interface{}) error {
	token, err := c.getToken(ctx)
	if err != nil {
		return fmt.Errorf("%w: get token: %v", contracts.ErrTransientBroker, err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", c.cfg.AppKey)
	req.Header.Set("appsecret", c.cfg.AppSecret)
	req.Header.Set("custtype", "P")
	if trID != "" {
		req.Header.Set("tr_id", trID)
	}
	if hashkey != "" {
		req.Header.Set("hashkey", hashkey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrTransientBroker, err)
	}
	if err := httputil.DecodeJSON(resp, out); err != nil {
		return classify(err)
	}
	return nil
}

// accountParts splits the 10-digit account number into CANO and ACNT_PRDT_CD
func (c *Client) accountParts() (string, string, error) {
	if len(c.cfg.AccountNo) < 10 {
		return "", "", fmt.Errorf("%w: invalid KIS account number format", contracts.ErrFatalConfig)
	}
	return c.cfg.AccountNo[:8], c.cfg.AccountNo[8:10], nil
}

// trID picks the live or virtual transaction id
func (c *Client) trID(real, virtual string) string {
	if c.cfg.IsVirtual {
		return virtual
	}
	return real
}

// classify maps transport and status errors to the broker error taxonomy
func classify(err error) error {
	if httputil.IsTransient(err) {
		return fmt.Errorf("%w: %v", contracts.ErrTransientBroker, err)
	}
	return fmt.Errorf("%w: %v", contracts.ErrDataIntegrity, err)
}

// parseDecimal parses a KIS numeric string. Empty means zero.
func parseDecimal(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: malformed %s %q", contracts.ErrDataIntegrity, field, s)
	}
	return d, nil
}
