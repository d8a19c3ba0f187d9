package upbit

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/pkg/httputil"
)

type ticker struct {
	Market     string          `json:"market"`
	TradePrice decimal.Decimal `json:"trade_price"` // 현재가
}

type account struct {
	Currency     string          `json:"currency"`
	Balance      decimal.Decimal `json:"balance"`       // 주문가능 수량
	Locked       decimal.Decimal `json:"locked"`        // 주문 중 묶인 수량
	AvgBuyPrice  decimal.Decimal `json:"avg_buy_price"` // 매수평균가
	UnitCurrency string          `json:"unit_currency"`
}

type orderResponse struct {
	UUID           string          `json:"uuid"`
	Side           string          `json:"side"`
	OrdType        string          `json:"ord_type"`
	State          string          `json:"state"`
	Market         string          `json:"market"`
	Volume         decimal.Decimal `json:"volume"`
	ExecutedVolume decimal.Decimal `json:"executed_volume"`
	Identifier     string          `json:"identifier"`
}

type errorResponse struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError is an Upbit error response
type APIError struct {
	StatusCode int
	Name       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upbit %d %s: %s", e.StatusCode, e.Name, e.Message)
}

// Transient reports whether the error is worth retrying (5xx / 429)
func (e *APIError) Transient() bool {
	return httputil.IsRetryableError(e.StatusCode)
}
