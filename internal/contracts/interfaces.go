package contracts

import (
	"context"

	"github.com/shopspring/decimal"
)

// ⭐ SSOT: 외부 협력자 인터페이스 정의는 여기서만

// BrokerClient is the capability every broker variant provides
type BrokerClient interface {
	Name() Broker
	// GetCurrentPrice returns ErrDataIntegrity when no price is available.
	GetCurrentPrice(ctx context.Context, market Market, symbol string) (decimal.Decimal, error)
	// PlaceOrder submits exactly one order. It never retries.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
}

// Holding is one non-cash balance reported by a broker
type Holding struct {
	Market   Market          `json:"market"`
	Symbol   string          `json:"symbol"`
	Qty      decimal.Decimal `json:"qty"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// AccountSnapshot is broker truth for cash and holdings.
// Cash is the KRW deposit; foreign deposits are kept per currency and never summed with it.
type AccountSnapshot struct {
	Cash        decimal.Decimal            `json:"cash"`
	ForeignCash map[string]decimal.Decimal `json:"foreign_cash,omitempty"` // 통화 → 외화 예수금
	Holdings    []Holding                  `json:"holdings"`
}

// CashFor returns the deposit in the market's quote currency.
// A currency the broker did not report is zero.
func (s *AccountSnapshot) CashFor(m Market) decimal.Decimal {
	cur := m.QuoteCurrency()
	if cur == HomeCurrency {
		return s.Cash
	}
	return s.ForeignCash[cur]
}

// AccountClient is implemented by broker clients that can report balances
type AccountClient interface {
	GetAccount(ctx context.Context) (*AccountSnapshot, error)
}

// SignalSource is the signal queue consumed by the market loops
type SignalSource interface {
	FetchUnconsumed(ctx context.Context, market Market, minConfidence decimal.Decimal) ([]*Signal, error)
	MarkConsumed(ctx context.Context, id int64) error
}

// AccountProvider returns the account size used for sizing and P&L percentages.
// Cash is in the market's quote currency so it can be added to that market's position value.
type AccountProvider interface {
	GetAccountCash(ctx context.Context, broker Broker, market Market) (decimal.Decimal, error)
}

// PositionValuer values open positions at current marks.
// Empty market/symbol mean "all".
type PositionValuer interface {
	GetPositionValue(ctx context.Context, broker Broker, market Market, symbol string) (decimal.Decimal, error)
}

// RiskEventLogger appends to risk_events
type RiskEventLogger interface {
	LogRiskEvent(ctx context.Context, event *RiskEvent) error
}
