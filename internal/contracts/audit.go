package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskTier is the qualitative risk of a decision. Event risk raises it to HIGH.
type RiskTier string

const (
	RiskTierNormal RiskTier = "NORMAL"
	RiskTierHigh   RiskTier = "HIGH"
)

// ACELog is the Aspiration-Capability-Execution-Outcome audit record of one trade decision
// ⭐ SSOT: 거래 결정당 정확히 하나의 ACE 레코드
type ACELog struct {
	ID         string        `json:"id"`
	SignalID   int64         `json:"signal_id"`
	Symbol     string        `json:"symbol"`
	Market     Market        `json:"market"`
	Broker     Broker        `json:"broker"`
	Aspiration ACEAspiration `json:"aspiration"`
	Capability ACECapability `json:"capability"`
	Execution  *ACEExecution `json:"execution,omitempty"` // nil until the order attempt returns
	Outcome    *ACEOutcome   `json:"outcome,omitempty"`   // nil until the position closes
	CreatedAt  time.Time     `json:"created_at"`
	ClosedAt   *time.Time    `json:"closed_at,omitempty"`
}

// ACEAspiration: 시그널이 원한 것
type ACEAspiration struct {
	SignalType  SignalType      `json:"signal_type"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	TargetPrice decimal.Decimal `json:"target_price"`
	StopLoss    decimal.Decimal `json:"stop_loss"`
	Confidence  decimal.Decimal `json:"confidence"`
}

// ACECapability: 리스크 게이트가 허용한 것
type ACECapability struct {
	AccountSize          decimal.Decimal `json:"account_size"`
	PositionSize         decimal.Decimal `json:"position_size"`
	PositionValue        decimal.Decimal `json:"position_value"`
	LimitedByMaxExposure bool            `json:"limited_by_max_exposure"`
	RiskTier             RiskTier        `json:"risk_tier"`
}

// ACEExecution: 실제 주문 시도 (정확히 1회)
type ACEExecution struct {
	Status        OrderStatus     `json:"status"`
	OrderID       string          `json:"order_id,omitempty"`
	ClientOrderID string          `json:"client_order_id"`
	ExecutedPrice decimal.Decimal `json:"executed_price"`
	ExecutedQty   decimal.Decimal `json:"executed_qty"`
	Message       string          `json:"message,omitempty"`
	DryRun        bool            `json:"dry_run"`
	At            time.Time       `json:"at"`
}

// ACEOutcome: 포지션 청산 결과
type ACEOutcome struct {
	ExitPrice   decimal.Decimal `json:"exit_price"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Note        string          `json:"note,omitempty"`
}

// Risk event types written to risk_events
const (
	RiskEventValidationReject  = "VALIDATION_REJECT"
	RiskEventCircuitBreaker    = "CIRCUIT_BREAKER"
	RiskEventLiquidation       = "LIQUIDATION"
	RiskEventOrderFailed       = "ORDER_FAILED"
	RiskEventSignalError       = "SIGNAL_ERROR"
	RiskEventReconcileMismatch = "RECONCILE_MISMATCH"
	RiskEventGuardOverride     = "GUARD_OVERRIDE"
	RiskEventBreakerBlind      = "BREAKER_EVAL_FAILED"
	RiskEventHighWaterReset    = "HIGH_WATER_RESET"
)

// Severity of a risk event
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// RiskEvent is an append-only record of a risk decision or incident
type RiskEvent struct {
	ID        int64                  `json:"id"`
	Type      string                 `json:"event_type"`
	Severity  Severity               `json:"severity"`
	Market    Market                 `json:"market,omitempty"`
	Broker    Broker                 `json:"broker,omitempty"`
	Symbol    string                 `json:"symbol,omitempty"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
