package risk

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/internal/contracts"
)

// EventRiskWindow is how far ahead upcoming earnings raise the risk tier
const EventRiskWindow = 24 * time.Hour

// EventCalendar reports scheduled corporate events (earnings) for a symbol
type EventCalendar interface {
	HasEarningsWithin(ctx context.Context, market contracts.Market, symbol string, window time.Duration) (bool, error)
}

// ValidationRequest 검증 요청 (시그널 + 계좌 상태)
type ValidationRequest struct {
	Symbol       string
	Market       contracts.Market
	Side         contracts.OrderSide
	EntryPrice   decimal.Decimal
	StopLoss     decimal.Decimal
	AccountSize  decimal.Decimal
	CurrentValue decimal.Decimal // 보유 포지션 총 가치
}

// Validator 리스크 검증 오케스트레이터
// ⭐ SSOT: size → leverage → exposure → stop-distance → event risk
// 단락 평가 없음: 모든 위반을 모아서 한 번에 반환. 로깅은 호출자 책임
type Validator struct {
	limits   Limits
	sizer    *Sizer
	calendar EventCalendar
}

// NewValidator creates a validator. calendar may be nil.
func NewValidator(limits Limits, calendar EventCalendar) *Validator {
	return &Validator{
		limits:   limits,
		sizer:    NewSizer(limits),
		calendar: calendar,
	}
}

// Limits returns the limits the validator enforces
func (v *Validator) Limits() Limits {
	return v.limits
}

// Validate sizes the order and runs every check
func (v *Validator) Validate(ctx context.Context, req ValidationRequest) *ValidationResult {
	result := &ValidationResult{
		StopLoss: req.StopLoss,
		RiskTier: contracts.RiskTierNormal,
	}

	collect := func(rule string, check CheckResult) {
		if check.Valid {
			return
		}
		result.Violations = append(result.Violations, check.Violations...)
		result.FailedRules = append(result.FailedRules, rule)
	}

	// 1. Size
	sizing, err := v.sizer.Size(SizingInput{
		AccountSize: req.AccountSize,
		EntryPrice:  req.EntryPrice,
		StopLoss:    req.StopLoss,
		Market:      req.Market,
	})
	if err != nil {
		collect(RuleSizing, CheckResult{Violations: []string{ViolationInvalidSizing}})
	} else {
		result.PositionSize = sizing.PositionSize
		result.PositionValue = sizing.PositionValue
		result.LimitedByMaxExposure = sizing.LimitedByMaxExposure
		if sizing.PositionSize.IsZero() {
			collect(RuleSizing, CheckResult{Violations: []string{ViolationZeroQuantity}})
		}
	}

	exposure := ExposureInput{
		Symbol:        req.Symbol,
		AccountSize:   req.AccountSize,
		PositionValue: result.PositionValue,
		CurrentValue:  req.CurrentValue,
		Reducing:      req.Side == contracts.OrderSideSell,
	}

	// 2~4. Pure validators
	collect(RuleLeverage, CheckLeverage(exposure, v.limits))
	collect(RuleExposure, CheckExposure(exposure, v.limits))
	collect(RuleStopDistance, CheckStopDistance(req.EntryPrice, req.StopLoss, v.limits))

	// 5. Event risk (optional)
	if v.calendar != nil {
		upcoming, err := v.calendar.HasEarningsWithin(ctx, req.Market, req.Symbol, EventRiskWindow)
		switch {
		case err != nil:
			// 알 수 없으면 안전하다고 가정하지 않음
			result.RiskTier = contracts.RiskTierHigh
			if v.limits.BlockOnEventRisk {
				collect(RuleEventRisk, CheckResult{Violations: []string{ViolationEventUnknown}})
			}
		case upcoming:
			result.EventRisk = true
			result.RiskTier = contracts.RiskTierHigh
			if v.limits.BlockOnEventRisk {
				collect(RuleEventRisk, CheckResult{Violations: []string{ViolationEventRisk}})
			}
		}
	}

	result.Approved = len(result.Violations) == 0
	return result
}

// StaticCalendar is an in-memory EventCalendar keyed by base asset
type StaticCalendar struct {
	Earnings map[string]time.Time
	Now      func() time.Time
}

// HasEarningsWithin reports whether the symbol has earnings in [now, now+window]
func (c *StaticCalendar) HasEarningsWithin(_ context.Context, _ contracts.Market, symbol string, window time.Duration) (bool, error) {
	at, ok := c.Earnings[BaseAsset(symbol)]
	if !ok {
		return false, nil
	}
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	return !at.Before(now) && !at.After(now.Add(window)), nil
}
