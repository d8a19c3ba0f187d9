package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/internal/contracts"
)

// SizingInput 포지션 사이징 입력
type SizingInput struct {
	AccountSize decimal.Decimal
	RiskPct     decimal.Decimal // zero = Limits.RiskPct
	EntryPrice  decimal.Decimal
	StopLoss    decimal.Decimal
	Market      contracts.Market
}

// SizingResult 포지션 사이징 결과
type SizingResult struct {
	RiskAmount           decimal.Decimal `json:"risk_amount"`
	StopDistance         decimal.Decimal `json:"stop_distance"`
	PositionSize         decimal.Decimal `json:"position_size"`
	PositionValue        decimal.Decimal `json:"position_value"`
	LimitedByMaxExposure bool            `json:"limited_by_max_exposure"`
}

// Sizer 포지션 사이저 (순수 계산기)
type Sizer struct {
	limits Limits
}

// NewSizer creates a sizer bound to the given limits
func NewSizer(limits Limits) *Sizer {
	return &Sizer{limits: limits}
}

// Size converts account state and a stop into a bounded order quantity.
//
//	riskAmount   = accountSize × riskPct
//	stopDistance = |entry − stop|
//	positionSize = riskAmount / stopDistance
//
// positionValue is capped at accountSize × MaxExposurePct.
func (s *Sizer) Size(in SizingInput) (*SizingResult, error) {
	riskPct := in.RiskPct
	if riskPct.IsZero() {
		riskPct = s.limits.RiskPct
	}

	if !in.AccountSize.IsPositive() {
		return nil, fmt.Errorf("%w: account size must be positive, got %s", contracts.ErrInvalidInput, in.AccountSize)
	}
	if !in.EntryPrice.IsPositive() {
		return nil, fmt.Errorf("%w: entry price must be positive, got %s", contracts.ErrInvalidInput, in.EntryPrice)
	}
	if !riskPct.IsPositive() || riskPct.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: risk pct must be in (0,1], got %s", contracts.ErrInvalidInput, riskPct)
	}

	stopDistance := in.EntryPrice.Sub(in.StopLoss).Abs()
	if stopDistance.IsZero() {
		return nil, fmt.Errorf("%w: stop loss equals entry price", contracts.ErrInvalidInput)
	}

	riskAmount := in.AccountSize.Mul(riskPct)
	size := riskAmount.DivRound(stopDistance, divPrecision)
	maxValue := in.AccountSize.Mul(s.limits.MaxExposurePct)

	result := &SizingResult{
		RiskAmount:   riskAmount,
		StopDistance: stopDistance,
	}

	if size.Mul(in.EntryPrice).GreaterThan(maxValue) {
		// truncating division: the capped value never exceeds maxValue
		size, _ = maxValue.QuoRem(in.EntryPrice, divPrecision)
		result.LimitedByMaxExposure = true
	}

	// 내림 처리: 가치가 한도를 넘지 않도록 항상 floor
	size = RoundQuantity(in.Market, size)

	result.PositionSize = size
	result.PositionValue = size.Mul(in.EntryPrice)
	return result, nil
}

// RoundQuantity floors a quantity to the market's tradable unit:
// whole shares for equities, 8 decimals for crypto.
func RoundQuantity(market contracts.Market, qty decimal.Decimal) decimal.Decimal {
	if market.IsEquity() {
		return qty.Floor()
	}
	return qty.RoundFloor(8)
}
