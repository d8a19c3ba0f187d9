package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// Validators - 순수 함수, I/O 없음
// =============================================================================

// Violation messages matched by callers and dashboards
const (
	ViolationStopTooTight  = "stop loss too tight"
	ViolationStopTooWide   = "stop loss too wide"
	ViolationInvalidSizing = "invalid sizing input"
	ViolationZeroQuantity  = "position size rounds to zero"
	ViolationEventRisk     = "earnings within 24h"
	ViolationEventUnknown  = "event risk unknown"
)

// Rule names reported in ValidationResult.FailedRules and metrics labels
const (
	RuleSizing       = "sizing"
	RuleLeverage     = "leverage"
	RuleExposure     = "exposure"
	RuleStopDistance = "stop_distance"
	RuleEventRisk    = "event_risk"
)

// ExposureInput 검증 대상 주문과 현재 포트폴리오
type ExposureInput struct {
	Symbol        string
	AccountSize   decimal.Decimal
	PositionValue decimal.Decimal // 신규 주문 가치
	CurrentValue  decimal.Decimal // 보유 포지션 총 가치
	// Reducing marks a SELL: it cannot raise portfolio totals, so aggregate caps are skipped.
	Reducing bool
}

// CheckLeverage checks per-symbol and portfolio leverage
func CheckLeverage(in ExposureInput, limits Limits) CheckResult {
	result := newCheckResult()
	if !in.AccountSize.IsPositive() {
		result.fail("leverage: account size must be positive")
		return result
	}

	requested := in.PositionValue.DivRound(in.AccountSize, divPrecision)
	maxLev := limits.MaxLeverage(in.Symbol)
	if requested.GreaterThan(maxLev) {
		result.fail(fmt.Sprintf("leverage %s exceeds %s cap for %s",
			requested.StringFixed(4), maxLev.String(), BaseAsset(in.Symbol)))
	}

	if !in.Reducing {
		portfolio := in.CurrentValue.Add(in.PositionValue).DivRound(in.AccountSize, divPrecision)
		if portfolio.GreaterThan(limits.MaxPortfolioLeverage) {
			result.fail(fmt.Sprintf("portfolio leverage %s exceeds %s",
				portfolio.StringFixed(4), limits.MaxPortfolioLeverage.String()))
		}
	}
	return result
}

// CheckExposure checks single-symbol and total exposure
func CheckExposure(in ExposureInput, limits Limits) CheckResult {
	result := newCheckResult()
	if !in.AccountSize.IsPositive() {
		result.fail("exposure: account size must be positive")
		return result
	}

	exposure := in.PositionValue.DivRound(in.AccountSize, divPrecision)
	if exposure.GreaterThan(limits.MaxExposurePct) {
		result.fail(fmt.Sprintf("exposure %s exceeds %s per symbol",
			exposure.StringFixed(4), limits.MaxExposurePct.String()))
	}

	if !in.Reducing {
		total := in.CurrentValue.Add(in.PositionValue).DivRound(in.AccountSize, divPrecision)
		if total.GreaterThan(limits.MaxTotalExposurePct) {
			result.fail(fmt.Sprintf("total exposure %s exceeds %s",
				total.StringFixed(4), limits.MaxTotalExposurePct.String()))
		}
	}
	return result
}

// CheckStopDistance requires |entry − stop| / entry within [min, max].
// Independent of position size.
func CheckStopDistance(entry, stop decimal.Decimal, limits Limits) CheckResult {
	result := newCheckResult()
	if !entry.IsPositive() {
		result.fail("stop distance: entry price must be positive")
		return result
	}

	pct := entry.Sub(stop).Abs().DivRound(entry, divPrecision)
	switch {
	case pct.LessThan(limits.MinStopDistancePct):
		result.fail(ViolationStopTooTight)
	case pct.GreaterThan(limits.MaxStopDistancePct):
		result.fail(ViolationStopTooWide)
	}
	return result
}
