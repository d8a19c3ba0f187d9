package risk

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/pkg/config"
)

// divPrecision is the decimal places kept by every division in this package
const divPrecision = 16

// =============================================================================
// Limits
// =============================================================================

// Limits 리스크 한도
// ⭐ SSOT: 사이징/검증 한도는 이 구조체 하나로만 전달
type Limits struct {
	RiskPct              decimal.Decimal            // 거래당 위험 비율 (0.01 = 1%)
	MaxExposurePct       decimal.Decimal            // 종목당 최대 노출 (0.25)
	MaxTotalExposurePct  decimal.Decimal            // 총 노출 (1.0)
	MaxPortfolioLeverage decimal.Decimal            // 포트폴리오 레버리지 (1.0)
	DefaultMaxLeverage   decimal.Decimal            // 종목 기본 레버리지 (1.2)
	MaxLeveragePerSymbol map[string]decimal.Decimal // BTC=1.5, ETH=1.5
	MinStopDistancePct   decimal.Decimal            // 0.005
	MaxStopDistancePct   decimal.Decimal            // 0.05
	BlockOnEventRisk     bool
}

// DefaultLimits returns the built-in limits
func DefaultLimits() Limits {
	return Limits{
		RiskPct:              decimal.RequireFromString("0.01"),
		MaxExposurePct:       decimal.RequireFromString("0.25"),
		MaxTotalExposurePct:  decimal.NewFromInt(1),
		MaxPortfolioLeverage: decimal.NewFromInt(1),
		DefaultMaxLeverage:   decimal.RequireFromString("1.2"),
		MaxLeveragePerSymbol: map[string]decimal.Decimal{
			"BTC": decimal.RequireFromString("1.5"),
			"ETH": decimal.RequireFromString("1.5"),
		},
		MinStopDistancePct: decimal.RequireFromString("0.005"),
		MaxStopDistancePct: decimal.RequireFromString("0.05"),
	}
}

// LimitsFromConfig builds limits from the env configuration
func LimitsFromConfig(cfg config.RiskConfig) Limits {
	perSymbol := make(map[string]decimal.Decimal, len(cfg.MaxLeveragePerSymbol))
	for k, v := range cfg.MaxLeveragePerSymbol {
		perSymbol[strings.ToUpper(k)] = v
	}
	return Limits{
		RiskPct:              cfg.RiskPct,
		MaxExposurePct:       cfg.MaxExposurePct,
		MaxTotalExposurePct:  cfg.MaxTotalExposurePct,
		MaxPortfolioLeverage: cfg.MaxPortfolioLeverage,
		DefaultMaxLeverage:   cfg.DefaultMaxLeverage,
		MaxLeveragePerSymbol: perSymbol,
		MinStopDistancePct:   cfg.MinStopDistancePct,
		MaxStopDistancePct:   cfg.MaxStopDistancePct,
		BlockOnEventRisk:     cfg.BlockOnEventRisk,
	}
}

// MaxLeverage returns the leverage cap for a symbol.
// Exchange-qualified symbols (KRW-BTC, BTC/USDT) resolve to their base asset.
func (l Limits) MaxLeverage(symbol string) decimal.Decimal {
	if limit, ok := l.MaxLeveragePerSymbol[BaseAsset(symbol)]; ok {
		return limit
	}
	return l.DefaultMaxLeverage
}

// BaseAsset strips quote currency decorations from a symbol
func BaseAsset(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if i := strings.Index(s, "-"); i >= 0 {
		return s[i+1:] // Upbit: KRW-BTC
	}
	if i := strings.Index(s, "/"); i >= 0 {
		return s[:i] // BTC/KRW
	}
	return s
}

// =============================================================================
// Results
// =============================================================================

// CheckResult 개별 검증기 결과
type CheckResult struct {
	Valid      bool     `json:"valid"`
	Violations []string `json:"violations,omitempty"`
}

func (r *CheckResult) fail(msg string) {
	r.Valid = false
	r.Violations = append(r.Violations, msg)
}

func newCheckResult() CheckResult {
	return CheckResult{Valid: true}
}

// ValidationResult 최종 승인/거부 결과 (영속화하지 않음, ACE 로그로만 남음)
type ValidationResult struct {
	Approved             bool               `json:"approved"`
	PositionSize         decimal.Decimal    `json:"position_size"`
	PositionValue        decimal.Decimal    `json:"position_value"`
	StopLoss             decimal.Decimal    `json:"stop_loss"`
	LimitedByMaxExposure bool               `json:"limited_by_max_exposure"`
	EventRisk            bool               `json:"event_risk"`
	RiskTier             contracts.RiskTier `json:"risk_tier"`
	Violations           []string           `json:"violations,omitempty"`
	// FailedRules names the checks that produced violations (leverage, exposure, ...)
	FailedRules []string `json:"failed_rules,omitempty"`
}
