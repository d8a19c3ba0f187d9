package riskconfig

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/internal/risk"
	"github.com/wonny/aegis-trader/pkg/config"
)

// ValidationError 검증 실패 (프로그램 중단)
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap lets callers match config.ErrFatalConfig
func (e ValidationError) Unwrap() error {
	return config.ErrFatalConfig
}

var one = decimal.NewFromInt(1)

// Apply overlays the file onto base and validates the result
func (c *Config) Apply(base risk.Limits) (risk.Limits, error) {
	out := base
	out.MaxLeveragePerSymbol = make(map[string]decimal.Decimal, len(base.MaxLeveragePerSymbol))
	for k, v := range base.MaxLeveragePerSymbol {
		out.MaxLeveragePerSymbol[k] = v
	}

	fields := []struct {
		name  string
		raw   string
		dst   *decimal.Decimal
		check func(decimal.Decimal) bool
		rule  string
	}{
		{"sizing.risk_pct", c.Sizing.RiskPct, &out.RiskPct, inUnitInterval, "must be in (0, 1]"},
		{"sizing.max_exposure_pct", c.Sizing.MaxExposurePct, &out.MaxExposurePct, inUnitInterval, "must be in (0, 1]"},
		{"portfolio.max_total_exposure_pct", c.Portfolio.MaxTotalExposurePct, &out.MaxTotalExposurePct, positive, "must be > 0"},
		{"portfolio.max_leverage", c.Portfolio.MaxLeverage, &out.MaxPortfolioLeverage, positive, "must be > 0"},
		{"leverage.default", c.Leverage.Default, &out.DefaultMaxLeverage, positive, "must be > 0"},
		{"stop_distance.min_pct", c.StopDistance.MinPct, &out.MinStopDistancePct, inUnitInterval, "must be in (0, 1]"},
		{"stop_distance.max_pct", c.StopDistance.MaxPct, &out.MaxStopDistancePct, inUnitInterval, "must be in (0, 1]"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(strings.TrimSpace(f.raw))
		if err != nil {
			return base, ValidationError{f.name, "not a decimal"}
		}
		if !f.check(v) {
			return base, ValidationError{f.name, f.rule}
		}
		*f.dst = v
	}

	for symbol, raw := range c.Leverage.PerSymbol {
		field := "leverage.per_symbol." + symbol
		v, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return base, ValidationError{field, "not a decimal"}
		}
		if !positive(v) {
			return base, ValidationError{field, "must be > 0"}
		}
		out.MaxLeveragePerSymbol[risk.BaseAsset(symbol)] = v
	}

	if c.EventRisk.Block != nil {
		out.BlockOnEventRisk = *c.EventRisk.Block
	}

	if !out.MinStopDistancePct.LessThan(out.MaxStopDistancePct) {
		return base, ValidationError{"stop_distance", "min_pct must be below max_pct"}
	}
	if out.MaxExposurePct.GreaterThan(out.MaxTotalExposurePct) {
		return base, ValidationError{"sizing.max_exposure_pct", "must not exceed portfolio.max_total_exposure_pct"}
	}

	return out, nil
}

func positive(v decimal.Decimal) bool { return v.IsPositive() }

func inUnitInterval(v decimal.Decimal) bool {
	return v.IsPositive() && v.LessThanOrEqual(one)
}
