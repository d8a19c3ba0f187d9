package riskconfig

// Config is the YAML risk-limits override file.
// Every field is optional: absent values keep the env configuration.
// Numbers are quoted strings so they decode straight into exact decimals.
type Config struct {
	Version      int                `yaml:"version" json:"version"`
	Sizing       SizingConfig       `yaml:"sizing" json:"sizing"`
	Portfolio    PortfolioConfig    `yaml:"portfolio" json:"portfolio"`
	Leverage     LeverageConfig     `yaml:"leverage" json:"leverage"`
	StopDistance StopDistanceConfig `yaml:"stop_distance" json:"stop_distance"`
	EventRisk    EventRiskConfig    `yaml:"event_risk" json:"event_risk"`
}

// SizingConfig 포지션 사이징
type SizingConfig struct {
	RiskPct        string `yaml:"risk_pct" json:"risk_pct,omitempty"`
	MaxExposurePct string `yaml:"max_exposure_pct" json:"max_exposure_pct,omitempty"`
}

// PortfolioConfig 포트폴리오 합계 한도
type PortfolioConfig struct {
	MaxTotalExposurePct string `yaml:"max_total_exposure_pct" json:"max_total_exposure_pct,omitempty"`
	MaxLeverage         string `yaml:"max_leverage" json:"max_leverage,omitempty"`
}

// LeverageConfig 종목별 레버리지 한도
type LeverageConfig struct {
	Default   string            `yaml:"default" json:"default,omitempty"`
	PerSymbol map[string]string `yaml:"per_symbol" json:"per_symbol,omitempty"`
}

// StopDistanceConfig 손절 거리 밴드
type StopDistanceConfig struct {
	MinPct string `yaml:"min_pct" json:"min_pct,omitempty"`
	MaxPct string `yaml:"max_pct" json:"max_pct,omitempty"`
}

// EventRiskConfig 실적 발표 이벤트 리스크
type EventRiskConfig struct {
	Block *bool `yaml:"block" json:"block,omitempty"`
}
