package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// LiquidationRecord is written once per attempted symbol in a liquidation run
type LiquidationRecord struct {
	RunID     string          `json:"run_id"`
	Broker    Broker          `json:"broker"`
	Market    Market          `json:"market"`
	Symbol    string          `json:"symbol"`
	Qty       decimal.Decimal `json:"qty"`
	Attempts  int             `json:"attempts"`
	Success   bool            `json:"success"`
	DryRun    bool            `json:"dry_run"`
	OrderID   string          `json:"order_id,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// LiquidationSummary is the tally of one run
type LiquidationSummary struct {
	RunID     string               `json:"run_id"`
	Broker    Broker               `json:"broker"`
	DryRun    bool                 `json:"dry_run"`
	Attempted int                  `json:"attempted"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	Records   []*LiquidationRecord `json:"records"`
	StartedAt time.Time            `json:"started_at"`
	Duration  time.Duration        `json:"duration"`
}
