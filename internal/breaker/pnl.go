package breaker

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/internal/contracts"
)

// Ledger is the local trade and position history
type Ledger interface {
	TradesSince(ctx context.Context, broker contracts.Broker, since time.Time) ([]*contracts.Trade, error)
	ListPositions(ctx context.Context, broker contracts.Broker) ([]*contracts.Position, error)
}

// PriceSource returns current marks
type PriceSource interface {
	GetPrice(ctx context.Context, broker contracts.Broker, market contracts.Market, symbol string) (decimal.Decimal, error)
}

// DailyPnL is one broker market's P&L since the start of the trading day, in its quote currency
type DailyPnL struct {
	Realized   decimal.Decimal `json:"realized"`
	Unrealized decimal.Decimal `json:"unrealized"`
	Total      decimal.Decimal `json:"total"`
	Since      time.Time       `json:"since"`
}

// PnLCalculator computes realized + unrealized daily P&L
type PnLCalculator struct {
	ledger Ledger
	prices PriceSource
}

// NewPnLCalculator creates a P&L calculator
func NewPnLCalculator(ledger Ledger, prices PriceSource) *PnLCalculator {
	return &PnLCalculator{ledger: ledger, prices: prices}
}

// Daily returns today's P&L of one market of broker. Markets are never summed
// because a KIS account holds KRW and USD positions.
// ⭐ SSOT: 시세/잔고 조회 실패는 0으로 취급하지 않고 ErrDataIntegrity로 전파
func (c *PnLCalculator) Daily(ctx context.Context, broker contracts.Broker, market contracts.Market, now time.Time) (*DailyPnL, error) {
	since := contracts.TradingDayStart(now)

	trades, err := c.ledger.TradesSince(ctx, broker, since)
	if err != nil {
		return nil, fmt.Errorf("%w: load trades: %v", contracts.ErrDataIntegrity, err)
	}
	realized := decimal.Zero
	for _, t := range trades {
		if t.Market != market {
			continue
		}
		realized = realized.Add(t.RealizedPnL)
	}

	positions, err := c.ledger.ListPositions(ctx, broker)
	if err != nil {
		return nil, fmt.Errorf("%w: load positions: %v", contracts.ErrDataIntegrity, err)
	}
	unrealized := decimal.Zero
	for _, p := range positions {
		if p.Market != market || contracts.IsQuoteCurrency(p.Symbol) || !p.Qty.IsPositive() {
			continue
		}
		mark, err := c.prices.GetPrice(ctx, broker, p.Market, p.Symbol)
		if err != nil {
			return nil, fmt.Errorf("mark %s: %w", p.Symbol, err)
		}
		unrealized = unrealized.Add(mark.Sub(p.AvgPrice).Mul(p.Qty))
	}

	return &DailyPnL{
		Realized:   realized,
		Unrealized: unrealized,
		Total:      realized.Add(unrealized),
		Since:      since,
	}, nil
}
