package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/pkg/config"
	"github.com/wonny/aegis-trader/pkg/logger"
)

// =============================================================================
// Exit Rules
// =============================================================================

// Exit rule names
const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
)

// SignalWriter enqueues signals next to the loop's signal source
type SignalWriter interface {
	FetchUnconsumed(ctx context.Context, market contracts.Market, minConfidence decimal.Decimal) ([]*contracts.Signal, error)
	Insert(ctx context.Context, s *contracts.Signal) error
}

// PositionLister lists open positions of a broker
type PositionLister interface {
	ListPositions(ctx context.Context, broker contracts.Broker) ([]*contracts.Position, error)
}

// MarkSource returns current marks
type MarkSource interface {
	GetPrice(ctx context.Context, broker contracts.Broker, market contracts.Market, symbol string) (decimal.Decimal, error)
}

// ExitSignal is one SELL enqueued by the exit monitor
type ExitSignal struct {
	Symbol   string          `json:"symbol"`
	Rule     string          `json:"rule"`
	Mark     decimal.Decimal `json:"mark"`
	AvgPrice decimal.Decimal `json:"avg_price"`
	Change   decimal.Decimal `json:"change"`
	SignalID int64           `json:"signal_id"`
}

// ExitMonitor turns stop-loss and take-profit crossings into SELL signals
// ⭐ SSOT: 청산 규칙은 시그널만 만든다. 주문은 마켓 루프가 같은 검증을 거쳐 실행
type ExitMonitor struct {
	positions PositionLister
	prices    MarkSource
	signals   SignalWriter
	risk      config.RiskConfig
	logger    *logger.Logger
	now       func() time.Time
}

// NewExitMonitor creates an exit monitor using STOP_LOSS_PCT and TAKE_PROFIT_PCT
func NewExitMonitor(positions PositionLister, prices MarkSource, signals SignalWriter, riskCfg config.RiskConfig, log *logger.Logger) *ExitMonitor {
	return &ExitMonitor{
		positions: positions,
		prices:    prices,
		signals:   signals,
		risk:      riskCfg,
		logger:    log.WithComponent("exits"),
		now:       time.Now,
	}
}

// Scan checks every open position of the market once.
// A symbol with a pending SELL is skipped so a crossing enqueues one signal.
func (m *ExitMonitor) Scan(ctx context.Context, market contracts.Market) ([]ExitSignal, error) {
	if !IsMarketOpen(market, m.now()) {
		return nil, nil
	}
	broker := contracts.BrokerFor(market)

	positions, err := m.positions.ListPositions(ctx, broker)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	pending, err := m.pendingSells(ctx, market)
	if err != nil {
		return nil, err
	}

	var (
		out  []ExitSignal
		errs []error
	)
	for _, p := range positions {
		if p.Market != market || contracts.IsQuoteCurrency(p.Symbol) || pending[p.Symbol] {
			continue
		}
		if !p.Qty.IsPositive() || !p.AvgPrice.IsPositive() {
			continue
		}

		mark, err := m.prices.GetPrice(ctx, broker, market, p.Symbol)
		if err != nil {
			errs = append(errs, fmt.Errorf("mark %s: %w", p.Symbol, err))
			continue
		}

		change := mark.Div(p.AvgPrice).Sub(decimal.NewFromInt(1))
		rule := m.rule(change)
		if rule == "" {
			continue
		}

		sig := &contracts.Signal{
			Symbol:     p.Symbol,
			Market:     market,
			Broker:     broker,
			Type:       contracts.SignalSell,
			EntryPrice: mark,
			Confidence: decimal.NewFromInt(1),
			CreatedAt:  m.now(),
		}
		if err := m.signals.Insert(ctx, sig); err != nil {
			errs = append(errs, fmt.Errorf("enqueue exit %s: %w", p.Symbol, err))
			continue
		}

		exit := ExitSignal{
			Symbol:   p.Symbol,
			Rule:     rule,
			Mark:     mark,
			AvgPrice: p.AvgPrice,
			Change:   change,
			SignalID: sig.ID,
		}
		m.logger.WithFields(map[string]interface{}{
			"symbol":    exit.Symbol,
			"rule":      exit.Rule,
			"mark":      exit.Mark.String(),
			"avg_price": exit.AvgPrice.String(),
			"change":    exit.Change.StringFixed(4),
		}).Info("Exit signal enqueued")
		out = append(out, exit)
	}
	return out, errors.Join(errs...)
}

// rule returns the crossed exit rule, stop first
func (m *ExitMonitor) rule(change decimal.Decimal) string {
	if m.risk.StopLossPct.IsPositive() && change.LessThanOrEqual(m.risk.StopLossPct.Neg()) {
		return ExitStopLoss
	}
	if m.risk.TakeProfitPct.IsPositive() && change.GreaterThanOrEqual(m.risk.TakeProfitPct) {
		return ExitTakeProfit
	}
	return ""
}

func (m *ExitMonitor) pendingSells(ctx context.Context, market contracts.Market) (map[string]bool, error) {
	queued, err := m.signals.FetchUnconsumed(ctx, market, decimal.Zero)
	if err != nil {
		return nil, fmt.Errorf("fetch pending signals: %w", err)
	}
	out := make(map[string]bool)
	for _, s := range queued {
		if s.Type == contracts.SignalSell {
			out[s.Symbol] = true
		}
	}
	return out, nil
}
