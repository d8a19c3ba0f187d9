// Package trading runs the per-market signal loops and broker reconciliation.
package trading

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/internal/guard"
	"github.com/wonny/aegis-trader/internal/metrics"
	"github.com/wonny/aegis-trader/internal/risk"
	"github.com/wonny/aegis-trader/pkg/config"
	"github.com/wonny/aegis-trader/pkg/logger"
)

// Signal outcomes reported to metrics and logs
const (
	OutcomeExecuted = "executed"
	OutcomeDryRun   = "dry_run"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
	OutcomeHold     = "hold"
	OutcomeNoPos    = "no_position"
	OutcomeError    = "error"
	OutcomeBlocked  = "blocked"
)

// Skip reasons of a whole tick
const (
	SkipRunning       = "already_running"
	SkipMarketClosed  = "market_closed"
	SkipGuard         = "guard_blocked"
	SkipBudgetReached = "daily_budget_exhausted"
)

// consumeTimeout bounds the consumption write that outlives a cancelled tick
const consumeTimeout = 5 * time.Second

// OrderExecutor places one approved order
type OrderExecutor interface {
	Execute(ctx context.Context, req *contracts.OrderRequest) (*contracts.OrderResult, error)
}

// ACERecorder writes the compliance trail of a decision
type ACERecorder interface {
	Open(ctx context.Context, signal *contracts.Signal, result *risk.ValidationResult, accountSize decimal.Decimal) (*contracts.ACELog, error)
	RecordExecution(ctx context.Context, entry *contracts.ACELog, req contracts.OrderRequest, result *contracts.OrderResult, dryRun bool) error
}

// PositionReader looks up one held position
type PositionReader interface {
	GetPosition(ctx context.Context, broker contracts.Broker, symbol string) (*contracts.Position, error)
	CountTradesSince(ctx context.Context, market contracts.Market, since time.Time) (int, error)
}

// LoopDeps are the market loop's collaborators
type LoopDeps struct {
	Signals   contracts.SignalSource
	Guard     guard.Store
	Validator *risk.Validator
	Executor  OrderExecutor
	ACE       ACERecorder
	Account   contracts.AccountProvider
	Valuer    contracts.PositionValuer
	Positions PositionReader
	Events    contracts.RiskEventLogger
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
}

// TickResult summarizes one loop iteration
type TickResult struct {
	Market     contracts.Market `json:"market"`
	Skipped    bool             `json:"skipped"`
	SkipReason string           `json:"skip_reason,omitempty"`
	Fetched    int              `json:"fetched"`
	Outcomes   map[string]int   `json:"outcomes"`
	Errors     int              `json:"errors"`
	Duration   time.Duration    `json:"duration"`
}

// MarketLoop processes one market's signal queue per tick
// ⭐ SSOT: 시그널 → 사이징 → 검증 → ACE → 주문 → 소비 표시. 시그널은 순차 처리
type MarketLoop struct {
	market  contracts.Market
	trading config.TradingConfig
	risk    config.RiskConfig
	deps    LoopDeps
	logger  *logger.Logger
	running atomic.Bool
	now     func() time.Time
}

// NewMarketLoop creates the loop of one market
func NewMarketLoop(market contracts.Market, trading config.TradingConfig, riskCfg config.RiskConfig, deps LoopDeps) *MarketLoop {
	return &MarketLoop{
		market:  market,
		trading: trading,
		risk:    riskCfg,
		deps:    deps,
		logger:  deps.Logger.WithComponent("loop").WithField("market", market),
		now:     time.Now,
	}
}

// Market returns the loop's market
func (l *MarketLoop) Market() contracts.Market {
	return l.market
}

// Running reports whether a tick is in flight
func (l *MarketLoop) Running() bool {
	return l.running.Load()
}

// Tick runs one iteration. Overlapping calls return immediately with SkipRunning.
// Per-signal failures are counted, never returned; the error reports tick-level failures.
func (l *MarketLoop) Tick(ctx context.Context) (*TickResult, error) {
	result := &TickResult{Market: l.market, Outcomes: make(map[string]int)}
	if !l.running.CompareAndSwap(false, true) {
		return l.skip(result, SkipRunning, "previous tick still running"), nil
	}
	defer l.running.Store(false)

	start := l.now()
	defer func() {
		result.Duration = l.now().Sub(start)
		l.deps.Metrics.ObserveLoop(string(l.market), result.Duration)
	}()

	if !IsMarketOpen(l.market, start) {
		return l.skip(result, SkipMarketClosed, "market closed"), nil
	}

	if _, err := guard.Check(ctx, l.deps.Guard, start); err != nil {
		if errors.Is(err, contracts.ErrGuardBlocked) {
			return l.skip(result, SkipGuard, err.Error()), nil
		}
		return nil, fmt.Errorf("read guard: %w", err)
	}

	used, err := l.ordersToday(ctx, start)
	if err != nil {
		return nil, err
	}
	if l.budgetExhausted(used) {
		return l.skip(result, SkipBudgetReached, fmt.Sprintf("%d orders today", used)), nil
	}

	signals, err := l.deps.Signals.FetchUnconsumed(ctx, l.market, l.trading.MinConfidence)
	if err != nil {
		return nil, fmt.Errorf("fetch signals: %w", err)
	}
	contracts.SortSignals(signals)
	result.Fetched = len(signals)

	for _, sig := range signals {
		if ctx.Err() != nil {
			break
		}
		outcome, err := l.processSignal(ctx, sig)
		if errors.Is(err, contracts.ErrGuardBlocked) {
			// 처리 도중 중단됨: 남은 시그널은 다음 틱으로
			l.logger.WithField("signal_id", sig.ID).Warn("Guard blocked mid-batch, stopping tick")
			result.Outcomes[OutcomeBlocked]++
			break
		}
		result.Outcomes[outcome]++
		l.deps.Metrics.RecordSignal(string(l.market), outcome)
		if err != nil {
			result.Errors++
			l.signalError(ctx, sig, err)
		}
		if outcome == OutcomeExecuted {
			used++
			if l.budgetExhausted(used) {
				l.logger.WithField("orders", used).Info("Daily order budget reached")
				break
			}
		}
	}

	l.logger.WithFields(map[string]interface{}{
		"fetched":  result.Fetched,
		"outcomes": result.Outcomes,
		"errors":   result.Errors,
	}).Info("Market loop tick complete")
	return result, nil
}

// processSignal handles one signal. The signal is marked consumed on every path,
// panics included, except when the pre-order guard check stops it.
func (l *MarketLoop) processSignal(ctx context.Context, sig *contracts.Signal) (outcome string, err error) {
	consume := true
	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomeError
			err = fmt.Errorf("panic processing signal %d: %v", sig.ID, r)
		}
		if !consume {
			return
		}
		// 주문이 브로커에 도달한 뒤 종료되어도 소비 표시는 남겨야 재시작 후 이중 주문이 없음
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), consumeTimeout)
		defer cancel()
		if merr := l.deps.Signals.MarkConsumed(mctx, sig.ID); merr != nil && !errors.Is(merr, contracts.ErrAlreadyConsumed) {
			err = errors.Join(err, fmt.Errorf("mark consumed %d: %w", sig.ID, merr))
		}
	}()

	log := l.logger.WithFields(map[string]interface{}{
		"signal_id": sig.ID,
		"symbol":    sig.Symbol,
		"type":      sig.Type,
	})

	side, ok := sig.Type.Side()
	if !ok {
		log.Debug("Hold signal consumed")
		return OutcomeHold, nil
	}
	if !sig.EntryPrice.IsPositive() {
		return OutcomeError, fmt.Errorf("%w: signal %d has no entry price", contracts.ErrInvalidInput, sig.ID)
	}
	broker := sig.Broker
	if broker == "" {
		broker = contracts.BrokerFor(l.market)
	}

	// 계좌 크기 = 이 마켓 통화의 현금 + 이 마켓 보유 평가액 (KRW 와 USD 를 섞지 않음)
	cash, err := l.deps.Account.GetAccountCash(ctx, broker, l.market)
	if err != nil {
		return OutcomeError, fmt.Errorf("account cash: %w", err)
	}
	held, err := l.deps.Valuer.GetPositionValue(ctx, broker, l.market, "")
	if err != nil {
		return OutcomeError, fmt.Errorf("position value: %w", err)
	}
	accountSize := cash.Add(held)

	var position *contracts.Position
	if side == contracts.OrderSideSell {
		position, err = l.deps.Positions.GetPosition(ctx, broker, sig.Symbol)
		if errors.Is(err, contracts.ErrNotFound) {
			log.Info("Sell signal without position, consumed")
			return OutcomeNoPos, nil
		}
		if err != nil {
			return OutcomeError, fmt.Errorf("load position: %w", err)
		}
	}

	validation := l.deps.Validator.Validate(ctx, risk.ValidationRequest{
		Symbol:       sig.Symbol,
		Market:       l.market,
		Side:         side,
		EntryPrice:   sig.EntryPrice,
		StopLoss:     l.stopLoss(sig, side),
		AccountSize:  accountSize,
		CurrentValue: held,
	})
	if !validation.Approved {
		l.reject(ctx, sig, broker, validation)
		return OutcomeRejected, nil
	}

	// 매도는 보유 수량 전량. 사이저 결과는 신규 진입 크기
	qty := validation.PositionSize
	if side == contracts.OrderSideSell {
		qty = position.Qty
	}

	// 주문 직전 guard 재확인 (다른 프로세스가 중단했을 수 있음)
	if _, err := guard.Check(ctx, l.deps.Guard, l.now()); err != nil {
		consume = false
		return OutcomeBlocked, err
	}

	// ACE 기록에는 실제로 검증에 쓴 손절가/목표가를 남김
	aspired := *sig
	aspired.Market = l.market
	aspired.Broker = broker
	aspired.StopLoss = validation.StopLoss
	aspired.TargetPrice = l.targetPrice(sig, side)
	entry, err := l.deps.ACE.Open(ctx, &aspired, validation, accountSize)
	if err != nil {
		return OutcomeError, err
	}

	req := &contracts.OrderRequest{
		Broker: broker,
		Market: l.market,
		Symbol: sig.Symbol,
		Side:   side,
		Type:   contracts.OrderTypeMarket,
		Qty:    qty,
		Price:  sig.EntryPrice,
		Reason: fmt.Sprintf("signal %d", sig.ID),
	}
	res, execErr := l.deps.Executor.Execute(ctx, req)
	if res == nil {
		msg := "no result"
		if execErr != nil {
			msg = execErr.Error()
		}
		res = &contracts.OrderResult{Status: contracts.OrderFailed, Message: msg}
	}
	if err := l.deps.ACE.RecordExecution(ctx, entry, *req, res, res.Status == contracts.OrderSkipped); err != nil {
		execErr = errors.Join(execErr, err)
	}

	switch res.Status {
	case contracts.OrderSuccess:
		outcome = OutcomeExecuted
	case contracts.OrderSkipped:
		outcome = OutcomeDryRun
	default:
		outcome = OutcomeFailed
		l.logEvent(ctx, &contracts.RiskEvent{
			Type:     contracts.RiskEventOrderFailed,
			Severity: contracts.SeverityWarning,
			Market:   l.market,
			Broker:   broker,
			Symbol:   sig.Symbol,
			Message:  res.Message,
			Details: map[string]interface{}{
				"signal_id":       sig.ID,
				"client_order_id": req.ClientOrderID,
				"qty":             qty.String(),
			},
		})
	}
	log.WithFields(map[string]interface{}{
		"outcome": outcome,
		"qty":     qty.String(),
	}).Info("Signal processed")
	return outcome, execErr
}

// targetPrice returns the signal's target, or one derived from TAKE_PROFIT_PCT
func (l *MarketLoop) targetPrice(sig *contracts.Signal, side contracts.OrderSide) decimal.Decimal {
	if sig.TargetPrice.IsPositive() || !l.risk.TakeProfitPct.IsPositive() {
		return sig.TargetPrice
	}
	one := decimal.NewFromInt(1)
	if side == contracts.OrderSideSell {
		return sig.EntryPrice.Mul(one.Sub(l.risk.TakeProfitPct))
	}
	return sig.EntryPrice.Mul(one.Add(l.risk.TakeProfitPct))
}

// stopLoss returns the signal's stop, or one derived from STOP_LOSS_PCT
func (l *MarketLoop) stopLoss(sig *contracts.Signal, side contracts.OrderSide) decimal.Decimal {
	if sig.StopLoss.IsPositive() {
		return sig.StopLoss
	}
	one := decimal.NewFromInt(1)
	if side == contracts.OrderSideSell {
		return sig.EntryPrice.Mul(one.Add(l.risk.StopLossPct))
	}
	return sig.EntryPrice.Mul(one.Sub(l.risk.StopLossPct))
}

func (l *MarketLoop) reject(ctx context.Context, sig *contracts.Signal, broker contracts.Broker, v *risk.ValidationResult) {
	l.deps.Metrics.RecordRejection(string(l.market), v.FailedRules)
	l.logger.WithFields(map[string]interface{}{
		"signal_id":  sig.ID,
		"symbol":     sig.Symbol,
		"violations": v.Violations,
	}).Info("Signal rejected by risk validation")

	l.logEvent(ctx, &contracts.RiskEvent{
		Type:     contracts.RiskEventValidationReject,
		Severity: contracts.SeverityInfo,
		Market:   l.market,
		Broker:   broker,
		Symbol:   sig.Symbol,
		Message:  fmt.Sprintf("signal %d rejected", sig.ID),
		Details: map[string]interface{}{
			"signal_id":      sig.ID,
			"violations":     v.Violations,
			"failed_rules":   v.FailedRules,
			"position_size":  v.PositionSize.String(),
			"position_value": v.PositionValue.String(),
			"risk_tier":      v.RiskTier,
		},
	})
}

// signalError records a per-signal failure without aborting the batch
func (l *MarketLoop) signalError(ctx context.Context, sig *contracts.Signal, err error) {
	l.logger.WithError(err).WithField("signal_id", sig.ID).Error("Signal processing failed")
	if gerr := l.deps.Guard.IncrementErrors(ctx); gerr != nil {
		l.logger.WithError(gerr).Warn("Failed to increment guard error count")
	}
	l.logEvent(ctx, &contracts.RiskEvent{
		Type:     contracts.RiskEventSignalError,
		Severity: contracts.SeverityWarning,
		Market:   l.market,
		Broker:   sig.Broker,
		Symbol:   sig.Symbol,
		Message:  err.Error(),
		Details:  map[string]interface{}{"signal_id": sig.ID},
	})
}

func (l *MarketLoop) logEvent(ctx context.Context, event *contracts.RiskEvent) {
	if l.deps.Events == nil {
		return
	}
	if err := l.deps.Events.LogRiskEvent(ctx, event); err != nil {
		l.logger.WithError(err).WithField("event_type", event.Type).Warn("Failed to write risk event")
	}
}

func (l *MarketLoop) ordersToday(ctx context.Context, now time.Time) (int, error) {
	if l.trading.DailyOrderBudget <= 0 {
		return 0, nil
	}
	n, err := l.deps.Positions.CountTradesSince(ctx, l.market, contracts.TradingDayStart(now))
	if err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return n, nil
}

func (l *MarketLoop) budgetExhausted(used int) bool {
	return l.trading.DailyOrderBudget > 0 && used >= l.trading.DailyOrderBudget
}

func (l *MarketLoop) skip(result *TickResult, reason, detail string) *TickResult {
	result.Skipped = true
	result.SkipReason = reason
	l.deps.Metrics.RecordLoopSkip(string(l.market), reason)
	l.logger.WithField("reason", detail).Info("Market loop tick skipped")
	return result
}
