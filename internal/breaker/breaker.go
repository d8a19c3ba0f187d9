// Package breaker halts trading and liquidates positions when a broker's
// daily loss or drawdown from its running high-water mark crosses its limit.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/internal/guard"
	"github.com/wonny/aegis-trader/internal/liquidation"
	"github.com/wonny/aegis-trader/internal/metrics"
	"github.com/wonny/aegis-trader/internal/notify"
	"github.com/wonny/aegis-trader/pkg/config"
	"github.com/wonny/aegis-trader/pkg/logger"
)

// State of a broker as seen by the breaker
type State string

const (
	StateNormal State = "NORMAL"
	StateHalted State = "HALTED"
)

// Trip reasons
const (
	ReasonDailyLoss = "daily_loss"
	ReasonDrawdown  = "drawdown"
)

// BlindAlertEvery repeats the evaluation failure alert every N consecutive failures
const BlindAlertEvery = 30

// Liquidator closes positions on a trip
type Liquidator interface {
	Liquidate(ctx context.Context, req liquidation.Request) (*contracts.LiquidationSummary, error)
}

// MarketCheck is one market evaluated in its own quote currency
type MarketCheck struct {
	Market      contracts.Market `json:"market"`
	Currency    string           `json:"currency"`
	Triggered   bool             `json:"triggered"`
	Reason      string           `json:"reason,omitempty"`
	DailyPnL    decimal.Decimal  `json:"daily_pnl"`
	DailyPnLPct decimal.Decimal  `json:"daily_pnl_pct"`
	Drawdown    decimal.Decimal  `json:"drawdown"`
	Equity      decimal.Decimal  `json:"equity"`
	HighWater   decimal.Decimal  `json:"high_water"`
}

// Status is the derived breaker state of one broker. Only the guard record persists.
// The headline fields repeat the triggered market, or the worst one when nothing triggered.
type Status struct {
	Broker        contracts.Broker              `json:"broker"`
	State         State                         `json:"state"`
	Triggered     bool                          `json:"triggered"`
	Reason        string                        `json:"reason,omitempty"`
	Market        contracts.Market              `json:"market"`
	Currency      string                        `json:"currency"`
	DailyPnL      decimal.Decimal               `json:"daily_pnl"`
	DailyPnLPct   decimal.Decimal               `json:"daily_pnl_pct"`
	Drawdown      decimal.Decimal               `json:"drawdown"`
	Equity        decimal.Decimal               `json:"equity"`
	HighWater     decimal.Decimal               `json:"high_water"`
	Markets       []*MarketCheck                `json:"markets"`
	CooldownUntil *time.Time                    `json:"cooldown_until,omitempty"`
	Tripped       bool                          `json:"tripped"` // this check ran the trip actions
	Liquidation   *contracts.LiquidationSummary `json:"liquidation,omitempty"`
	CheckedAt     time.Time                     `json:"checked_at"`
}

func (s *Status) headline(mc *MarketCheck) {
	s.Triggered = mc.Triggered
	s.Reason = mc.Reason
	s.Market = mc.Market
	s.Currency = mc.Currency
	s.DailyPnL = mc.DailyPnL
	s.DailyPnLPct = mc.DailyPnLPct
	s.Drawdown = mc.Drawdown
	s.Equity = mc.Equity
	s.HighWater = mc.HighWater
}

// Deps are the breaker's collaborators
type Deps struct {
	PnL        *PnLCalculator
	Account    contracts.AccountProvider
	Valuer     contracts.PositionValuer
	Equity     EquityStore
	Guard      guard.Store
	Liquidator Liquidator
	Notifier   notify.Notifier
	Events     contracts.RiskEventLogger
	Metrics    *metrics.Metrics
	Logger     *logger.Logger
	// Markets limits evaluation to enabled markets. Empty means every market of the broker.
	Markets []contracts.Market
}

// Breaker is the circuit breaker
// ⭐ SSOT: 거래 중단 판단은 여기서만. 상태는 guard 레코드에만 저장
type Breaker struct {
	cfg    config.BreakerConfig
	dryRun bool
	deps   Deps
	logger *logger.Logger
	now    func() time.Time

	mu       sync.Mutex
	failures map[contracts.Broker]int // 연속 평가 실패 횟수
}

// New creates a circuit breaker. dryRun is passed through to liquidation.
func New(cfg config.BreakerConfig, dryRun bool, deps Deps) *Breaker {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Minute
	}
	if cfg.LiquidatePct.IsZero() {
		cfg.LiquidatePct = decimal.NewFromInt(1)
	}
	return &Breaker{
		cfg:      cfg,
		dryRun:   dryRun,
		deps:     deps,
		logger:   deps.Logger.WithComponent("breaker"),
		now:      time.Now,
		failures: make(map[contracts.Broker]int),
	}
}

// Check evaluates one broker and trips the breaker on breach.
// A data failure returns a nil status and raises a critical alert, since the
// broker is unprotected until evaluation recovers. Trip action failures are
// returned joined together with the status.
func (b *Breaker) Check(ctx context.Context, broker contracts.Broker) (*Status, error) {
	now := b.now()

	status, err := b.evaluate(ctx, broker, now)
	if err != nil {
		b.logger.WithError(err).WithField("broker", broker).Error("Breaker check failed")
		b.alertBlind(ctx, broker, err, now)
		return nil, err
	}
	b.recovered(broker)

	pct, _ := status.DailyPnLPct.Float64()
	b.deps.Metrics.SetDailyPnLPct(string(broker), pct)

	state, err := b.deps.Guard.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("read guard: %w", err)
	}

	var tripErr error
	if status.Triggered && b.cfg.Enabled {
		if !state.TradingEnabled && state.InCooldown(now) {
			// 이미 중단 상태: 쿨다운만 연장, 재청산/재알림 없음
			state, tripErr = b.deps.Guard.ExtendCooldown(ctx, now.Add(b.cfg.Cooldown), status.Reason)
		} else {
			state, tripErr = b.trip(ctx, status, now)
		}
	}
	if state != nil {
		status.CooldownUntil = state.CooldownUntil
		if !state.TradingEnabled || state.InCooldown(now) {
			status.State = StateHalted
		}
	}
	if status.Triggered {
		status.State = StateHalted
	}

	b.logger.WithFields(map[string]interface{}{
		"broker":        broker,
		"market":        status.Market,
		"state":         status.State,
		"daily_pnl":     status.DailyPnL.String(),
		"daily_pnl_pct": status.DailyPnLPct.StringFixed(4),
		"drawdown":      status.Drawdown.StringFixed(4),
	}).Debug("Breaker checked")

	return status, tripErr
}

// ResetHighWater drops the running high-water marks of broker.
// The next check starts a new drawdown baseline.
func (b *Breaker) ResetHighWater(ctx context.Context, broker contracts.Broker, by string) error {
	if err := b.deps.Equity.Reset(ctx, broker); err != nil {
		return err
	}
	b.logger.WithFields(map[string]interface{}{
		"broker": broker,
		"by":     by,
	}).Warn("Equity high-water mark reset")

	if b.deps.Events != nil {
		err := b.deps.Events.LogRiskEvent(ctx, &contracts.RiskEvent{
			Type:     contracts.RiskEventHighWaterReset,
			Severity: contracts.SeverityWarning,
			Broker:   broker,
			Message:  fmt.Sprintf("high-water mark reset by %s", by),
			Details:  map[string]interface{}{"by": by},
		})
		if err != nil {
			return fmt.Errorf("risk event: %w", err)
		}
	}
	return nil
}

// markets returns the markets evaluated for broker
func (b *Breaker) markets(broker contracts.Broker) []contracts.Market {
	if len(b.deps.Markets) == 0 {
		return contracts.MarketsOf(broker)
	}
	var out []contracts.Market
	for _, m := range b.deps.Markets {
		if contracts.BrokerFor(m) == broker {
			out = append(out, m)
		}
	}
	return out
}

// evaluate computes P&L, equity and drawdown per market without side effects on the guard.
// 통화가 다른 마켓은 합산하지 않는다 (KIS: KRX 원화 / US 달러)
func (b *Breaker) evaluate(ctx context.Context, broker contracts.Broker, now time.Time) (*Status, error) {
	status := &Status{Broker: broker, State: StateNormal, CheckedAt: now}

	var head *MarketCheck
	for _, market := range b.markets(broker) {
		mc, err := b.evaluateMarket(ctx, broker, market, now)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", market, err)
		}
		if mc == nil {
			continue
		}
		status.Markets = append(status.Markets, mc)

		switch {
		case head == nil:
			head = mc
		case mc.Triggered && !head.Triggered:
			head = mc
		case mc.Triggered == head.Triggered && mc.DailyPnLPct.LessThan(head.DailyPnLPct):
			head = mc
		}
	}
	if head == nil {
		return nil, fmt.Errorf("%w: non-positive equity for %s", contracts.ErrDataIntegrity, broker)
	}
	status.headline(head)
	return status, nil
}

// evaluateMarket returns nil for a market with neither cash nor positions
func (b *Breaker) evaluateMarket(ctx context.Context, broker contracts.Broker, market contracts.Market, now time.Time) (*MarketCheck, error) {
	pnl, err := b.deps.PnL.Daily(ctx, broker, market, now)
	if err != nil {
		return nil, err
	}

	cash, err := b.deps.Account.GetAccountCash(ctx, broker, market)
	if err != nil {
		return nil, fmt.Errorf("account cash: %w", err)
	}
	held, err := b.deps.Valuer.GetPositionValue(ctx, broker, market, "")
	if err != nil {
		return nil, fmt.Errorf("position value: %w", err)
	}
	equity := cash.Add(held)
	if equity.IsNegative() {
		return nil, fmt.Errorf("%w: negative equity %s", contracts.ErrDataIntegrity, equity)
	}
	if equity.IsZero() {
		return nil, nil
	}

	hw, err := b.deps.Equity.Mark(ctx, broker, market, equity)
	if err != nil {
		return nil, fmt.Errorf("equity mark: %w", err)
	}

	mc := &MarketCheck{
		Market:      market,
		Currency:    market.QuoteCurrency(),
		DailyPnL:    pnl.Total,
		DailyPnLPct: pnl.Total.DivRound(equity, 16),
		Equity:      equity,
		HighWater:   hw,
		Drawdown:    equity.Sub(hw).DivRound(hw, 16),
	}
	switch {
	case mc.DailyPnLPct.LessThanOrEqual(b.cfg.DailyLossLimitPct):
		mc.Triggered = true
		mc.Reason = ReasonDailyLoss
	case mc.Drawdown.LessThanOrEqual(b.cfg.MaxDrawdownPct):
		mc.Triggered = true
		mc.Reason = ReasonDrawdown
	}
	return mc, nil
}

// alertBlind reports the first failure of a streak and every BlindAlertEvery-th after it
func (b *Breaker) alertBlind(ctx context.Context, broker contracts.Broker, cause error, now time.Time) {
	b.mu.Lock()
	b.failures[broker]++
	n := b.failures[broker]
	b.mu.Unlock()

	if n != 1 && n%BlindAlertEvery != 0 {
		return
	}
	log := b.logger.WithField("broker", broker)
	msg := fmt.Sprintf("circuit breaker cannot evaluate %s: %v", broker, cause)

	if b.deps.Notifier != nil {
		err := b.deps.Notifier.Send(ctx, notify.Event{
			Level:   notify.LevelCritical,
			Title:   "Circuit breaker blind: " + string(broker),
			Message: msg,
			Fields:  map[string]string{"consecutive_failures": strconv.Itoa(n)},
			At:      now,
		})
		if err != nil {
			log.WithError(err).Error("Failed to send breaker failure notification")
		}
	}
	if b.deps.Events != nil {
		err := b.deps.Events.LogRiskEvent(ctx, &contracts.RiskEvent{
			Type:     contracts.RiskEventBreakerBlind,
			Severity: contracts.SeverityCritical,
			Broker:   broker,
			Message:  msg,
			Details:  map[string]interface{}{"consecutive_failures": n},
		})
		if err != nil {
			log.WithError(err).Error("Failed to log breaker failure event")
		}
	}
}

func (b *Breaker) recovered(broker contracts.Broker) {
	b.mu.Lock()
	n := b.failures[broker]
	delete(b.failures, broker)
	b.mu.Unlock()

	if n > 0 {
		b.logger.WithFields(map[string]interface{}{
			"broker":   broker,
			"failures": n,
		}).Info("Breaker evaluation recovered")
	}
}

// trip runs every transition action. Each one is attempted regardless of the others.
func (b *Breaker) trip(ctx context.Context, status *Status, now time.Time) (*contracts.GuardState, error) {
	status.Tripped = true
	log := b.logger.WithFields(map[string]interface{}{
		"broker": status.Broker,
		"market": status.Market,
		"reason": status.Reason,
	})
	log.WithFields(map[string]interface{}{
		"daily_pnl_pct": status.DailyPnLPct.StringFixed(4),
		"drawdown":      status.Drawdown.StringFixed(4),
	}).Error("Circuit breaker tripped")

	reason := fmt.Sprintf("circuit breaker %s/%s: %s (pnl %s%%, drawdown %s%%)",
		status.Broker, status.Market, status.Reason,
		status.DailyPnLPct.Shift(2).StringFixed(2), status.Drawdown.Shift(2).StringFixed(2))

	var errs []error
	var state *contracts.GuardState

	// (a) 거래 중단
	if s, err := b.deps.Guard.Disable(ctx, reason); err != nil {
		log.WithError(err).Error("Failed to disable trading")
		errs = append(errs, fmt.Errorf("disable trading: %w", err))
	} else {
		state = s
	}

	// (b) 쿨다운 연장 (단조 증가)
	if s, err := b.deps.Guard.ExtendCooldown(ctx, now.Add(b.cfg.Cooldown), reason); err != nil {
		log.WithError(err).Error("Failed to extend cooldown")
		errs = append(errs, fmt.Errorf("extend cooldown: %w", err))
	} else {
		state = s
	}

	// (c) 청산 (브로커 전체)
	if b.deps.Liquidator != nil {
		summary, err := b.deps.Liquidator.Liquidate(ctx, liquidation.Request{
			Broker: status.Broker,
			Pct:    b.cfg.LiquidatePct,
			DryRun: b.dryRun,
			Reason: reason,
		})
		status.Liquidation = summary
		if err != nil {
			log.WithError(err).Error("Liquidation failed")
			errs = append(errs, fmt.Errorf("liquidate: %w", err))
		}
	}

	// (d) 긴급 알림
	if b.deps.Notifier != nil {
		fields := map[string]string{
			"market":        string(status.Market),
			"daily_pnl":     status.DailyPnL.StringFixed(2) + " " + status.Currency,
			"daily_pnl_pct": status.DailyPnLPct.Shift(2).StringFixed(2) + "%",
			"drawdown":      status.Drawdown.Shift(2).StringFixed(2) + "%",
			"cooldown":      b.cfg.Cooldown.String(),
		}
		if state != nil && state.CooldownUntil != nil {
			fields["cooldown_until"] = state.CooldownUntil.Format(time.RFC3339)
		}
		err := b.deps.Notifier.Send(ctx, notify.Event{
			Level:   notify.LevelCritical,
			Title:   "Circuit breaker tripped: " + string(status.Broker),
			Message: reason,
			Fields:  fields,
			At:      now,
		})
		if err != nil {
			log.WithError(err).Error("Failed to send breaker notification")
			errs = append(errs, fmt.Errorf("notify: %w", err))
		}
	}

	// (e) 리스크 이벤트
	if b.deps.Events != nil {
		details := map[string]interface{}{
			"reason":        status.Reason,
			"market":        status.Market,
			"currency":      status.Currency,
			"daily_pnl":     status.DailyPnL.String(),
			"daily_pnl_pct": status.DailyPnLPct.String(),
			"drawdown":      status.Drawdown.String(),
			"equity":        status.Equity.String(),
			"high_water":    status.HighWater.String(),
		}
		if status.Liquidation != nil {
			details["liquidation_run_id"] = status.Liquidation.RunID
		}
		err := b.deps.Events.LogRiskEvent(ctx, &contracts.RiskEvent{
			Type:     contracts.RiskEventCircuitBreaker,
			Severity: contracts.SeverityCritical,
			Broker:   status.Broker,
			Message:  reason,
			Details:  details,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("risk event: %w", err))
		}
	}

	b.deps.Metrics.RecordBreakerTrip(string(status.Broker), status.Reason)

	if state == nil {
		// guard 쓰기가 모두 실패: 상태 표시는 최신 값으로
		if s, err := b.deps.Guard.Get(ctx); err == nil {
			state = s
		}
	}
	return state, errors.Join(errs...)
}

// IsInCooldown re-reads the guard on every call
func (b *Breaker) IsInCooldown(ctx context.Context) (bool, error) {
	return guard.IsInCooldown(ctx, b.deps.Guard, b.now())
}
