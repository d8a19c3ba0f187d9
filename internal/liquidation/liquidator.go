// Package liquidation force-closes every open position of a broker.
package liquidation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/internal/metrics"
	"github.com/wonny/aegis-trader/internal/notify"
	"github.com/wonny/aegis-trader/internal/risk"
	"github.com/wonny/aegis-trader/pkg/backoff"
	"github.com/wonny/aegis-trader/pkg/logger"
)

// MaxAttempts per position. Only FAILED results and errors are retried, never a
// SUCCESS fill. Upbit dedupes retries by identifier (ClientOrderID); KIS has no
// client key, so an order the broker accepted but reported as failed (timeout)
// can be filled twice. The reconciler reports the resulting mismatch.
const MaxAttempts = 3

// PositionSource lists open positions
type PositionSource interface {
	ListPositions(ctx context.Context, broker contracts.Broker) ([]*contracts.Position, error)
}

// OrderPlacer submits one order; the executor satisfies it.
// A SUCCESS fill reduces the local position.
type OrderPlacer interface {
	ExecuteWith(ctx context.Context, req *contracts.OrderRequest, dryRun bool) (*contracts.OrderResult, error)
}

// PriceSource returns reference marks for the sell orders
type PriceSource interface {
	GetPrice(ctx context.Context, broker contracts.Broker, market contracts.Market, symbol string) (decimal.Decimal, error)
}

// RecordStore persists one record per attempted symbol
type RecordStore interface {
	SaveRecord(ctx context.Context, record *contracts.LiquidationRecord) error
}

// Request describes one liquidation run
type Request struct {
	Broker contracts.Broker
	Pct    decimal.Decimal // (0,1]; zero means 1
	DryRun bool
	Reason string
}

// Liquidator market-sells every open position of a broker
// ⭐ SSOT: 강제 청산은 여기서만. 포지션당 최대 3회, 심볼당 기록 1건, 요약 알림 1건
type Liquidator struct {
	positions PositionSource
	placer    OrderPlacer
	prices    PriceSource
	records   RecordStore
	notifier  notify.Notifier
	events    contracts.RiskEventLogger
	metrics   *metrics.Metrics
	logger    *logger.Logger

	maxAttempts int
	newBackoff  func() *backoff.Backoff
	sleep       backoff.Sleeper
	now         func() time.Time
}

// Config holds the liquidator's collaborators
type Config struct {
	Positions PositionSource
	Placer    OrderPlacer
	Prices    PriceSource
	Records   RecordStore
	Notifier  notify.Notifier
	Events    contracts.RiskEventLogger
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
}

// New creates a liquidator with 3 attempts and 1s/2s/4s backoff
func New(cfg Config) *Liquidator {
	return &Liquidator{
		positions:   cfg.Positions,
		placer:      cfg.Placer,
		prices:      cfg.Prices,
		records:     cfg.Records,
		notifier:    cfg.Notifier,
		events:      cfg.Events,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.WithComponent("liquidator"),
		maxAttempts: MaxAttempts,
		newBackoff:  backoff.NewDefault,
		sleep:       backoff.Sleep,
		now:         time.Now,
	}
}

// WithSleeper replaces the backoff sleeper (tests)
func (l *Liquidator) WithSleeper(sleep backoff.Sleeper) *Liquidator {
	l.sleep = sleep
	return l
}

// Liquidate processes every open position of req.Broker. The returned summary is
// complete even when err is non-nil; err reports run-level failures only.
func (l *Liquidator) Liquidate(ctx context.Context, req Request) (*contracts.LiquidationSummary, error) {
	pct := req.Pct
	if pct.IsZero() {
		pct = decimal.NewFromInt(1)
	}
	if !pct.IsPositive() || pct.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: liquidate pct must be in (0,1], got %s", contracts.ErrInvalidInput, pct)
	}

	positions, err := l.positions.ListPositions(ctx, req.Broker)
	if err != nil {
		return nil, fmt.Errorf("%w: load positions: %v", contracts.ErrDataIntegrity, err)
	}

	summary := &contracts.LiquidationSummary{
		RunID:     uuid.NewString(),
		Broker:    req.Broker,
		DryRun:    req.DryRun,
		StartedAt: l.now(),
		Records:   make([]*contracts.LiquidationRecord, 0, len(positions)),
	}
	log := l.logger.WithFields(map[string]interface{}{
		"run_id":  summary.RunID,
		"broker":  req.Broker,
		"dry_run": req.DryRun,
	})
	log.WithField("positions", len(positions)).Warn("Liquidation started")

	var errs []error
	for _, pos := range positions {
		if contracts.IsQuoteCurrency(pos.Symbol) || !pos.Qty.IsPositive() {
			continue
		}

		record := l.liquidatePosition(ctx, summary.RunID, pos, pct, req)
		record.CreatedAt = l.now()
		summary.Records = append(summary.Records, record)
		summary.Attempted++
		if record.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}

		if err := l.records.SaveRecord(ctx, record); err != nil {
			log.WithError(err).WithField("symbol", pos.Symbol).Error("Failed to save liquidation record")
			errs = append(errs, fmt.Errorf("save record %s: %w", pos.Symbol, err))
		}
	}
	summary.Duration = l.now().Sub(summary.StartedAt)

	log.WithFields(map[string]interface{}{
		"attempted": summary.Attempted,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
	}).Warn("Liquidation finished")

	if err := l.report(ctx, summary, req.Reason); err != nil {
		errs = append(errs, err)
	}
	return summary, errors.Join(errs...)
}

// liquidatePosition runs the explicit attempt loop for one position
func (l *Liquidator) liquidatePosition(ctx context.Context, runID string, pos *contracts.Position, pct decimal.Decimal, req Request) *contracts.LiquidationRecord {
	record := &contracts.LiquidationRecord{
		RunID:  runID,
		Broker: req.Broker,
		Market: pos.Market,
		Symbol: pos.Symbol,
		DryRun: req.DryRun,
	}

	qty := pos.Qty
	if !pct.Equal(decimal.NewFromInt(1)) {
		qty = risk.RoundQuantity(pos.Market, pos.Qty.Mul(pct))
	}
	record.Qty = qty
	if !qty.IsPositive() {
		record.Error = "liquidation quantity rounds to zero"
		return record
	}

	price, err := l.prices.GetPrice(ctx, req.Broker, pos.Market, pos.Symbol)
	if err != nil {
		// 기준가는 기록용: 시세가 없어도 청산은 진행
		l.logger.WithError(err).WithField("symbol", pos.Symbol).Warn("No mark for liquidation, using avg price")
		price = pos.AvgPrice
	}

	order := &contracts.OrderRequest{
		Broker:        req.Broker,
		Market:        pos.Market,
		Symbol:        pos.Symbol,
		Side:          contracts.OrderSideSell,
		Type:          contracts.OrderTypeMarket,
		Qty:           qty,
		Price:         price,
		ClientOrderID: uuid.NewString(), // 재시도 간 동일 키 (Upbit만 중복 방지에 사용)
		Reason:        "liquidation",
	}

	b := l.newBackoff()
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		record.Attempts = attempt

		result, err := l.placer.ExecuteWith(ctx, order, req.DryRun)
		filled := result != nil &&
			(result.IsSuccess() || (req.DryRun && result.Status == contracts.OrderSkipped))
		l.metrics.RecordLiquidationAttempt(string(req.Broker), filled)
		if filled {
			record.Success = true
			record.OrderID = result.OrderID
			record.Error = ""
			if err != nil {
				// 브로커는 체결 완료, 로컬 기록만 실패. 재주문하면 이중 매도
				record.Error = err.Error()
				l.logger.WithError(err).WithField("symbol", pos.Symbol).Error("Liquidation filled but not persisted")
			}
			return record
		}

		switch {
		case err != nil:
			record.Error = err.Error()
		case result != nil:
			record.Error = result.Message
		}
		l.logger.WithFields(map[string]interface{}{
			"symbol":  pos.Symbol,
			"attempt": attempt,
			"error":   record.Error,
		}).Warn("Liquidation attempt failed")

		if errors.Is(err, contracts.ErrInvalidInput) || attempt == l.maxAttempts {
			break
		}
		if serr := l.sleep(ctx, b.Next()); serr != nil {
			record.Error = serr.Error()
			break
		}
	}
	return record
}

// report sends the one summary notification and the risk event
func (l *Liquidator) report(ctx context.Context, summary *contracts.LiquidationSummary, reason string) error {
	level := notify.LevelSuccess
	severity := contracts.SeverityWarning
	if summary.Failed > 0 {
		level = notify.LevelCritical
		severity = contracts.SeverityCritical
	}

	failedSymbols := make([]string, 0, summary.Failed)
	for _, r := range summary.Records {
		if !r.Success {
			failedSymbols = append(failedSymbols, r.Symbol)
		}
	}

	title := fmt.Sprintf("Liquidation %s: %d/%d closed", summary.Broker, summary.Succeeded, summary.Attempted)
	if summary.DryRun {
		title = "[DRY RUN] " + title
	}

	var errs []error
	if l.notifier != nil {
		err := l.notifier.Send(ctx, notify.Event{
			Level:   level,
			Title:   title,
			Message: reason,
			Fields: map[string]string{
				"run_id":    summary.RunID,
				"attempted": strconv.Itoa(summary.Attempted),
				"succeeded": strconv.Itoa(summary.Succeeded),
				"failed":    strconv.Itoa(summary.Failed),
			},
			At: l.now(),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("liquidation notification: %w", err))
		}
	}

	if l.events != nil {
		err := l.events.LogRiskEvent(ctx, &contracts.RiskEvent{
			Type:     contracts.RiskEventLiquidation,
			Severity: severity,
			Broker:   summary.Broker,
			Message:  title,
			Details: map[string]interface{}{
				"run_id":         summary.RunID,
				"dry_run":        summary.DryRun,
				"attempted":      summary.Attempted,
				"succeeded":      summary.Succeeded,
				"failed":         summary.Failed,
				"failed_symbols": failedSymbols,
				"reason":         reason,
			},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("liquidation risk event: %w", err))
		}
	}
	return errors.Join(errs...)
}
