// Package audit writes the compliance trail: ACE records per trade decision
// and append-only risk events.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/internal/risk"
)

// ErrExecutionAlreadySet: 한 ACE 레코드는 정확히 한 번의 주문 시도에 대응
var ErrExecutionAlreadySet = errors.New("ace execution already set")

// ACEStore persists ACE records. Execution and outcome are write-once.
type ACEStore interface {
	InsertACE(ctx context.Context, log *contracts.ACELog) error
	// SetExecution fails with ErrExecutionAlreadySet when execution is present.
	SetExecution(ctx context.Context, id string, exec contracts.ACEExecution) error
	// SetOutcome fails with contracts.ErrOutcomeAlreadySet when outcome is present.
	SetOutcome(ctx context.Context, id string, outcome contracts.ACEOutcome, closedAt time.Time) error
	// FindOpenEntries returns successfully executed BUY records of the symbol without outcome.
	FindOpenEntries(ctx context.Context, broker contracts.Broker, symbol string) ([]*contracts.ACELog, error)
}

// ACELogger creates and completes ACE records
// ⭐ SSOT: 승인 시 생성 → 실행 1회 기록 → 청산 시 outcome 1회 기록 → 불변
type ACELogger struct {
	store ACEStore
	now   func() time.Time
}

// NewACELogger creates an ACE logger
func NewACELogger(store ACEStore) *ACELogger {
	return &ACELogger{store: store, now: time.Now}
}

// Open writes the record at approval time with no execution and no outcome
func (l *ACELogger) Open(ctx context.Context, signal *contracts.Signal, result *risk.ValidationResult, accountSize decimal.Decimal) (*contracts.ACELog, error) {
	entry := &contracts.ACELog{
		ID:       uuid.NewString(),
		SignalID: signal.ID,
		Symbol:   signal.Symbol,
		Market:   signal.Market,
		Broker:   signal.Broker,
		Aspiration: contracts.ACEAspiration{
			SignalType:  signal.Type,
			EntryPrice:  signal.EntryPrice,
			TargetPrice: signal.TargetPrice,
			StopLoss:    signal.StopLoss,
			Confidence:  signal.Confidence,
		},
		Capability: contracts.ACECapability{
			AccountSize:          accountSize,
			PositionSize:         result.PositionSize,
			PositionValue:        result.PositionValue,
			LimitedByMaxExposure: result.LimitedByMaxExposure,
			RiskTier:             result.RiskTier,
		},
		CreatedAt: l.now(),
	}

	if err := l.store.InsertACE(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to open ace record: %w", err)
	}
	return entry, nil
}

// RecordExecution attaches the single order attempt to the record
func (l *ACELogger) RecordExecution(ctx context.Context, entry *contracts.ACELog, req contracts.OrderRequest, result *contracts.OrderResult, dryRun bool) error {
	exec := contracts.ACEExecution{
		Status:        result.Status,
		OrderID:       result.OrderID,
		ClientOrderID: req.ClientOrderID,
		ExecutedPrice: result.ExecutedPrice,
		ExecutedQty:   result.ExecutedQty,
		Message:       result.Message,
		DryRun:        dryRun,
		At:            l.now(),
	}
	if err := l.store.SetExecution(ctx, entry.ID, exec); err != nil {
		return fmt.Errorf("failed to record ace execution: %w", err)
	}
	entry.Execution = &exec
	return nil
}

// CloseEntries attaches an outcome to every open BUY record of the symbol.
// Records that already have an outcome are skipped; the count of closed records is returned.
func (l *ACELogger) CloseEntries(ctx context.Context, broker contracts.Broker, symbol string, exitPrice decimal.Decimal, note string) (int, error) {
	open, err := l.store.FindOpenEntries(ctx, broker, symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to find open ace records: %w", err)
	}

	closedAt := l.now()
	closed := 0
	for _, entry := range open {
		if entry.Execution == nil {
			continue
		}
		qty := entry.Execution.ExecutedQty
		if qty.IsZero() {
			qty = entry.Capability.PositionSize
		}
		outcome := contracts.ACEOutcome{
			ExitPrice:   exitPrice,
			RealizedPnL: exitPrice.Sub(entry.Execution.ExecutedPrice).Mul(qty),
			Note:        note,
		}
		err := l.store.SetOutcome(ctx, entry.ID, outcome, closedAt)
		if errors.Is(err, contracts.ErrOutcomeAlreadySet) {
			continue // 다른 프로세스가 먼저 기록
		}
		if err != nil {
			return closed, fmt.Errorf("failed to attach ace outcome: %w", err)
		}
		closed++
	}
	return closed, nil
}
