package audit

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/internal/risk"
	"github.com/wonny/aegis-trader/pkg/logger"
)

func testSignal(t contracts.SignalType) *contracts.Signal {
	return &contracts.Signal{
		ID:          7,
		Symbol:      "KRW-BTC",
		Market:      contracts.MarketCrypto,
		Broker:      contracts.BrokerUpbit,
		Type:        t,
		EntryPrice:  decimal.NewFromInt(93_000_000),
		TargetPrice: decimal.NewFromInt(98_000_000),
		StopLoss:    decimal.NewFromInt(91_140_000),
		Confidence:  decimal.RequireFromString("0.82"),
	}
}

func approved() *risk.ValidationResult {
	return &risk.ValidationResult{
		Approved:      true,
		PositionSize:  decimal.RequireFromString("0.02688172"),
		PositionValue: decimal.NewFromInt(2_500_000),
		RiskTier:      contracts.RiskTierNormal,
	}
}

func TestACELogger_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := NewACELogger(store)

	entry, err := l.Open(ctx, testSignal(contracts.SignalBuy), approved(), decimal.NewFromInt(10_000_000))
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Nil(t, entry.Execution)
	assert.Nil(t, entry.Outcome)

	req := contracts.OrderRequest{ClientOrderID: "cid-1"}
	result := &contracts.OrderResult{
		Status:        contracts.OrderSuccess,
		OrderID:       "ord-1",
		ExecutedPrice: decimal.NewFromInt(93_000_000),
		ExecutedQty:   decimal.RequireFromString("0.02"),
	}
	require.NoError(t, l.RecordExecution(ctx, entry, req, result, false))
	assert.Equal(t, "cid-1", entry.Execution.ClientOrderID)

	// 실행은 한 번만
	err = l.RecordExecution(ctx, entry, req, result, false)
	assert.ErrorIs(t, err, ErrExecutionAlreadySet)

	closed, err := l.CloseEntries(ctx, contracts.BrokerUpbit, "KRW-BTC", decimal.NewFromInt(95_000_000), "take profit")
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	logs := store.ACELogs()
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].Outcome)
	assert.True(t, logs[0].Outcome.RealizedPnL.Equal(decimal.NewFromInt(40_000)), logs[0].Outcome.RealizedPnL.String())
	assert.NotNil(t, logs[0].ClosedAt)

	// 두 번째 청산은 아무것도 바꾸지 않음
	closed, err = l.CloseEntries(ctx, contracts.BrokerUpbit, "KRW-BTC", decimal.NewFromInt(80_000_000), "again")
	require.NoError(t, err)
	assert.Equal(t, 0, closed)
	assert.True(t, store.ACELogs()[0].Outcome.ExitPrice.Equal(decimal.NewFromInt(95_000_000)))
}

func TestACELogger_CloseSkipsFailedAndSellEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := NewACELogger(store)

	failed, err := l.Open(ctx, testSignal(contracts.SignalBuy), approved(), decimal.NewFromInt(10_000_000))
	require.NoError(t, err)
	require.NoError(t, l.RecordExecution(ctx, failed, contracts.OrderRequest{ClientOrderID: "a"},
		&contracts.OrderResult{Status: contracts.OrderFailed, Message: "insufficient funds"}, false))

	sell, err := l.Open(ctx, testSignal(contracts.SignalSell), approved(), decimal.NewFromInt(10_000_000))
	require.NoError(t, err)
	require.NoError(t, l.RecordExecution(ctx, sell, contracts.OrderRequest{ClientOrderID: "b"},
		&contracts.OrderResult{Status: contracts.OrderSuccess, ExecutedPrice: decimal.NewFromInt(1), ExecutedQty: decimal.NewFromInt(1)}, false))

	closed, err := l.CloseEntries(ctx, contracts.BrokerUpbit, "KRW-BTC", decimal.NewFromInt(1), "")
	require.NoError(t, err)
	assert.Equal(t, 0, closed)
}

func TestMemoryStore_SetOutcomeOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.InsertACE(ctx, &contracts.ACELog{ID: "x"}))

	require.NoError(t, store.SetOutcome(ctx, "x", contracts.ACEOutcome{Note: "first"}, testNow()))
	err := store.SetOutcome(ctx, "x", contracts.ACEOutcome{Note: "second"}, testNow())
	assert.ErrorIs(t, err, contracts.ErrOutcomeAlreadySet)
	assert.Equal(t, "first", store.ACELogs()[0].Outcome.Note)

	assert.ErrorIs(t, store.SetExecution(ctx, "missing", contracts.ACEExecution{}), contracts.ErrNotFound)
}

func TestEventLogger_PersistsAndLogs(t *testing.T) {
	var buf bytes.Buffer
	store := NewMemoryStore()
	l := NewEventLogger(store, logger.NewWithWriter(&buf))

	err := l.LogRiskEvent(context.Background(), &contracts.RiskEvent{
		Type:     contracts.RiskEventValidationReject,
		Severity: contracts.SeverityWarning,
		Market:   contracts.MarketKRX,
		Symbol:   "005930",
		Message:  "stop loss too tight",
	})
	require.NoError(t, err)

	events := store.RiskEvents()
	require.Len(t, events, 1)
	assert.False(t, events[0].CreatedAt.IsZero())
	assert.Equal(t, 1, store.EventsOfType(contracts.RiskEventValidationReject))
	assert.Contains(t, buf.String(), "stop loss too tight")
	assert.Contains(t, buf.String(), `"component":"risk_events"`)
}

func testNow() time.Time {
	return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
}
