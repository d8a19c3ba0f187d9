package trading

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-trader/internal/audit"
	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/internal/execution"
	"github.com/wonny/aegis-trader/pkg/logger"
)

// flakyAccount fails the first n snapshots with err
type flakyAccount struct {
	n     int
	err   error
	calls int
	snap  *contracts.AccountSnapshot
}

func (f *flakyAccount) GetAccount(context.Context) (*contracts.AccountSnapshot, error) {
	f.calls++
	if f.calls <= f.n {
		return nil, f.err
	}
	return f.snap, nil
}

type staticAccounts struct {
	client contracts.AccountClient
}

func (s staticAccounts) Account(contracts.Broker) (contracts.AccountClient, error) {
	return s.client, nil
}

func holding(symbol, qty string) contracts.Holding {
	return contracts.Holding{
		Market:   contracts.MarketCrypto,
		Symbol:   symbol,
		Qty:      decimal.RequireFromString(qty),
		AvgPrice: decimal.NewFromInt(1_000),
	}
}

func TestReconciler_ReplacesOnMismatch(t *testing.T) {
	broker := execution.NewMockBroker(contracts.BrokerUpbit)
	broker.SetHolding(holding("KRW-BTC", "0.5"))
	broker.SetHolding(holding("KRW-ETH", "2"))
	store := execution.NewMemoryStore()
	store.SetPosition(contracts.Position{Broker: contracts.BrokerUpbit, Market: contracts.MarketCrypto, Symbol: "KRW-BTC", Qty: decimal.RequireFromString("0.5")})
	store.SetPosition(contracts.Position{Broker: contracts.BrokerUpbit, Market: contracts.MarketCrypto, Symbol: "KRW-XRP", Qty: decimal.NewFromInt(100)})
	events := audit.NewMemoryStore()

	r := NewReconciler(execution.NewRegistry(broker), store, audit.NewEventLogger(events, logger.NewNop()), nil, logger.NewNop())
	report, err := r.Reconcile(context.Background(), contracts.BrokerUpbit)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Checked)
	require.Len(t, report.Mismatches, 2)
	assert.Equal(t, "KRW-ETH", report.Mismatches[0].Symbol)
	assert.Equal(t, "KRW-XRP", report.Mismatches[1].Symbol)
	assert.True(t, report.Replaced)
	assert.Equal(t, 2, events.EventsOfType(contracts.RiskEventReconcileMismatch))

	positions, err := store.ListPositions(context.Background(), contracts.BrokerUpbit)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "KRW-BTC", positions[0].Symbol)
	assert.Equal(t, "KRW-ETH", positions[1].Symbol)
}

func TestReconciler_InSyncLeavesBookAlone(t *testing.T) {
	broker := execution.NewMockBroker(contracts.BrokerUpbit)
	broker.SetHolding(holding("KRW-BTC", "0.5"))
	broker.SetHolding(holding("KRW", "1000000"))
	store := execution.NewMemoryStore()
	store.SetPosition(contracts.Position{Broker: contracts.BrokerUpbit, Market: contracts.MarketCrypto, Symbol: "KRW-BTC", Qty: decimal.RequireFromString("0.50")})

	report, err := NewReconciler(execution.NewRegistry(broker), store, nil, nil, logger.NewNop()).
		Reconcile(context.Background(), contracts.BrokerUpbit)
	require.NoError(t, err)
	assert.Empty(t, report.Mismatches)
	assert.False(t, report.Replaced)
}

func TestReconciler_RetriesTransientSnapshot(t *testing.T) {
	client := &flakyAccount{
		n:    2,
		err:  fmt.Errorf("%w: 502", contracts.ErrTransientBroker),
		snap: &contracts.AccountSnapshot{Cash: decimal.NewFromInt(1)},
	}
	var sleeps []time.Duration
	r := NewReconciler(staticAccounts{client}, execution.NewMemoryStore(), nil, nil, logger.NewNop()).
		WithSleeper(func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		})

	_, err := r.Reconcile(context.Background(), contracts.BrokerUpbit)
	require.NoError(t, err)
	assert.Equal(t, 3, client.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps)
}

func TestReconciler_PermanentFailureNotRetried(t *testing.T) {
	client := &flakyAccount{n: 5, err: errors.New("invalid credentials")}
	r := NewReconciler(staticAccounts{client}, execution.NewMemoryStore(), nil, nil, logger.NewNop()).
		WithSleeper(func(context.Context, time.Duration) error { return nil })

	_, err := r.Reconcile(context.Background(), contracts.BrokerUpbit)
	assert.ErrorIs(t, err, contracts.ErrDataIntegrity)
	assert.Equal(t, 1, client.calls)
}
