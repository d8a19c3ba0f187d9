package trading

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/internal/execution"
	"github.com/wonny/aegis-trader/internal/signals"
	"github.com/wonny/aegis-trader/pkg/config"
	"github.com/wonny/aegis-trader/pkg/logger"
)

type exitFixture struct {
	monitor *ExitMonitor
	broker  *execution.MockBroker
	store   *execution.MemoryStore
	queue   *signals.MemoryQueue
}

func newExitFixture(market contracts.Market) *exitFixture {
	f := &exitFixture{
		broker: execution.NewMockBroker(contracts.BrokerFor(market)),
		store:  execution.NewMemoryStore(),
		queue:  signals.NewMemoryQueue(),
	}
	registry := execution.NewRegistry(f.broker)
	prices := execution.NewPriceService(registry, nil, 0, logger.NewNop())
	f.monitor = NewExitMonitor(f.store, prices, f.queue, config.RiskConfig{
		StopLossPct:   decimal.RequireFromString("0.02"),
		TakeProfitPct: decimal.RequireFromString("0.04"),
	}, logger.NewNop())
	return f
}

func (f *exitFixture) hold(market contracts.Market, symbol string, avg int64) {
	f.store.SetPosition(contracts.Position{
		Broker:   contracts.BrokerFor(market),
		Market:   market,
		Symbol:   symbol,
		Qty:      decimal.RequireFromString("0.5"),
		AvgPrice: decimal.NewFromInt(avg),
	})
}

func TestExitMonitor_StopLossEnqueuesOnce(t *testing.T) {
	f := newExitFixture(contracts.MarketCrypto)
	f.hold(contracts.MarketCrypto, "KRW-BTC", 100_000_000)
	f.broker.SetPrice("KRW-BTC", decimal.NewFromInt(97_000_000))

	exits, err := f.monitor.Scan(context.Background(), contracts.MarketCrypto)
	require.NoError(t, err)
	require.Len(t, exits, 1)
	assert.Equal(t, ExitStopLoss, exits[0].Rule)
	assert.True(t, exits[0].Change.Equal(decimal.RequireFromString("-0.03")))

	queued, err := f.queue.FetchUnconsumed(context.Background(), contracts.MarketCrypto, decimal.Zero)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, contracts.SignalSell, queued[0].Type)
	assert.Equal(t, exits[0].SignalID, queued[0].ID)
	assert.True(t, queued[0].EntryPrice.Equal(decimal.NewFromInt(97_000_000)))

	// 같은 심볼의 미소비 SELL 이 있으면 다시 만들지 않음
	exits, err = f.monitor.Scan(context.Background(), contracts.MarketCrypto)
	require.NoError(t, err)
	assert.Empty(t, exits)
}

func TestExitMonitor_TakeProfitAndInsideBand(t *testing.T) {
	f := newExitFixture(contracts.MarketCrypto)
	f.hold(contracts.MarketCrypto, "KRW-BTC", 100_000_000)
	f.hold(contracts.MarketCrypto, "KRW-ETH", 5_000_000)
	f.broker.SetPrice("KRW-BTC", decimal.NewFromInt(104_000_000))
	f.broker.SetPrice("KRW-ETH", decimal.NewFromInt(5_050_000))

	exits, err := f.monitor.Scan(context.Background(), contracts.MarketCrypto)
	require.NoError(t, err)
	require.Len(t, exits, 1)
	assert.Equal(t, "KRW-BTC", exits[0].Symbol)
	assert.Equal(t, ExitTakeProfit, exits[0].Rule)
}

func TestExitMonitor_MissingMarkDoesNotStopOthers(t *testing.T) {
	f := newExitFixture(contracts.MarketCrypto)
	f.hold(contracts.MarketCrypto, "KRW-BTC", 100_000_000)
	f.hold(contracts.MarketCrypto, "KRW-XRP", 1_000)
	f.broker.SetPrice("KRW-BTC", decimal.NewFromInt(90_000_000))

	exits, err := f.monitor.Scan(context.Background(), contracts.MarketCrypto)
	assert.Error(t, err)
	require.Len(t, exits, 1)
	assert.Equal(t, "KRW-BTC", exits[0].Symbol)
}

func TestExitMonitor_ClosedMarketSkipped(t *testing.T) {
	f := newExitFixture(contracts.MarketKRX)
	f.hold(contracts.MarketKRX, "005930", 70_000)
	f.broker.SetPrice("005930", decimal.NewFromInt(60_000))
	f.monitor.now = func() time.Time {
		return time.Date(2026, 10, 17, 11, 0, 0, 0, contracts.Seoul) // Saturday
	}

	exits, err := f.monitor.Scan(context.Background(), contracts.MarketKRX)
	require.NoError(t, err)
	assert.Empty(t, exits)
	assert.Equal(t, 0, f.broker.PriceCalls())
}
