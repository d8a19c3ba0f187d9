package trading

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-trader/internal/audit"
	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/internal/execution"
	"github.com/wonny/aegis-trader/internal/guard"
	"github.com/wonny/aegis-trader/internal/risk"
	"github.com/wonny/aegis-trader/internal/signals"
	"github.com/wonny/aegis-trader/pkg/config"
	"github.com/wonny/aegis-trader/pkg/logger"
)

type panicExecutor struct{}

func (panicExecutor) Execute(context.Context, *contracts.OrderRequest) (*contracts.OrderResult, error) {
	panic("broker client exploded")
}

// consumeAwareQueue fails writes on a cancelled context like a database would
type consumeAwareQueue struct {
	*signals.MemoryQueue
}

func (q consumeAwareQueue) MarkConsumed(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.MemoryQueue.MarkConsumed(ctx, id)
}

// shutdownAfterOrder cancels the tick right after the broker accepted the order
type shutdownAfterOrder struct {
	inner  OrderExecutor
	cancel context.CancelFunc
}

func (e shutdownAfterOrder) Execute(ctx context.Context, req *contracts.OrderRequest) (*contracts.OrderResult, error) {
	res, err := e.inner.Execute(ctx, req)
	e.cancel()
	return res, err
}

type loopFixture struct {
	loop   *MarketLoop
	queue  *signals.MemoryQueue
	broker *execution.MockBroker
	store  *execution.MemoryStore
	guard  *guard.MemoryStore
	audit  *audit.MemoryStore
}

func newLoopFixture(t *testing.T, market contracts.Market, dryRun bool) *loopFixture {
	t.Helper()
	f := &loopFixture{
		queue:  signals.NewMemoryQueue(),
		broker: execution.NewMockBroker(contracts.BrokerFor(market)),
		store:  execution.NewMemoryStore(),
		guard:  guard.NewMemoryStore(),
		audit:  audit.NewMemoryStore(),
	}
	f.broker.SetPrice("KRW-BTC", decimal.NewFromInt(93_000_000))

	registry := execution.NewRegistry(f.broker)
	prices := execution.NewPriceService(registry, nil, 0, logger.NewNop())
	account := execution.NewAccountService(registry, f.store, prices, nil)
	ace := audit.NewACELogger(f.audit)

	f.loop = NewMarketLoop(market,
		config.TradingConfig{MinConfidence: decimal.RequireFromString("0.6")},
		config.RiskConfig{StopLossPct: decimal.RequireFromString("0.02")},
		LoopDeps{
			Signals:   f.queue,
			Guard:     f.guard,
			Validator: risk.NewValidator(risk.DefaultLimits(), nil),
			Executor:  execution.NewExecutor(registry, f.store, logger.NewNop(), dryRun).WithOutcomes(ace),
			ACE:       ace,
			Account:   account,
			Valuer:    account,
			Positions: f.store,
			Events:    audit.NewEventLogger(f.audit, logger.NewNop()),
			Logger:    logger.NewNop(),
		})
	return f
}

func btcSignal(signalType contracts.SignalType, confidence, stop string) *contracts.Signal {
	return &contracts.Signal{
		Symbol:     "KRW-BTC",
		Market:     contracts.MarketCrypto,
		Broker:     contracts.BrokerUpbit,
		Type:       signalType,
		EntryPrice: decimal.NewFromInt(93_000_000),
		StopLoss:   decimal.RequireFromString(stop),
		Confidence: decimal.RequireFromString(confidence),
	}
}

func TestMarketLoop_DryRunConsumesEverySignalOnce(t *testing.T) {
	f := newLoopFixture(t, contracts.MarketCrypto, true)
	approved := f.queue.Add(btcSignal(contracts.SignalBuy, "0.9", "91140000"))
	tooTight := f.queue.Add(btcSignal(contracts.SignalBuy, "0.8", "92990000"))
	hold := f.queue.Add(btcSignal(contracts.SignalHold, "0.9", "0"))
	lowConf := f.queue.Add(btcSignal(contracts.SignalBuy, "0.3", "91140000"))

	result, err := f.loop.Tick(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Skipped)
	assert.Equal(t, 3, result.Fetched)
	assert.Equal(t, 1, result.Outcomes[OutcomeDryRun])
	assert.Equal(t, 1, result.Outcomes[OutcomeRejected])
	assert.Equal(t, 1, result.Outcomes[OutcomeHold])
	assert.Zero(t, result.Errors)

	for _, s := range []*contracts.Signal{approved, tooTight, hold} {
		assert.Equal(t, 1, f.queue.ConsumeCalls(s.ID), "signal %d", s.ID)
	}
	assert.Zero(t, f.queue.ConsumeCalls(lowConf.ID))
	assert.Zero(t, f.broker.OrderCalls())

	logs := f.audit.ACELogs()
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].Execution)
	assert.Equal(t, contracts.OrderSkipped, logs[0].Execution.Status)
	assert.True(t, logs[0].Execution.DryRun)
	assert.True(t, logs[0].Capability.LimitedByMaxExposure)
	assert.Equal(t, 1, f.audit.EventsOfType(contracts.RiskEventValidationReject))

	// 두 번째 틱: 소비된 시그널은 다시 처리되지 않음
	result, err = f.loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Fetched)
	assert.Equal(t, 1, f.queue.ConsumeCalls(approved.ID))
}

func TestMarketLoop_LiveOrderWritesTrade(t *testing.T) {
	f := newLoopFixture(t, contracts.MarketCrypto, false)
	f.queue.Add(btcSignal(contracts.SignalBuy, "0.9", "91140000"))

	result, err := f.loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Outcomes[OutcomeExecuted])
	assert.Equal(t, 1, f.broker.OrderCalls())

	trades := f.store.Trades()
	require.Len(t, trades, 1)
	// 25% cap: 2,500,000 / 93,000,000 floored to 8 places
	assert.True(t, trades[0].Qty.Equal(decimal.RequireFromString("0.02688172")), trades[0].Qty.String())

	logs := f.audit.ACELogs()
	require.Len(t, logs, 1)
	assert.Equal(t, contracts.OrderSuccess, logs[0].Execution.Status)
}

func TestMarketLoop_GuardBlockedSkipsTick(t *testing.T) {
	f := newLoopFixture(t, contracts.MarketCrypto, false)
	s := f.queue.Add(btcSignal(contracts.SignalBuy, "0.9", "91140000"))
	_, err := f.guard.Disable(context.Background(), "manual")
	require.NoError(t, err)

	result, err := f.loop.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, SkipGuard, result.SkipReason)
	assert.Zero(t, f.queue.ConsumeCalls(s.ID))
	assert.Zero(t, f.broker.OrderCalls())
}

func TestMarketLoop_OverlappingTickSkipped(t *testing.T) {
	f := newLoopFixture(t, contracts.MarketCrypto, true)
	f.loop.running.Store(true)

	result, err := f.loop.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, SkipRunning, result.SkipReason)
	assert.True(t, f.loop.Running())
}

func TestMarketLoop_ClosedMarketSkipped(t *testing.T) {
	f := newLoopFixture(t, contracts.MarketKRX, true)
	saturday := time.Date(2026, 10, 17, 11, 0, 0, 0, contracts.Seoul)
	f.loop.now = func() time.Time { return saturday }

	result, err := f.loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SkipMarketClosed, result.SkipReason)
}

func TestMarketLoop_PanicStillConsumes(t *testing.T) {
	f := newLoopFixture(t, contracts.MarketCrypto, false)
	f.loop.deps.Executor = panicExecutor{}
	first := f.queue.Add(btcSignal(contracts.SignalBuy, "0.9", "91140000"))
	second := f.queue.Add(btcSignal(contracts.SignalHold, "0.7", "0"))

	result, err := f.loop.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 1, result.Outcomes[OutcomeError])
	assert.Equal(t, 1, result.Outcomes[OutcomeHold])
	assert.Equal(t, 1, f.queue.ConsumeCalls(first.ID))
	assert.Equal(t, 1, f.queue.ConsumeCalls(second.ID))

	state, err := f.guard.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, state.ErrorCount)
	assert.Equal(t, 1, f.audit.EventsOfType(contracts.RiskEventSignalError))
}

func TestMarketLoop_DailyBudgetExhausted(t *testing.T) {
	f := newLoopFixture(t, contracts.MarketCrypto, false)
	f.loop.trading.DailyOrderBudget = 1
	_, err := f.store.RecordFill(context.Background(), &contracts.Trade{
		Broker:        contracts.BrokerUpbit,
		Market:        contracts.MarketCrypto,
		Symbol:        "KRW-ETH",
		Side:          contracts.OrderSideBuy,
		Qty:           decimal.NewFromInt(1),
		Price:         decimal.NewFromInt(4_800_000),
		ClientOrderID: "earlier",
		ExecutedAt:    time.Now(),
	})
	require.NoError(t, err)
	s := f.queue.Add(btcSignal(contracts.SignalBuy, "0.9", "91140000"))

	result, err := f.loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SkipBudgetReached, result.SkipReason)
	assert.Zero(t, f.queue.ConsumeCalls(s.ID))
}

func TestMarketLoop_SellWithoutPosition(t *testing.T) {
	f := newLoopFixture(t, contracts.MarketCrypto, false)
	s := f.queue.Add(btcSignal(contracts.SignalSell, "0.9", "94860000"))

	result, err := f.loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Outcomes[OutcomeNoPos])
	assert.Equal(t, 1, f.queue.ConsumeCalls(s.ID))
	assert.Zero(t, f.broker.OrderCalls())
}

func TestMarketLoop_SellClosesWholePosition(t *testing.T) {
	f := newLoopFixture(t, contracts.MarketCrypto, false)
	mark := decimal.NewFromInt(96_720_000)
	f.broker.SetPrice("KRW-BTC", mark)
	f.store.SetPosition(contracts.Position{
		Broker:   contracts.BrokerUpbit,
		Market:   contracts.MarketCrypto,
		Symbol:   "KRW-BTC",
		Qty:      decimal.RequireFromString("0.04"),
		AvgPrice: decimal.NewFromInt(80_000_000),
	})
	// 0.04 BTC ≈ 3,868,800 of 13,868,800 equity: above the 25% single-position cap
	f.queue.Add(&contracts.Signal{
		Symbol:     "KRW-BTC",
		Market:     contracts.MarketCrypto,
		Broker:     contracts.BrokerUpbit,
		Type:       contracts.SignalSell,
		EntryPrice: mark,
		Confidence: decimal.NewFromInt(1),
	})

	result, err := f.loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Outcomes[OutcomeExecuted])

	trades := f.store.Trades()
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Qty.Equal(decimal.RequireFromString("0.04")), trades[0].Qty.String())

	_, err = f.store.GetPosition(context.Background(), contracts.BrokerUpbit, "KRW-BTC")
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestMarketLoop_USSizedInDollars(t *testing.T) {
	f := newLoopFixture(t, contracts.MarketUS, false)
	f.loop.now = func() time.Time { return time.Date(2026, 10, 19, 10, 0, 0, 0, contracts.NewYork) }
	f.broker.SetCash(decimal.NewFromInt(10_000_000)) // KRW
	f.broker.SetForeignCash("USD", decimal.NewFromInt(10_000))
	f.broker.SetPrice("NAS:AAPL", decimal.NewFromInt(190))
	f.broker.SetPrice("005930", decimal.NewFromInt(72_000))
	f.store.SetPosition(contracts.Position{
		Broker:   contracts.BrokerKIS,
		Market:   contracts.MarketKRX,
		Symbol:   "005930",
		Qty:      decimal.NewFromInt(10),
		AvgPrice: decimal.NewFromInt(70_000),
	})
	f.queue.Add(&contracts.Signal{
		Symbol:     "NAS:AAPL",
		Market:     contracts.MarketUS,
		Broker:     contracts.BrokerKIS,
		Type:       contracts.SignalBuy,
		EntryPrice: decimal.NewFromInt(190),
		StopLoss:   decimal.RequireFromString("186.2"),
		Confidence: decimal.RequireFromString("0.9"),
	})

	result, err := f.loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Outcomes[OutcomeExecuted])

	// 25% of $10,000 at $190, floored to whole shares. KRW cash and KRX holdings are not dollars.
	trades := f.store.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "NAS:AAPL", trades[0].Symbol)
	assert.True(t, trades[0].Qty.Equal(decimal.NewFromInt(13)), trades[0].Qty.String())
}

func TestMarketLoop_ConsumedAfterShutdownMidOrder(t *testing.T) {
	f := newLoopFixture(t, contracts.MarketCrypto, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.loop.deps.Signals = consumeAwareQueue{f.queue}
	f.loop.deps.Executor = shutdownAfterOrder{inner: f.loop.deps.Executor, cancel: cancel}

	first := f.queue.Add(btcSignal(contracts.SignalBuy, "0.9", "91140000"))
	second := f.queue.Add(btcSignal(contracts.SignalBuy, "0.8", "91140000"))

	result, err := f.loop.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Outcomes[OutcomeExecuted])
	assert.Equal(t, 1, f.broker.OrderCalls())

	got, ok := f.queue.Get(first.ID)
	require.True(t, ok)
	assert.True(t, got.IsConsumed(), "filled signal must stay consumed across shutdown")

	// 종료 이후 시그널은 다음 실행으로 남음
	assert.Zero(t, f.queue.ConsumeCalls(second.ID))
}

func TestIsMarketOpen(t *testing.T) {
	monday := func(h, m int, loc *time.Location) time.Time {
		return time.Date(2026, 10, 19, h, m, 0, 0, loc)
	}

	tests := []struct {
		name   string
		market contracts.Market
		at     time.Time
		want   bool
	}{
		{"krx open", contracts.MarketKRX, monday(9, 0, contracts.Seoul), true},
		{"krx before open", contracts.MarketKRX, monday(8, 59, contracts.Seoul), false},
		{"krx close is exclusive", contracts.MarketKRX, monday(15, 30, contracts.Seoul), false},
		{"us open", contracts.MarketUS, monday(9, 30, contracts.NewYork), true},
		{"us late session", contracts.MarketUS, monday(15, 59, contracts.NewYork), true},
		{"us closed", contracts.MarketUS, monday(16, 0, contracts.NewYork), false},
		{"krx saturday", contracts.MarketKRX, time.Date(2026, 10, 17, 10, 0, 0, 0, contracts.Seoul), false},
		{"crypto sunday night", contracts.MarketCrypto, time.Date(2026, 10, 18, 23, 0, 0, 0, contracts.Seoul), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsMarketOpen(tt.market, tt.at))
		})
	}
}
