package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-trader/internal/audit"
	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/internal/execution"
	"github.com/wonny/aegis-trader/internal/guard"
	"github.com/wonny/aegis-trader/internal/liquidation"
	"github.com/wonny/aegis-trader/internal/notify"
	"github.com/wonny/aegis-trader/pkg/config"
	"github.com/wonny/aegis-trader/pkg/logger"
)

type fakeLiquidator struct {
	calls []liquidation.Request
	err   error
}

func (f *fakeLiquidator) Liquidate(_ context.Context, req liquidation.Request) (*contracts.LiquidationSummary, error) {
	f.calls = append(f.calls, req)
	return &contracts.LiquidationSummary{RunID: "run-1", Broker: req.Broker}, f.err
}

type recordingNotifier struct {
	events []notify.Event
}

func (n *recordingNotifier) Send(_ context.Context, e notify.Event) error {
	n.events = append(n.events, e)
	return nil
}

// failingGuard fails Disable but delegates everything else
type failingGuard struct {
	guard.Store
}

func (g failingGuard) Disable(context.Context, string) (*contracts.GuardState, error) {
	return nil, errors.New("db down")
}

var testNow = time.Date(2026, 10, 19, 10, 0, 0, 0, contracts.Seoul)

type fixture struct {
	breaker    *Breaker
	broker     *execution.MockBroker
	store      *execution.MemoryStore
	guard      guard.Store
	liquidator *fakeLiquidator
	notifier   *recordingNotifier
	events     *audit.MemoryStore
}

func breakerConfig() config.BreakerConfig {
	return config.BreakerConfig{
		Enabled:           true,
		DailyLossLimitPct: decimal.RequireFromString("-0.05"),
		MaxDrawdownPct:    decimal.RequireFromString("-0.10"),
		Cooldown:          60 * time.Minute,
		LiquidatePct:      decimal.NewFromInt(1),
	}
}

// newFixture holds 1 BTC bought at 5,000,000 with cash so that equity is
// cash + mark.
func newFixture(t *testing.T, cash, mark int64, store guard.Store) *fixture {
	t.Helper()
	f := &fixture{
		broker:     execution.NewMockBroker(contracts.BrokerUpbit),
		store:      execution.NewMemoryStore(),
		guard:      store,
		liquidator: &fakeLiquidator{},
		notifier:   &recordingNotifier{},
		events:     audit.NewMemoryStore(),
	}
	f.broker.SetCash(decimal.NewFromInt(cash))
	f.broker.SetPrice("KRW-BTC", decimal.NewFromInt(mark))
	f.store.SetPosition(contracts.Position{
		Broker:   contracts.BrokerUpbit,
		Market:   contracts.MarketCrypto,
		Symbol:   "KRW-BTC",
		Qty:      decimal.NewFromInt(1),
		AvgPrice: decimal.NewFromInt(5_000_000),
	})

	registry := execution.NewRegistry(f.broker)
	prices := execution.NewPriceService(registry, nil, 0, logger.NewNop())
	account := execution.NewAccountService(registry, f.store, prices, nil)

	f.breaker = New(breakerConfig(), false, Deps{
		PnL:        NewPnLCalculator(f.store, prices),
		Account:    account,
		Valuer:     account,
		Equity:     NewMemoryEquityStore(),
		Guard:      store,
		Liquidator: f.liquidator,
		Notifier:   f.notifier,
		Events:     audit.NewEventLogger(f.events, logger.NewNop()),
		Logger:     logger.NewNop(),
	})
	f.breaker.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) at(t time.Time) {
	f.breaker.now = func() time.Time { return t }
}

func TestBreaker_TripsOnDailyLoss(t *testing.T) {
	// equity 10,000,000, unrealized -520,000 → -5.2%
	f := newFixture(t, 5_520_000, 4_480_000, guard.NewMemoryStore())

	status, err := f.breaker.Check(context.Background(), contracts.BrokerUpbit)
	require.NoError(t, err)

	assert.True(t, status.Triggered)
	assert.True(t, status.Tripped)
	assert.Equal(t, StateHalted, status.State)
	assert.Equal(t, ReasonDailyLoss, status.Reason)
	assert.True(t, status.DailyPnL.Equal(decimal.NewFromInt(-520_000)))
	assert.True(t, status.DailyPnLPct.Equal(decimal.RequireFromString("-0.052")))
	require.NotNil(t, status.CooldownUntil)
	assert.True(t, status.CooldownUntil.Equal(testNow.Add(60*time.Minute)))

	state, err := f.guard.Get(context.Background())
	require.NoError(t, err)
	assert.False(t, state.TradingEnabled)
	assert.True(t, state.InCooldown(testNow))

	require.Len(t, f.liquidator.calls, 1)
	assert.Equal(t, contracts.BrokerUpbit, f.liquidator.calls[0].Broker)
	assert.False(t, f.liquidator.calls[0].DryRun)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, notify.LevelCritical, f.notifier.events[0].Level)
	assert.Equal(t, 1, f.events.EventsOfType(contracts.RiskEventCircuitBreaker))

	inCooldown, err := f.breaker.IsInCooldown(context.Background())
	require.NoError(t, err)
	assert.True(t, inCooldown)
}

func TestBreaker_NormalWithinLimits(t *testing.T) {
	// -400,000 on 10,000,000 → -4%
	f := newFixture(t, 5_400_000, 4_600_000, guard.NewMemoryStore())

	status, err := f.breaker.Check(context.Background(), contracts.BrokerUpbit)
	require.NoError(t, err)

	assert.False(t, status.Triggered)
	assert.Equal(t, StateNormal, status.State)
	assert.Nil(t, status.CooldownUntil)
	assert.Empty(t, f.liquidator.calls)
	assert.Empty(t, f.notifier.events)
}

func TestBreaker_TripsOnDrawdownFromHighWater(t *testing.T) {
	f := newFixture(t, 3_000_000, 8_000_000, guard.NewMemoryStore())
	ctx := context.Background()

	status, err := f.breaker.Check(ctx, contracts.BrokerUpbit)
	require.NoError(t, err)
	assert.False(t, status.Triggered)
	assert.True(t, status.HighWater.Equal(decimal.NewFromInt(11_000_000)))

	// equity 9,800,000: daily P&L still +1,800,000 but 10.9% below the peak
	f.broker.SetPrice("KRW-BTC", decimal.NewFromInt(6_800_000))
	f.at(testNow.Add(5 * time.Minute))

	status, err = f.breaker.Check(ctx, contracts.BrokerUpbit)
	require.NoError(t, err)
	assert.True(t, status.Triggered)
	assert.Equal(t, ReasonDrawdown, status.Reason)
	assert.True(t, status.DailyPnL.IsPositive())
	assert.Len(t, f.liquidator.calls, 1)
}

func TestBreaker_RetriggerOnlyExtendsCooldown(t *testing.T) {
	f := newFixture(t, 5_520_000, 4_480_000, guard.NewMemoryStore())
	ctx := context.Background()

	_, err := f.breaker.Check(ctx, contracts.BrokerUpbit)
	require.NoError(t, err)

	later := testNow.Add(10 * time.Minute)
	f.at(later)
	status, err := f.breaker.Check(ctx, contracts.BrokerUpbit)
	require.NoError(t, err)

	assert.False(t, status.Tripped)
	assert.Equal(t, StateHalted, status.State)
	require.NotNil(t, status.CooldownUntil)
	assert.True(t, status.CooldownUntil.Equal(later.Add(60*time.Minute)))
	assert.Len(t, f.liquidator.calls, 1)
	assert.Len(t, f.notifier.events, 1)
}

func TestBreaker_ActionFailureDoesNotSkipOthers(t *testing.T) {
	mem := guard.NewMemoryStore()
	f := newFixture(t, 5_520_000, 4_480_000, failingGuard{Store: mem})
	f.liquidator.err = errors.New("broker unreachable")

	status, err := f.breaker.Check(context.Background(), contracts.BrokerUpbit)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disable trading")
	assert.Contains(t, err.Error(), "liquidate")
	require.NotNil(t, status)

	// cooldown, liquidation, notification and risk event all still ran
	state, gerr := mem.Get(context.Background())
	require.NoError(t, gerr)
	assert.True(t, state.InCooldown(testNow))
	assert.Len(t, f.liquidator.calls, 1)
	assert.Len(t, f.notifier.events, 1)
	assert.Equal(t, 1, f.events.EventsOfType(contracts.RiskEventCircuitBreaker))
}

func TestBreaker_DataFailurePropagates(t *testing.T) {
	mem := guard.NewMemoryStore()
	f := newFixture(t, 5_520_000, 4_480_000, mem)
	f.store.SetPosition(contracts.Position{
		Broker:   contracts.BrokerUpbit,
		Market:   contracts.MarketCrypto,
		Symbol:   "KRW-XRP",
		Qty:      decimal.NewFromInt(100),
		AvgPrice: decimal.NewFromInt(800),
	})

	status, err := f.breaker.Check(context.Background(), contracts.BrokerUpbit)
	assert.Nil(t, status)
	assert.ErrorIs(t, err, contracts.ErrDataIntegrity)

	state, gerr := mem.Get(context.Background())
	require.NoError(t, gerr)
	assert.True(t, state.TradingEnabled)
	assert.Empty(t, f.liquidator.calls)
}

func TestBreaker_EvaluationFailureAlertsOncePerStreak(t *testing.T) {
	f := newFixture(t, 5_400_000, 4_600_000, guard.NewMemoryStore())
	ctx := context.Background()
	f.store.SetPosition(contracts.Position{
		Broker:   contracts.BrokerUpbit,
		Market:   contracts.MarketCrypto,
		Symbol:   "KRW-XRP",
		Qty:      decimal.NewFromInt(100),
		AvgPrice: decimal.NewFromInt(800),
	})

	for i := 0; i < 3; i++ {
		_, err := f.breaker.Check(ctx, contracts.BrokerUpbit)
		require.Error(t, err)
	}
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, notify.LevelCritical, f.notifier.events[0].Level)
	assert.Equal(t, "1", f.notifier.events[0].Fields["consecutive_failures"])
	assert.Equal(t, 1, f.events.EventsOfType(contracts.RiskEventBreakerBlind))

	// 복구 후 다시 실패하면 새 알림
	f.broker.SetPrice("KRW-XRP", decimal.NewFromInt(800))
	_, err := f.breaker.Check(ctx, contracts.BrokerUpbit)
	require.NoError(t, err)

	f.store.SetPosition(contracts.Position{
		Broker:   contracts.BrokerUpbit,
		Market:   contracts.MarketCrypto,
		Symbol:   "KRW-SOL",
		Qty:      decimal.NewFromInt(1),
		AvgPrice: decimal.NewFromInt(200_000),
	})
	_, err = f.breaker.Check(ctx, contracts.BrokerUpbit)
	require.Error(t, err)
	assert.Len(t, f.notifier.events, 2)
	assert.Equal(t, 2, f.events.EventsOfType(contracts.RiskEventBreakerBlind))
}

func TestBreaker_EvaluationFailureRepeatsAlert(t *testing.T) {
	f := newFixture(t, 5_400_000, 4_600_000, guard.NewMemoryStore())
	f.store.SetPosition(contracts.Position{
		Broker:   contracts.BrokerUpbit,
		Market:   contracts.MarketCrypto,
		Symbol:   "KRW-XRP",
		Qty:      decimal.NewFromInt(100),
		AvgPrice: decimal.NewFromInt(800),
	})

	for i := 0; i < BlindAlertEvery; i++ {
		_, _ = f.breaker.Check(context.Background(), contracts.BrokerUpbit)
	}
	require.Len(t, f.notifier.events, 2)
	assert.Equal(t, "30", f.notifier.events[1].Fields["consecutive_failures"])
}

func TestBreaker_DrawdownSpansTradingDays(t *testing.T) {
	f := newFixture(t, 3_000_000, 8_000_000, guard.NewMemoryStore())
	ctx := context.Background()

	status, err := f.breaker.Check(ctx, contracts.BrokerUpbit)
	require.NoError(t, err)
	assert.False(t, status.Triggered)

	// 이틀 뒤 9,800,000: 당일 기준으로는 손실이 아니지만 누적 고점 대비 -10.9%
	f.broker.SetPrice("KRW-BTC", decimal.NewFromInt(6_800_000))
	f.at(testNow.Add(48 * time.Hour))

	status, err = f.breaker.Check(ctx, contracts.BrokerUpbit)
	require.NoError(t, err)
	assert.True(t, status.HighWater.Equal(decimal.NewFromInt(11_000_000)), status.HighWater.String())
	assert.True(t, status.Triggered)
	assert.Equal(t, ReasonDrawdown, status.Reason)
}

func TestBreaker_ResetHighWaterStartsNewBaseline(t *testing.T) {
	f := newFixture(t, 3_000_000, 8_000_000, guard.NewMemoryStore())
	ctx := context.Background()

	_, err := f.breaker.Check(ctx, contracts.BrokerUpbit)
	require.NoError(t, err)

	require.NoError(t, f.breaker.ResetHighWater(ctx, contracts.BrokerUpbit, "operator"))
	assert.Equal(t, 1, f.events.EventsOfType(contracts.RiskEventHighWaterReset))

	f.broker.SetPrice("KRW-BTC", decimal.NewFromInt(6_800_000))
	f.at(testNow.Add(48 * time.Hour))

	status, err := f.breaker.Check(ctx, contracts.BrokerUpbit)
	require.NoError(t, err)
	assert.False(t, status.Triggered)
	assert.True(t, status.HighWater.Equal(decimal.NewFromInt(9_800_000)))
	assert.True(t, status.Drawdown.IsZero())
}

func TestBreaker_KISMarketsEvaluatedInOwnCurrency(t *testing.T) {
	broker := execution.NewMockBroker(contracts.BrokerKIS)
	store := execution.NewMemoryStore()
	mem := guard.NewMemoryStore()
	liq := &fakeLiquidator{}

	broker.SetCash(decimal.NewFromInt(10_000_000))
	broker.SetForeignCash("USD", decimal.NewFromInt(1_000))
	broker.SetPrice("005930", decimal.NewFromInt(70_000))
	broker.SetPrice("NAS:AAPL", decimal.NewFromInt(150))
	store.SetPosition(contracts.Position{
		Broker: contracts.BrokerKIS, Market: contracts.MarketKRX, Symbol: "005930",
		Qty: decimal.NewFromInt(10), AvgPrice: decimal.NewFromInt(70_000),
	})
	store.SetPosition(contracts.Position{
		Broker: contracts.BrokerKIS, Market: contracts.MarketUS, Symbol: "NAS:AAPL",
		Qty: decimal.NewFromInt(10), AvgPrice: decimal.NewFromInt(200),
	})

	registry := execution.NewRegistry(broker)
	prices := execution.NewPriceService(registry, nil, 0, logger.NewNop())
	account := execution.NewAccountService(registry, store, prices, nil)
	b := New(breakerConfig(), false, Deps{
		PnL:        NewPnLCalculator(store, prices),
		Account:    account,
		Valuer:     account,
		Equity:     NewMemoryEquityStore(),
		Guard:      mem,
		Liquidator: liq,
		Logger:     logger.NewNop(),
		Markets:    []contracts.Market{contracts.MarketKRX, contracts.MarketUS, contracts.MarketCrypto},
	})
	b.now = func() time.Time { return testNow }

	status, err := b.Check(context.Background(), contracts.BrokerKIS)
	require.NoError(t, err)
	require.Len(t, status.Markets, 2)

	// US: -$500 on $2,500 equity → -20%. 원화와 합산하면 한도 미달로 보였을 손실
	assert.True(t, status.Triggered)
	assert.Equal(t, contracts.MarketUS, status.Market)
	assert.Equal(t, "USD", status.Currency)
	assert.True(t, status.Equity.Equal(decimal.NewFromInt(2_500)), status.Equity.String())
	assert.True(t, status.DailyPnLPct.Equal(decimal.RequireFromString("-0.2")), status.DailyPnLPct.String())

	krx := status.Markets[0]
	assert.Equal(t, contracts.MarketKRX, krx.Market)
	assert.False(t, krx.Triggered)
	assert.True(t, krx.Equity.Equal(decimal.NewFromInt(10_700_000)))
	require.Len(t, liq.calls, 1)
	assert.Equal(t, contracts.BrokerKIS, liq.calls[0].Broker)
}

func TestBreaker_DisabledReportsWithoutTripping(t *testing.T) {
	mem := guard.NewMemoryStore()
	f := newFixture(t, 5_520_000, 4_480_000, mem)
	f.breaker.cfg.Enabled = false

	status, err := f.breaker.Check(context.Background(), contracts.BrokerUpbit)
	require.NoError(t, err)
	assert.True(t, status.Triggered)
	assert.False(t, status.Tripped)
	assert.Empty(t, f.liquidator.calls)

	state, err := mem.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, state.TradingEnabled)
}

// For any order of check times, cooldown_until never moves backwards.
func TestBreaker_CooldownMonotonic(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("cooldown is non-decreasing", prop.ForAll(
		func(offsets []int) bool {
			mem := guard.NewMemoryStore()
			f := newFixture(t, 5_520_000, 4_480_000, mem)

			var last time.Time
			for _, m := range offsets {
				f.at(testNow.Add(time.Duration(m) * time.Minute))
				if _, err := f.breaker.Check(context.Background(), contracts.BrokerUpbit); err != nil {
					return false
				}
				state, _ := mem.Get(context.Background())
				if state.CooldownUntil == nil || state.CooldownUntil.Before(last) {
					return false
				}
				last = *state.CooldownUntil
			}
			return true
		},
		gen.SliceOfN(8, gen.IntRange(0, 600)),
	))

	properties.TestingRun(t)
}

func TestPnLCalculator_RealizedAndUnrealized(t *testing.T) {
	ctx := context.Background()
	store := execution.NewMemoryStore()
	broker := execution.NewMockBroker(contracts.BrokerUpbit)
	broker.SetPrice("KRW-ETH", decimal.NewFromInt(5_000_000))
	prices := execution.NewPriceService(execution.NewRegistry(broker), nil, 0, logger.NewNop())

	fill := func(side contracts.OrderSide, qty string, price int64, at time.Time, cid string) {
		_, err := store.RecordFill(ctx, &contracts.Trade{
			Broker:        contracts.BrokerUpbit,
			Market:        contracts.MarketCrypto,
			Symbol:        "KRW-ETH",
			Side:          side,
			Qty:           decimal.RequireFromString(qty),
			Price:         decimal.NewFromInt(price),
			ClientOrderID: cid,
			ExecutedAt:    at,
		})
		require.NoError(t, err)
	}

	yesterday := testNow.Add(-24 * time.Hour)
	fill(contracts.OrderSideBuy, "2", 4_000_000, yesterday, "c1")
	fill(contracts.OrderSideSell, "0.5", 4_500_000, yesterday, "c2") // 어제 실현분은 제외
	fill(contracts.OrderSideSell, "0.5", 4_800_000, testNow.Add(-time.Hour), "c3")

	pnl, err := NewPnLCalculator(store, prices).Daily(ctx, contracts.BrokerUpbit, contracts.MarketCrypto, testNow)
	require.NoError(t, err)

	assert.True(t, pnl.Realized.Equal(decimal.NewFromInt(400_000)), pnl.Realized.String())
	// 1 ETH left at avg 4,000,000, mark 5,000,000
	assert.True(t, pnl.Unrealized.Equal(decimal.NewFromInt(1_000_000)), pnl.Unrealized.String())
	assert.True(t, pnl.Total.Equal(decimal.NewFromInt(1_400_000)))
	assert.True(t, pnl.Since.Equal(time.Date(2026, 10, 19, 0, 0, 0, 0, contracts.Seoul)))
}

func TestMemoryEquityStore_RunningHighWater(t *testing.T) {
	s := NewMemoryEquityStore()
	ctx := context.Background()

	hw, _ := s.Mark(ctx, contracts.BrokerKIS, contracts.MarketKRX, decimal.NewFromInt(100))
	assert.True(t, hw.Equal(decimal.NewFromInt(100)))
	hw, _ = s.Mark(ctx, contracts.BrokerKIS, contracts.MarketKRX, decimal.NewFromInt(90))
	assert.True(t, hw.Equal(decimal.NewFromInt(100)))

	// 마켓(통화)별로 독립
	hw, _ = s.Mark(ctx, contracts.BrokerKIS, contracts.MarketUS, decimal.NewFromInt(7))
	assert.True(t, hw.Equal(decimal.NewFromInt(7)))

	require.NoError(t, s.Reset(ctx, contracts.BrokerKIS))
	hw, _ = s.Mark(ctx, contracts.BrokerKIS, contracts.MarketKRX, decimal.NewFromInt(90))
	assert.True(t, hw.Equal(decimal.NewFromInt(90)))
}
