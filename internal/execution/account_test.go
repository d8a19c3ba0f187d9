package execution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/pkg/logger"
)

func TestRegistry(t *testing.T) {
	kis := NewMockBroker(contracts.BrokerKIS)
	upbit := NewMockBroker(contracts.BrokerUpbit)
	r := NewRegistry(upbit, kis)

	assert.Equal(t, []contracts.Broker{contracts.BrokerKIS, contracts.BrokerUpbit}, r.Brokers())

	c, err := r.Get(contracts.BrokerKIS)
	require.NoError(t, err)
	assert.Equal(t, contracts.BrokerKIS, c.Name())

	_, err = r.Get("BINANCE")
	assert.ErrorIs(t, err, contracts.ErrUnknownBroker)

	_, err = r.Account(contracts.BrokerUpbit)
	assert.NoError(t, err)
}

func TestAccountService_PositionValue(t *testing.T) {
	ctx := context.Background()
	broker := NewMockBroker(contracts.BrokerKIS)
	broker.SetPrice("005930", decimal.NewFromInt(72_000))
	broker.SetPrice("AAPL", decimal.RequireFromString("190.5"))
	broker.SetCash(decimal.NewFromInt(5_000_000))
	broker.SetForeignCash("USD", decimal.NewFromInt(1_000))

	store := NewMemoryStore()
	store.SetPosition(contracts.Position{Broker: contracts.BrokerKIS, Market: contracts.MarketKRX, Symbol: "005930",
		Qty: decimal.NewFromInt(10), AvgPrice: decimal.NewFromInt(70_000)})
	store.SetPosition(contracts.Position{Broker: contracts.BrokerKIS, Market: contracts.MarketUS, Symbol: "AAPL",
		Qty: decimal.NewFromInt(2), AvgPrice: decimal.NewFromInt(180)})

	reg := NewRegistry(broker)
	svc := NewAccountService(reg, store, NewPriceService(reg, nil, time.Second, logger.NewNop()), nil)

	krx, err := svc.GetPositionValue(ctx, contracts.BrokerKIS, contracts.MarketKRX, "")
	require.NoError(t, err)
	assert.True(t, krx.Equal(decimal.NewFromInt(720_000)))

	one, err := svc.GetPositionValue(ctx, contracts.BrokerKIS, "", "AAPL")
	require.NoError(t, err)
	assert.True(t, one.Equal(decimal.NewFromInt(381)))

	cash, err := svc.GetAccountCash(ctx, contracts.BrokerKIS, contracts.MarketKRX)
	require.NoError(t, err)
	assert.True(t, cash.Equal(decimal.NewFromInt(5_000_000)))

	usd, err := svc.GetAccountCash(ctx, contracts.BrokerKIS, contracts.MarketUS)
	require.NoError(t, err)
	assert.True(t, usd.Equal(decimal.NewFromInt(1_000)))

	// 원화 계좌 크기와 달러 계좌 크기는 섞이지 않음
	krwEquity, err := svc.Equity(ctx, contracts.BrokerKIS, contracts.MarketKRX)
	require.NoError(t, err)
	assert.True(t, krwEquity.Equal(decimal.NewFromInt(5_720_000)))

	usdEquity, err := svc.Equity(ctx, contracts.BrokerKIS, contracts.MarketUS)
	require.NoError(t, err)
	assert.True(t, usdEquity.Equal(decimal.NewFromInt(1_381)))

	assert.NoError(t, svc.Invalidate(ctx, contracts.BrokerKIS))
}

func TestAccountService_MissingPriceIsNeverZero(t *testing.T) {
	ctx := context.Background()
	broker := NewMockBroker(contracts.BrokerUpbit)
	store := NewMemoryStore()
	store.SetPosition(contracts.Position{Broker: contracts.BrokerUpbit, Market: contracts.MarketCrypto, Symbol: "KRW-ETH",
		Qty: decimal.NewFromInt(1), AvgPrice: decimal.NewFromInt(4_000_000)})

	reg := NewRegistry(broker)
	svc := NewAccountService(reg, store, NewPriceService(reg, nil, 0, logger.NewNop()), nil)

	_, err := svc.GetPositionValue(ctx, contracts.BrokerUpbit, "", "")
	assert.ErrorIs(t, err, contracts.ErrDataIntegrity)
}

func TestMemoryStore_FillLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	fill := func(side contracts.OrderSide, qty, price int64, cid string) *contracts.Position {
		pos, err := store.RecordFill(ctx, &contracts.Trade{
			Broker: contracts.BrokerKIS, Market: contracts.MarketKRX, Symbol: "005930",
			Side: side, Qty: decimal.NewFromInt(qty), Price: decimal.NewFromInt(price),
			ClientOrderID: cid, ExecutedAt: now,
		})
		require.NoError(t, err)
		return pos
	}

	fill(contracts.OrderSideBuy, 10, 70_000, "a")
	pos := fill(contracts.OrderSideBuy, 10, 80_000, "b")
	assert.True(t, pos.AvgPrice.Equal(decimal.NewFromInt(75_000)))

	// 같은 client order id는 무시
	pos = fill(contracts.OrderSideBuy, 10, 80_000, "b")
	assert.True(t, pos.Qty.Equal(decimal.NewFromInt(20)))

	pos = fill(contracts.OrderSideSell, 20, 90_000, "c")
	assert.True(t, pos.Qty.IsZero())

	positions, err := store.ListPositions(ctx, contracts.BrokerKIS)
	require.NoError(t, err)
	assert.Empty(t, positions)

	n, err := store.CountTradesSince(ctx, contracts.MarketKRX, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
