package contracts

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPositionApplyFill(t *testing.T) {
	pos := Position{Broker: BrokerUpbit, Market: MarketCrypto, Symbol: "BTC"}

	pos = pos.ApplyFill(OrderSideBuy, d("1"), d("100"))
	assert.True(t, pos.Qty.Equal(d("1")))
	assert.True(t, pos.AvgPrice.Equal(d("100")))

	pos = pos.ApplyFill(OrderSideBuy, d("1"), d("200"))
	assert.True(t, pos.Qty.Equal(d("2")))
	assert.True(t, pos.AvgPrice.Equal(d("150")), "avg = %s", pos.AvgPrice)

	pos = pos.ApplyFill(OrderSideSell, d("0.5"), d("300"))
	assert.True(t, pos.Qty.Equal(d("1.5")))
	assert.True(t, pos.AvgPrice.Equal(d("150")), "sell keeps avg price")

	pos = pos.ApplyFill(OrderSideSell, d("5"), d("300"))
	assert.True(t, pos.Qty.IsZero(), "qty never negative")
}

func TestOrderResultIsSuccess(t *testing.T) {
	var nilResult *OrderResult
	assert.False(t, nilResult.IsSuccess())
	assert.True(t, (&OrderResult{Status: OrderSuccess}).IsSuccess())
	assert.False(t, (&OrderResult{Status: OrderSkipped}).IsSuccess())
}

func TestTradeValue(t *testing.T) {
	tr := Trade{Qty: d("0.1"), Price: d("0.2")}
	assert.True(t, tr.Value().Equal(d("0.02")))
}

func TestAccountSnapshotCashFor(t *testing.T) {
	snap := &AccountSnapshot{
		Cash:        decimal.NewFromInt(10_000_000),
		ForeignCash: map[string]decimal.Decimal{"USD": decimal.RequireFromString("2500.50")},
	}
	assert.True(t, snap.CashFor(MarketKRX).Equal(decimal.NewFromInt(10_000_000)))
	assert.True(t, snap.CashFor(MarketCrypto).Equal(decimal.NewFromInt(10_000_000)))
	assert.True(t, snap.CashFor(MarketUS).Equal(decimal.RequireFromString("2500.50")))

	// 외화 예수금이 없으면 원화로 대체하지 않음
	krwOnly := &AccountSnapshot{Cash: decimal.NewFromInt(10_000_000)}
	assert.True(t, krwOnly.CashFor(MarketUS).IsZero())

	assert.Equal(t, []Market{MarketKRX, MarketUS}, MarketsOf(BrokerKIS))
	assert.Equal(t, []Market{MarketCrypto}, MarketsOf(BrokerUpbit))
}
