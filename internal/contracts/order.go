package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents market or limit order
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus is the outcome of one order attempt
type OrderStatus string

const (
	OrderSuccess OrderStatus = "SUCCESS"
	OrderFailed  OrderStatus = "FAILED"
	OrderSkipped OrderStatus = "SKIPPED" // dry-run
)

// OrderRequest is what the executor hands to a broker client
// ⭐ SSOT: Executor → Broker 주문 정보 전달
type OrderRequest struct {
	Broker        Broker          `json:"broker"`
	Market        Market          `json:"market"`
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	Type          OrderType       `json:"order_type"`
	Qty           decimal.Decimal `json:"qty"`
	Price         decimal.Decimal `json:"price"`           // reference price for MARKET, limit price for LIMIT
	ClientOrderID string          `json:"client_order_id"` // idempotency key
	Reason        string          `json:"reason"`
}

// OrderResult is the broker's answer to one order attempt
type OrderResult struct {
	Status        OrderStatus     `json:"status"`
	OrderID       string          `json:"order_id,omitempty"`
	ExecutedPrice decimal.Decimal `json:"executed_price"`
	ExecutedQty   decimal.Decimal `json:"executed_qty"`
	Message       string          `json:"message"`
}

// IsSuccess checks if the order was accepted by the broker
func (r *OrderResult) IsSuccess() bool {
	return r != nil && r.Status == OrderSuccess
}

// Trade is a persisted fill. Written only for SUCCESS results.
type Trade struct {
	ID            string          `json:"id"`
	Broker        Broker          `json:"broker"`
	Market        Market          `json:"market"`
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	Qty           decimal.Decimal `json:"qty"`
	Price         decimal.Decimal `json:"price"`
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	Reason        string          `json:"reason"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"` // SELL only, against the position's avg price
	ExecutedAt    time.Time       `json:"executed_at"`
}

// Value returns qty × price
func (t *Trade) Value() decimal.Decimal {
	return t.Qty.Mul(t.Price)
}

// Position is a current holding. Qty is never negative; zero means absent.
type Position struct {
	Broker    Broker          `json:"broker"`
	Market    Market          `json:"market"`
	Symbol    string          `json:"symbol"`
	Qty       decimal.Decimal `json:"qty"`
	AvgPrice  decimal.Decimal `json:"avg_price"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CostBasis returns qty × avgPrice
func (p *Position) CostBasis() decimal.Decimal {
	return p.Qty.Mul(p.AvgPrice)
}

// RealizedPnL is the profit a SELL of qty at price locks in. BUY realizes nothing.
func (p Position) RealizedPnL(side OrderSide, qty, price decimal.Decimal) decimal.Decimal {
	if side != OrderSideSell || !p.Qty.IsPositive() {
		return decimal.Zero
	}
	return price.Sub(p.AvgPrice).Mul(decimal.Min(qty, p.Qty))
}

// ApplyFill returns the position after a fill. BUY grows with a weighted average price,
// SELL shrinks and never goes below zero.
func (p Position) ApplyFill(side OrderSide, qty, price decimal.Decimal) Position {
	switch side {
	case OrderSideBuy:
		newQty := p.Qty.Add(qty)
		if newQty.IsPositive() {
			p.AvgPrice = p.CostBasis().Add(qty.Mul(price)).DivRound(newQty, 8)
		}
		p.Qty = newQty
	case OrderSideSell:
		p.Qty = p.Qty.Sub(qty)
		if !p.Qty.IsPositive() {
			p.Qty = decimal.Zero
		}
	}
	return p
}
