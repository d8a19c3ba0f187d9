package execution

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/internal/contracts"
)

// Registry maps a broker tag to its client
// ⭐ SSOT: 브로커 선택은 여기서만 (KIS, UPBIT)
type Registry struct {
	mu      sync.RWMutex
	clients map[contracts.Broker]contracts.BrokerClient
}

// NewRegistry creates a registry with the given clients
func NewRegistry(clients ...contracts.BrokerClient) *Registry {
	r := &Registry{clients: make(map[contracts.Broker]contracts.BrokerClient)}
	for _, c := range clients {
		r.Register(c)
	}
	return r
}

// Register adds or replaces the client for its broker
func (r *Registry) Register(client contracts.BrokerClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.Name()] = client
}

// Get returns the client of a broker
func (r *Registry) Get(broker contracts.Broker) (contracts.BrokerClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[broker]
	if !ok {
		return nil, fmt.Errorf("%w: %s", contracts.ErrUnknownBroker, broker)
	}
	return c, nil
}

// Account returns the balance capability of a broker client
func (r *Registry) Account(broker contracts.Broker) (contracts.AccountClient, error) {
	c, err := r.Get(broker)
	if err != nil {
		return nil, err
	}
	ac, ok := c.(contracts.AccountClient)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot report balances", contracts.ErrDataIntegrity, broker)
	}
	return ac, nil
}

// Brokers returns registered brokers in stable order
func (r *Registry) Brokers() []contracts.Broker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]contracts.Broker, 0, len(r.clients))
	for b := range r.clients {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ============================================================================
// MockBroker
// ============================================================================

// MockBroker implements BrokerClient and AccountClient for testing
// ⭐ 실제 운영에서는 KIS / Upbit 클라이언트 사용
type MockBroker struct {
	mu       sync.Mutex
	name     contracts.Broker
	prices   map[string]decimal.Decimal
	holdings map[string]contracts.Holding
	cash     decimal.Decimal
	foreign  map[string]decimal.Decimal
	failures map[string]int // symbol → 남은 실패 횟수
	orders   []contracts.OrderRequest

	priceCalls int
	orderCalls int
}

// NewMockBroker creates a new mock broker with 10M cash
func NewMockBroker(name contracts.Broker) *MockBroker {
	return &MockBroker{
		name:     name,
		prices:   make(map[string]decimal.Decimal),
		holdings: make(map[string]contracts.Holding),
		cash:     decimal.NewFromInt(10_000_000), // 천만원
		foreign:  make(map[string]decimal.Decimal),
		failures: make(map[string]int),
	}
}

// Name returns the broker tag
func (b *MockBroker) Name() contracts.Broker {
	return b.name
}

// GetCurrentPrice returns the configured price
func (b *MockBroker) GetCurrentPrice(ctx context.Context, market contracts.Market, symbol string) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.priceCalls++
	price, ok := b.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no price for %s", contracts.ErrDataIntegrity, symbol)
	}
	return price, nil
}

// PlaceOrder fills immediately at the configured price unless a failure is queued
func (b *MockBroker) PlaceOrder(ctx context.Context, req contracts.OrderRequest) (*contracts.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orderCalls++
	b.orders = append(b.orders, req)

	if n := b.failures[req.Symbol]; n != 0 {
		if n > 0 {
			b.failures[req.Symbol] = n - 1
		}
		return nil, fmt.Errorf("%w: mock failure for %s", contracts.ErrTransientBroker, req.Symbol)
	}

	price := req.Price
	if p, ok := b.prices[req.Symbol]; ok {
		price = p
	}

	h := b.holdings[req.Symbol]
	h.Market = req.Market
	h.Symbol = req.Symbol
	value := req.Qty.Mul(price)
	if req.Side == contracts.OrderSideSell {
		h.Qty = h.Qty.Sub(req.Qty)
	} else {
		h.Qty = h.Qty.Add(req.Qty)
		value = value.Neg()
	}
	if cur := req.Market.QuoteCurrency(); cur == contracts.HomeCurrency {
		b.cash = b.cash.Add(value)
	} else {
		b.foreign[cur] = b.foreign[cur].Add(value)
	}
	if h.Qty.IsPositive() {
		b.holdings[req.Symbol] = h
	} else {
		delete(b.holdings, req.Symbol)
	}

	return &contracts.OrderResult{
		Status:        contracts.OrderSuccess,
		OrderID:       fmt.Sprintf("MOCK-%d", b.orderCalls),
		ExecutedPrice: price,
		ExecutedQty:   req.Qty,
		Message:       "filled",
	}, nil
}

// GetAccount returns cash and holdings
func (b *MockBroker) GetAccount(ctx context.Context) (*contracts.AccountSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := &contracts.AccountSnapshot{Cash: b.cash, Holdings: make([]contracts.Holding, 0, len(b.holdings))}
	if len(b.foreign) > 0 {
		snap.ForeignCash = make(map[string]decimal.Decimal, len(b.foreign))
		for cur, v := range b.foreign {
			snap.ForeignCash[cur] = v
		}
	}
	for _, h := range b.holdings {
		snap.Holdings = append(snap.Holdings, h)
	}
	sort.Slice(snap.Holdings, func(i, j int) bool { return snap.Holdings[i].Symbol < snap.Holdings[j].Symbol })
	return snap, nil
}

// SetPrice sets mock price for testing
func (b *MockBroker) SetPrice(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = price
}

// SetHolding sets mock holding for testing
func (b *MockBroker) SetHolding(h contracts.Holding) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holdings[h.Symbol] = h
}

// SetCash sets mock cash for testing
func (b *MockBroker) SetCash(cash decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cash = cash
}

// SetForeignCash sets a mock foreign-currency deposit for testing
func (b *MockBroker) SetForeignCash(currency string, cash decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.foreign[currency] = cash
}

// FailOrders makes the next n orders of symbol fail. Negative n fails forever.
func (b *MockBroker) FailOrders(symbol string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[symbol] = n
}

// OrderCalls returns how many times PlaceOrder was invoked
func (b *MockBroker) OrderCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.orderCalls
}

// PriceCalls returns how many times GetCurrentPrice was invoked
func (b *MockBroker) PriceCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.priceCalls
}

// Orders returns the submitted requests
func (b *MockBroker) Orders() []contracts.OrderRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]contracts.OrderRequest(nil), b.orders...)
}
