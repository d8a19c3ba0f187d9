package execution

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/aegis-trader/internal/contracts"
)

// TradeStore persists fills and the positions they produce
// ⭐ SSOT: Trade 행이 체결의 유일한 진실
type TradeStore interface {
	// RecordFill inserts the trade and applies it to the position atomically.
	// Returns the position after the fill; a zero-qty position has been deleted.
	RecordFill(ctx context.Context, trade *contracts.Trade) (*contracts.Position, error)
	// GetPosition returns contracts.ErrNotFound when the symbol is not held.
	GetPosition(ctx context.Context, broker contracts.Broker, symbol string) (*contracts.Position, error)
	// ListPositions returns positions with qty > 0, ordered by symbol.
	ListPositions(ctx context.Context, broker contracts.Broker) ([]*contracts.Position, error)
	// ReplacePositions overwrites local positions of a broker with broker truth.
	ReplacePositions(ctx context.Context, broker contracts.Broker, positions []*contracts.Position) error
	// TradesSince returns the broker's trades executed at or after since.
	TradesSince(ctx context.Context, broker contracts.Broker, since time.Time) ([]*contracts.Trade, error)
	// CountTradesSince counts trades of a market executed at or after since.
	CountTradesSince(ctx context.Context, market contracts.Market, since time.Time) (int, error)
}

type positionKey struct {
	broker contracts.Broker
	symbol string
}

// MemoryStore is an in-process TradeStore for tests and dry runs
type MemoryStore struct {
	mu        sync.Mutex
	trades    []*contracts.Trade
	positions map[positionKey]contracts.Position
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{positions: make(map[positionKey]contracts.Position)}
}

func (s *MemoryStore) RecordFill(_ context.Context, trade *contracts.Trade) (*contracts.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	for _, t := range s.trades {
		if trade.ClientOrderID != "" && t.ClientOrderID == trade.ClientOrderID {
			pos := s.positions[positionKey{trade.Broker, trade.Symbol}]
			return &pos, nil // 동일 client order id는 한 번만 반영
		}
	}
	key := positionKey{trade.Broker, trade.Symbol}
	pos, ok := s.positions[key]
	if !ok {
		pos = contracts.Position{Broker: trade.Broker, Market: trade.Market, Symbol: trade.Symbol}
	}
	trade.RealizedPnL = pos.RealizedPnL(trade.Side, trade.Qty, trade.Price)
	cp := *trade
	s.trades = append(s.trades, &cp)

	pos = pos.ApplyFill(trade.Side, trade.Qty, trade.Price)
	pos.UpdatedAt = trade.ExecutedAt
	if pos.Qty.IsPositive() {
		s.positions[key] = pos
	} else {
		delete(s.positions, key)
	}
	return &pos, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, broker contracts.Broker, symbol string) (*contracts.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[positionKey{broker, symbol}]
	if !ok {
		return nil, contracts.ErrNotFound
	}
	return &pos, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, broker contracts.Broker) ([]*contracts.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*contracts.Position, 0)
	for k, p := range s.positions {
		if k.broker != broker || !p.Qty.IsPositive() {
			continue
		}
		cp := p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *MemoryStore) ReplacePositions(_ context.Context, broker contracts.Broker, positions []*contracts.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.positions {
		if k.broker == broker {
			delete(s.positions, k)
		}
	}
	for _, p := range positions {
		if !p.Qty.IsPositive() {
			continue
		}
		cp := *p
		cp.Broker = broker
		s.positions[positionKey{broker, p.Symbol}] = cp
	}
	return nil
}

func (s *MemoryStore) TradesSince(_ context.Context, broker contracts.Broker, since time.Time) ([]*contracts.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*contracts.Trade, 0)
	for _, t := range s.trades {
		if t.Broker == broker && !t.ExecutedAt.Before(since) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) CountTradesSince(_ context.Context, market contracts.Market, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.trades {
		if t.Market == market && !t.ExecutedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// SetPosition seeds a position (tests, reconciliation)
func (s *MemoryStore) SetPosition(p contracts.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[positionKey{p.Broker, p.Symbol}] = p
}

// Trades returns a snapshot of all trades
func (s *MemoryStore) Trades() []contracts.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contracts.Trade, 0, len(s.trades))
	for _, t := range s.trades {
		out = append(out, *t)
	}
	return out
}
