package breaker

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/internal/contracts"
)

// EquityStore tracks the running equity high-water mark per broker and market.
// The mark spans trading days; only Reset starts a new baseline.
type EquityStore interface {
	// Mark records equity and returns the high-water mark (never lower than equity).
	Mark(ctx context.Context, broker contracts.Broker, market contracts.Market, equity decimal.Decimal) (decimal.Decimal, error)
	// Reset drops every mark of broker. The next Mark becomes the new peak.
	Reset(ctx context.Context, broker contracts.Broker) error
}

// EquityRepository persists equity_marks
type EquityRepository struct {
	pool *pgxpool.Pool
}

// NewEquityRepository creates a new equity mark repository
func NewEquityRepository(pool *pgxpool.Pool) *EquityRepository {
	return &EquityRepository{pool: pool}
}

func (r *EquityRepository) Mark(ctx context.Context, broker contracts.Broker, market contracts.Market, equity decimal.Decimal) (decimal.Decimal, error) {
	query := `
		INSERT INTO equity_marks (broker, market, high_water, last_equity, updated_at)
		VALUES ($1, $2, $3, $3, now())
		ON CONFLICT (broker, market) DO UPDATE SET
			high_water  = GREATEST(equity_marks.high_water, EXCLUDED.high_water),
			last_equity = EXCLUDED.last_equity,
			updated_at  = now()
		RETURNING high_water
	`

	var hw decimal.Decimal
	if err := r.pool.QueryRow(ctx, query, broker, market, equity).Scan(&hw); err != nil {
		return decimal.Zero, fmt.Errorf("failed to upsert equity mark: %w", err)
	}
	return hw, nil
}

func (r *EquityRepository) Reset(ctx context.Context, broker contracts.Broker) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM equity_marks WHERE broker = $1`, broker); err != nil {
		return fmt.Errorf("failed to reset equity marks: %w", err)
	}
	return nil
}

type equityKey struct {
	broker contracts.Broker
	market contracts.Market
}

// MemoryEquityStore keeps equity marks in process
type MemoryEquityStore struct {
	mu    sync.Mutex
	marks map[equityKey]decimal.Decimal
}

// NewMemoryEquityStore creates an empty equity store
func NewMemoryEquityStore() *MemoryEquityStore {
	return &MemoryEquityStore{marks: make(map[equityKey]decimal.Decimal)}
}

func (s *MemoryEquityStore) Mark(_ context.Context, broker contracts.Broker, market contracts.Market, equity decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := equityKey{broker, market}
	hw, ok := s.marks[key]
	if !ok || equity.GreaterThan(hw) {
		hw = equity
	}
	s.marks[key] = hw
	return hw, nil
}

func (s *MemoryEquityStore) Reset(_ context.Context, broker contracts.Broker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.marks {
		if key.broker == broker {
			delete(s.marks, key)
		}
	}
	return nil
}
