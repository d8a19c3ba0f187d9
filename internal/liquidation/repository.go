package liquidation

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis-trader/internal/contracts"
)

// Repository persists liquidation_records
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new liquidation repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SaveRecord inserts one record; (run_id, symbol) is unique
func (r *Repository) SaveRecord(ctx context.Context, rec *contracts.LiquidationRecord) error {
	query := `
		INSERT INTO liquidation_records (
			run_id, broker, market, symbol, qty, attempts, success, dry_run, order_id, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.pool.Exec(ctx, query,
		rec.RunID, rec.Broker, rec.Market, rec.Symbol, rec.Qty, rec.Attempts,
		rec.Success, rec.DryRun, rec.OrderID, rec.Error, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert liquidation record: %w", err)
	}
	return nil
}

// ListRun returns the records of one run
func (r *Repository) ListRun(ctx context.Context, runID string) ([]*contracts.LiquidationRecord, error) {
	query := `
		SELECT run_id, broker, market, symbol, qty, attempts, success, dry_run, order_id, error, created_at
		FROM liquidation_records
		WHERE run_id = $1
		ORDER BY symbol
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query liquidation records: %w", err)
	}
	defer rows.Close()

	records := make([]*contracts.LiquidationRecord, 0)
	for rows.Next() {
		var rec contracts.LiquidationRecord
		err := rows.Scan(&rec.RunID, &rec.Broker, &rec.Market, &rec.Symbol, &rec.Qty, &rec.Attempts,
			&rec.Success, &rec.DryRun, &rec.OrderID, &rec.Error, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan liquidation record: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}

// MemoryStore keeps liquidation records in process (tests, dry runs)
type MemoryStore struct {
	mu      sync.Mutex
	records []contracts.LiquidationRecord
}

// NewMemoryStore creates an empty record store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SaveRecord(_ context.Context, rec *contracts.LiquidationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.RunID == rec.RunID && r.Symbol == rec.Symbol {
			return fmt.Errorf("duplicate liquidation record %s/%s", rec.RunID, rec.Symbol)
		}
	}
	s.records = append(s.records, *rec)
	return nil
}

// Records returns a snapshot of saved records
func (s *MemoryStore) Records() []contracts.LiquidationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]contracts.LiquidationRecord(nil), s.records...)
}
