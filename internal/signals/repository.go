// Package signals is the queue of upstream trade signals consumed by the market loops.
package signals

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/internal/contracts"
)

// Repository reads and consumes rows of the signals table
// ⭐ SSOT: 시그널 소비(consumed_at)는 여기서만. 정확히 한 번 기록
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new signal repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FetchUnconsumed returns unconsumed signals of a market at or above minConfidence,
// in processing order.
func (r *Repository) FetchUnconsumed(ctx context.Context, market contracts.Market, minConfidence decimal.Decimal) ([]*contracts.Signal, error) {
	query := `
		SELECT id, symbol, market, broker, signal_type, entry_price, target_price,
		       stop_loss, confidence, created_at
		FROM signals
		WHERE market = $1 AND consumed_at IS NULL AND confidence >= $2
		ORDER BY confidence DESC,
		         CASE WHEN signal_type IN ('BUY', 'SELL') THEN 0 ELSE 1 END,
		         created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, market, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	signals := make([]*contracts.Signal, 0)
	for rows.Next() {
		var s contracts.Signal
		err := rows.Scan(
			&s.ID, &s.Symbol, &s.Market, &s.Broker, &s.Type, &s.EntryPrice, &s.TargetPrice,
			&s.StopLoss, &s.Confidence, &s.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		signals = append(signals, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return signals, nil
}

// MarkConsumed sets consumed_at once. A second call returns contracts.ErrAlreadyConsumed.
func (r *Repository) MarkConsumed(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE signals SET consumed_at = $1 WHERE id = $2 AND consumed_at IS NULL`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark signal consumed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: signal %d", contracts.ErrAlreadyConsumed, id)
	}
	return nil
}

// Insert adds a signal (upstream producers, CLI, tests)
func (r *Repository) Insert(ctx context.Context, s *contracts.Signal) error {
	query := `
		INSERT INTO signals (symbol, market, broker, signal_type, entry_price, target_price,
		                     stop_loss, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	err := r.pool.QueryRow(ctx, query,
		s.Symbol, s.Market, s.Broker, s.Type, s.EntryPrice, s.TargetPrice,
		s.StopLoss, s.Confidence, s.CreatedAt,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to insert signal: %w", err)
	}
	return nil
}
