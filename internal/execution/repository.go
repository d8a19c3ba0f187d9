package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/pkg/database"
)

// Repository handles trades and positions persistence
// ⭐ SSOT: Execution 데이터 저장/조회는 여기서만
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new execution repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RecordFill inserts the trade and updates the position in one transaction.
// A repeated client order id is ignored (ON CONFLICT DO NOTHING).
func (r *Repository) RecordFill(ctx context.Context, trade *contracts.Trade) (*contracts.Position, error) {
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}

	var result contracts.Position
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		pos, err := lockPosition(ctx, tx, trade.Broker, trade.Symbol)
		if err != nil {
			return err
		}
		if pos == nil {
			pos = &contracts.Position{Broker: trade.Broker, Market: trade.Market, Symbol: trade.Symbol}
		}
		trade.RealizedPnL = pos.RealizedPnL(trade.Side, trade.Qty, trade.Price)

		tag, err := tx.Exec(ctx, `
			INSERT INTO trades (
				id, broker, market, symbol, side, qty, price, order_id, client_order_id, reason,
				realized_pnl, executed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (client_order_id) DO NOTHING
		`,
			trade.ID, trade.Broker, trade.Market, trade.Symbol, trade.Side, trade.Qty, trade.Price,
			trade.OrderID, trade.ClientOrderID, trade.Reason, trade.RealizedPnL, trade.ExecutedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert trade: %w", err)
		}
		if tag.RowsAffected() == 0 {
			result = *pos // 이미 반영된 체결
			return nil
		}

		next := pos.ApplyFill(trade.Side, trade.Qty, trade.Price)
		next.UpdatedAt = trade.ExecutedAt
		if err := writePosition(ctx, tx, &next); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPosition retrieves one position
func (r *Repository) GetPosition(ctx context.Context, broker contracts.Broker, symbol string) (*contracts.Position, error) {
	query := `
		SELECT broker, market, symbol, qty, avg_price, updated_at
		FROM positions
		WHERE broker = $1 AND symbol = $2
	`

	var p contracts.Position
	err := r.pool.QueryRow(ctx, query, broker, symbol).Scan(
		&p.Broker, &p.Market, &p.Symbol, &p.Qty, &p.AvgPrice, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, contracts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return &p, nil
}

// ListPositions retrieves open positions of a broker
func (r *Repository) ListPositions(ctx context.Context, broker contracts.Broker) ([]*contracts.Position, error) {
	query := `
		SELECT broker, market, symbol, qty, avg_price, updated_at
		FROM positions
		WHERE broker = $1 AND qty > 0
		ORDER BY symbol
	`

	rows, err := r.pool.Query(ctx, query, broker)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*contracts.Position, 0)
	for rows.Next() {
		var p contracts.Position
		if err := rows.Scan(&p.Broker, &p.Market, &p.Symbol, &p.Qty, &p.AvgPrice, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return positions, nil
}

// ReplacePositions overwrites a broker's positions with broker truth
func (r *Repository) ReplacePositions(ctx context.Context, broker contracts.Broker, positions []*contracts.Position) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM positions WHERE broker = $1`, broker); err != nil {
			return fmt.Errorf("failed to clear positions: %w", err)
		}
		for _, p := range positions {
			if !p.Qty.IsPositive() {
				continue
			}
			cp := *p
			cp.Broker = broker
			if cp.UpdatedAt.IsZero() {
				cp.UpdatedAt = time.Now()
			}
			if err := writePosition(ctx, tx, &cp); err != nil {
				return err
			}
		}
		return nil
	})
}

// TradesSince retrieves the broker's trades since a point in time
func (r *Repository) TradesSince(ctx context.Context, broker contracts.Broker, since time.Time) ([]*contracts.Trade, error) {
	query := `
		SELECT id, broker, market, symbol, side, qty, price, order_id, client_order_id, reason,
		       realized_pnl, executed_at
		FROM trades
		WHERE broker = $1 AND executed_at >= $2
		ORDER BY executed_at ASC
	`

	rows, err := r.pool.Query(ctx, query, broker, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := make([]*contracts.Trade, 0)
	for rows.Next() {
		var t contracts.Trade
		err := rows.Scan(
			&t.ID, &t.Broker, &t.Market, &t.Symbol, &t.Side, &t.Qty, &t.Price,
			&t.OrderID, &t.ClientOrderID, &t.Reason, &t.RealizedPnL, &t.ExecutedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return trades, nil
}

// CountTradesSince counts a market's trades since a point in time
func (r *Repository) CountTradesSince(ctx context.Context, market contracts.Market, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trades WHERE market = $1 AND executed_at >= $2`, market, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return n, nil
}

func lockPosition(ctx context.Context, tx pgx.Tx, broker contracts.Broker, symbol string) (*contracts.Position, error) {
	var p contracts.Position
	err := tx.QueryRow(ctx, `
		SELECT broker, market, symbol, qty, avg_price, updated_at
		FROM positions
		WHERE broker = $1 AND symbol = $2
		FOR UPDATE
	`, broker, symbol).Scan(&p.Broker, &p.Market, &p.Symbol, &p.Qty, &p.AvgPrice, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock position: %w", err)
	}
	return &p, nil
}

// writePosition upserts a position; zero quantity deletes the row
func writePosition(ctx context.Context, tx pgx.Tx, p *contracts.Position) error {
	if !p.Qty.IsPositive() {
		_, err := tx.Exec(ctx, `DELETE FROM positions WHERE broker = $1 AND symbol = $2`, p.Broker, p.Symbol)
		if err != nil {
			return fmt.Errorf("failed to delete position: %w", err)
		}
		return nil
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO positions (broker, market, symbol, qty, avg_price, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (broker, symbol) DO UPDATE SET
			market = EXCLUDED.market,
			qty = EXCLUDED.qty,
			avg_price = EXCLUDED.avg_price,
			updated_at = EXCLUDED.updated_at
	`, p.Broker, p.Market, p.Symbol, p.Qty, p.AvgPrice, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}
	return nil
}
