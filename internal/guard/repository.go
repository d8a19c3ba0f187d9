package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis-trader/internal/contracts"
)

const maxCASRetries = 5

// Repository is the Postgres-backed guard store
// ⭐ SSOT: system_guard 읽기/쓰기는 여기서만 (version 기반 CAS)
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new guard repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get reads the guard row
func (r *Repository) Get(ctx context.Context) (*contracts.GuardState, error) {
	query := `
		SELECT trading_enabled, cooldown_until, error_count, reason, version, updated_at
		FROM system_guard
		WHERE id = 1
	`

	var g contracts.GuardState
	err := r.pool.QueryRow(ctx, query).Scan(
		&g.TradingEnabled, &g.CooldownUntil, &g.ErrorCount, &g.Reason, &g.Version, &g.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("system_guard row missing: %w", contracts.ErrDataIntegrity)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get guard: %w", err)
	}
	return &g, nil
}

// Disable sets trading_enabled=false
func (r *Repository) Disable(ctx context.Context, reason string) (*contracts.GuardState, error) {
	return r.update(ctx, disable(reason))
}

// ExtendCooldown moves cooldown_until forward, never backward
func (r *Repository) ExtendCooldown(ctx context.Context, until time.Time, reason string) (*contracts.GuardState, error) {
	return r.update(ctx, extendCooldown(until, reason))
}

// Enable re-enables trading once the cooldown has expired
func (r *Repository) Enable(ctx context.Context, now time.Time) (*contracts.GuardState, error) {
	return r.update(ctx, enable(now))
}

// IncrementErrors bumps error_count atomically
func (r *Repository) IncrementErrors(ctx context.Context) error {
	query := `
		UPDATE system_guard
		SET error_count = error_count + 1, version = version + 1, updated_at = now()
		WHERE id = 1
	`
	if _, err := r.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to increment guard errors: %w", err)
	}
	return nil
}

// update applies m with compare-and-set on version, retrying on conflict.
// GREATEST keeps cooldown monotonic even against writers that skip the CAS.
func (r *Repository) update(ctx context.Context, m mutation) (*contracts.GuardState, error) {
	query := `
		UPDATE system_guard
		SET trading_enabled = $1,
		    cooldown_until  = GREATEST(cooldown_until, $2),
		    error_count     = $3,
		    reason          = $4,
		    version         = version + 1,
		    updated_at      = now()
		WHERE id = 1 AND version = $5
		RETURNING trading_enabled, cooldown_until, error_count, reason, version, updated_at
	`

	for attempt := 0; attempt < maxCASRetries; attempt++ {
		cur, err := r.Get(ctx)
		if err != nil {
			return nil, err
		}

		next, err := m(*cur)
		if err != nil {
			return cur, err
		}

		var g contracts.GuardState
		err = r.pool.QueryRow(ctx, query,
			next.TradingEnabled, next.CooldownUntil, next.ErrorCount, next.Reason, cur.Version,
		).Scan(&g.TradingEnabled, &g.CooldownUntil, &g.ErrorCount, &g.Reason, &g.Version, &g.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			continue // 다른 writer가 먼저 갱신함
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update guard: %w", err)
		}
		return &g, nil
	}

	return nil, ErrVersionConflict
}
