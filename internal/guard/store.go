// Package guard owns the shared system_guard record: the trading_enabled flag,
// the monotonic cooldown and the loop error counter.
package guard

import (
	"context"
	"errors"
	"time"

	"github.com/wonny/aegis-trader/internal/contracts"
)

// ErrVersionConflict is returned when a concurrent writer won every retry
var ErrVersionConflict = errors.New("guard version conflict")

// Store is the guard persistence contract.
// Readers must call Get for every decision; state is never cached across a tick.
type Store interface {
	Get(ctx context.Context) (*contracts.GuardState, error)

	// Disable sets trading_enabled=false. Cooldown is untouched.
	Disable(ctx context.Context, reason string) (*contracts.GuardState, error)

	// ExtendCooldown sets cooldown_until = max(existing, until).
	ExtendCooldown(ctx context.Context, until time.Time, reason string) (*contracts.GuardState, error)

	// Enable re-enables trading and resets error_count.
	// Refused with contracts.ErrGuardBlocked while now < cooldown_until.
	Enable(ctx context.Context, now time.Time) (*contracts.GuardState, error)

	// IncrementErrors bumps error_count by one.
	IncrementErrors(ctx context.Context) error
}

// mutation computes the next state from the current one. Returning an error aborts.
type mutation func(cur contracts.GuardState) (contracts.GuardState, error)

func disable(reason string) mutation {
	return func(cur contracts.GuardState) (contracts.GuardState, error) {
		cur.TradingEnabled = false
		cur.Reason = reason
		return cur, nil
	}
}

func extendCooldown(until time.Time, reason string) mutation {
	return func(cur contracts.GuardState) (contracts.GuardState, error) {
		next := contracts.ExtendCooldown(cur.CooldownUntil, until)
		cur.CooldownUntil = &next
		if reason != "" {
			cur.Reason = reason
		}
		return cur, nil
	}
}

func enable(now time.Time) mutation {
	return func(cur contracts.GuardState) (contracts.GuardState, error) {
		if cur.InCooldown(now) {
			return cur, contracts.ErrGuardBlocked
		}
		cur.TradingEnabled = true
		cur.ErrorCount = 0
		cur.Reason = ""
		return cur, nil
	}
}

func incrementErrors(cur contracts.GuardState) (contracts.GuardState, error) {
	cur.ErrorCount++
	return cur, nil
}
