package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/aegis-trader/internal/contracts"
)

// Check re-reads the guard and returns ErrGuardBlocked with the reason when
// new orders are not allowed at now.
func Check(ctx context.Context, store Store, now time.Time) (*contracts.GuardState, error) {
	state, err := store.Get(ctx)
	if err != nil {
		return nil, err
	}
	if reason := state.BlockReason(now); reason != "" {
		return state, fmt.Errorf("%w: %s", contracts.ErrGuardBlocked, reason)
	}
	return state, nil
}

// IsInCooldown re-reads the guard on every call
func IsInCooldown(ctx context.Context, store Store, now time.Time) (bool, error) {
	state, err := store.Get(ctx)
	if err != nil {
		return false, err
	}
	return state.InCooldown(now), nil
}
