package contracts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtendCooldownNeverShortens(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	later := now.Add(90 * time.Minute)

	assert.Equal(t, now.Add(time.Hour), ExtendCooldown(nil, now.Add(time.Hour)))
	assert.Equal(t, later, ExtendCooldown(&later, now.Add(time.Hour)))

	earlier := now.Add(-time.Hour)
	assert.Equal(t, now.Add(time.Hour), ExtendCooldown(&earlier, now.Add(time.Hour)))
}

func TestGuardBlockReason(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	until := now.Add(30 * time.Minute)

	assert.Empty(t, (&GuardState{TradingEnabled: true}).BlockReason(now))
	assert.Equal(t, "trading disabled: breaker", (&GuardState{Reason: "breaker"}).BlockReason(now))
	assert.Contains(t, (&GuardState{TradingEnabled: true, CooldownUntil: &until}).BlockReason(now), "in cooldown")

	g := &GuardState{TradingEnabled: true, CooldownUntil: &until}
	assert.False(t, g.InCooldown(until), "cooldown expires at its end instant")
}
