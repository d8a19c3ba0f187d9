package contracts

import "time"

// GuardState is the single shared system_guard row
// ⭐ SSOT: 프로세스 간 공유되는 유일한 가변 상태
type GuardState struct {
	TradingEnabled bool       `json:"trading_enabled"`
	CooldownUntil  *time.Time `json:"cooldown_until,omitempty"`
	ErrorCount     int        `json:"error_count"`
	Reason         string     `json:"reason,omitempty"`
	Version        int64      `json:"version"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// InCooldown reports whether now is before the cooldown end
func (g *GuardState) InCooldown(now time.Time) bool {
	return g.CooldownUntil != nil && now.Before(*g.CooldownUntil)
}

// BlockReason returns why new orders are blocked, or "" when they are allowed
func (g *GuardState) BlockReason(now time.Time) string {
	if !g.TradingEnabled {
		if g.Reason != "" {
			return "trading disabled: " + g.Reason
		}
		return "trading disabled"
	}
	if g.InCooldown(now) {
		return "in cooldown until " + g.CooldownUntil.Format(time.RFC3339)
	}
	return ""
}

// ExtendCooldown returns the later of the existing cooldown end and proposed.
// A cooldown is never shortened.
func ExtendCooldown(existing *time.Time, proposed time.Time) time.Time {
	if existing != nil && existing.After(proposed) {
		return *existing
	}
	return proposed
}
