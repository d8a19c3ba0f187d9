package guard

import (
	"context"
	"sync"
	"time"

	"github.com/wonny/aegis-trader/internal/contracts"
)

// MemoryStore is an in-process Store for tests and dry runs without a database
type MemoryStore struct {
	mu    sync.Mutex
	state contracts.GuardState
}

// NewMemoryStore returns a store with trading enabled and no cooldown
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: contracts.GuardState{TradingEnabled: true, UpdatedAt: time.Now()}}
}

// Get returns a copy of the current state
func (s *MemoryStore) Get(_ context.Context) (*contracts.GuardState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), nil
}

func (s *MemoryStore) Disable(_ context.Context, reason string) (*contracts.GuardState, error) {
	return s.apply(disable(reason))
}

func (s *MemoryStore) ExtendCooldown(_ context.Context, until time.Time, reason string) (*contracts.GuardState, error) {
	return s.apply(extendCooldown(until, reason))
}

func (s *MemoryStore) Enable(_ context.Context, now time.Time) (*contracts.GuardState, error) {
	return s.apply(enable(now))
}

func (s *MemoryStore) IncrementErrors(_ context.Context) error {
	_, err := s.apply(incrementErrors)
	return err
}

func (s *MemoryStore) apply(m mutation) (*contracts.GuardState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := m(s.state)
	if err != nil {
		return s.snapshot(), err
	}
	next.Version = s.state.Version + 1
	next.UpdatedAt = time.Now()
	s.state = next
	return s.snapshot(), nil
}

func (s *MemoryStore) snapshot() *contracts.GuardState {
	g := s.state
	if g.CooldownUntil != nil {
		until := *g.CooldownUntil
		g.CooldownUntil = &until
	}
	return &g
}
