package audit

import (
	"context"
	"sync"
	"time"

	"github.com/wonny/aegis-trader/internal/contracts"
)

// MemoryStore is an in-process ACEStore and RiskEventStore for tests and dry runs
type MemoryStore struct {
	mu     sync.Mutex
	aces   []*contracts.ACELog
	events []*contracts.RiskEvent
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) InsertACE(_ context.Context, log *contracts.ACELog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *log
	s.aces = append(s.aces, &cp)
	return nil
}

func (s *MemoryStore) SetExecution(_ context.Context, id string, exec contracts.ACEExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.aces {
		if a.ID != id {
			continue
		}
		if a.Execution != nil {
			return ErrExecutionAlreadySet
		}
		a.Execution = &exec
		return nil
	}
	return contracts.ErrNotFound
}

func (s *MemoryStore) SetOutcome(_ context.Context, id string, outcome contracts.ACEOutcome, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.aces {
		if a.ID != id {
			continue
		}
		if a.Outcome != nil {
			return contracts.ErrOutcomeAlreadySet
		}
		a.Outcome = &outcome
		a.ClosedAt = &closedAt
		return nil
	}
	return contracts.ErrNotFound
}

func (s *MemoryStore) FindOpenEntries(_ context.Context, broker contracts.Broker, symbol string) ([]*contracts.ACELog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*contracts.ACELog, 0)
	for _, a := range s.aces {
		if a.Broker != broker || a.Symbol != symbol || a.Outcome != nil {
			continue
		}
		if a.Execution == nil || a.Execution.Status != contracts.OrderSuccess {
			continue
		}
		if a.Aspiration.SignalType != contracts.SignalBuy {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) InsertRiskEvent(_ context.Context, event *contracts.RiskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *event
	cp.ID = int64(len(s.events) + 1)
	event.ID = cp.ID
	s.events = append(s.events, &cp)
	return nil
}

// ACELogs returns a snapshot of all ACE records
func (s *MemoryStore) ACELogs() []contracts.ACELog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contracts.ACELog, 0, len(s.aces))
	for _, a := range s.aces {
		out = append(out, *a)
	}
	return out
}

// RiskEvents returns a snapshot of all risk events
func (s *MemoryStore) RiskEvents() []contracts.RiskEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contracts.RiskEvent, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, *e)
	}
	return out
}

// EventsOfType counts risk events with the given type
func (s *MemoryStore) EventsOfType(eventType string) int {
	n := 0
	for _, e := range s.RiskEvents() {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// RecentRiskEvents returns the newest events first
func (s *MemoryStore) RecentRiskEvents(_ context.Context, limit int) ([]*contracts.RiskEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*contracts.RiskEvent, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.events[i]
		out = append(out, &cp)
	}
	return out, nil
}
