package signals

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/internal/contracts"
)

// MemoryQueue is an in-process signal queue for tests and dry runs
type MemoryQueue struct {
	mu       sync.Mutex
	nextID   int64
	signals  map[int64]*contracts.Signal
	consumes map[int64]int // id → MarkConsumed 호출 횟수
}

// NewMemoryQueue creates an empty queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{signals: make(map[int64]*contracts.Signal), consumes: make(map[int64]int)}
}

// Add enqueues a signal and assigns its id when missing
func (q *MemoryQueue) Add(s *contracts.Signal) *contracts.Signal {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s.ID == 0 {
		q.nextID++
		s.ID = q.nextID
	} else if s.ID > q.nextID {
		q.nextID = s.ID
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	cp := *s
	q.signals[s.ID] = &cp
	return s
}

// Insert enqueues a signal like Repository.Insert
func (q *MemoryQueue) Insert(_ context.Context, s *contracts.Signal) error {
	q.Add(s)
	return nil
}

func (q *MemoryQueue) FetchUnconsumed(_ context.Context, market contracts.Market, minConfidence decimal.Decimal) ([]*contracts.Signal, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*contracts.Signal, 0)
	for _, s := range q.signals {
		if s.Market != market || s.IsConsumed() || s.Confidence.LessThan(minConfidence) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	contracts.SortSignals(out)
	return out, nil
}

func (q *MemoryQueue) MarkConsumed(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.consumes[id]++
	s, ok := q.signals[id]
	if !ok {
		return fmt.Errorf("%w: signal %d", contracts.ErrNotFound, id)
	}
	if s.IsConsumed() {
		return fmt.Errorf("%w: signal %d", contracts.ErrAlreadyConsumed, id)
	}
	now := time.Now()
	s.ConsumedAt = &now
	return nil
}

// ConsumeCalls returns how many times MarkConsumed was called for id
func (q *MemoryQueue) ConsumeCalls(id int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.consumes[id]
}

// Get returns a copy of a signal
func (q *MemoryQueue) Get(id int64) (contracts.Signal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.signals[id]
	if !ok {
		return contracts.Signal{}, false
	}
	return *s, true
}
