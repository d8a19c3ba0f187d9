package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wonny/aegis-trader/internal/breaker"
	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/pkg/logger"
)

// BreakerJob runs the circuit breaker check for every broker
type BreakerJob struct {
	breaker  *breaker.Breaker
	brokers  []contracts.Broker
	interval time.Duration
	logger   *logger.Logger
}

// NewBreakerJob creates a new breaker job
func NewBreakerJob(b *breaker.Breaker, brokers []contracts.Broker, interval time.Duration, log *logger.Logger) *BreakerJob {
	return &BreakerJob{
		breaker:  b,
		brokers:  brokers,
		interval: interval,
		logger:   log,
	}
}

// Name returns the job name
func (j *BreakerJob) Name() string {
	return "circuit_breaker"
}

// Schedule returns the cron schedule
func (j *BreakerJob) Schedule() string {
	return fmt.Sprintf("@every %s", j.interval)
}

// Run checks each broker independently; one broker's failure does not skip the others
func (j *BreakerJob) Run(ctx context.Context) error {
	var errs []error
	for _, b := range j.brokers {
		status, err := j.breaker.Check(ctx, b)
		if err != nil {
			errs = append(errs, fmt.Errorf("breaker %s: %w", b, err))
		}
		if status != nil && status.Tripped {
			j.logger.WithFields(map[string]interface{}{
				"broker": b,
				"reason": status.Reason,
			}).Warn("Circuit breaker tripped by scheduled check")
		}
	}
	return errors.Join(errs...)
}
