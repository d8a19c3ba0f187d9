package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/internal/trading"
	"github.com/wonny/aegis-trader/pkg/logger"
)

// ReconcileJob syncs local positions with broker holdings
type ReconcileJob struct {
	reconciler *trading.Reconciler
	brokers    []contracts.Broker
	interval   time.Duration
	logger     *logger.Logger
}

// NewReconcileJob creates a new reconcile job
func NewReconcileJob(r *trading.Reconciler, brokers []contracts.Broker, interval time.Duration, log *logger.Logger) *ReconcileJob {
	return &ReconcileJob{
		reconciler: r,
		brokers:    brokers,
		interval:   interval,
		logger:     log,
	}
}

// Name returns the job name
func (j *ReconcileJob) Name() string {
	return "position_reconcile"
}

// Schedule returns the cron schedule
func (j *ReconcileJob) Schedule() string {
	return fmt.Sprintf("@every %s", j.interval)
}

// MaxRetries: 읽기 + 덮어쓰기만 하므로 재시도 안전
func (j *ReconcileJob) MaxRetries() int {
	return 2
}

// Run reconciles every broker
func (j *ReconcileJob) Run(ctx context.Context) error {
	var errs []error
	for _, b := range j.brokers {
		report, err := j.reconciler.Reconcile(ctx, b)
		if err != nil {
			errs = append(errs, fmt.Errorf("reconcile %s: %w", b, err))
			continue
		}
		if len(report.Mismatches) > 0 {
			j.logger.WithFields(map[string]interface{}{
				"broker":     b,
				"mismatches": len(report.Mismatches),
			}).Warn("Positions replaced from broker")
		}
	}
	return errors.Join(errs...)
}
