package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/internal/trading"
	"github.com/wonny/aegis-trader/pkg/logger"
)

// ExitWatchJob enqueues stop-loss / take-profit SELL signals for one market
type ExitWatchJob struct {
	monitor  *trading.ExitMonitor
	market   contracts.Market
	interval time.Duration
	logger   *logger.Logger
}

// NewExitWatchJob creates an exit watch job
func NewExitWatchJob(m *trading.ExitMonitor, market contracts.Market, interval time.Duration, log *logger.Logger) *ExitWatchJob {
	return &ExitWatchJob{
		monitor:  m,
		market:   market,
		interval: interval,
		logger:   log,
	}
}

// Name returns the job name
func (j *ExitWatchJob) Name() string {
	return "exit_watch_" + strings.ToLower(string(j.market))
}

// Schedule returns the cron schedule
func (j *ExitWatchJob) Schedule() string {
	return fmt.Sprintf("@every %s", j.interval)
}

// Run scans positions once. Enqueued signals are executed by the market loop.
func (j *ExitWatchJob) Run(ctx context.Context) error {
	exits, err := j.monitor.Scan(ctx, j.market)
	if len(exits) > 0 {
		j.logger.WithFields(map[string]interface{}{
			"market": j.market,
			"count":  len(exits),
		}).Info("Exit signals enqueued")
	}
	if err != nil {
		return fmt.Errorf("exit watch %s: %w", j.market, err)
	}
	return nil
}
