package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wonny/aegis-trader/internal/trading"
	"github.com/wonny/aegis-trader/pkg/logger"
)

// MarketLoopJob ticks one market's signal loop
// ⭐ SSOT: 마켓별 독립 타이머. 재시도 없음 (주문 경로)
type MarketLoopJob struct {
	loop     *trading.MarketLoop
	interval time.Duration
	logger   *logger.Logger
}

// NewMarketLoopJob creates a job ticking loop every interval
func NewMarketLoopJob(loop *trading.MarketLoop, interval time.Duration, log *logger.Logger) *MarketLoopJob {
	return &MarketLoopJob{
		loop:     loop,
		interval: interval,
		logger:   log,
	}
}

// Name returns the job name
func (j *MarketLoopJob) Name() string {
	return "market_loop_" + strings.ToLower(string(j.loop.Market()))
}

// Schedule returns the cron schedule
func (j *MarketLoopJob) Schedule() string {
	return fmt.Sprintf("@every %s", j.interval)
}

// Run executes one tick
func (j *MarketLoopJob) Run(ctx context.Context) error {
	result, err := j.loop.Tick(ctx)
	if err != nil {
		return fmt.Errorf("market loop %s: %w", j.loop.Market(), err)
	}
	if result.Errors > 0 {
		j.logger.WithFields(map[string]interface{}{
			"market": result.Market,
			"errors": result.Errors,
		}).Warn("Market loop tick finished with signal errors")
	}
	return nil
}
