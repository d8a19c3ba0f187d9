package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/wonny/aegis-trader/internal/guard"
	"github.com/wonny/aegis-trader/internal/notify"
	"github.com/wonny/aegis-trader/pkg/logger"
)

// CooldownWatchJob tells the operator when a breaker cooldown has expired.
// Trading stays disabled until someone runs `quant guard enable`.
type CooldownWatchJob struct {
	guard    guard.Store
	notifier notify.Notifier
	logger   *logger.Logger
	now      func() time.Time

	mu          sync.Mutex
	wasInWindow bool
}

// NewCooldownWatchJob creates a new cooldown watch job
func NewCooldownWatchJob(store guard.Store, notifier notify.Notifier, log *logger.Logger) *CooldownWatchJob {
	return &CooldownWatchJob{
		guard:    store,
		notifier: notifier,
		logger:   log,
		now:      time.Now,
	}
}

// Name returns the job name
func (j *CooldownWatchJob) Name() string {
	return "cooldown_watch"
}

// Schedule returns the cron schedule (every minute)
func (j *CooldownWatchJob) Schedule() string {
	return "0 * * * * *"
}

// Run notifies once per cooldown window, on the first run after it ends
func (j *CooldownWatchJob) Run(ctx context.Context) error {
	state, err := j.guard.Get(ctx)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	inWindow := state.InCooldown(j.now())
	expired := j.wasInWindow && !inWindow
	j.wasInWindow = inWindow
	if !expired || state.TradingEnabled {
		return nil
	}

	j.logger.Info("Cooldown expired, trading still disabled")
	return j.notifier.Send(ctx, notify.Event{
		Level:   notify.LevelWarning,
		Title:   "Cooldown expired",
		Message: "Trading remains disabled until re-enabled with `quant guard enable`.",
		Fields:  map[string]string{"reason": state.Reason},
		At:      j.now(),
	})
}
