package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-trader/pkg/logger"
)

type countingJob struct {
	name     string
	failures int
	calls    int
	panics   bool
}

func (j *countingJob) Name() string     { return j.name }
func (j *countingJob) Schedule() string { return "@every 1m" }

func (j *countingJob) Run(context.Context) error {
	j.calls++
	if j.panics {
		panic("boom")
	}
	if j.calls <= j.failures {
		return errors.New("temporary")
	}
	return nil
}

type retryingJob struct {
	countingJob
}

func (j *retryingJob) MaxRetries() int { return 2 }

func newTestScheduler(t *testing.T) (*Scheduler, *[]time.Duration) {
	t.Helper()
	s := New(logger.NewNop())
	var sleeps []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return s, &sleeps
}

// runNow runs job on the calling goroutine the way the cron callback does
func runNow(s *Scheduler, job Job) {
	s.wg.Add(1)
	s.runJob(job)
}

type slowJob struct {
	done atomic.Bool
}

func (j *slowJob) Name() string     { return "slow" }
func (j *slowJob) Schedule() string { return "@every 1h" }

func (j *slowJob) Run(context.Context) error {
	time.Sleep(50 * time.Millisecond)
	j.done.Store(true)
	return nil
}

func TestScheduler_StopWaitsForManualRun(t *testing.T) {
	s, _ := newTestScheduler(t)
	job := &slowJob{}
	require.NoError(t, s.AddJob(job))

	require.NoError(t, s.RunJob(job.Name()))
	s.Stop()

	assert.True(t, job.done.Load())
}

func TestScheduler_NoRetryByDefault(t *testing.T) {
	s, sleeps := newTestScheduler(t)
	job := &countingJob{name: "market_loop_crypto", failures: 1}
	require.NoError(t, s.AddJob(job))

	runNow(s, job)

	assert.Equal(t, 1, job.calls)
	assert.Empty(t, *sleeps)
	history, err := s.GetJobHistory(job.Name())
	require.NoError(t, err)
	require.Len(t, history.Results, 1)
	assert.False(t, history.Results[0].Success)
	assert.Equal(t, "temporary", history.Results[0].Error)
}

func TestScheduler_RetryableBacksOff(t *testing.T) {
	s, sleeps := newTestScheduler(t)
	job := &retryingJob{countingJob{name: "position_reconcile", failures: 2}}
	require.NoError(t, s.AddJob(job))

	runNow(s, job)

	assert.Equal(t, 3, job.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
	stats := s.GetJobStats()[job.Name()]
	assert.Equal(t, 1, stats.SuccessCount)
	assert.Equal(t, "@every 1m", stats.Schedule)
}

func TestScheduler_PanicIsContained(t *testing.T) {
	s, _ := newTestScheduler(t)
	job := &countingJob{name: "circuit_breaker", panics: true}
	require.NoError(t, s.AddJob(job))

	assert.NotPanics(t, func() { runNow(s, job) })

	history, err := s.GetJobHistory(job.Name())
	require.NoError(t, err)
	require.Len(t, history.Results, 1)
	assert.Contains(t, history.Results[0].Error, "panicked")
}

func TestScheduler_DuplicateAndRemove(t *testing.T) {
	s, _ := newTestScheduler(t)
	job := &countingJob{name: "cooldown_watch"}
	require.NoError(t, s.AddJob(job))
	assert.Error(t, s.AddJob(job))

	require.NoError(t, s.RemoveJob(job.Name()))
	assert.Empty(t, s.GetAllJobs())
	assert.Error(t, s.RemoveJob(job.Name()))
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s, _ := newTestScheduler(t)
	err := s.AddJob(&badScheduleJob{})
	assert.Error(t, err)
}

type badScheduleJob struct{}

func (badScheduleJob) Name() string              { return "bad" }
func (badScheduleJob) Schedule() string          { return "not a schedule" }
func (badScheduleJob) Run(context.Context) error { return nil }
