package probe_scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	_const "github.com/TimeWtr/probe_scheduler/const"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestTracker(t *testing.T, r *JobRegistry, p JobPersister, now time.Time, opts ...TrackerOption) *JobTracker {
	opts = append([]TrackerOption{WithTrackerClock(fixedClock(now))}, opts...)
	return NewJobTracker(r, p, NewZapLogger(zaptest.NewLogger(t)), opts...)
}

func loadRegistry(t *testing.T, jobs ...*Job) *JobRegistry {
	r := NewJobRegistry()
	require.NoError(t, r.Load(context.Background(), jobs))
	return r
}

func TestJobTrackerNoop(t *testing.T) {
	ctx := context.Background()
	waiting := newTestJob("waiting", _const.PING, "a.example.com")
	recurring := newTestJob("recurring", _const.DNS, "b.example.com")
	recurring.RecurrenceInterval = 5 * time.Minute
	recurring.MarkDispatched(t0.Add(-time.Minute))

	r := loadRegistry(t, waiting, recurring)
	before, err := r.Snapshot(ctx)
	require.NoError(t, err)

	p := newFakePersister()
	report, err := newTestTracker(t, r, p, t0).Track(ctx)
	require.NoError(t, err)

	after, err := r.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, report.Removed)
	assert.Empty(t, report.Reset)
	assert.Equal(t, 2, report.Remaining)
	assert.Empty(t, p.upserted())
}

func TestJobTrackerRemovesAdjacentJobs(t *testing.T) {
	ctx := context.Background()
	ended := func(key string) *Job {
		j := newTestJob(key, _const.PING, key+".example.com")
		j.EndTime = t0.Add(-time.Second)
		return j
	}
	dispatched := newTestJob("r3", _const.DNS, "r3.example.com")
	dispatched.MarkDispatched(t0.Add(-time.Minute))

	r := loadRegistry(t,
		newTestJob("keep1", _const.PING, "k1.example.com"),
		ended("r1"),
		ended("r2"),
		dispatched,
		newTestJob("keep2", _const.PING, "k2.example.com"),
		ended("r4"),
	)

	report, err := newTestTracker(t, r, newFakePersister(), t0).Track(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2", "r3", "r4"}, report.Removed)
	assert.Equal(t, 2, report.Remaining)

	jobs, err := r.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep1", "keep2"}, keysOf(jobs))
}

func TestJobTrackerResetsRecurringJob(t *testing.T) {
	ctx := context.Background()
	job := newTestJob("recurring", _const.PING, "a.example.com")
	job.RecurrenceInterval = 5 * time.Minute
	job.MarkDispatched(t0)
	require.True(t, job.IsResettable(t0.Add(5*time.Minute)))

	r := loadRegistry(t, job)
	p := newFakePersister()
	report, err := newTestTracker(t, r, p, t0.Add(5*time.Minute)).Track(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"recurring"}, report.Reset)

	upserts := p.upserted()
	require.Len(t, upserts, 1)
	assert.Equal(t, "recurring", upserts[0].Key)
	assert.Equal(t, t0.Add(5*time.Minute), upserts[0].LastExecutedAt)
	assert.Equal(t, _const.JobStatusWaiting, upserts[0].Status)

	got, err := r.Get(ctx, "recurring")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(5*time.Minute), got.LastExecutedAt)
	assert.Equal(t, 1, got.Cycle)
}

func TestJobTrackerContinuesAfterPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	recurring := func(key string) *Job {
		j := newTestJob(key, _const.PING, key+".example.com")
		j.RecurrenceInterval = time.Minute
		j.MarkDispatched(t0.Add(-time.Minute))
		return j
	}

	r := loadRegistry(t, recurring("first"), recurring("second"))
	p := newFakePersister()
	p.setFail("first", errors.New("db down"))

	report, err := newTestTracker(t, r, p, t0).Track(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, report.Reset)
	assert.Equal(t, []string{"first"}, report.Failed)
	assert.Len(t, p.upserted(), 2)

	// 持久化失败的任务保留重置后的状态
	got, err := r.Get(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, _const.JobStatusWaiting, got.Status)
	assert.Equal(t, t0, got.LastExecutedAt)
}

func TestJobTrackerRemovedJobNotScheduled(t *testing.T) {
	ctx := context.Background()
	expired := newTestJob("expired", _const.PING, "a.example.com")
	expired.EndTime = t0.Add(-time.Minute)
	live := newTestJob("live", _const.PING, "b.example.com")

	r := loadRegistry(t, expired, live)
	_, err := newTestTracker(t, r, nil, t0).Track(ctx)
	require.NoError(t, err)

	core := NewSchedulerCore(r, newTestAlgorithm(), StaticDevices{"d1"}, nil)
	for i := 0; i < 2; i++ {
		plan, err := core.RunPass(ctx)
		require.NoError(t, err)
		_, ok := plan.Assignment("expired")
		assert.False(t, ok)
		for _, rej := range plan.Rejected {
			assert.NotEqual(t, "expired", rej.JobKey)
		}
	}
}

func TestJobTrackerLockTimeout(t *testing.T) {
	ctx := context.Background()
	r := NewJobRegistry(WithLockTimeout(10 * time.Millisecond))

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = r.WithWriteLock(ctx, func(l *JobList) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	_, err := newTestTracker(t, r, nil, t0).Track(ctx)
	assert.ErrorIs(t, err, ErrLockAcquisition)
}

func TestJobTrackerStartStop(t *testing.T) {
	ctx := context.Background()
	expired := newTestJob("expired", _const.PING, "a.example.com")
	expired.EndTime = t0.Add(-time.Minute)
	r := loadRegistry(t, expired)

	// cron 的后台goroutine在测试结束后仍可能输出日志
	tracker := NewJobTracker(r, nil, NewNopLogger(),
		WithTrackerClock(fixedClock(t0)),
		WithTrackerSpec("@every 1s"),
		WithInitialDelay(0))
	require.NoError(t, tracker.Start(ctx))
	// 重复启动无副作用
	require.NoError(t, tracker.Start(ctx))

	require.Eventually(t, func() bool {
		jobs, err := r.Snapshot(ctx)
		return err == nil && len(jobs) == 0
	}, 5*time.Second, 50*time.Millisecond)

	sctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, tracker.Stop(sctx))
	require.NoError(t, tracker.Stop(sctx))
}

func TestJobTrackerStopBeforeInitialDelay(t *testing.T) {
	ctx := context.Background()
	expired := newTestJob("expired", _const.PING, "a.example.com")
	expired.EndTime = t0.Add(-time.Minute)
	r := loadRegistry(t, expired)

	tracker := newTestTracker(t, r, nil, t0, WithInitialDelay(time.Hour))
	require.NoError(t, tracker.Start(ctx))
	require.NoError(t, tracker.Stop(ctx))

	jobs, err := r.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestJobTrackerInvalidSpec(t *testing.T) {
	tracker := newTestTracker(t, NewJobRegistry(), nil, t0, WithTrackerSpec("every now and then"))
	assert.Error(t, tracker.Start(context.Background()))
}
