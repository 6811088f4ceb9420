package probe_scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	_const "github.com/TimeWtr/probe_scheduler/const"
	"github.com/robfig/cron/v3"
)

var ErrPersistence = errors.New("persist job failed")

// JobPersister 持久化协作方，按任务Key幂等地更新或插入
type JobPersister interface {
	UpsertJob(ctx context.Context, job *Job) error
}

type TrackerOption func(t *JobTracker)

// WithTrackerSpec 维护任务的执行节奏，支持cron表达式和 @every 描述
func WithTrackerSpec(spec string) TrackerOption {
	return func(t *JobTracker) {
		t.spec = spec
	}
}

func WithInitialDelay(delay time.Duration) TrackerOption {
	return func(t *JobTracker) {
		t.initialDelay = delay
	}
}

// WithPersistTimeout 单个任务持久化的超时时间
func WithPersistTimeout(timeout time.Duration) TrackerOption {
	return func(t *JobTracker) {
		t.persistTimeout = timeout
	}
}

func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *JobTracker) {
		t.now = now
	}
}

// TrackReport 一次维护的结果
type TrackReport struct {
	At        time.Time
	Removed   []string
	Reset     []string
	Failed    []string
	Remaining int
}

// JobTracker 周期性地维护注册表：删除已结束的任务，重置到期的周期任务并持久化
type JobTracker struct {
	registry  *JobRegistry
	persister JobPersister
	logger    Logger
	now       func() time.Time

	spec           string
	initialDelay   time.Duration
	persistTimeout time.Duration

	mu    sync.Mutex
	c     *cron.Cron
	delay *time.Timer
}

func NewJobTracker(registry *JobRegistry, persister JobPersister, logger Logger, opts ...TrackerOption) *JobTracker {
	t := &JobTracker{
		registry:       registry,
		persister:      persister,
		logger:         logger,
		now:            time.Now,
		spec:           _const.DefaultTrackerSpec,
		initialDelay:   _const.DefaultTrackerInitialDelay,
		persistTimeout: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.logger == nil {
		t.logger = NewNopLogger()
	}

	return t
}

// Track 执行一次维护
// 整个过程持有注册表写锁，分两个阶段：先只读遍历收集待删除和待重置的任务，再统一修改。
// 单个任务持久化失败只记录日志，不会中断本次维护。
func (t *JobTracker) Track(ctx context.Context) (TrackReport, error) {
	var report TrackReport
	err := t.registry.WithWriteLock(ctx, func(l *JobList) error {
		t.logger.Info("job tracking is being performed")
		now := t.now()
		report.At = now

		removable := make(map[string]struct{})
		var resettable []*Job
		for _, job := range l.Jobs() {
			if job.IsRemovable(now) {
				removable[job.Key] = struct{}{}
				report.Removed = append(report.Removed, job.Key)
				continue
			}
			if job.IsResettable(now) {
				resettable = append(resettable, job)
			}
		}

		l.RemoveKeys(removable)
		for _, key := range report.Removed {
			t.logger.Info("job removed", String("key", key))
		}

		for _, job := range resettable {
			job.Reset(now)
			report.Reset = append(report.Reset, job.Key)
			if err := t.persist(ctx, job); err != nil {
				report.Failed = append(report.Failed, job.Key)
				t.logger.Error("failed to persist reset job", String("key", job.Key), Error(err))
				continue
			}
			t.logger.Info("job reset", String("key", job.Key), Int("cycle", job.Cycle))
		}

		report.Remaining = l.Len()
		return nil
	})
	if err != nil {
		t.logger.Error("job tracking skipped", Error(err))
		return report, err
	}

	t.logger.Info("job tracker has finished", Int("remaining", report.Remaining))
	return report, nil
}

func (t *JobTracker) persist(ctx context.Context, job *Job) error {
	if t.persister == nil {
		return nil
	}

	lctx := ctx
	if t.persistTimeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, t.persistTimeout)
		defer cancel()
	}

	if err := t.persister.UpsertJob(lctx, job.Clone()); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// Start 延迟 initialDelay 后按节奏执行维护，上一次未结束时跳过本次触发
func (t *JobTracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c != nil {
		return nil
	}

	sched, err := _const.Parser.Parse(t.spec)
	if err != nil {
		return fmt.Errorf("parse tracker spec %q: %w", t.spec, err)
	}

	logger := CronLogger(t.logger)
	c := cron.New(
		cron.WithParser(_const.Parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(sched, cron.FuncJob(func() {
		_, _ = t.Track(ctx)
	}))

	t.c = c
	t.delay = time.AfterFunc(t.initialDelay, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		// Stop 之后不再启动
		if t.c == c {
			c.Start()
		}
	})

	t.logger.Info("job tracker started", String("spec", t.spec),
		Field{Key: "initialDelay", Val: t.initialDelay})
	return nil
}

// Stop 停止触发并等待正在执行的维护结束
func (t *JobTracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	c, delay := t.c, t.delay
	t.c, t.delay = nil, nil
	t.mu.Unlock()

	if delay != nil {
		delay.Stop()
	}
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		t.logger.Info("job tracker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
