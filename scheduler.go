package probe_scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	_const "github.com/TimeWtr/probe_scheduler/const"
	"github.com/robfig/cron/v3"
)

type Scheduler interface {
	// Scheduler 开启周期调度，阻塞直到ctx结束
	Scheduler(ctx context.Context) error
	// RunPass 执行一轮调度并下发
	RunPass(ctx context.Context) (Plan, error)
	// Submit 提交新任务
	Submit(ctx context.Context, job *Job) error
	// Jobs 当前注册表中的任务，typ为空时返回全部
	Jobs(ctx context.Context, typ _const.MeasurementType) ([]*Job, error)
	Job(ctx context.Context, key string) (*Job, error)
	Remove(ctx context.Context, key string) error
}

// DeviceProvider 提供本轮可用的设备列表，顺序即设备槽位顺序
type DeviceProvider interface {
	Devices(ctx context.Context) ([]string, error)
}

// StaticDevices 配置文件中的固定设备列表
type StaticDevices []string

func (d StaticDevices) Devices(_ context.Context) ([]string, error) {
	res := make([]string, len(d))
	copy(res, d)
	return res, nil
}

// JobDeleter 持久化层可选实现，删除任务时同步删除存储
type JobDeleter interface {
	DeleteJob(ctx context.Context, key string) error
}

type Options func(core *SchedulerCore)

// WithPassSpec 调度的执行节奏
func WithPassSpec(spec string) Options {
	return func(c *SchedulerCore) {
		c.spec = spec
	}
}

func WithConflictRule(rule ConflictRule) Options {
	return func(c *SchedulerCore) {
		c.rule = rule
	}
}

func WithDispatcher(d *Dispatcher) Options {
	return func(c *SchedulerCore) {
		c.dispatcher = d
	}
}

func WithPersister(p JobPersister) Options {
	return func(c *SchedulerCore) {
		c.persister = p
	}
}

func WithSchedulerPersistTimeout(timeout time.Duration) Options {
	return func(c *SchedulerCore) {
		c.persistTimeout = timeout
	}
}

type SchedulerCore struct {
	logger Logger
	// 任务注册表
	registry *JobRegistry
	// 调度算法
	algorithm *SchedulingAlgorithm
	// 设备
	devices DeviceProvider
	// 冲突规则，nil时使用默认规则
	rule ConflictRule
	// 下发，nil时只生成调度结果
	dispatcher *Dispatcher
	// 持久化，nil时不持久化
	persister      JobPersister
	persistTimeout time.Duration
	spec           string
}

func NewSchedulerCore(
	registry *JobRegistry,
	algorithm *SchedulingAlgorithm,
	devices DeviceProvider,
	logger Logger,
	opts ...Options) Scheduler {
	scheduler := &SchedulerCore{
		registry:       registry,
		algorithm:      algorithm,
		devices:        devices,
		logger:         logger,
		spec:           _const.DefaultSchedulePassSpec,
		persistTimeout: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(scheduler)
	}

	if scheduler.logger == nil {
		scheduler.logger = NewNopLogger()
	}
	if scheduler.rule == nil {
		scheduler.rule = DefaultConflictRule
	}

	return scheduler
}

func (s *SchedulerCore) Scheduler(ctx context.Context) error {
	sched, err := _const.Parser.Parse(s.spec)
	if err != nil {
		return fmt.Errorf("parse pass spec %q: %w", s.spec, err)
	}

	logger := CronLogger(s.logger)
	c := cron.New(
		cron.WithParser(_const.Parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(sched, cron.FuncJob(func() {
		if _, err1 := s.RunPass(ctx); err1 != nil {
			s.logger.Error("scheduling pass failed", Error(err1))
		}
	}))

	c.Start()
	s.logger.Info("scheduler started", String("spec", s.spec))

	<-ctx.Done()
	<-c.Stop().Done()
	if s.dispatcher != nil {
		s.dispatcher.Close()
	}
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

// RunPass 持锁完成快照、调度和标记下发，释放锁之后再持久化和下发
func (s *SchedulerCore) RunPass(ctx context.Context) (Plan, error) {
	devices, err := s.devices.Devices(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("load devices: %w", err)
	}

	var (
		plan       Plan
		snapshot   map[string]*Job
		dispatched []*Job
	)
	err = s.registry.WithWriteLock(ctx, func(l *JobList) error {
		jobs := cloneJobs(l.Jobs())
		p, err1 := s.algorithm.Run(jobs, s.rule, devices)
		if err1 != nil {
			return err1
		}

		snapshot = make(map[string]*Job, p.Len())
		for _, job := range l.Jobs() {
			a, ok := p.Assignment(job.Key)
			if !ok {
				continue
			}
			job.MarkDispatched(a.DispatchTime)
			cp := job.Clone()
			snapshot[job.Key] = cp
			dispatched = append(dispatched, cp)
		}
		plan = p
		return nil
	})
	if err != nil {
		return Plan{}, err
	}

	for _, r := range plan.Rejected {
		s.logger.Warn("job rejected", String("key", r.JobKey), Error(r.Err))
	}
	for _, job := range dispatched {
		if err1 := s.persist(ctx, job); err1 != nil {
			s.logger.Error("failed to persist dispatched job", String("key", job.Key), Error(err1))
		}
	}

	s.logger.Info("scheduling pass finished",
		Int("assigned", plan.Len()),
		Int("rejected", len(plan.Rejected)),
		Int("devices", len(devices)))

	if s.dispatcher != nil && plan.Len() > 0 {
		s.dispatcher.Dispatch(ctx, plan, snapshot)
	}
	return plan, nil
}

// Submit 持锁先持久化再加入注册表，持久化失败的任务不会被调度
func (s *SchedulerCore) Submit(ctx context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	err := s.registry.WithWriteLock(ctx, func(l *JobList) error {
		if l.Find(job.Key) >= 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateJobKey, job.Key)
		}
		if err := s.persist(ctx, job); err != nil {
			return err
		}
		return l.Append(job.Clone())
	})
	if err != nil {
		return err
	}

	s.logger.Info("job submitted",
		String("key", job.Key),
		String("type", job.Type.String()),
		String("user", job.UserName))
	return nil
}

func (s *SchedulerCore) Jobs(ctx context.Context, typ _const.MeasurementType) ([]*Job, error) {
	jobs, err := s.registry.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if typ == "" {
		return jobs, nil
	}

	res := make([]*Job, 0, len(jobs))
	for _, job := range jobs {
		if job.Type == typ {
			res = append(res, job)
		}
	}
	return res, nil
}

func (s *SchedulerCore) Job(ctx context.Context, key string) (*Job, error) {
	return s.registry.Get(ctx, key)
}

func (s *SchedulerCore) Remove(ctx context.Context, key string) error {
	if err := s.registry.Remove(ctx, key); err != nil {
		return err
	}

	deleter, ok := s.persister.(JobDeleter)
	if !ok {
		return nil
	}
	lctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()
	if err := deleter.DeleteJob(lctx, key); err != nil && !errors.Is(err, ErrJobNotFound) {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func (s *SchedulerCore) persist(ctx context.Context, job *Job) error {
	if s.persister == nil {
		return nil
	}

	lctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()
	if err := s.persister.UpsertJob(lctx, job); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}
