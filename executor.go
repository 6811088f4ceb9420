package probe_scheduler

import (
	"context"
	"sync"
	"time"

	_const "github.com/TimeWtr/probe_scheduler/const"
	"golang.org/x/sync/semaphore"
)

// DeviceClient 把测量任务下发到设备的客户端
type DeviceClient interface {
	// Name 客户端名称
	Name() string
	// Dispatch 在指定设备上启动任务
	Dispatch(ctx context.Context, deviceID string, job *Job) error
}

type DispatcherOption func(d *Dispatcher)

// WithDispatchLimiter 同时进行的下发请求数量
func WithDispatchLimiter(limiter int64) DispatcherOption {
	return func(d *Dispatcher) {
		d.limiter = semaphore.NewWeighted(limiter)
	}
}

// WithRetry 下发失败后的重试间隔和次数
func WithRetry(interval time.Duration, maxCount int) DispatcherOption {
	return func(d *Dispatcher) {
		d.retry = func() RetryStrategy {
			return NewFixedRetryStrategy(interval, maxCount)
		}
	}
}

func WithCallTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.callTimeout = timeout
	}
}

func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// Dispatcher 按调度结果在下发时间把任务交给设备
type Dispatcher struct {
	client      DeviceClient
	logger      Logger
	limiter     *semaphore.Weighted
	retry       func() RetryStrategy
	callTimeout time.Duration
	now         func() time.Time

	// life 下发goroutine的生命周期，Close 时取消
	life   context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(client DeviceClient, logger Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		client:      client,
		logger:      logger,
		callTimeout: 10 * time.Second,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.logger == nil {
		d.logger = NewNopLogger()
	}
	if d.limiter == nil {
		d.limiter = semaphore.NewWeighted(_const.DefaultLimiter)
	}
	if d.retry == nil {
		d.retry = func() RetryStrategy {
			return NewFixedRetryStrategy(time.Second, 3)
		}
	}
	d.life, d.cancel = context.WithCancel(context.Background())

	return d
}

// Dispatch 为每个分配启动一个等待下发时间的goroutine，立即返回
// jobs 是调度时的任务快照，按Key索引
// ctx 或者 Dispatcher 任意一个结束，尚未下发的任务都会放弃
func (d *Dispatcher) Dispatch(ctx context.Context, plan Plan, jobs map[string]*Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("dispatcher closed, plan dropped", Int("assignments", plan.Len()))
		return
	}

	for _, a := range plan.Ordered() {
		job, ok := jobs[a.JobKey]
		if !ok {
			d.logger.Warn("assignment without job", String("key", a.JobKey))
			continue
		}

		dctx, cancel := context.WithCancel(ctx)
		stop := context.AfterFunc(d.life, cancel)
		d.wg.Add(1)
		go func(a Assignment, job *Job) {
			defer d.wg.Done()
			defer stop()
			defer cancel()
			d.dispatchOne(dctx, a, job)
		}(a, job)
	}
}

// Wait 等待所有已经开始的下发结束
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close 放弃所有还在等待下发时间的任务，等待正在进行的调用返回
// Close 之后 Dispatch 不再接受新的调度结果
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) dispatchOne(ctx context.Context, a Assignment, job *Job) {
	if !sleep(ctx, a.DispatchTime.Sub(d.now())) {
		d.logger.Warn("dispatch abandoned", String("key", a.JobKey), String("device", a.DeviceID))
		return
	}

	if err := d.limiter.Acquire(ctx, 1); err != nil {
		return
	}
	defer d.limiter.Release(1)

	strategy := d.retry()
	for {
		lctx, cancel := context.WithTimeout(ctx, d.callTimeout)
		err := d.client.Dispatch(lctx, a.DeviceID, job)
		cancel()
		if err == nil {
			d.logger.Info("job dispatched",
				String("key", a.JobKey),
				String("device", a.DeviceID),
				String("client", d.client.Name()))
			return
		}

		interval, serr := strategy.Next()
		if serr != nil {
			d.logger.Error("failed to dispatch job",
				String("key", a.JobKey),
				String("device", a.DeviceID),
				Error(err))
			return
		}

		d.logger.Warn("dispatch failed, retrying",
			String("key", a.JobKey),
			String("device", a.DeviceID),
			Error(err))
		if !sleep(ctx, interval) {
			return
		}
	}
}

// sleep 等待d，ctx结束时返回false
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// LogDeviceClient 只记录日志的下发客户端，未配置设备地址时使用
type LogDeviceClient struct {
	logger Logger
}

func NewLogDeviceClient(logger Logger) *LogDeviceClient {
	return &LogDeviceClient{logger: logger}
}

func (c *LogDeviceClient) Name() string {
	return "log"
}

func (c *LogDeviceClient) Dispatch(_ context.Context, deviceID string, job *Job) error {
	c.logger.Info("measurement dispatched",
		String("device", deviceID),
		String("key", job.Key),
		String("type", job.Type.String()),
		String("target", job.Target))
	return nil
}
