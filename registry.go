package probe_scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	ErrLockAcquisition = errors.New("registry lock acquisition failed")
	ErrJobNotFound     = errors.New("job not found")
)

type RegistryOption func(r *JobRegistry)

// WithLockTimeout 获取写锁的最长等待时间，0表示只受调用方ctx限制
func WithLockTimeout(timeout time.Duration) RegistryOption {
	return func(r *JobRegistry) {
		r.lockTimeout = timeout
	}
}

// JobRegistry 当前活跃的任务列表
// 只有一把互斥锁，不区分读写：读取快照同样需要持锁，避免看到修改了一半的列表
type JobRegistry struct {
	sem         *semaphore.Weighted
	lockTimeout time.Duration
	jobs        []*Job
}

func NewJobRegistry(opts ...RegistryOption) *JobRegistry {
	r := &JobRegistry{
		sem: semaphore.NewWeighted(1),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// WithWriteLock 持锁执行fn，fn返回或panic后一定释放锁
func (r *JobRegistry) WithWriteLock(ctx context.Context, fn func(l *JobList) error) error {
	lctx := ctx
	if r.lockTimeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, r.lockTimeout)
		defer cancel()
	}

	if err := r.sem.Acquire(lctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrLockAcquisition, err)
	}
	defer r.sem.Release(1)

	return fn(&JobList{r: r})
}

// Submit 加入新任务，Key重复时拒绝
// 注册表保存的是副本，调用方之后对job的修改不会影响注册表
func (r *JobRegistry) Submit(ctx context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	return r.WithWriteLock(ctx, func(l *JobList) error {
		return l.Append(job.Clone())
	})
}

// Load 启动时从持久化恢复任务，单个任务失败不影响其他任务
func (r *JobRegistry) Load(ctx context.Context, jobs []*Job) error {
	return r.WithWriteLock(ctx, func(l *JobList) error {
		var errs []error
		for _, job := range jobs {
			if err := job.Validate(); err != nil {
				errs = append(errs, err)
				continue
			}
			if err := l.Append(job.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// Snapshot 返回所有任务的副本
func (r *JobRegistry) Snapshot(ctx context.Context) ([]*Job, error) {
	var res []*Job
	err := r.WithWriteLock(ctx, func(l *JobList) error {
		res = cloneJobs(l.Jobs())
		return nil
	})
	return res, err
}

func (r *JobRegistry) Get(ctx context.Context, key string) (*Job, error) {
	var res *Job
	err := r.WithWriteLock(ctx, func(l *JobList) error {
		i := l.Find(key)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrJobNotFound, key)
		}
		res = l.At(i).Clone()
		return nil
	})
	return res, err
}

func (r *JobRegistry) Remove(ctx context.Context, key string) error {
	return r.WithWriteLock(ctx, func(l *JobList) error {
		if l.RemoveKeys(map[string]struct{}{key: {}}) == 0 {
			return fmt.Errorf("%w: %s", ErrJobNotFound, key)
		}
		return nil
	})
}

// JobList 持有写锁期间对注册表的视图，只能在 WithWriteLock 的回调内使用
type JobList struct {
	r *JobRegistry
}

func (l *JobList) Len() int {
	return len(l.r.jobs)
}

func (l *JobList) At(i int) *Job {
	return l.r.jobs[i]
}

// Jobs 注册表中的任务本身，不是副本
func (l *JobList) Jobs() []*Job {
	return l.r.jobs
}

func (l *JobList) Find(key string) int {
	for i, job := range l.r.jobs {
		if job.Key == key {
			return i
		}
	}
	return -1
}

func (l *JobList) Append(job *Job) error {
	if l.Find(job.Key) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateJobKey, job.Key)
	}
	l.r.jobs = append(l.r.jobs, job)
	return nil
}

// RemoveKeys 一次过滤删除所有给定Key的任务，保持剩余任务的顺序，返回删除的数量
func (l *JobList) RemoveKeys(keys map[string]struct{}) int {
	if len(keys) == 0 {
		return 0
	}

	n := 0
	for _, job := range l.r.jobs {
		if _, ok := keys[job.Key]; ok {
			continue
		}
		l.r.jobs[n] = job
		n++
	}
	removed := len(l.r.jobs) - n
	for i := n; i < len(l.r.jobs); i++ {
		l.r.jobs[i] = nil
	}
	l.r.jobs = l.r.jobs[:n]
	return removed
}
