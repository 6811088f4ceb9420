package probe_scheduler

import (
	"context"
	"sync"
	"time"

	_const "github.com/TimeWtr/probe_scheduler/const"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// newTestJob 在t0之前一小时开始、无结束时间的一次性任务
func newTestJob(key string, typ _const.MeasurementType, target string) *Job {
	return &Job{
		Key:       key,
		Type:      typ,
		UserName:  "alice",
		Target:    target,
		StartTime: t0.Add(-time.Hour),
		Status:    _const.JobStatusWaiting,
		CreatedAt: t0.Add(-time.Hour),
	}
}

type fakePersister struct {
	mu      sync.Mutex
	upserts []*Job
	deletes []string
	fail    map[string]error
}

func newFakePersister() *fakePersister {
	return &fakePersister{fail: map[string]error{}}
}

func (f *fakePersister) UpsertJob(_ context.Context, job *Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, job.Clone())
	return f.fail[job.Key]
}

func (f *fakePersister) DeleteJob(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, key)
	return f.fail[key]
}

func (f *fakePersister) upserted() []*Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Job(nil), f.upserts...)
}

func (f *fakePersister) setFail(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[key] = err
}
