package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	probe "github.com/TimeWtr/probe_scheduler"
	_const "github.com/TimeWtr/probe_scheduler/const"
	"github.com/TimeWtr/probe_scheduler/repository/dao"
)

// JobRepository 领域层的任务存储，负责 Job 与表记录之间的转换
type JobRepository interface {
	UpsertJob(ctx context.Context, job *probe.Job) error
	// LoadJobs 启动时恢复注册表
	LoadJobs(ctx context.Context) ([]*probe.Job, error)
	ListByType(ctx context.Context, typ _const.MeasurementType) ([]*probe.Job, error)
	DeleteJob(ctx context.Context, key string) error
}

type jobRepository struct {
	dao dao.JobDAO
	now func() time.Time
}

func NewJobRepository(d dao.JobDAO) JobRepository {
	return &jobRepository{dao: d, now: time.Now}
}

func (r *jobRepository) UpsertJob(ctx context.Context, job *probe.Job) error {
	row, err := toEntity(job, r.now())
	if err != nil {
		return err
	}
	return r.dao.Upsert(ctx, row)
}

func (r *jobRepository) LoadJobs(ctx context.Context) ([]*probe.Job, error) {
	rows, err := r.dao.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return toDomains(rows)
}

func (r *jobRepository) ListByType(ctx context.Context, typ _const.MeasurementType) ([]*probe.Job, error) {
	rows, err := r.dao.FindByType(ctx, typ.String())
	if err != nil {
		return nil, err
	}
	return toDomains(rows)
}

func (r *jobRepository) DeleteJob(ctx context.Context, key string) error {
	err := r.dao.Delete(ctx, key)
	if errors.Is(err, dao.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", probe.ErrJobNotFound, key)
	}
	return err
}

func toEntity(job *probe.Job, now time.Time) (dao.MeasurementJob, error) {
	params := []byte("{}")
	if len(job.Params) > 0 {
		var err error
		params, err = json.Marshal(job.Params)
		if err != nil {
			return dao.MeasurementJob{}, fmt.Errorf("encode params of %s: %w", job.Key, err)
		}
	}

	created := job.CreatedAt
	if created.IsZero() {
		created = now
	}

	return dao.MeasurementJob{
		JobKey:         job.Key,
		Type:           job.Type.String(),
		UserName:       job.UserName,
		Target:         job.Target,
		Priority:       int(job.Priority),
		Params:         string(params),
		StartTime:      toMillis(job.StartTime),
		EndTime:        toMillis(job.EndTime),
		IntervalMs:     job.RecurrenceInterval.Milliseconds(),
		LastExecutedAt: toMillis(job.LastExecutedAt),
		Status:         int(job.Status),
		Cycle:          job.Cycle,
		CreatedTime:    toMillis(created),
		UpdatedTime:    toMillis(now),
	}, nil
}

func toDomain(row dao.MeasurementJob) (*probe.Job, error) {
	var params map[string]string
	if row.Params != "" && row.Params != "{}" {
		if err := json.Unmarshal([]byte(row.Params), &params); err != nil {
			return nil, fmt.Errorf("decode params of %s: %w", row.JobKey, err)
		}
	}

	return &probe.Job{
		Key:                row.JobKey,
		Type:               _const.MeasurementType(row.Type),
		UserName:           row.UserName,
		Target:             row.Target,
		Priority:           _const.Priority(row.Priority),
		Params:             params,
		StartTime:          fromMillis(row.StartTime),
		EndTime:            fromMillis(row.EndTime),
		RecurrenceInterval: time.Duration(row.IntervalMs) * time.Millisecond,
		LastExecutedAt:     fromMillis(row.LastExecutedAt),
		Status:             _const.JobStatus(row.Status),
		Cycle:              row.Cycle,
		CreatedAt:          fromMillis(row.CreatedTime),
	}, nil
}

func toDomains(rows []dao.MeasurementJob) ([]*probe.Job, error) {
	res := make([]*probe.Job, 0, len(rows))
	var errs []error
	for _, row := range rows {
		job, err := toDomain(row)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res = append(res, job)
	}
	return res, errors.Join(errs...)
}

// toMillis 零值时间存为0
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
