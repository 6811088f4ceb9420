package probe_scheduler

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	_const "github.com/TimeWtr/probe_scheduler/const"
)

var ErrInvalidJob = errors.New("invalid job")

// Job 一个可调度的测量任务
// 任务由注册表独占持有，调度器只在单次调度内读取其快照
type Job struct {
	// Key 任务的唯一标识
	Key string
	// Type 测量类型，决定执行时长
	Type _const.MeasurementType
	// UserName 提交任务的用户，轮询策略按用户分组
	UserName string
	// Target 测量目标，HTTP为URL，其余为主机名或IP
	Target   string
	Priority _const.Priority
	Params   map[string]string
	// StartTime EndTime 任务的有效窗口，EndTime为零值表示无限期
	StartTime time.Time
	EndTime   time.Time
	// RecurrenceInterval 周期任务的间隔，零值表示一次性任务
	RecurrenceInterval time.Duration
	// LastExecutedAt 最近一次下发的时间
	LastExecutedAt time.Time
	Status         _const.JobStatus
	// Cycle 已重置的次数
	Cycle     int
	CreatedAt time.Time
}

func (j *Job) IsRecurring() bool {
	return j.RecurrenceInterval > 0
}

// NextOccurrence 周期任务的下一次执行时间，一次性任务或从未下发过的任务返回零值
func (j *Job) NextOccurrence() time.Time {
	if !j.IsRecurring() || j.LastExecutedAt.IsZero() {
		return time.Time{}
	}
	return j.LastExecutedAt.Add(j.RecurrenceInterval)
}

// IsRemovable 判断任务是否可以从注册表移除
// 条件（满足其一）：
// 1. 当前时间已经超过EndTime；
// 2. 一次性任务已经下发；
// 3. 周期任务的下一次执行时间落在EndTime之后。
func (j *Job) IsRemovable(now time.Time) bool {
	if !j.EndTime.IsZero() && now.After(j.EndTime) {
		return true
	}

	if j.LastExecutedAt.IsZero() {
		return false
	}

	if !j.IsRecurring() {
		return j.Status == _const.JobStatusDispatched
	}

	return !j.EndTime.IsZero() && j.NextOccurrence().After(j.EndTime)
}

// IsResettable 周期任务到达下一次执行时间
func (j *Job) IsResettable(now time.Time) bool {
	next := j.NextOccurrence()
	if next.IsZero() {
		return false
	}
	return !now.Before(next)
}

// Reset 进入下一个周期：LastExecutedAt 按整数个周期向前推进，
// 直到下一次执行时间晚于now，任务重新等待调度
func (j *Job) Reset(now time.Time) {
	j.Status = _const.JobStatusWaiting
	j.Cycle++
	if !j.IsRecurring() {
		return
	}

	if j.LastExecutedAt.IsZero() {
		j.LastExecutedAt = now
		return
	}

	elapsed := now.Sub(j.LastExecutedAt)
	if elapsed < j.RecurrenceInterval {
		return
	}
	steps := elapsed / j.RecurrenceInterval
	j.LastExecutedAt = j.LastExecutedAt.Add(steps * j.RecurrenceInterval)
}

// Eligible 任务在now时刻是否可以参与调度
func (j *Job) Eligible(now time.Time) bool {
	if j.Status == _const.JobStatusDispatched {
		return false
	}
	if !j.StartTime.IsZero() && now.Before(j.StartTime) {
		return false
	}
	return j.EndTime.IsZero() || !now.After(j.EndTime)
}

// MarkDispatched 记录本周期的下发时间
func (j *Job) MarkDispatched(at time.Time) {
	j.LastExecutedAt = at
	j.Status = _const.JobStatusDispatched
}

func (j *Job) Validate() error {
	if strings.TrimSpace(j.Key) == "" {
		return fmt.Errorf("%w: key required", ErrInvalidJob)
	}
	if !j.Type.Valid() {
		return fmt.Errorf("%w: unknown measurement type %q", ErrInvalidJob, j.Type)
	}
	if j.RecurrenceInterval < 0 {
		return fmt.Errorf("%w: negative recurrence interval", ErrInvalidJob)
	}
	if !j.StartTime.IsZero() && !j.EndTime.IsZero() && j.EndTime.Before(j.StartTime) {
		return fmt.Errorf("%w: end time before start time", ErrInvalidJob)
	}
	return nil
}

func (j *Job) Clone() *Job {
	cp := *j
	cp.Params = maps.Clone(j.Params)
	return &cp
}

func cloneJobs(jobs []*Job) []*Job {
	res := make([]*Job, 0, len(jobs))
	for _, job := range jobs {
		res = append(res, job.Clone())
	}
	return res
}
