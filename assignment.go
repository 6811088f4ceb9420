package probe_scheduler

import (
	"errors"
	"sort"
	"time"

	_const "github.com/TimeWtr/probe_scheduler/const"
)

var (
	ErrUnschedulableJob = errors.New("unschedulable job")
	ErrUnknownDuration  = errors.New("unknown execution duration")
)

// Assignment 单个任务在本轮调度中的分配结果，创建后不可修改
type Assignment struct {
	JobKey       string
	Type         _const.MeasurementType
	DispatchTime time.Time
	DeviceID     string
	// Slot 设备在设备池中的位置
	Slot     int
	Duration time.Duration
}

// CompletionTime 任务预计完成的时间
func (a Assignment) CompletionTime() time.Time {
	return a.DispatchTime.Add(a.Duration)
}

// Overlaps 两个分配的执行区间 [dispatch, completion) 是否重叠
func (a Assignment) Overlaps(b Assignment) bool {
	return a.DispatchTime.Before(b.CompletionTime()) && b.DispatchTime.Before(a.CompletionTime())
}

// Rejection 本轮无法调度的任务，不影响其他任务
type Rejection struct {
	JobKey string
	Err    error
}

// Plan 一轮调度的结果
type Plan struct {
	GeneratedAt time.Time
	Assignments map[string]Assignment
	Rejected    []Rejection
}

func newPlan(now time.Time, size int) Plan {
	return Plan{
		GeneratedAt: now,
		Assignments: make(map[string]Assignment, size),
	}
}

func (p *Plan) reject(key string, err error) {
	p.Rejected = append(p.Rejected, Rejection{JobKey: key, Err: err})
}

func (p Plan) Len() int {
	return len(p.Assignments)
}

func (p Plan) Assignment(key string) (Assignment, bool) {
	a, ok := p.Assignments[key]
	return a, ok
}

// Ordered 按下发时间排序，同一时间按设备位置排序
func (p Plan) Ordered() []Assignment {
	res := make([]Assignment, 0, len(p.Assignments))
	for _, a := range p.Assignments {
		res = append(res, a)
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].DispatchTime.Equal(res[j].DispatchTime) {
			return res[i].DispatchTime.Before(res[j].DispatchTime)
		}
		return res[i].Slot < res[j].Slot
	})
	return res
}
