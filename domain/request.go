package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	probe "github.com/TimeWtr/probe_scheduler"
	_const "github.com/TimeWtr/probe_scheduler/const"
	"github.com/google/uuid"
)

var (
	ErrUnsupportedRequest = errors.New("unsupported request type")
	ErrInvalidRequest     = errors.New("invalid schedule request")
)

// ScheduleRequest 客户端提交的调度请求
type ScheduleRequest struct {
	RequestType    string         `json:"requestType"`
	UserName       string         `json:"userName"`
	JobDescription JobDescription `json:"jobDescription"`
}

type JobDescription struct {
	MeasurementDescription MeasurementDescription `json:"measurementDescription"`
}

type MeasurementDescription struct {
	Type string `json:"type"`
	// Key 为空时自动生成
	Key       string     `json:"key,omitempty"`
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	// IntervalSec 周期任务的间隔秒数，0为一次性任务
	IntervalSec int64             `json:"intervalSec,omitempty"`
	Priority    string            `json:"priority,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

func (r *ScheduleRequest) Validate() error {
	if r.RequestType != _const.ScheduleMeasurementRequest {
		return fmt.Errorf("%w: %q", ErrUnsupportedRequest, r.RequestType)
	}

	d := r.JobDescription.MeasurementDescription
	typ, ok := _const.ParseMeasurementType(d.Type)
	if !ok {
		return fmt.Errorf("%w: unknown measurement type %q", ErrInvalidRequest, d.Type)
	}
	if _, ok = _const.ParsePriority(d.Priority); !ok {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, d.Priority)
	}
	if d.IntervalSec < 0 {
		return fmt.Errorf("%w: negative interval", ErrInvalidRequest)
	}
	if d.StartTime != nil && d.EndTime != nil && d.EndTime.Before(*d.StartTime) {
		return fmt.Errorf("%w: end time before start time", ErrInvalidRequest)
	}
	if targetKey(typ, d.Parameters) == "" {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, targetParam(typ))
	}
	return nil
}

// TargetKey 测量目标，HTTP取url参数，其余取target参数
func (r *ScheduleRequest) TargetKey() string {
	d := r.JobDescription.MeasurementDescription
	typ, _ := _const.ParseMeasurementType(d.Type)
	return targetKey(typ, d.Parameters)
}

// ToJob 转换为待调度的任务，调用前需要先 Validate
func (r *ScheduleRequest) ToJob(now time.Time) *probe.Job {
	d := r.JobDescription.MeasurementDescription
	typ, _ := _const.ParseMeasurementType(d.Type)
	priority, _ := _const.ParsePriority(d.Priority)

	key := strings.TrimSpace(d.Key)
	if key == "" {
		key = uuid.NewString()
	}

	job := &probe.Job{
		Key:                key,
		Type:               typ,
		UserName:           r.UserName,
		Target:             targetKey(typ, d.Parameters),
		Priority:           priority,
		Params:             d.Parameters,
		StartTime:          now,
		RecurrenceInterval: time.Duration(d.IntervalSec) * time.Second,
		Status:             _const.JobStatusWaiting,
		CreatedAt:          now,
	}
	if d.StartTime != nil {
		job.StartTime = *d.StartTime
	}
	if d.EndTime != nil {
		job.EndTime = *d.EndTime
	}
	return job.Clone()
}

func targetParam(typ _const.MeasurementType) string {
	if typ == _const.HTTP {
		return "url"
	}
	return "target"
}

func targetKey(typ _const.MeasurementType, params map[string]string) string {
	return strings.TrimSpace(params[targetParam(typ)])
}
