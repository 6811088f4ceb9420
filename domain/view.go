package domain

import (
	"time"

	probe "github.com/TimeWtr/probe_scheduler"
)

// JobView 任务的对外展示
type JobView struct {
	Key            string            `json:"key"`
	Type           string            `json:"type"`
	UserName       string            `json:"userName,omitempty"`
	Target         string            `json:"target"`
	Priority       string            `json:"priority"`
	Parameters     map[string]string `json:"parameters,omitempty"`
	StartTime      time.Time         `json:"startTime"`
	EndTime        *time.Time        `json:"endTime,omitempty"`
	IntervalSec    int64             `json:"intervalSec"`
	LastExecutedAt *time.Time        `json:"lastExecutedAt,omitempty"`
	Status         string            `json:"status"`
	Cycle          int               `json:"cycle"`
	CreatedAt      time.Time         `json:"createdAt"`
}

func FromJob(job *probe.Job) JobView {
	return JobView{
		Key:            job.Key,
		Type:           job.Type.String(),
		UserName:       job.UserName,
		Target:         job.Target,
		Priority:       job.Priority.String(),
		Parameters:     job.Params,
		StartTime:      job.StartTime,
		EndTime:        optionalTime(job.EndTime),
		IntervalSec:    int64(job.RecurrenceInterval / time.Second),
		LastExecutedAt: optionalTime(job.LastExecutedAt),
		Status:         job.Status.String(),
		Cycle:          job.Cycle,
		CreatedAt:      job.CreatedAt,
	}
}

func FromJobs(jobs []*probe.Job) []JobView {
	res := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		res = append(res, FromJob(job))
	}
	return res
}

// AssignmentView 一次调度中单个任务的分配
type AssignmentView struct {
	Key          string    `json:"key"`
	Type         string    `json:"type"`
	Device       string    `json:"device"`
	DispatchTime time.Time `json:"dispatchTime"`
	CompleteTime time.Time `json:"completeTime"`
}

type RejectionView struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

type PlanView struct {
	GeneratedAt time.Time        `json:"generatedAt"`
	Assignments []AssignmentView `json:"assignments"`
	Rejected    []RejectionView  `json:"rejected,omitempty"`
}

func FromPlan(plan probe.Plan) PlanView {
	res := PlanView{
		GeneratedAt: plan.GeneratedAt,
		Assignments: make([]AssignmentView, 0, plan.Len()),
	}
	for _, a := range plan.Ordered() {
		res.Assignments = append(res.Assignments, AssignmentView{
			Key:          a.JobKey,
			Type:         a.Type.String(),
			Device:       a.DeviceID,
			DispatchTime: a.DispatchTime,
			CompleteTime: a.CompletionTime(),
		})
	}
	for _, r := range plan.Rejected {
		res.Rejected = append(res.Rejected, RejectionView{Key: r.JobKey, Reason: r.Err.Error()})
	}
	return res
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
