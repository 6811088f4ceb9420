package domain

import (
	"encoding/json"
	"testing"
	"time"

	probe "github.com/TimeWtr/probe_scheduler"
	_const "github.com/TimeWtr/probe_scheduler/const"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const httpRequest = `{
  "requestType": "SCHEDULE_MEASUREMENT",
  "userName": "alice",
  "jobDescription": {
    "measurementDescription": {
      "type": "http",
      "key": "http-1",
      "startTime": "2024-05-01T13:00:00Z",
      "endTime": "2024-05-02T13:00:00Z",
      "intervalSec": 300,
      "priority": "high",
      "parameters": {"url": "https://example.com/index.html", "method": "GET"}
    }
  }
}`

func decode(t *testing.T, raw string) ScheduleRequest {
	var req ScheduleRequest
	require.NoError(t, json.Unmarshal([]byte(raw), &req))
	return req
}

func TestScheduleRequestToJob(t *testing.T) {
	req := decode(t, httpRequest)
	require.NoError(t, req.Validate())
	assert.Equal(t, "https://example.com/index.html", req.TargetKey())

	job := req.ToJob(now)
	require.NoError(t, job.Validate())
	assert.Equal(t, "http-1", job.Key)
	assert.Equal(t, _const.HTTP, job.Type)
	assert.Equal(t, "alice", job.UserName)
	assert.Equal(t, "https://example.com/index.html", job.Target)
	assert.Equal(t, _const.PriorityHigh, job.Priority)
	assert.Equal(t, 5*time.Minute, job.RecurrenceInterval)
	assert.Equal(t, now.Add(time.Hour), job.StartTime)
	assert.Equal(t, now.Add(25*time.Hour), job.EndTime)
	assert.Equal(t, _const.JobStatusWaiting, job.Status)
	assert.Equal(t, now, job.CreatedAt)
	assert.Equal(t, "GET", job.Params["method"])
}

func TestScheduleRequestDefaults(t *testing.T) {
	req := ScheduleRequest{
		RequestType: _const.ScheduleMeasurementRequest,
		UserName:    "bob",
		JobDescription: JobDescription{MeasurementDescription: MeasurementDescription{
			Type:       "ping",
			Parameters: map[string]string{"target": "8.8.8.8"},
		}},
	}
	require.NoError(t, req.Validate())

	a := req.ToJob(now)
	b := req.ToJob(now)
	assert.NotEmpty(t, a.Key)
	assert.NotEqual(t, a.Key, b.Key)
	assert.Equal(t, now, a.StartTime)
	assert.True(t, a.EndTime.IsZero())
	assert.False(t, a.IsRecurring())
	assert.Equal(t, _const.PriorityMedium, a.Priority)
	assert.Equal(t, "8.8.8.8", a.Target)
}

func TestScheduleRequestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(r *ScheduleRequest)
		want   error
	}{
		{
			name:   "other request type",
			mutate: func(r *ScheduleRequest) { r.RequestType = "CANCEL_MEASUREMENT" },
			want:   ErrUnsupportedRequest,
		},
		{
			name:   "unknown type",
			mutate: func(r *ScheduleRequest) { r.JobDescription.MeasurementDescription.Type = "udp" },
			want:   ErrInvalidRequest,
		},
		{
			name:   "unknown priority",
			mutate: func(r *ScheduleRequest) { r.JobDescription.MeasurementDescription.Priority = "urgent" },
			want:   ErrInvalidRequest,
		},
		{
			name:   "negative interval",
			mutate: func(r *ScheduleRequest) { r.JobDescription.MeasurementDescription.IntervalSec = -1 },
			want:   ErrInvalidRequest,
		},
		{
			name: "end before start",
			mutate: func(r *ScheduleRequest) {
				end := r.JobDescription.MeasurementDescription.StartTime.Add(-time.Minute)
				r.JobDescription.MeasurementDescription.EndTime = &end
			},
			want: ErrInvalidRequest,
		},
		{
			name: "http without url",
			mutate: func(r *ScheduleRequest) {
				r.JobDescription.MeasurementDescription.Parameters = map[string]string{"target": "example.com"}
			},
			want: ErrInvalidRequest,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := decode(t, httpRequest)
			tc.mutate(&req)
			assert.ErrorIs(t, req.Validate(), tc.want)
		})
	}
}

func TestFromJobAndPlan(t *testing.T) {
	req := decode(t, httpRequest)
	job := req.ToJob(now)
	view := FromJob(job)
	assert.Equal(t, "HTTP", view.Type)
	assert.Equal(t, "High", view.Priority)
	assert.Equal(t, int64(300), view.IntervalSec)
	assert.Nil(t, view.LastExecutedAt)
	require.NotNil(t, view.EndTime)

	plan := probe.Plan{
		GeneratedAt: now,
		Assignments: map[string]probe.Assignment{
			"b": {JobKey: "b", Type: _const.PING, DispatchTime: now.Add(time.Minute), DeviceID: "d1", Duration: time.Minute},
			"a": {JobKey: "a", Type: _const.DNS, DispatchTime: now, DeviceID: "d1", Duration: time.Minute},
		},
		Rejected: []probe.Rejection{{JobKey: "c", Err: probe.ErrUnschedulableJob}},
	}
	pv := FromPlan(plan)
	require.Len(t, pv.Assignments, 2)
	assert.Equal(t, "a", pv.Assignments[0].Key)
	assert.Equal(t, now.Add(time.Minute), pv.Assignments[0].CompleteTime)
	require.Len(t, pv.Rejected, 1)
	assert.Equal(t, "c", pv.Rejected[0].Key)
}
