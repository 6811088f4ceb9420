package probe_scheduler

import (
	"fmt"
	"sort"
	"time"

	_const "github.com/TimeWtr/probe_scheduler/const"
)

// Preprocessor 调度前的定制点，决定本轮哪些任务参与调度以及它们的先后顺序
// 返回的顺序必须确定，且不能改变同等优先级任务的相对顺序
type Preprocessor interface {
	Preprocess(now time.Time, jobs []*Job, graph ConflictMatrix, devices []string) []*Job
}

type PreprocessorFunc func(now time.Time, jobs []*Job, graph ConflictMatrix, devices []string) []*Job

func (f PreprocessorFunc) Preprocess(now time.Time, jobs []*Job, graph ConflictMatrix, devices []string) []*Job {
	return f(now, jobs, graph, devices)
}

func NewPreprocessor(kind _const.PolicyKind) (Preprocessor, error) {
	switch kind {
	case _const.EarliestStartPolicy:
		return EarliestStartPolicy{}, nil
	case _const.RoundRobinPolicy:
		return RoundRobinPolicy{}, nil
	case _const.PriorityPolicy:
		return PriorityPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown policy kind %d", kind)
	}
}

// EarliestStartPolicy 开始时间早的任务优先
type EarliestStartPolicy struct{}

func (EarliestStartPolicy) Preprocess(now time.Time, jobs []*Job, _ ConflictMatrix, _ []string) []*Job {
	res := eligibleJobs(now, jobs)
	sortByStartTime(res)
	return res
}

// RoundRobinPolicy 按用户轮询，每一轮每个用户取一个任务
// 用户的顺序为其最早任务出现的顺序，同一用户内按开始时间排序
type RoundRobinPolicy struct{}

func (RoundRobinPolicy) Preprocess(now time.Time, jobs []*Job, _ ConflictMatrix, _ []string) []*Job {
	ordered := eligibleJobs(now, jobs)
	sortByStartTime(ordered)

	users := make([]string, 0)
	byUser := make(map[string][]*Job)
	for _, job := range ordered {
		if _, ok := byUser[job.UserName]; !ok {
			users = append(users, job.UserName)
		}
		byUser[job.UserName] = append(byUser[job.UserName], job)
	}

	res := make([]*Job, 0, len(ordered))
	for round := 0; len(res) < len(ordered); round++ {
		for _, user := range users {
			queue := byUser[user]
			if round < len(queue) {
				res = append(res, queue[round])
			}
		}
	}
	return res
}

// PriorityPolicy 高优先级优先，同优先级按提交时间先后
type PriorityPolicy struct{}

func (PriorityPolicy) Preprocess(now time.Time, jobs []*Job, _ ConflictMatrix, _ []string) []*Job {
	res := eligibleJobs(now, jobs)
	sort.SliceStable(res, func(i, j int) bool {
		pi, pj := effectivePriority(res[i].Priority), effectivePriority(res[j].Priority)
		if pi != pj {
			return pi.Less(pj)
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res
}

func effectivePriority(p _const.Priority) _const.Priority {
	if p == 0 {
		return _const.PriorityMedium
	}
	return p
}

func eligibleJobs(now time.Time, jobs []*Job) []*Job {
	res := make([]*Job, 0, len(jobs))
	for _, job := range jobs {
		if job.Eligible(now) {
			res = append(res, job)
		}
	}
	return res
}

func sortByStartTime(jobs []*Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].StartTime.Before(jobs[j].StartTime)
	})
}
