package probe_scheduler

import (
	"errors"
	"fmt"
	"maps"
	"time"

	_const "github.com/TimeWtr/probe_scheduler/const"
)

var (
	ErrDuplicateDevice = errors.New("duplicate device")
	ErrNoDevices       = errors.New("no devices available")
)

// DurationTable 测量类型到预计执行时长的静态配置
type DurationTable interface {
	DurationFor(t _const.MeasurementType) (time.Duration, bool)
}

type ExecutionTimes map[_const.MeasurementType]time.Duration

func (e ExecutionTimes) DurationFor(t _const.MeasurementType) (time.Duration, bool) {
	d, ok := e[t]
	return d, ok && d > 0
}

func DefaultExecutionTimes() ExecutionTimes {
	return maps.Clone(_const.DefaultExecutionTimes)
}

type AlgorithmOption func(a *SchedulingAlgorithm)

func WithDurations(table DurationTable) AlgorithmOption {
	return func(a *SchedulingAlgorithm) {
		a.durations = table
	}
}

// WithClock 替换调度的起始时间来源，测试中用于固定种子时间
func WithClock(now func() time.Time) AlgorithmOption {
	return func(a *SchedulingAlgorithm) {
		a.now = now
	}
}

func WithAlgorithmLogger(logger Logger) AlgorithmOption {
	return func(a *SchedulingAlgorithm) {
		a.logger = logger
	}
}

// SchedulingAlgorithm 冲突感知的离散事件调度
// 不持有任何锁，也不修改输入，多个调用方可以并发使用各自的快照
type SchedulingAlgorithm struct {
	pre       Preprocessor
	durations DurationTable
	now       func() time.Time
	logger    Logger
}

func NewSchedulingAlgorithm(pre Preprocessor, opts ...AlgorithmOption) *SchedulingAlgorithm {
	a := &SchedulingAlgorithm{
		pre:       pre,
		durations: DefaultExecutionTimes(),
		now:       time.Now,
		logger:    NewNopLogger(),
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.pre == nil {
		a.pre = EarliestStartPolicy{}
	}

	return a
}

// PreprocessJobs 交给排序策略决定本轮参与调度的任务及顺序
func (a *SchedulingAlgorithm) PreprocessJobs(jobs []*Job, graph ConflictMatrix, devices []string) []*Job {
	return a.pre.Preprocess(a.now(), jobs, graph, devices)
}

// Run 构建冲突图、排序并生成调度，三步使用同一个起始时间
func (a *SchedulingAlgorithm) Run(jobs []*Job, rule ConflictRule, devices []string) (Plan, error) {
	graph, err := BuildConflictGraph(jobs, rule)
	if err != nil {
		return Plan{}, err
	}

	now := a.now()
	ordered := a.pre.Preprocess(now, jobs, graph, devices)
	return a.generate(now, ordered, graph, devices)
}

// GenerateSchedule 按 jobs 的顺序生成调度结果
// 冲突矩阵缺少已知任务的条目时整轮失败，不会被当作不冲突处理
func (a *SchedulingAlgorithm) GenerateSchedule(jobs []*Job, matrix ConflictMatrix, devices []string) (Plan, error) {
	return a.generate(a.now(), jobs, matrix, devices)
}

func (a *SchedulingAlgorithm) generate(now time.Time, jobs []*Job,
	matrix ConflictMatrix, devices []string) (Plan, error) {
	if matrix == nil {
		return Plan{}, fmt.Errorf("%w: nil conflict matrix", ErrMissingConflictEntry)
	}
	if err := validateDevices(devices); err != nil {
		return Plan{}, err
	}
	conflicts, err := denseConflicts(jobs, matrix)
	if err != nil {
		return Plan{}, err
	}

	plan := newPlan(now, len(jobs))
	durations := make([]time.Duration, len(jobs))
	pending := make([]int, 0, len(jobs))
	for i, job := range jobs {
		d, ok := a.durations.DurationFor(job.Type)
		if !ok {
			plan.reject(job.Key, fmt.Errorf("%w: %w: %s", ErrUnschedulableJob, ErrUnknownDuration, job.Type))
			continue
		}
		if len(devices) == 0 {
			plan.reject(job.Key, fmt.Errorf("%w: %w", ErrUnschedulableJob, ErrNoDevices))
			continue
		}
		durations[i] = d
		pending = append(pending, i)
	}

	// slots[s] 为设备s上正在执行的任务下标，-1表示空闲
	slots := make([]int, len(devices))
	for s := range slots {
		slots[s] = -1
	}
	completion := make([]time.Time, len(devices))
	assigned := make([]bool, len(jobs))

	points := newPointQueue(len(pending) + 1)
	if len(pending) > 0 {
		points.push(now)
	}

	for !points.empty() {
		t := points.pop()

		// 释放在当前调度点完成的任务
		for s, running := range slots {
			if running >= 0 && !completion[s].After(t) {
				slots[s] = -1
			}
		}

		for _, i := range pending {
			if assigned[i] {
				continue
			}
			slot := freeSlot(slots)
			if slot < 0 {
				break
			}
			if conflictsWithRunning(conflicts, slots, i) {
				continue
			}

			job := jobs[i]
			done := t.Add(durations[i])
			plan.Assignments[job.Key] = Assignment{
				JobKey:       job.Key,
				Type:         job.Type,
				DispatchTime: t,
				DeviceID:     devices[slot],
				Slot:         slot,
				Duration:     durations[i],
			}
			assigned[i] = true
			slots[slot] = i
			completion[slot] = done
			points.push(done)

			a.logger.Info("scheduling job",
				String("key", job.Key),
				Time("startTime", job.StartTime),
				Time("endTime", job.EndTime),
				Time("point", t),
				String("device", devices[slot]))
		}
	}

	for _, i := range pending {
		if !assigned[i] {
			plan.reject(jobs[i].Key, fmt.Errorf("%w: not admitted before the simulation ended", ErrUnschedulableJob))
		}
	}

	return plan, nil
}

func validateDevices(devices []string) error {
	seen := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		if _, ok := seen[d]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateDevice, d)
		}
		seen[d] = struct{}{}
	}
	return nil
}

// denseConflicts 把冲突关系转成本轮下标的对称矩阵，同时校验矩阵完整
func denseConflicts(jobs []*Job, matrix ConflictMatrix) ([][]bool, error) {
	seen := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		if _, ok := seen[job.Key]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateJobKey, job.Key)
		}
		seen[job.Key] = struct{}{}
	}

	n := len(jobs)
	res := make([][]bool, n)
	for i := range res {
		res[i] = make([]bool, n)
	}
	for i := 0; i < n; i++ {
		for k := i + 1; k < n; k++ {
			ab, err := matrix.Conflicts(jobs[i].Key, jobs[k].Key)
			if err != nil {
				return nil, err
			}
			ba, err := matrix.Conflicts(jobs[k].Key, jobs[i].Key)
			if err != nil {
				return nil, err
			}
			res[i][k] = ab || ba
			res[k][i] = res[i][k]
		}
	}
	return res, nil
}

func freeSlot(slots []int) int {
	for s, running := range slots {
		if running < 0 {
			return s
		}
	}
	return -1
}

func conflictsWithRunning(conflicts [][]bool, slots []int, candidate int) bool {
	for _, running := range slots {
		if running >= 0 && conflicts[running][candidate] {
			return true
		}
	}
	return false
}
