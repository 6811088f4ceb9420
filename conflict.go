package probe_scheduler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	_const "github.com/TimeWtr/probe_scheduler/const"
)

var (
	ErrDuplicateJobKey      = errors.New("duplicate job key")
	ErrMissingConflictEntry = errors.New("missing conflict entry")
)

// ConflictRule 判断两个任务是否不能同时执行
type ConflictRule func(a, b *Job) bool

// ConflictMatrix 调度时查询冲突关系，未知的任务返回 ErrMissingConflictEntry
type ConflictMatrix interface {
	Conflicts(a, b string) (bool, error)
}

// ConflictGraph 单次调度内的冲突关系
// 每个任务在本轮分配一个稳定的整数下标，冲突关系存为对称的稠密矩阵
type ConflictGraph struct {
	index  map[string]int
	keys   []string
	matrix [][]bool
}

// BuildConflictGraph 根据任务集合和冲突规则构建完整的两两冲突关系
func BuildConflictGraph(jobs []*Job, rule ConflictRule) (*ConflictGraph, error) {
	if rule == nil {
		rule = DefaultConflictRule
	}

	g := &ConflictGraph{
		index: make(map[string]int, len(jobs)),
		keys:  make([]string, 0, len(jobs)),
	}
	for _, job := range jobs {
		if _, ok := g.index[job.Key]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateJobKey, job.Key)
		}
		g.index[job.Key] = len(g.keys)
		g.keys = append(g.keys, job.Key)
	}

	n := len(jobs)
	g.matrix = make([][]bool, n)
	for i := range g.matrix {
		g.matrix[i] = make([]bool, n)
	}
	for i := 0; i < n; i++ {
		for k := i + 1; k < n; k++ {
			// 规则不一定对称，任意方向冲突即视为冲突
			c := rule(jobs[i], jobs[k]) || rule(jobs[k], jobs[i])
			g.matrix[i][k] = c
			g.matrix[k][i] = c
		}
	}

	return g, nil
}

func (g *ConflictGraph) Conflicts(a, b string) (bool, error) {
	i, ok := g.index[a]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrMissingConflictEntry, a)
	}
	k, ok := g.index[b]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrMissingConflictEntry, b)
	}
	return g.matrix[i][k], nil
}

func (g *ConflictGraph) Len() int {
	return len(g.keys)
}

func (g *ConflictGraph) Keys() []string {
	return append([]string(nil), g.keys...)
}

// Matrix 导出为按任务Key嵌套的映射
func (g *ConflictGraph) Matrix() NestedConflictMatrix {
	res := make(NestedConflictMatrix, len(g.keys))
	for i, a := range g.keys {
		row := make(map[string]bool, len(g.keys))
		for k, b := range g.keys {
			row[b] = g.matrix[i][k]
		}
		res[a] = row
	}
	return res
}

// NestedConflictMatrix 外部传入的嵌套冲突映射，自身缺省时视为不冲突
type NestedConflictMatrix map[string]map[string]bool

func (m NestedConflictMatrix) Conflicts(a, b string) (bool, error) {
	row, ok := m[a]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrMissingConflictEntry, a)
	}
	v, ok := row[b]
	if !ok {
		if a == b {
			return false, nil
		}
		return false, fmt.Errorf("%w: %s -> %s", ErrMissingConflictEntry, a, b)
	}
	return v, nil
}

// AnyRule 任意一条规则冲突即冲突
func AnyRule(rules ...ConflictRule) ConflictRule {
	return func(a, b *Job) bool {
		for _, rule := range rules {
			if rule(a, b) {
				return true
			}
		}
		return false
	}
}

// DefaultConflictRule 相同测量目标的任务互相干扰，TCP吞吐测试会占满共享的上行带宽
var DefaultConflictRule = AnyRule(SameTarget, BandwidthHeavy)

func SameTarget(a, b *Job) bool {
	ta, tb := TargetHost(a.Type, a.Target), TargetHost(b.Type, b.Target)
	return ta != "" && ta == tb
}

func BandwidthHeavy(a, b *Job) bool {
	return a.Type == _const.TCP && b.Type == _const.TCP
}

// TargetHost 归一化测量目标：HTTP取URL中的主机名，其余类型去掉末尾的点并转小写
func TargetHost(t _const.MeasurementType, target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return ""
	}

	if t == _const.HTTP || strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err == nil && u.Hostname() != "" {
			target = u.Hostname()
		}
	}

	return strings.TrimSuffix(strings.ToLower(target), ".")
}
