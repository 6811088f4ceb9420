package _const

import "strings"

// PolicyKind 调度前的任务排序策略
type PolicyKind int

const (
	EarliestStartPolicy PolicyKind = 0x00000001 // 按开始时间先后排序
	RoundRobinPolicy    PolicyKind = 0x00000002 // 按用户轮询
	PriorityPolicy      PolicyKind = 0x00000003 // 按优先级，其次按提交时间
)

func (k PolicyKind) String() string {
	switch k {
	case EarliestStartPolicy:
		return "earliest-start"
	case RoundRobinPolicy:
		return "round-robin"
	case PriorityPolicy:
		return "priority"
	default:
		return "unknown"
	}
}

func ParsePolicyKind(s string) (PolicyKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "earliest-start", "earliest_start":
		return EarliestStartPolicy, true
	case "", "round-robin", "round_robin":
		return RoundRobinPolicy, true
	case "priority":
		return PriorityPolicy, true
	default:
		return 0, false
	}
}
