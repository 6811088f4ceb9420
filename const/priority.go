package _const

import "strings"

type Priority int

const (
	PriorityHigh   Priority = 0x00000001 // 高优先级
	PriorityMedium Priority = 0x00000002 // 中优先级
	PriorityLow    Priority = 0x00000003 // 低优先级
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "High"
	case PriorityMedium:
		return "Medium"
	case PriorityLow:
		return "Low"
	default:
		return "Unknown"
	}
}

func (p Priority) Less(v Priority) bool {
	return p < v
}

// ParsePriority 解析请求中的优先级，空值为中优先级
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh, true
	case "", "medium":
		return PriorityMedium, true
	case "low":
		return PriorityLow, true
	default:
		return 0, false
	}
}
