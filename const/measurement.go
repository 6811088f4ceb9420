package _const

import (
	"strings"
	"time"
)

// MeasurementType 测量任务的协议类型，决定执行时长
type MeasurementType string

const (
	TCP        MeasurementType = "TCP"
	PING       MeasurementType = "PING"
	DNS        MeasurementType = "DNS"
	HTTP       MeasurementType = "HTTP"
	TRACEROUTE MeasurementType = "TRACEROUTE"
)

// MeasurementTypes 所有支持的测量类型
var MeasurementTypes = []MeasurementType{TCP, PING, DNS, HTTP, TRACEROUTE}

func (m MeasurementType) String() string {
	return string(m)
}

func (m MeasurementType) Valid() bool {
	switch m {
	case TCP, PING, DNS, HTTP, TRACEROUTE:
		return true
	default:
		return false
	}
}

// ParseMeasurementType 忽略大小写，兼容 tcpthroughput/dns_lookup 这类客户端写法
func ParseMeasurementType(s string) (MeasurementType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TCP", "TCPTHROUGHPUT", "TCP_THROUGHPUT":
		return TCP, true
	case "PING":
		return PING, true
	case "DNS", "DNSLOOKUP", "DNS_LOOKUP":
		return DNS, true
	case "HTTP":
		return HTTP, true
	case "TRACEROUTE", "TRACERT":
		return TRACEROUTE, true
	default:
		return "", false
	}
}

// DefaultExecutionTimes 每种测量的预计执行时长
var DefaultExecutionTimes = map[MeasurementType]time.Duration{
	TCP:        2 * time.Minute,
	PING:       time.Minute,
	DNS:        time.Minute,
	HTTP:       time.Minute,
	TRACEROUTE: 3 * time.Minute,
}

// ScheduleMeasurementRequest 只有该类型的请求才会进入调度
const ScheduleMeasurementRequest = "SCHEDULE_MEASUREMENT"
