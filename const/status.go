package _const

// JobStatus 测量任务在当前周期内的调度状态
type JobStatus int

const (
	JobStatusWaiting    JobStatus = 0x00000001 // 等待本周期的调度
	JobStatusDispatched JobStatus = 0x00000002 // 本周期已下发到设备
)

func (s JobStatus) String() string {
	switch s {
	case JobStatusWaiting:
		return "Waiting"
	case JobStatusDispatched:
		return "Dispatched"
	default:
		return "Unknown"
	}
}
