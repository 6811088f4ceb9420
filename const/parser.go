package _const

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Parser 定时时间解析器，维护任务和调度轮次共用
var Parser = cron.NewParser(cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

const (
	// DefaultTrackerSpec 维护任务每2分钟执行一次
	DefaultTrackerSpec = "@every 2m"
	// DefaultTrackerInitialDelay 启动后延迟1分钟再开始维护
	DefaultTrackerInitialDelay = time.Minute
	// DefaultSchedulePassSpec 调度轮次的默认间隔
	DefaultSchedulePassSpec = "@every 1m"
	// DefaultLimiter 下发到设备的默认并发数
	DefaultLimiter = 4
)
