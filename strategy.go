package probe_scheduler

import (
	"errors"
	"time"
)

var ErrOverMaxCount = errors.New("over max count")

// RetryStrategy 下发失败后的重试间隔
type RetryStrategy interface {
	Next() (time.Duration, error)
}

// FixedRetryStrategy 固定间隔、有限次数的重试，每次下发使用一个新的实例
type FixedRetryStrategy struct {
	// 固定时间间隔
	interval time.Duration
	// 最大重试次数
	maxCount int
	// 当前已经重试的次数
	counter int
}

func NewFixedRetryStrategy(interval time.Duration, maxCount int) *FixedRetryStrategy {
	return &FixedRetryStrategy{
		interval: interval,
		maxCount: maxCount,
	}
}

func (s *FixedRetryStrategy) Next() (time.Duration, error) {
	if s.counter >= s.maxCount {
		return 0, ErrOverMaxCount
	}
	s.counter++
	return s.interval, nil
}
