package clock

import "time"

// Clock 时间来源，测试中可替换
type Clock interface {
	Now() time.Time
}

// RealClock 使用系统时间
type RealClock struct{}

func New() *RealClock {
	return &RealClock{}
}

func (c *RealClock) Now() time.Time {
	return time.Now()
}
