package rtp

import "time"

type Timer interface {
	Stop() bool
}

// Scheduler 会话定时器, 回调必须在会话所属的事件循环中执行
type Scheduler interface {
	Now() time.Time

	AfterFunc(d time.Duration, f func()) Timer
}

type loopScheduler struct {
	post func(func()) bool
}

// NewLoopScheduler 定时器到期后通过post投递到事件循环
func NewLoopScheduler(post func(func()) bool) Scheduler {
	return &loopScheduler{post: post}
}

func (l *loopScheduler) Now() time.Time {
	return time.Now()
}

func (l *loopScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, func() {
		l.post(f)
	})
}
