package rtp

import (
	"sort"
	"time"
)

type manualTimer struct {
	scheduler *manualScheduler
	due       time.Time
	id        int
	f         func()
	stopped   bool
	fired     bool
}

func (t *manualTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// manualScheduler 手动推进的时钟, 回调在Advance中同步执行
type manualScheduler struct {
	now    time.Time
	timers []*manualTimer
	nextId int
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *manualScheduler) Now() time.Time {
	return m.now
}

func (m *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	m.nextId++
	timer := &manualTimer{scheduler: m, due: m.now.Add(d), id: m.nextId, f: f}
	m.timers = append(m.timers, timer)
	return timer
}

func (m *manualScheduler) pending() int {
	var n int
	for _, timer := range m.timers {
		if !timer.stopped && !timer.fired {
			n++
		}
	}

	return n
}

// Advance 依次触发到期的定时器
func (m *manualScheduler) Advance(d time.Duration) {
	target := m.now.Add(d)
	for {
		var active []*manualTimer
		for _, timer := range m.timers {
			if !timer.stopped && !timer.fired && !timer.due.After(target) {
				active = append(active, timer)
			}
		}

		if len(active) == 0 {
			break
		}

		sort.Slice(active, func(i, j int) bool {
			if active[i].due.Equal(active[j].due) {
				return active[i].id < active[j].id
			}
			return active[i].due.Before(active[j].due)
		})

		next := active[0]
		if next.due.After(m.now) {
			m.now = next.due
		}

		next.fired = true
		next.f()
	}

	m.now = target
}
