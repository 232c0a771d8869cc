package rtsp

import (
	"sync"
)

// eventLoop 单协程执行投递的任务. 连接(或组播组)的所有会话状态只在这里访问
type eventLoop struct {
	tasks  chan func()
	closed chan struct{}
	once   sync.Once
}

func newEventLoop(size int) *eventLoop {
	return &eventLoop{
		tasks:  make(chan func(), size),
		closed: make(chan struct{}),
	}
}

func (l *eventLoop) run() {
	for {
		select {
		case f := <-l.tasks:
			f()
		case <-l.closed:
			return
		}
	}
}

// Post 投递任务, 循环已关闭返回false. 不能在循环内部调用, 队列满时会阻塞
func (l *eventLoop) Post(f func()) bool {
	select {
	case <-l.closed:
		return false
	default:
	}

	select {
	case l.tasks <- f:
		return true
	case <-l.closed:
		return false
	}
}

// Call 投递任务并等待执行完成
func (l *eventLoop) Call(f func()) bool {
	done := make(chan struct{})
	if !l.Post(func() {
		f()
		close(done)
	}) {
		return false
	}

	select {
	case <-done:
		return true
	case <-l.closed:
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

func (l *eventLoop) Close() {
	l.once.Do(func() {
		close(l.closed)
	})
}
