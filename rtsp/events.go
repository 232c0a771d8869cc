package rtsp

import (
	"sync"
	"time"
)

type EventType string

const (
	EventSessionCreated = EventType("session_created")
	EventSessionPlaying = EventType("session_playing")
	EventSessionPaused  = EventType("session_paused")
	EventSessionClosed  = EventType("session_closed")
)

type Event struct {
	Type       EventType `json:"type"`
	Session    string    `json:"session"`
	Resource   string    `json:"resource"`
	RemoteAddr string    `json:"remote_addr"`
	Reason     string    `json:"reason,omitempty"`
	Time       time.Time `json:"time"`
}

// EventBus 会话生命周期事件, 订阅者处理不及时直接丢弃
type EventBus struct {
	lock        sync.Mutex
	subscribers map[chan Event]struct{}
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[chan Event]struct{}, 4)}
}

// Subscribe 返回事件管道和取消函数
func (b *EventBus) Subscribe(size int) (<-chan Event, func()) {
	ch := make(chan Event, size)

	b.lock.Lock()
	b.subscribers[ch] = struct{}{}
	b.lock.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.lock.Lock()
			delete(b.subscribers, ch)
			b.lock.Unlock()
			close(ch)
		})
	}
}

func (b *EventBus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
