package stream

import (
	"sync"

	"github.com/lscube/feng/collections"
	"github.com/lscube/feng/utils"
)

// ResyncPolicy 生产者重置(seek/直播重启)后, 旧epoch的消费者如何重新定位
type ResyncPolicy int

const (
	// ResyncHead 跳到新epoch的第一个元素
	ResyncHead = ResyncPolicy(iota)
	// ResyncCatchUp 跳到序号大于上次已读序号的第一个元素
	ResyncCatchUp
)

func (p ResyncPolicy) String() string {
	if ResyncCatchUp == p {
		return "catch-up"
	}

	return "head"
}

// Buffer 已经打包好的媒体单元, 时间单位为秒
type Buffer struct {
	Timestamp float64 // 显示时间
	Delivery  float64
	Duration  float64 // 距离下一个单元的发送间隔
	Marker    bool
	Seq       uint64 // 当前epoch内的序号, Append时分配
	Payload   []byte
}

type TrackInfo struct {
	Index       int      `json:"index"`
	MediaType   string   `json:"media"` // audio/video
	PayloadType uint8    `json:"payload_type"`
	Encoding    string   `json:"encoding"`
	ClockRate   uint32   `json:"clock_rate"`
	Channels    int      `json:"channels,omitempty"`
	Fmtp        string   `json:"fmtp,omitempty"`
	Attributes  []string `json:"attributes,omitempty"`
}

func (t TrackInfo) Control() string {
	return ControlName(t.Index)
}

// Track 单个生产者, 多个消费者的缓冲队列.
// 元素按序号存放在queue中, first为队头序号. 每个消费者只记录下一个要读的序号,
// 所有消费者都读过的元素从队头淘汰.
type Track struct {
	info     TrackInfo
	policy   ResyncPolicy
	maxQueue int // 0不限制

	lock      sync.Mutex
	queue     *collections.Queue[*Buffer]
	first     uint64 // 队头元素序号
	nextSeq   uint64 // 下一个Append的序号
	epoch     uint64
	stopped   bool
	consumers map[*Consumer]struct{}
}

func NewTrack(info TrackInfo, policy ResyncPolicy) *Track {
	return &Track{
		info:      info,
		policy:    policy,
		queue:     collections.NewQueue[*Buffer](64),
		consumers: make(map[*Consumer]struct{}, 4),
	}
}

func (t *Track) Info() TrackInfo {
	return t.info
}

// Append 只能由唯一的写者调用
func (t *Track) Append(buffer *Buffer) {
	t.lock.Lock()
	defer t.lock.Unlock()

	utils.Assertf(!t.stopped, "append to stopped track %d", t.info.Index)
	buffer.Seq = t.nextSeq
	t.nextSeq++
	t.queue.Push(buffer)

	// 没有消费者, 直接释放
	if len(t.consumers) == 0 {
		t.evict()
	} else if t.maxQueue > 0 && t.queue.Size() > t.maxQueue {
		t.forward(t.nextSeq - uint64(t.maxQueue))
	}
}

// SetMaxQueue 限制缓存的元素个数, 超出时读得最慢的消费者被强制前移
func (t *Track) SetMaxQueue(n int) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.maxQueue = n
	if n > 0 && t.queue.Size() > n {
		t.forward(t.nextSeq - uint64(n))
	}
}

// Reset 清空队列, 进入新的epoch. 同时清除stopped, seek到结尾后还能再次播放
func (t *Track) Reset() {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.queue.Clear()
	t.first = 0
	t.nextSeq = 0
	t.epoch++
	t.stopped = false
}

// Stop 当前epoch不再有新数据, 消费者读完剩余数据
func (t *Track) Stop() {
	t.lock.Lock()
	t.stopped = true
	t.lock.Unlock()
}

func (t *Track) IsStopped() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.stopped
}

func (t *Track) Epoch() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.epoch
}

// Len 当前缓存的元素个数
func (t *Track) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.queue.Size()
}

func (t *Track) ConsumerCount() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.consumers)
}

// SeenCount 已经读过seq的消费者个数
func (t *Track) SeenCount(seq uint64) int {
	t.lock.Lock()
	defer t.lock.Unlock()

	var count int
	for c := range t.consumers {
		if t.watermark(c) > seq {
			count++
		}
	}

	return count
}

// NewConsumer 从队尾开始读, 只能收到注册之后Append的数据
func (t *Track) NewConsumer() *Consumer {
	t.lock.Lock()
	defer t.lock.Unlock()

	c := &Consumer{
		track: t,
		epoch: t.epoch,
		next:  t.nextSeq,
	}

	t.consumers[c] = struct{}{}
	return c
}

// 消费者在当前epoch内的有效读位置
func (t *Track) watermark(c *Consumer) uint64 {
	if c.epoch == t.epoch {
		return c.next
	}

	return t.resyncPosition(c)
}

func (t *Track) resyncPosition(c *Consumer) uint64 {
	if ResyncCatchUp == t.policy && c.hasSeen && c.lastSeen+1 > t.first {
		return c.lastSeen + 1
	}

	return t.first
}

func (t *Track) resync(c *Consumer) {
	if c.epoch == t.epoch {
		return
	}

	c.next = t.resyncPosition(c)
	c.epoch = t.epoch
}

// forward 读位置在low之前的消费者移动到low, 然后淘汰
func (t *Track) forward(low uint64) {
	for c := range t.consumers {
		w := t.watermark(c)
		if w >= low {
			continue
		}

		c.skipped += low - w
		c.epoch = t.epoch
		c.next = low
		c.moved = true
	}

	t.evict()
}

// 所有消费者都已读过的元素出队
func (t *Track) evict() {
	low := t.nextSeq
	for c := range t.consumers {
		if w := t.watermark(c); w < low {
			low = w
		}
	}

	for t.first < low && !t.queue.IsEmpty() {
		t.queue.Pop()
		t.first++
	}
}

func (t *Track) detach(c *Consumer) {
	t.lock.Lock()
	defer t.lock.Unlock()

	_, ok := t.consumers[c]
	utils.Assertf(ok, "consumer detached twice from track %d", t.info.Index)
	delete(t.consumers, c)
	c.detached = true
	t.evict()
}
