package stream

// Consumer 某个RTP会话在Track上的读游标, 只能被一个会话持有
type Consumer struct {
	track *Track

	// 以下字段由track.lock保护
	epoch    uint64
	next     uint64
	lastSeen uint64
	hasSeen  bool
	detached bool
	moved    bool   // 游标被track移动过, 上次Get的元素已经不在当前位置
	skipped  uint64 // 超出队列上限被跳过的元素个数
}

func (c *Consumer) Track() *Track {
	return c.track
}

// Get 返回游标处的元素, 不移动游标. 没有新数据时返回nil, 是否结束用IsStopped区分
func (c *Consumer) Get() *Buffer {
	t := c.track
	t.lock.Lock()
	defer t.lock.Unlock()

	if c.detached {
		return nil
	}

	t.resync(c)
	c.moved = false
	index := int(c.next - t.first)
	if index >= t.queue.Size() {
		return nil
	}

	return t.queue.Peek(index)
}

// Advance 标记当前元素已读并后移游标, 返回后面是否还有数据
func (c *Consumer) Advance() bool {
	t := c.track
	t.lock.Lock()
	defer t.lock.Unlock()

	if c.detached {
		return false
	}

	// 生产者重置或者超出上限后, 之前Get到的元素已经不存在, 只重新定位
	if c.epoch != t.epoch || c.moved {
		t.resync(c)
		c.moved = false
		t.evict()
		return int(c.next-t.first) < t.queue.Size()
	}

	if int(c.next-t.first) >= t.queue.Size() {
		return false
	}

	c.lastSeen = c.next
	c.hasSeen = true
	c.next++
	t.evict()

	return int(c.next-t.first) < t.queue.Size()
}

// Unseen 已缓存但还没有读过的元素个数
func (c *Consumer) Unseen() uint64 {
	t := c.track
	t.lock.Lock()
	defer t.lock.Unlock()

	if c.detached {
		return 0
	}

	t.resync(c)
	if c.next >= t.nextSeq {
		return 0
	}

	return t.nextSeq - c.next
}

// Skipped 因为读取太慢被强制跳过的元素个数
func (c *Consumer) Skipped() uint64 {
	c.track.lock.Lock()
	defer c.track.lock.Unlock()
	return c.skipped
}

func (c *Consumer) IsStopped() bool {
	return c.track.IsStopped()
}

// Detach 注销消费者, 重复调用属于程序错误
func (c *Consumer) Detach() {
	c.track.detach(c)
}
