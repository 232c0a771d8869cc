package rtp

import (
	"fmt"
	"math"
	"time"

	"github.com/lscube/feng/log"
	"github.com/lscube/feng/stream"
	"github.com/pion/randutil"
	"github.com/pion/rtp"
	"go.uber.org/multierr"
)

var random = randutil.NewMathRandomGenerator()

type SessionConfig struct {
	Consumer  *stream.Consumer
	Transport Transport
	Scheduler Scheduler
	CNAME     string
	Live      bool

	BufferedFrames  int           // 未读数据低于该值时请求读取
	StarvationRetry time.Duration // 没有数据时的重试间隔
	IdleTimeout     time.Duration // 直播源持续发送失败的超时时间
	ReportInterval  int
	RTCPQueueSize   int

	RequestMore func()
	OnFatal     func(err error)
}

// Session 按时间戳匀速发送一个track的数据, 只能在所属的事件循环中访问
type Session struct {
	config    SessionConfig
	info      stream.TrackInfo
	consumer  *stream.Consumer
	transport Transport
	scheduler Scheduler
	rtcp      *rtcpEngine

	ssrc         uint32
	seq          uint16
	startSeq     uint16
	startRTPTime uint32
	timeBase     float64 // 映射到startRTPTime的媒体时间, 点播源为0
	hasTimeBase  bool
	startTime    time.Time
	sendTime     time.Duration // 相对startTime的累计发送偏移
	position     float64

	playing  bool
	finished bool // 已发送BYE
	closed   bool

	timer     Timer
	timerGen  uint64
	failSince time.Time
}

func NewSession(config SessionConfig) *Session {
	if config.BufferedFrames < 1 {
		config.BufferedFrames = stream.DefaultBufferedFrames
	}

	if config.StarvationRetry <= 0 {
		config.StarvationRetry = stream.DefaultStarvationRetry
	}

	if config.RequestMore == nil {
		config.RequestMore = func() {}
	}

	info := config.Consumer.Track().Info()
	s := &Session{
		config:       config,
		info:         info,
		consumer:     config.Consumer,
		transport:    config.Transport,
		scheduler:    config.Scheduler,
		ssrc:         random.Uint32(),
		seq:          uint16(random.Intn(math.MaxUint16)),
		startRTPTime: random.Uint32(),
		hasTimeBase:  !config.Live,
	}

	s.startSeq = s.seq
	s.rtcp = newRTCPEngine(s.ssrc, config.CNAME, info.ClockRate, config.ReportInterval, config.RTCPQueueSize)
	return s
}

func (s *Session) SSRC() uint32 {
	return s.ssrc
}

func (s *Session) Info() stream.TrackInfo {
	return s.info
}

func (s *Session) Transport() Transport {
	return s.transport
}

func (s *Session) IsPlaying() bool {
	return s.playing
}

func (s *Session) Finished() bool {
	return s.finished
}

// NextSeq 下一个发送的序号, 用于RTP-Info
func (s *Session) NextSeq() uint16 {
	return s.seq
}

func (s *Session) StartRTPTime() uint32 {
	return s.startRTPTime
}

// Position 已发送数据的媒体时间
func (s *Session) Position() float64 {
	return s.position
}

// RTPTime 媒体时间ts对应的RTP时间戳
func (s *Session) RTPTime(ts float64) uint32 {
	if !s.hasTimeBase {
		return s.startRTPTime
	}

	return s.startRTPTime + uint32(int64(math.Round((ts-s.timeBase)*float64(s.info.ClockRate))))
}

func (s *Session) Stats() Stats {
	return s.rtcp.snapshot()
}

// Play 从当前游标开始发送, startTime重新计算. 已发送BYE的会话只有Seek之后才能再次播放
func (s *Session) Play() {
	if s.closed || s.finished {
		return
	}

	s.playing = true
	s.startTime = s.scheduler.Now()
	s.sendTime = 0
	s.failSince = time.Time{}

	// 预读
	s.config.RequestMore()
	s.schedule(0)
}

// Pause 停止定时器, 保留游标
func (s *Session) Pause() {
	s.playing = false
	s.stopTimer()
}

// Seek 重新生成起始RTP时间戳, 序号继续递增. track的重置由资源层完成
func (s *Session) Seek(position float64) {
	s.startRTPTime = random.Uint32()
	s.timeBase = 0
	s.hasTimeBase = !s.config.Live
	s.startSeq = s.seq
	s.position = position
	s.finished = false
}

func (s *Session) schedule(d time.Duration) {
	s.stopTimer()

	gen := s.timerGen
	s.timer = s.scheduler.AfterFunc(d, func() {
		s.wake(gen)
	})
}

func (s *Session) stopTimer() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) wake(gen uint64) {
	// 定时器已被取消, 回调可能已经投递到事件循环
	if gen != s.timerGen || !s.playing || s.closed {
		return
	}

	s.timer = nil
	for s.playing && !s.closed {
		now := s.scheduler.Now()
		due := s.startTime.Add(s.sendTime)
		if now.Before(due) {
			s.schedule(due.Sub(now))
			return
		}

		buffer := s.consumer.Get()
		if buffer == nil {
			if s.consumer.IsStopped() {
				s.sendBye(now)
				s.finished = true
				s.playing = false
				return
			}

			s.config.RequestMore()
			s.schedule(s.config.StarvationRetry)
			return
		}

		s.send(buffer, now)
		s.consumer.Advance()

		if s.consumer.Unseen() < uint64(s.config.BufferedFrames) {
			s.config.RequestMore()
		}
	}
}

func (s *Session) send(buffer *stream.Buffer, now time.Time) {
	if !s.hasTimeBase {
		s.timeBase = buffer.Timestamp
		s.hasTimeBase = true
	}

	rtpTime := s.RTPTime(buffer.Timestamp)
	packet := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         buffer.Marker,
			PayloadType:    s.info.PayloadType,
			SequenceNumber: s.seq,
			Timestamp:      rtpTime,
			SSRC:           s.ssrc,
		},
		Payload: buffer.Payload,
	}

	// 发送失败也占用序号和发送时间
	s.seq++
	s.position = buffer.Timestamp + buffer.Duration
	s.sendTime += time.Duration(buffer.Duration * float64(time.Second))

	data, err := packet.Marshal()
	if err == nil {
		err = s.transport.Send(ChannelRTP, data)
	}

	if err != nil {
		log.Sugar.Errorf("failed to send rtp packet err:%s ssrc:%x seq:%d", err.Error(), s.ssrc, packet.SequenceNumber)
		s.rtcp.onDropped()
		s.checkIdle(now, err)
		return
	}

	s.failSince = time.Time{}
	if s.rtcp.onSent(len(buffer.Payload), rtpTime, now) {
		s.rtcp.queueReport(now)
	}

	s.rtcp.flush(s.transport)
}

// 直播源持续发送失败超过IdleTimeout, 通知上层断开会话
func (s *Session) checkIdle(now time.Time, err error) {
	if !s.config.Live || s.config.IdleTimeout <= 0 {
		return
	}

	if s.failSince.IsZero() {
		s.failSince = now
		return
	}

	if now.Sub(s.failSince) < s.config.IdleTimeout {
		return
	}

	s.playing = false
	s.stopTimer()
	if s.config.OnFatal != nil {
		s.config.OnFatal(fmt.Errorf("rtp send failing for %s: %w", now.Sub(s.failSince), err))
	}
}

func (s *Session) sendBye(now time.Time) {
	s.rtcp.flush(s.transport)

	data, err := s.rtcp.bye(now)
	if err == nil {
		err = s.transport.Send(ChannelRTCP, data)
	}

	if err != nil {
		log.Sugar.Warnf("failed to send rtcp bye err:%s ssrc:%x", err.Error(), s.ssrc)
	}
}

// HandleRTCP 处理客户端发来的RTCP
func (s *Session) HandleRTCP(data []byte) {
	s.rtcp.handle(data, s.scheduler.Now())
}

// Close 停止定时器, 注销消费者, 关闭传输. 可以重复调用
func (s *Session) Close() error {
	if s.closed {
		return nil
	}

	if !s.finished && s.Stats().PacketsSent > 0 {
		s.sendBye(s.scheduler.Now())
		s.finished = true
	}

	s.closed = true
	s.playing = false
	s.stopTimer()
	s.consumer.Detach()

	var err error
	if s.transport != nil {
		err = multierr.Append(err, s.transport.Close())
	}

	return err
}
