package rtp

import (
	"sync"
	"time"

	"github.com/lscube/feng/collections"
	"github.com/lscube/feng/log"
	"github.com/lscube/feng/stream"
	"github.com/pion/rtcp"
)

const (
	// DefaultReportInterval 每发送多少个RTP包发送一次SR
	DefaultReportInterval = 29
	DefaultRTCPQueueSize  = 16
)

// Stats 发送统计及接收端反馈, 只用于观测
type Stats struct {
	SSRC           uint32        `json:"ssrc"`
	PacketsSent    uint32        `json:"packets_sent"`
	OctetsSent     uint32        `json:"octets_sent"`
	Bitrate        int           `json:"bitrate"`         // 前一秒发送的字节数
	AverageBitrate int           `json:"average_bitrate"` // 每秒平均字节数
	Dropped        uint64        `json:"dropped"`
	ReportsSent    uint64        `json:"reports_sent"`
	ReportsDropped uint64        `json:"reports_dropped"`
	Jitter         uint32        `json:"jitter"`
	FractionLost   uint8         `json:"fraction_lost"`
	TotalLost      uint32        `json:"total_lost"`
	RTT            time.Duration `json:"rtt"`
	PeerCNAME      string        `json:"peer_cname"`
	LastReceived   time.Time     `json:"last_received"`
}

// rtcpEngine 生成SR/SDES/BYE, 处理客户端的RR/SDES
type rtcpEngine struct {
	ssrc      uint32
	cname     string
	clockRate uint32
	interval  int
	queue     collections.RingBuffer[[]byte]

	lastRTPTime uint32
	lastSentAt  time.Time

	lock    sync.Mutex
	stats   Stats
	bitrate *stream.BitrateStatistics
}

func newRTCPEngine(ssrc uint32, cname string, clockRate uint32, interval, queueSize int) *rtcpEngine {
	if interval < 1 {
		interval = DefaultReportInterval
	}

	if queueSize < 1 {
		queueSize = DefaultRTCPQueueSize
	}

	return &rtcpEngine{
		ssrc:      ssrc,
		cname:     cname,
		clockRate: clockRate,
		interval:  interval,
		queue:     collections.NewRingBuffer[[]byte](queueSize),
		stats:     Stats{SSRC: ssrc},
		bitrate:   stream.NewBitrateStatistics(),
	}
}

// onSent 返回是否需要发送SR
func (e *rtcpEngine) onSent(payloadSize int, rtpTime uint32, now time.Time) bool {
	e.lastRTPTime = rtpTime
	e.lastSentAt = now

	e.lock.Lock()
	e.stats.PacketsSent++
	e.stats.OctetsSent += uint32(payloadSize)
	e.bitrate.Input(payloadSize, now)
	e.stats.Bitrate = e.bitrate.PreviousSecond()
	e.stats.AverageBitrate = e.bitrate.Average()
	count := e.stats.PacketsSent
	e.lock.Unlock()

	return count%uint32(e.interval) == 0
}

func (e *rtcpEngine) onDropped() {
	e.lock.Lock()
	e.stats.Dropped++
	e.lock.Unlock()
}

func (e *rtcpEngine) senderReport(now time.Time) *rtcp.SenderReport {
	e.lock.Lock()
	packets, octets := e.stats.PacketsSent, e.stats.OctetsSent
	e.lock.Unlock()

	// 按时钟频率推算当前时刻的RTP时间
	rtpTime := e.lastRTPTime
	if !e.lastSentAt.IsZero() {
		rtpTime += uint32(now.Sub(e.lastSentAt).Seconds() * float64(e.clockRate))
	}

	return &rtcp.SenderReport{
		SSRC:        e.ssrc,
		NTPTime:     toNTP(now),
		RTPTime:     rtpTime,
		PacketCount: packets,
		OctetCount:  octets,
	}
}

func (e *rtcpEngine) compound(now time.Time, extra ...rtcp.Packet) ([]byte, error) {
	packets := []rtcp.Packet{e.senderReport(now), rtcp.NewCNAMESourceDescription(e.ssrc, e.cname)}
	return rtcp.Marshal(append(packets, extra...))
}

// queueReport 队列满了直接丢弃, 不阻塞
func (e *rtcpEngine) queueReport(now time.Time) {
	data, err := e.compound(now)
	if err != nil {
		log.Sugar.Errorf("failed to marshal rtcp report err:%s ssrc:%x", err.Error(), e.ssrc)
		return
	}

	if !e.queue.TryPush(data) {
		e.lock.Lock()
		e.stats.ReportsDropped++
		e.lock.Unlock()
		log.Sugar.Warnf("rtcp out queue full, drop report ssrc:%x", e.ssrc)
	}
}

// flush 发送队列中的所有RTCP包, 发送失败的丢弃
func (e *rtcpEngine) flush(transport Transport) {
	for {
		data, ok := e.queue.Pop()
		if !ok {
			return
		}

		if err := transport.Send(ChannelRTCP, data); err != nil {
			log.Sugar.Warnf("failed to send rtcp err:%s ssrc:%x", err.Error(), e.ssrc)
			e.lock.Lock()
			e.stats.ReportsDropped++
			e.lock.Unlock()
			continue
		}

		e.lock.Lock()
		e.stats.ReportsSent++
		e.lock.Unlock()
	}
}

func (e *rtcpEngine) bye(now time.Time) ([]byte, error) {
	return e.compound(now, &rtcp.Goodbye{Sources: []uint32{e.ssrc}})
}

// handle 处理接收端发来的RTCP, 无法解析的包跳过
func (e *rtcpEngine) handle(data []byte, now time.Time) {
	packets, err := rtcp.Unmarshal(data)
	if err != nil {
		log.Sugar.Debugf("drop malformed rtcp err:%s ssrc:%x size:%d", err.Error(), e.ssrc, len(data))
		return
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	e.stats.LastReceived = now
	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			e.onReports(p.Reports, now)
		case *rtcp.SenderReport:
			e.onReports(p.Reports, now)
		case *rtcp.SourceDescription:
			for _, chunk := range p.Chunks {
				for _, item := range chunk.Items {
					if rtcp.SDESCNAME == item.Type {
						e.stats.PeerCNAME = item.Text
					}
				}
			}
		case *rtcp.Goodbye:
			log.Sugar.Debugf("receive rtcp bye ssrc:%x reason:%s", e.ssrc, p.Reason)
		}
	}
}

func (e *rtcpEngine) onReports(reports []rtcp.ReceptionReport, now time.Time) {
	for _, report := range reports {
		if report.SSRC != e.ssrc {
			continue
		}

		e.stats.Jitter = report.Jitter
		e.stats.FractionLost = report.FractionLost
		e.stats.TotalLost = report.TotalLost

		if report.LastSenderReport != 0 {
			rtt := ntpMiddle(toNTP(now)) - report.LastSenderReport - report.Delay
			e.stats.RTT = middleToDuration(rtt)
		}
	}
}

func (e *rtcpEngine) snapshot() Stats {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.stats
}
