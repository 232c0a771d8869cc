package rtsp

import (
	"fmt"
	"net"
	"strings"

	"github.com/lscube/feng/log"
	"github.com/lscube/feng/rtp"
	"github.com/lscube/feng/stream"
)

// trackSession 会话中SETUP过的一个track. 单播持有独立的RTP会话, 组播加入共享的组
type trackSession struct {
	index     int
	info      stream.TrackInfo
	rtp       *rtp.Session
	group     *multicastGroup
	channels  []byte // TCP交织通道
	transport string // Transport响应头
}

func (t *trackSession) rtpInfo(base string, position float64) string {
	url := strings.TrimSuffix(base, "/") + "/" + t.info.Control()
	if t.group != nil {
		return t.group.rtpInfo(url)
	}

	return fmt.Sprintf("url=%s;seq=%d;rtptime=%d", url, t.rtp.NextSeq(), t.rtp.RTPTime(position))
}

func (t *trackSession) summary() TrackInfo {
	info := TrackInfo{Control: t.info.Control(), Transport: t.transport}
	if t.rtp != nil {
		info.Stats = t.rtp.Stats()
	}

	return info
}

// setupTrack 按客户端给出的顺序选择第一个可用的传输方式
func (c *conn) setupTrack(s *session, index int, specs []transportSpec) (*trackSession, error) {
	track, err := s.resource.Track(index)
	if err != nil {
		return nil, err
	}

	options := c.server.options
	t := &trackSession{index: index, info: track.Info()}

	for _, spec := range specs {
		switch {
		case spec.multicast:
			if !options.Multicast.Enable || !s.resource.Live() || LowerTransportUDP != spec.lower || !spec.acceptDestination(nil) {
				continue
			}

			group, err := c.server.multicast.join(s.resourceName, index)
			if err != nil {
				return nil, err
			}

			t.group = group
			t.transport = group.transportHeader()
			return t, nil
		case LowerTransportTCP == spec.lower:
			if !options.EnableTCP || c.association != nil {
				continue
			}

			channels, ok := c.allocChannels(spec.interleaved)
			if !ok {
				continue
			}

			transport := rtp.NewInterleavedTransport(c, channels[0], channels[1])
			c.newRTPSession(s, t, track, transport)

			t.channels = channels
			c.channels[channels[0]] = t
			c.channels[channels[1]] = t
			t.transport = fmt.Sprintf("RTP/AVP/TCP;unicast;interleaved=%d-%d;ssrc=%08X", channels[0], channels[1], t.rtp.SSRC())
			return t, nil
		case LowerTransportSCTP == spec.lower:
			if !options.EnableSCTP || c.association == nil {
				continue
			}

			streams := spec.streams
			if streams[0] < 0 {
				streams = [2]int{2*index + 1, 2*index + 2}
			}

			transport, err := c.openSCTPTransport(uint16(streams[0]), uint16(streams[1]))
			if err != nil {
				return nil, err
			}

			c.newRTPSession(s, t, track, transport)

			transport.Start(c.rtcpHandler(s, t))
			t.transport = fmt.Sprintf("RTP/AVP/SCTP;unicast;streams=%d-%d;ssrc=%08X", streams[0], streams[1], t.rtp.SSRC())
			return t, nil
		default:
			if !options.EnableUDP || spec.clientPorts[0] == 0 {
				continue
			}

			remote := c.remoteIP()
			if remote == nil || !spec.acceptDestination(remote) {
				continue
			}

			transport, err := rtp.NewUDPTransport(options.Ports, options.ListenIP, remote, spec.clientPorts[0], spec.clientPorts[1])
			if err != nil {
				return nil, newStatusError(StatusNotEnoughBandwidth, "failed to alloc udp ports: %w", err)
			}

			c.newRTPSession(s, t, track, transport)

			transport.Start(c.rtcpHandler(s, t))
			rtpPort, rtcpPort := transport.ServerPorts()
			t.transport = fmt.Sprintf("RTP/AVP;unicast;client_port=%d-%d;server_port=%d-%d;ssrc=%08X",
				spec.clientPorts[0], spec.clientPorts[1], rtpPort, rtcpPort, t.rtp.SSRC())
			return t, nil
		}
	}

	return nil, newStatusError(StatusUnsupportedTransport, "no acceptable transport")
}

// newRTPSession 创建消费者和暂停状态的RTP会话
func (c *conn) newRTPSession(s *session, t *trackSession, track *stream.Track, transport rtp.Transport) {
	options := c.server.options
	t.rtp = rtp.NewSession(rtp.SessionConfig{
		Consumer:       track.NewConsumer(),
		Transport:      transport,
		Scheduler:      c.scheduler,
		CNAME:          c.server.cname,
		Live:           s.resource.Live(),
		BufferedFrames: options.BufferedFrames,
		IdleTimeout:    options.IdleTimeout,
		RequestMore:    s.resource.RequestMore,
		OnFatal: func(err error) {
			// 在RTP会话的定时回调中, 异步拆除会话
			go c.loop.Post(func() {
				if !s.closed {
					log.Sugar.Errorf("rtsp session fatal err:%s session:%s", err.Error(), s.id)
					c.destroySession(s, err.Error())
				}
			})
		},
	})
}

// rtcpHandler UDP/SCTP读协程收到的RTCP投递到事件循环
func (c *conn) rtcpHandler(s *session, t *trackSession) func([]byte) {
	return func(data []byte) {
		c.loop.Post(func() {
			if s.closed || t.rtp == nil {
				return
			}

			t.rtp.HandleRTCP(data)
			s.touch()
		})
	}
}

// allocChannels 使用客户端指定的通道, 未指定时分配未使用的偶数通道对
func (c *conn) allocChannels(requested [2]int) ([]byte, bool) {
	if requested[0] >= 0 {
		if requested[0] > 255 || requested[1] > 255 || requested[0] == requested[1] {
			return nil, false
		}

		_, used0 := c.channels[byte(requested[0])]
		_, used1 := c.channels[byte(requested[1])]
		if used0 || used1 {
			return nil, false
		}

		return []byte{byte(requested[0]), byte(requested[1])}, true
	}

	for i := 0; i < 255; i += 2 {
		_, used0 := c.channels[byte(i)]
		_, used1 := c.channels[byte(i+1)]
		if !used0 && !used1 {
			return []byte{byte(i), byte(i + 1)}, true
		}
	}

	return nil, false
}

// closeTrack 停止RTP会话或离开组播组
func (c *conn) closeTrack(t *trackSession) error {
	for _, channel := range t.channels {
		delete(c.channels, channel)
	}

	if t.group != nil {
		group := t.group
		t.group = nil
		return c.server.multicast.leave(group)
	} else if t.rtp != nil {
		return t.rtp.Close()
	}

	return nil
}

func (c *conn) remoteIP() net.IP {
	host, _, err := net.SplitHostPort(c.remoteAddr())
	if err != nil {
		return nil
	}

	return net.ParseIP(host)
}
