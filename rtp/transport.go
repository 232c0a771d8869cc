package rtp

import (
	"encoding/binary"
	"errors"
)

type Channel int

const (
	ChannelRTP  = Channel(0)
	ChannelRTCP = Channel(1)

	// OverTcpMagic RTP over RTSP(TCP)的帧头
	OverTcpMagic = 0x24
)

var (
	ErrQueueFull       = errors.New("write queue full")
	ErrTransportClosed = errors.New("transport closed")
)

func (c Channel) String() string {
	if ChannelRTCP == c {
		return "rtcp"
	}

	return "rtp"
}

// Transport 发送RTP/RTCP的能力, 由UDP/TCP交织/SCTP/组播实现
type Transport interface {
	Send(channel Channel, data []byte) error

	Close() error

	// String 协商后的Transport头参数描述
	String() string
}

// FrameWriter RTSP连接的写队列. 交织数据不阻塞, 队列满时丢弃
type FrameWriter interface {
	WriteFrame(frame []byte) error
}

type InterleavedTransport struct {
	writer   FrameWriter
	channels [2]byte
}

func NewInterleavedTransport(writer FrameWriter, rtpChannel, rtcpChannel byte) *InterleavedTransport {
	return &InterleavedTransport{writer: writer, channels: [2]byte{rtpChannel, rtcpChannel}}
}

// OverTCP $ + channel + 2字节长度
func OverTCP(channel byte, data []byte) []byte {
	frame := make([]byte, 4+len(data))
	frame[0] = OverTcpMagic
	frame[1] = channel
	binary.BigEndian.PutUint16(frame[2:], uint16(len(data)))
	copy(frame[4:], data)
	return frame
}

func (t *InterleavedTransport) Send(channel Channel, data []byte) error {
	return t.writer.WriteFrame(OverTCP(t.channels[channel], data))
}

func (t *InterleavedTransport) Channels() (byte, byte) {
	return t.channels[0], t.channels[1]
}

// Close 信令链路由RTSP连接管理
func (t *InterleavedTransport) Close() error {
	return nil
}

func (t *InterleavedTransport) String() string {
	return "TCP interleaved"
}
