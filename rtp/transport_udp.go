package rtp

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/lscube/feng/log"
	"github.com/lscube/feng/stream"
	"go.uber.org/multierr"
)

// UDPTransport 单播, 服务端为每个track绑定一对端口
type UDPTransport struct {
	rtp        *net.UDPConn
	rtcp       *net.UDPConn
	remoteRTP  *net.UDPAddr
	remoteRTCP *net.UDPAddr
	closed     atomic.Bool
}

func NewUDPTransport(ports stream.TransportManager, listenIP string, remote net.IP, clientRTPPort, clientRTCPPort int) (*UDPTransport, error) {
	t := &UDPTransport{
		remoteRTP:  &net.UDPAddr{IP: remote, Port: clientRTPPort},
		remoteRTCP: &net.UDPAddr{IP: remote, Port: clientRTCPPort},
	}

	ip := net.ParseIP(listenIP)
	err := ports.AllocPairTransport(func(rtpPort, rtcpPort uint16) error {
		rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: int(rtpPort)})
		if err != nil {
			return err
		}

		rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: int(rtcpPort)})
		if err != nil {
			rtpConn.Close()
			return err
		}

		t.rtp = rtpConn
		t.rtcp = rtcpConn
		return nil
	})

	if err != nil {
		return nil, err
	}

	return t, nil
}

// ServerPorts 本地rtp/rtcp端口
func (t *UDPTransport) ServerPorts() (int, int) {
	return t.rtp.LocalAddr().(*net.UDPAddr).Port, t.rtcp.LocalAddr().(*net.UDPAddr).Port
}

// Start 开始接收客户端的RTCP. rtp端口只用于NAT打洞, 收到的数据丢弃
func (t *UDPTransport) Start(onRTCP func([]byte)) {
	go t.read(t.rtp, nil)
	go t.read(t.rtcp, onRTCP)
}

func (t *UDPTransport) read(conn *net.UDPConn, cb func([]byte)) {
	buffer := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if !t.closed.Load() {
				log.Sugar.Warnf("udp transport read failed err:%s local:%s", err.Error(), conn.LocalAddr().String())
			}
			return
		}

		if cb != nil && n > 0 {
			data := make([]byte, n)
			copy(data, buffer[:n])
			cb(data)
		}
	}
}

func (t *UDPTransport) Send(channel Channel, data []byte) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}

	var err error
	if ChannelRTCP == channel {
		_, err = t.rtcp.WriteToUDP(data, t.remoteRTCP)
	} else {
		_, err = t.rtp.WriteToUDP(data, t.remoteRTP)
	}

	return err
}

func (t *UDPTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	return multierr.Append(t.rtp.Close(), t.rtcp.Close())
}

func (t *UDPTransport) String() string {
	rtpPort, rtcpPort := t.ServerPorts()
	return fmt.Sprintf("UDP %d-%d -> %s", rtpPort, rtcpPort, t.remoteRTP.String())
}
