package rtp

import (
	"fmt"
	"net"
	"sync/atomic"

	"golang.org/x/net/ipv4"
)

// MulticastTransport 发往组播地址, 由加入同一组的所有客户端共享
type MulticastTransport struct {
	conn     *net.UDPConn
	rtpAddr  *net.UDPAddr
	rtcpAddr *net.UDPAddr
	ttl      int
	closed   atomic.Bool
}

func NewMulticastTransport(group net.IP, port, ttl int) (*MulticastTransport, error) {
	if !group.IsMulticast() {
		return nil, fmt.Errorf("%s is not a multicast address", group.String())
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, err
	}

	packetConn := ipv4.NewPacketConn(conn)
	if err = packetConn.SetMulticastTTL(ttl); err != nil {
		conn.Close()
		return nil, err
	}

	if err = packetConn.SetMulticastLoopback(true); err != nil {
		conn.Close()
		return nil, err
	}

	return &MulticastTransport{
		conn:     conn,
		rtpAddr:  &net.UDPAddr{IP: group, Port: port},
		rtcpAddr: &net.UDPAddr{IP: group, Port: port + 1},
		ttl:      ttl,
	}, nil
}

func (t *MulticastTransport) Group() (net.IP, int, int) {
	return t.rtpAddr.IP, t.rtpAddr.Port, t.ttl
}

func (t *MulticastTransport) Send(channel Channel, data []byte) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}

	addr := t.rtpAddr
	if ChannelRTCP == channel {
		addr = t.rtcpAddr
	}

	_, err := t.conn.WriteToUDP(data, addr)
	return err
}

func (t *MulticastTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	return t.conn.Close()
}

func (t *MulticastTransport) String() string {
	return fmt.Sprintf("multicast %s:%d ttl=%d", t.rtpAddr.IP.String(), t.rtpAddr.Port, t.ttl)
}
