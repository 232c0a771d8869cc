package rtsp

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/lscube/feng/log"
	"github.com/lscube/feng/rtp"
	"github.com/lscube/feng/stream"
	"go.uber.org/multierr"
)

type MulticastOptions struct {
	Enable     bool
	GroupStart string // 第一个组播地址, 之后的组依次加1
	Port       int
	TTL        int
}

// multicastGroup 直播源的一个track发往一个组播地址, 所有加入的客户端共享同一个RTP会话.
// 组有自己的事件循环
type multicastGroup struct {
	key       string
	loop      *eventLoop
	resource  *stream.Resource
	transport *rtp.MulticastTransport
	session   *rtp.Session

	// 由multicastManager.lock保护
	members int
}

func (g *multicastGroup) transportHeader() string {
	ip, port, ttl := g.transport.Group()
	return fmt.Sprintf("RTP/AVP;multicast;destination=%s;port=%d-%d;ttl=%d;ssrc=%08X", ip.String(), port, port+1, ttl, g.session.SSRC())
}

func (g *multicastGroup) rtpInfo(url string) string {
	var seq uint16
	var rtpTime uint32
	g.loop.Call(func() {
		seq = g.session.NextSeq()
		rtpTime = g.session.RTPTime(g.session.Position())
	})

	return fmt.Sprintf("url=%s;seq=%d;rtptime=%d", url, seq, rtpTime)
}

type multicastManager struct {
	server *Server
	lock   sync.Mutex
	groups map[string]*multicastGroup
	next   uint32
}

func newMulticastManager(server *Server) *multicastManager {
	return &multicastManager{server: server, groups: make(map[string]*multicastGroup, 8)}
}

func (m *multicastManager) allocAddress() (net.IP, error) {
	start := net.ParseIP(m.server.options.Multicast.GroupStart).To4()
	if start == nil || !start.IsMulticast() {
		return nil, fmt.Errorf("invalid multicast group start %s", m.server.options.Multicast.GroupStart)
	}

	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, binary.BigEndian.Uint32(start)+m.next)
	m.next++
	return ip, nil
}

// join 加入(或创建)资源某个track的组播组
func (m *multicastManager) join(name string, index int) (*multicastGroup, error) {
	key := fmt.Sprintf("%s/%s", name, stream.ControlName(index))

	m.lock.Lock()
	defer m.lock.Unlock()

	if group, ok := m.groups[key]; ok {
		group.members++
		return group, nil
	}

	options := m.server.options
	resource, err := stream.ResourceManager.Acquire(name, options.Opener, options.resourceOptions())
	if err != nil {
		return nil, err
	}

	group, err := m.create(key, resource, index)
	if err != nil {
		return nil, multierr.Append(err, stream.ResourceManager.Release(resource))
	}

	m.groups[key] = group
	log.Sugar.Infof("multicast group created key:%s transport:%s", key, group.transport.String())
	return group, nil
}

func (m *multicastManager) create(key string, resource *stream.Resource, index int) (*multicastGroup, error) {
	if !resource.Live() {
		return nil, newStatusError(StatusUnsupportedTransport, "multicast requires a live resource")
	}

	track, err := resource.Track(index)
	if err != nil {
		return nil, err
	}

	ip, err := m.allocAddress()
	if err != nil {
		return nil, err
	}

	options := m.server.options
	transport, err := rtp.NewMulticastTransport(ip, options.Multicast.Port, options.Multicast.TTL)
	if err != nil {
		return nil, err
	}

	group := &multicastGroup{
		key:       key,
		loop:      newEventLoop(256),
		resource:  resource,
		transport: transport,
		members:   1,
	}

	group.session = rtp.NewSession(rtp.SessionConfig{
		Consumer:       track.NewConsumer(),
		Transport:      transport,
		Scheduler:      rtp.NewLoopScheduler(group.loop.Post),
		CNAME:          m.server.cname,
		Live:           true,
		BufferedFrames: options.BufferedFrames,
		RequestMore:    resource.RequestMore,
	})

	go group.loop.run()
	group.loop.Post(group.session.Play)
	return group, nil
}

// leave 最后一个成员离开时关闭组
func (m *multicastManager) leave(group *multicastGroup) error {
	m.lock.Lock()
	group.members--
	if group.members > 0 {
		m.lock.Unlock()
		return nil
	}

	delete(m.groups, group.key)
	m.lock.Unlock()

	var err error
	group.loop.Call(func() {
		err = group.session.Close()
	})
	group.loop.Close()

	log.Sugar.Infof("multicast group closed key:%s", group.key)
	return multierr.Append(err, stream.ResourceManager.Release(group.resource))
}

func (m *multicastManager) count() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.groups)
}
