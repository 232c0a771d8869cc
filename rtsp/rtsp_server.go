package rtsp

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lscube/feng/log"
	"github.com/lscube/feng/stream"
	"github.com/lscube/feng/utils"
	"github.com/pion/sctp"
	"github.com/pion/transport/v2/udp"
)

type Options struct {
	Password string
	Realm    string
	PublicIP string
	ListenIP string

	MaxConnections int // 同时存在的RTSP会话上限
	BufferedFrames int
	MaxQueue       int
	Policy         stream.ResyncPolicy
	IdleTimeout    time.Duration
	SessionTimeout time.Duration
	WriteQueueSize int

	EnableTCP  bool
	EnableUDP  bool
	EnableSCTP bool
	Multicast  MulticastOptions

	Opener stream.Opener
	Ports  stream.TransportManager

	OnPlay     func(info stream.PlayEventInfo) error
	OnPlayDone func(info stream.PlayEventInfo)
}

func (o Options) resourceOptions() stream.ResourceOptions {
	return stream.ResourceOptions{BufferedFrames: o.BufferedFrames, MaxQueue: o.MaxQueue, Policy: o.Policy}
}

type Server struct {
	options   Options
	handler   *handler
	sessions  *sessionRegistry
	multicast *multicastManager
	events    *EventBus
	cname     string

	lock      sync.Mutex
	listeners []io.Closer
	addr      net.Addr
	conns     sync.Map // id->*conn
	connCount atomic.Int32
	closed    atomic.Bool
}

func NewServer(options Options) *Server {
	utils.Assert(options.Opener != nil)

	if options.Realm == "" {
		options.Realm = "feng"
	}

	if options.BufferedFrames < 1 {
		options.BufferedFrames = stream.DefaultBufferedFrames
	}

	if options.WriteQueueSize < 1 {
		options.WriteQueueSize = 1024
	}

	hostname, _ := os.Hostname()
	s := &Server{
		options:  options,
		handler:  newHandler(options.Password, options.Realm),
		sessions: newSessionRegistry(options.MaxConnections),
		events:   NewEventBus(),
		cname:    fmt.Sprintf("feng@%s", hostname),
	}

	s.multicast = newMulticastManager(s)
	return s
}

// Start 监听TCP端口
func (s *Server) Start(addr net.Addr) error {
	listener, err := net.Listen("tcp", addr.String())
	if err != nil {
		return err
	}

	s.lock.Lock()
	s.listeners = append(s.listeners, listener)
	s.addr = listener.Addr()
	s.lock.Unlock()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if !s.closed.Load() {
					log.Sugar.Errorf("rtsp accept failed err:%s addr:%s", err.Error(), addr.String())
				}
				return
			}

			s.Serve(conn)
		}
	}()

	return nil
}

// StartSCTP 监听UDP封装的SCTP, 每个关联的0号流为信令通道
func (s *Server) StartSCTP(addr *net.UDPAddr) error {
	listener, err := udp.Listen("udp", addr)
	if err != nil {
		return err
	}

	s.lock.Lock()
	s.listeners = append(s.listeners, listener)
	s.lock.Unlock()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if !s.closed.Load() {
					log.Sugar.Errorf("sctp accept failed err:%s addr:%s", err.Error(), addr.String())
				}
				return
			}

			go s.serveSCTP(conn)
		}
	}()

	return nil
}

func (s *Server) serveSCTP(netConn net.Conn) {
	association, err := sctp.Server(sctp.Config{
		NetConn:       netConn,
		LoggerFactory: log.PionLoggerFactory{},
	})
	if err != nil {
		log.Sugar.Errorf("sctp handshake failed err:%s conn:%s", err.Error(), netConn.RemoteAddr().String())
		_ = netConn.Close()
		return
	}

	// 其他流由SETUP时OpenStream取得
	for {
		control, err := association.AcceptStream()
		if err != nil {
			return
		}

		if control.StreamIdentifier() == 0 {
			s.onConnected(newConn(s, control, netConn.RemoteAddr(), association))
		}
	}
}

// Serve 处理一个已经建立的连接
func (s *Server) Serve(conn net.Conn) {
	s.onConnected(newConn(s, conn, conn.RemoteAddr(), nil))
}

func (s *Server) onConnected(c *conn) {
	if s.closed.Load() {
		_ = c.rwc.Close()
		return
	}

	log.Sugar.Debugf("rtsp连接 conn:%s", c.remoteAddr())

	s.conns.Store(c.id, c)
	s.connCount.Add(1)
	c.serve()
}

func (s *Server) onDisConnected(c *conn, err error) {
	if err != nil {
		log.Sugar.Debugf("rtsp断开连接 conn:%s err:%s", c.remoteAddr(), err.Error())
	} else {
		log.Sugar.Debugf("rtsp断开连接 conn:%s", c.remoteAddr())
	}

	if _, ok := s.conns.LoadAndDelete(c.id); ok {
		s.connCount.Add(-1)
	}
}

// acquire 打开或共享资源, 不存在返回404
func (s *Server) acquire(name string) (*stream.Resource, error) {
	return stream.ResourceManager.Acquire(name, s.options.Opener, s.options.resourceOptions())
}

func (s *Server) Addr() net.Addr {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.addr
}

func (s *Server) Events() *EventBus {
	return s.events
}

func (s *Server) ConnectionCount() int {
	return int(s.connCount.Load())
}

func (s *Server) SessionCount() int {
	return s.sessions.count()
}

func (s *Server) MulticastGroupCount() int {
	return s.multicast.count()
}

// Sessions 在各个连接的事件循环中读取会话信息
func (s *Server) Sessions() []SessionInfo {
	var infos []SessionInfo
	for _, session := range s.sessions.snapshot() {
		var info SessionInfo
		var ok bool
		session.conn.loop.Call(func() {
			if !session.closed {
				info = session.info()
				ok = true
			}
		})

		if ok {
			infos = append(infos, info)
		}
	}

	return infos
}

// Teardown 强制关闭会话
func (s *Server) Teardown(id string) bool {
	session := s.sessions.find(id)
	if session == nil {
		return false
	}

	return session.conn.loop.Post(func() {
		session.conn.destroySession(session, "teardown by api")
	})
}

func (s *Server) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.lock.Lock()
	for _, listener := range s.listeners {
		_ = listener.Close()
	}
	s.listeners = nil
	s.lock.Unlock()

	s.conns.Range(func(key, value any) bool {
		value.(*conn).close(nil)
		return true
	})
}
