package rtsp

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/lscube/feng/log"
	"github.com/lscube/feng/rtp"
	"github.com/lscube/feng/utils"
	"github.com/pion/sctp"
)

const readBufferSize = 64 * 1024

// conn 一个RTSP信令连接(TCP或SCTP流0). 读协程解析请求和交织数据, 写协程顺序发送,
// 所有会话状态都在loop中处理
type conn struct {
	id          string
	server      *Server
	rwc         io.ReadWriteCloser
	remote      net.Addr
	association *sctp.Association
	loop        *eventLoop
	scheduler   rtp.Scheduler

	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// 以下只在loop中访问
	sessions map[string]*session
	channels map[byte]*trackSession
	pending  *pendingRequest // 异步处理中的请求
	backlog  []func()        // pending期间收到的请求
}

// pendingRequest 处理函数延后响应的请求, 响应之前同一连接的后续请求排队, 保证响应顺序
type pendingRequest struct {
	msg     *message
	session *session
}

func newConn(server *Server, rwc io.ReadWriteCloser, remote net.Addr, association *sctp.Association) *conn {
	c := &conn{
		id:          uuid.New().String(),
		server:      server,
		rwc:         rwc,
		remote:      remote,
		association: association,
		loop:        newEventLoop(1024),
		frames:      make(chan []byte, server.options.WriteQueueSize),
		done:        make(chan struct{}),
		sessions:    make(map[string]*session, 1),
		channels:    make(map[byte]*trackSession, 4),
	}

	c.scheduler = rtp.NewLoopScheduler(c.loop.Post)
	return c
}

func (c *conn) serve() {
	go c.loop.run()
	go c.writeLoop()
	go c.readLoop()
}

func (c *conn) remoteAddr() string {
	if c.remote == nil {
		return ""
	}

	return c.remote.String()
}

func (c *conn) readLoop() {
	reader := bufio.NewReaderSize(c.rwc, readBufferSize)

	var err error
	for err == nil {
		var b []byte
		if b, err = reader.Peek(1); err != nil {
			break
		}

		if rtp.OverTcpMagic == b[0] {
			header := make([]byte, 4)
			if _, err = io.ReadFull(reader, header); err != nil {
				break
			}

			data := make([]byte, binary.BigEndian.Uint16(header[2:]))
			if _, err = io.ReadFull(reader, data); err != nil {
				break
			}

			c.loop.Post(func() {
				c.onInterleaved(header[1], data)
			})
			continue
		}

		msg, parseErr := readMessage(reader)
		if parseErr != nil && !errors.Is(parseErr, errMalformedRequest) {
			err = parseErr
			break
		}

		c.loop.Post(func() {
			c.onRequest(msg, parseErr)
		})
	}

	c.close(err)
}

func (c *conn) writeLoop() {
	for {
		select {
		case frame := <-c.frames:
			if _, err := c.rwc.Write(frame); err != nil {
				c.close(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// WriteFrame 交织RTP/RTCP, 写队列满时丢弃
func (c *conn) WriteFrame(frame []byte) error {
	select {
	case <-c.done:
		return rtp.ErrTransportClosed
	default:
	}

	select {
	case c.frames <- frame:
		return nil
	default:
		return rtp.ErrQueueFull
	}
}

// writeControl 信令响应, 队列满时阻塞
func (c *conn) writeControl(data []byte) {
	select {
	case c.frames <- data:
	case <-c.done:
	}
}

func (c *conn) onRequest(msg *message, parseErr error) {
	if c.pending != nil {
		c.backlog = append(c.backlog, func() {
			c.onRequest(msg, parseErr)
		})
		return
	}

	response, body := c.server.handler.Process(c, msg, parseErr)
	if response == nil {
		// 由complete响应
		utils.Assert(c.pending != nil)
		c.pending.msg = msg
		return
	}

	c.respond(msg, response, body)
}

// deferResponse 当前请求改为异步响应, 处理函数返回nil响应
func (c *conn) deferResponse(s *session) *pendingRequest {
	utils.Assert(c.pending == nil)
	c.pending = &pendingRequest{session: s}
	return c.pending
}

// complete 在loop中响应异步请求, 然后继续处理排队的请求. 请求已经被响应过时忽略
func (c *conn) complete(p *pendingRequest, response *http.Response, body []byte) {
	if c.pending != p {
		return
	}

	c.pending = nil
	c.respond(p.msg, response, body)

	for c.pending == nil && len(c.backlog) > 0 {
		select {
		case <-c.done:
			c.backlog = nil
			return
		default:
		}

		next := c.backlog[0]
		c.backlog = c.backlog[1:]
		next()
	}
}

func (c *conn) respond(msg *message, response *http.Response, body []byte) {
	c.writeControl(marshalResponse(response, body))

	fields := log.Fields{
		"conn":   c.id,
		"remote": c.remoteAddr(),
		"status": response.StatusCode,
		"cseq":   response.Header.Get("Cseq"),
	}

	if msg != nil {
		fields["method"] = msg.method
		fields["url"] = msg.rawURL
	}

	if id := response.Header.Get("Session"); id != "" {
		fields["session"] = sessionId(id)
	}

	log.Access(fields)
}

func (c *conn) onInterleaved(channel byte, data []byte) {
	t, ok := c.channels[channel]
	if !ok || t.rtp == nil || channel != t.channels[1] {
		return
	}

	t.rtp.HandleRTCP(data)
	for _, s := range c.sessions {
		if s.track(t.index) == t {
			s.touch()
		}
	}
}

// newSession 注册会话, 通知on_play. 数量超限453, hook失败403
func (c *conn) newSession(name string) (*session, error) {
	s := &session{
		conn:         c,
		resourceName: name,
		timeout:      c.server.options.SessionTimeout,
		createTime:   c.scheduler.Now(),
	}

	if err := c.server.sessions.add(s); err != nil {
		return nil, newStatusError(StatusNotEnoughBandwidth, "%w: max %d", err, c.server.options.MaxConnections)
	}

	if c.server.options.OnPlay != nil {
		if err := c.server.options.OnPlay(s.playEventInfo()); err != nil {
			c.server.sessions.remove(s.id)
			return nil, newStatusError(http.StatusForbidden, "play rejected: %w", err)
		}
	}

	resource, err := c.server.acquire(name)
	if err != nil {
		c.server.sessions.remove(s.id)
		return nil, err
	}

	s.resource = resource
	c.sessions[s.id] = s
	s.touch()
	s.startTimeout()

	c.server.events.Publish(Event{Type: EventSessionCreated, Session: s.id, Resource: name, RemoteAddr: c.remoteAddr()})
	log.Sugar.Infof("rtsp session created session:%s resource:%s conn:%s", s.id, name, c.remoteAddr())
	return s, nil
}

// destroySession 拆除会话, 释放所有track和资源
func (c *conn) destroySession(s *session, reason string) {
	if s.closed {
		return
	}

	if err := s.close(); err != nil {
		log.Sugar.Warnf("failed to close rtsp session cleanly err:%s session:%s", err.Error(), s.id)
	}

	delete(c.sessions, s.id)
	c.server.sessions.remove(s.id)

	// 会话销毁时还在等待seek的请求
	if p := c.pending; p != nil && p.session == s && p.msg != nil {
		defer c.complete(p, NewResponse(StatusSessionNotFound, p.msg.headers.Get("Cseq")), nil)
	}

	if c.server.options.OnPlayDone != nil {
		go c.server.options.OnPlayDone(s.playEventInfo())
	}

	c.server.events.Publish(Event{Type: EventSessionClosed, Session: s.id, Resource: s.resourceName, RemoteAddr: c.remoteAddr(), Reason: reason})
	log.Sugar.Infof("rtsp session closed session:%s reason:%s conn:%s", s.id, reason, c.remoteAddr())
}

// close 可在任意协程调用, 但不能在loop中调用
func (c *conn) close(err error) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.rwc.Close()
		if c.association != nil {
			_ = c.association.Close()
		}

		reason := "disconnected"
		if err != nil && !errors.Is(err, io.EOF) {
			reason = err.Error()
		}

		c.loop.Post(func() {
			for _, s := range c.sessions {
				c.destroySession(s, reason)
			}

			c.loop.Close()
		})

		c.server.onDisConnected(c, err)
	})
}
