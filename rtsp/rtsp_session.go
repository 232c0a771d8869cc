package rtsp

import (
	"fmt"
	"strings"
	"time"

	"github.com/lscube/feng/log"
	"github.com/lscube/feng/rtp"
	"github.com/lscube/feng/stream"
	"go.uber.org/multierr"
)

type SessionState int

const (
	SessionStateInit = SessionState(iota)
	SessionStateReady
	SessionStatePlaying
)

func (s SessionState) String() string {
	switch s {
	case SessionStateReady:
		return "ready"
	case SessionStatePlaying:
		return "playing"
	default:
		return "init"
	}
}

// 各状态下允许的请求, 顺序用于Allow头
var allowedMethods = map[SessionState][]string{
	SessionStateInit:    {MethodOptions, MethodDescribe, MethodSetup, MethodTeardown, MethodGetParameter},
	SessionStateReady:   {MethodOptions, MethodDescribe, MethodSetup, MethodPlay, MethodPause, MethodTeardown, MethodGetParameter},
	SessionStatePlaying: {MethodOptions, MethodDescribe, MethodPlay, MethodPause, MethodTeardown, MethodGetParameter},
}

func (s SessionState) allow(method string) bool {
	for _, m := range allowedMethods[s] {
		if m == method {
			return true
		}
	}

	return false
}

func (s SessionState) allowHeader() string {
	return strings.Join(allowedMethods[s], ", ")
}

// session RTSP会话, 只在所属连接的事件循环中访问
type session struct {
	id           string
	conn         *conn
	state        SessionState
	resourceName string
	resource     *stream.Resource
	tracks       []*trackSession

	position float64 // 当前播放位置, 秒
	played   bool

	timeout    time.Duration
	lastActive time.Time
	timer      rtp.Timer
	createTime time.Time
	closed     bool
}

func (s *session) track(index int) *trackSession {
	for _, t := range s.tracks {
		if t.index == index {
			return t
		}
	}

	return nil
}

func (s *session) touch() {
	s.lastActive = s.conn.scheduler.Now()
}

// header Session响应头
func (s *session) header() string {
	if s.timeout > 0 {
		return fmt.Sprintf("%s;timeout=%d", s.id, int(s.timeout.Seconds()))
	}

	return s.id
}

func (s *session) startTimeout() {
	if s.timeout <= 0 {
		return
	}

	s.timer = s.conn.scheduler.AfterFunc(s.timeout, s.checkTimeout)
}

func (s *session) checkTimeout() {
	if s.closed {
		return
	}

	idle := s.conn.scheduler.Now().Sub(s.lastActive)
	if idle < s.timeout {
		s.timer = s.conn.scheduler.AfterFunc(s.timeout-idle, s.checkTimeout)
		return
	}

	log.Sugar.Infof("rtsp session timeout session:%s idle:%s conn:%s", s.id, idle, s.conn.remoteAddr())
	s.conn.destroySession(s, "timeout")
}

// currentPosition 取第一个单播track的发送位置
func (s *session) currentPosition() float64 {
	for _, t := range s.tracks {
		if t.rtp != nil {
			return t.rtp.Position()
		}
	}

	return s.position
}

func (s *session) play() {
	for _, t := range s.tracks {
		if t.rtp != nil && !t.rtp.IsPlaying() {
			t.rtp.Play()
		}
	}

	s.state = SessionStatePlaying
	s.played = true
}

func (s *session) pause() {
	for _, t := range s.tracks {
		if t.rtp != nil {
			t.rtp.Pause()
		}
	}

	s.position = s.currentPosition()
	s.state = SessionStateReady
}

// seek 暂停所有track, 读取协程重置队列之后在loop中重新生成RTP时间基准并回调done.
// 会话在此期间被销毁时不回调
func (s *session) seek(position float64, done func(err error)) {
	for _, t := range s.tracks {
		if t.rtp != nil {
			t.rtp.Pause()
		}
	}

	loop := s.conn.loop
	s.resource.SeekAsync(position, func(err error) {
		loop.Post(func() {
			if s.closed {
				return
			}

			if err == nil {
				for _, t := range s.tracks {
					if t.rtp != nil {
						t.rtp.Seek(position)
					}
				}

				s.position = position
			}

			done(err)
		})
	})
}

// rtpInfo RTP-Info头, position为即将发送的第一个单元的时间
func (s *session) rtpInfo(base string, position float64) string {
	infos := make([]string, 0, len(s.tracks))
	for _, t := range s.tracks {
		infos = append(infos, t.rtpInfo(base, position))
	}

	return strings.Join(infos, ",")
}

func (s *session) removeTrack(t *trackSession) error {
	for i, track := range s.tracks {
		if track == t {
			s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
			break
		}
	}

	return s.conn.closeTrack(t)
}

// close 释放所有track和资源, 可重复调用
func (s *session) close() error {
	if s.closed {
		return nil
	}

	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	var err error
	for _, t := range s.tracks {
		err = multierr.Append(err, s.conn.closeTrack(t))
	}
	s.tracks = nil

	if s.resource != nil {
		err = multierr.Append(err, stream.ResourceManager.Release(s.resource))
		s.resource = nil
	}

	return err
}

func (s *session) info() SessionInfo {
	info := SessionInfo{
		Id:         s.id,
		Resource:   s.resourceName,
		State:      s.state.String(),
		Connection: s.conn.id,
		RemoteAddr: s.conn.remoteAddr(),
		Position:   s.currentPosition(),
		CreateTime: s.createTime,
	}

	for _, t := range s.tracks {
		info.Tracks = append(info.Tracks, t.summary())
	}

	return info
}

func (s *session) playEventInfo() stream.PlayEventInfo {
	return stream.PlayEventInfo{
		Session:    s.id,
		Resource:   s.resourceName,
		Protocol:   "rtsp",
		RemoteAddr: s.conn.remoteAddr(),
	}
}
