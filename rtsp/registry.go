package rtsp

import (
	"errors"
	"sync"
	"time"

	"github.com/lscube/feng/rtp"
	"github.com/pion/randutil"
)

const sessionIdRunes = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

var errSessionQuota = errors.New("too many sessions")

type TrackInfo struct {
	Control   string    `json:"control"`
	Transport string    `json:"transport"`
	Stats     rtp.Stats `json:"stats"`
}

type SessionInfo struct {
	Id         string      `json:"id"`
	Resource   string      `json:"resource"`
	State      string      `json:"state"`
	Connection string      `json:"connection"`
	RemoteAddr string      `json:"remote_addr"`
	Position   float64     `json:"position"`
	CreateTime time.Time   `json:"create_time"`
	Tracks     []TrackInfo `json:"tracks"`
}

// sessionRegistry 全局会话表, 负责会话数量限制
type sessionRegistry struct {
	lock     sync.RWMutex
	sessions map[string]*session
	max      int
}

func newSessionRegistry(max int) *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*session, 64), max: max}
}

func generateSessionId() string {
	id, err := randutil.GenerateCryptoRandomString(16, sessionIdRunes)
	if err != nil {
		panic(err)
	}

	return id
}

// add 分配会话id并注册, 超过上限返回errSessionQuota
func (r *sessionRegistry) add(s *session) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.max > 0 && len(r.sessions) >= r.max {
		return errSessionQuota
	}

	for {
		s.id = generateSessionId()
		if _, ok := r.sessions[s.id]; !ok {
			break
		}
	}

	r.sessions[s.id] = s
	return nil
}

func (r *sessionRegistry) remove(id string) {
	r.lock.Lock()
	delete(r.sessions, id)
	r.lock.Unlock()
}

func (r *sessionRegistry) find(id string) *session {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.sessions[id]
}

func (r *sessionRegistry) count() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.sessions)
}

func (r *sessionRegistry) snapshot() []*session {
	r.lock.RLock()
	defer r.lock.RUnlock()

	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}

	return sessions
}
