package stream

import (
	"fmt"
	"sync"

	"github.com/lscube/feng/utils"
)

// TransportManager 在端口范围内分配UDP端口
type TransportManager interface {
	// AllocTransport 依次尝试端口, cb返回错误表示端口被占用, 继续尝试下一个
	AllocTransport(cb func(port uint16) error) error

	// AllocPairTransport 分配连续的偶数/奇数端口对, 用于rtp/rtcp
	AllocPairTransport(cb func(rtpPort, rtcpPort uint16) error) error
}

func NewTransportManager(start, end uint16) TransportManager {
	utils.Assert(end > start)

	return &transportManager{
		startPort: start,
		endPort:   end,
		nextPort:  start,
	}
}

type transportManager struct {
	startPort uint16
	endPort   uint16
	nextPort  uint16
	lock      sync.Mutex
}

func (t *transportManager) alloc(step uint16, try func(port uint16) bool) bool {
	loop := func(start, end uint16) (uint16, bool) {
		if start%step != 0 {
			start += step - start%step
		}

		for i := start; i+step-1 < end && i >= start; i += step {
			if try(i) {
				return i, true
			}
		}

		return 0, false
	}

	port, ok := loop(t.nextPort, t.endPort)
	if !ok {
		port, ok = loop(t.startPort, t.nextPort)
	}

	if !ok {
		return false
	}

	t.nextPort = port + step
	if t.nextPort >= t.endPort || t.nextPort < t.startPort {
		t.nextPort = t.startPort
	}

	return true
}

func (t *transportManager) AllocTransport(cb func(port uint16) error) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.alloc(1, func(port uint16) bool { return cb(port) == nil }) {
		return fmt.Errorf("no available ports in the [%d-%d] range", t.startPort, t.endPort)
	}

	return nil
}

func (t *transportManager) AllocPairTransport(cb func(rtpPort, rtcpPort uint16) error) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	ok := t.alloc(2, func(port uint16) bool {
		return port%2 == 0 && cb(port, port+1) == nil
	})

	if !ok {
		return fmt.Errorf("no available port pairs in the [%d-%d] range", t.startPort, t.endPort)
	}

	return nil
}
