package rtp

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/lscube/feng/log"
	"github.com/pion/sctp"
	"go.uber.org/multierr"
)

// SCTPTransport RTP/RTCP各占用一个SCTP流
type SCTPTransport struct {
	rtp    *sctp.Stream
	rtcp   *sctp.Stream
	closed atomic.Bool
}

func NewSCTPTransport(rtp, rtcp *sctp.Stream) *SCTPTransport {
	return &SCTPTransport{rtp: rtp, rtcp: rtcp}
}

func (t *SCTPTransport) Streams() (uint16, uint16) {
	return t.rtp.StreamIdentifier(), t.rtcp.StreamIdentifier()
}

func (t *SCTPTransport) Start(onRTCP func([]byte)) {
	go func() {
		buffer := make([]byte, 1500)
		for {
			n, err := t.rtcp.Read(buffer)
			if err != nil {
				if !t.closed.Load() && !errors.Is(err, io.EOF) {
					log.Sugar.Warnf("sctp transport read failed err:%s stream:%d", err.Error(), t.rtcp.StreamIdentifier())
				}
				return
			}

			data := make([]byte, n)
			copy(data, buffer[:n])
			onRTCP(data)
		}
	}()
}

func (t *SCTPTransport) Send(channel Channel, data []byte) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}

	stream := t.rtp
	if ChannelRTCP == channel {
		stream = t.rtcp
	}

	_, err := stream.WriteSCTP(data, sctp.PayloadTypeWebRTCBinary)
	return err
}

func (t *SCTPTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	return multierr.Append(t.rtp.Close(), t.rtcp.Close())
}

func (t *SCTPTransport) String() string {
	rtpStream, rtcpStream := t.Streams()
	return fmt.Sprintf("SCTP streams %d-%d", rtpStream, rtcpStream)
}
