package rtsp

import (
	"github.com/lscube/feng/rtp"
	"github.com/pion/sctp"
	"go.uber.org/multierr"
)

// openSCTPTransport 打开(或取得客户端已经打开的)rtp/rtcp流
func (c *conn) openSCTPTransport(rtpStream, rtcpStream uint16) (*rtp.SCTPTransport, error) {
	if rtpStream == 0 || rtcpStream == 0 || rtpStream == rtcpStream {
		return nil, newStatusError(StatusUnsupportedTransport, "invalid sctp streams %d-%d", rtpStream, rtcpStream)
	}

	rtpConn, err := c.association.OpenStream(rtpStream, sctp.PayloadTypeWebRTCBinary)
	if err != nil {
		return nil, err
	}

	rtcpConn, err := c.association.OpenStream(rtcpStream, sctp.PayloadTypeWebRTCBinary)
	if err != nil {
		return nil, multierr.Append(err, rtpConn.Close())
	}

	return rtp.NewSCTPTransport(rtpConn, rtcpConn), nil
}
