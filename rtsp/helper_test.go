package rtsp

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/lscube/feng/stream"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

// 写入n组记录, 每组每个track一个单元, 间隔40ms
func writeTestDump(t *testing.T, dir, name string, live bool, n int) {
	t.Helper()

	writer, err := stream.NewDumpWriter(filepath.Join(dir, name), stream.DumpMeta{
		Live: live,
		Tracks: []stream.TrackInfo{
			{MediaType: "video", PayloadType: 96, Encoding: "H264", ClockRate: 90000, Fmtp: "packetization-mode=1"},
			{MediaType: "audio", PayloadType: 97, Encoding: "MPEG4-GENERIC", ClockRate: 48000, Channels: 2},
		},
	})
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		ts := float64(i) * 0.04
		require.NoError(t, writer.WritePacket(0, &stream.Buffer{Timestamp: ts, Duration: 0.04, Marker: true, Payload: []byte{0x65, byte(i)}}))
		require.NoError(t, writer.WritePacket(1, &stream.Buffer{Timestamp: ts, Duration: 0.04, Payload: []byte{0x21, byte(i)}}))
	}

	require.NoError(t, writer.Close())
}

func newTestServer(t *testing.T, modify func(options *Options)) (*Server, string) {
	t.Helper()

	dir := t.TempDir()
	options := Options{
		MaxConnections: 100,
		BufferedFrames: 8,
		SessionTimeout: time.Minute,
		IdleTimeout:    10 * time.Second,
		WriteQueueSize: 1024,
		EnableTCP:      true,
		EnableUDP:      true,
		Opener:         stream.FileOpener{Root: dir},
		Ports:          stream.NewTransportManager(40000, 41000),
	}

	if modify != nil {
		modify(&options)
	}

	server := NewServer(options)
	t.Cleanup(server.Close)
	return server, dir
}

type testResponse struct {
	code    int
	headers textproto.MIMEHeader
	body    []byte
}

type interleavedFrame struct {
	channel byte
	data    []byte
}

type testClient struct {
	t       *testing.T
	conn    net.Conn
	reader  *bufio.Reader
	cseq    int
	session string
	frames  []interleavedFrame
}

func dialTestServer(t *testing.T, server *Server) *testClient {
	client, remote := net.Pipe()
	server.Serve(remote)
	t.Cleanup(func() {
		_ = client.Close()
	})

	return &testClient{t: t, conn: client, reader: bufio.NewReader(client)}
}

func (c *testClient) write(raw string) {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := c.conn.Write([]byte(raw))
	require.NoError(c.t, err)
}

// do 发送请求并读取响应, 期间收到的交织数据保存到frames
func (c *testClient) do(method, url string, headers ...string) *testResponse {
	c.t.Helper()

	cseq := c.send(method, url, headers...)
	response := c.readResponse()
	require.Equal(c.t, strconv.Itoa(cseq), response.headers.Get("Cseq"))
	return response
}

// send 只发送请求, 返回CSeq
func (c *testClient) send(method, url string, headers ...string) int {
	c.t.Helper()

	c.cseq++
	var builder strings.Builder
	fmt.Fprintf(&builder, "%s %s RTSP/1.0\r\nCSeq: %d\r\n", method, url, c.cseq)
	if c.session != "" {
		fmt.Fprintf(&builder, "Session: %s\r\n", c.session)
	}

	for i := 0; i+1 < len(headers); i += 2 {
		fmt.Fprintf(&builder, "%s: %s\r\n", headers[i], headers[i+1])
	}
	builder.WriteString("\r\n")

	c.write(builder.String())
	return c.cseq
}

func (c *testClient) readResponse() *testResponse {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		b, err := c.reader.Peek(1)
		require.NoError(c.t, err)

		if '$' == b[0] {
			c.readFrame()
			continue
		}

		tp := textproto.NewReader(c.reader)
		line, err := tp.ReadLine()
		require.NoError(c.t, err)

		split := strings.SplitN(line, " ", 3)
		require.Len(c.t, split, 3)
		require.Equal(c.t, "RTSP/1.0", split[0])

		code, err := strconv.Atoi(split[1])
		require.NoError(c.t, err)

		headers, err := tp.ReadMIMEHeader()
		require.NoError(c.t, err)

		response := &testResponse{code: code, headers: headers}
		if length := headers.Get("Content-Length"); length != "" {
			n, err := strconv.Atoi(length)
			require.NoError(c.t, err)

			response.body = make([]byte, n)
			_, err = io.ReadFull(c.reader, response.body)
			require.NoError(c.t, err)
		}

		if session := headers.Get("Session"); session != "" {
			c.session = sessionId(session)
		}

		return response
	}
}

func (c *testClient) readFrame() interleavedFrame {
	c.t.Helper()

	header := make([]byte, 4)
	_, err := io.ReadFull(c.reader, header)
	require.NoError(c.t, err)
	require.Equal(c.t, byte('$'), header[0])

	data := make([]byte, binary.BigEndian.Uint16(header[2:]))
	_, err = io.ReadFull(c.reader, data)
	require.NoError(c.t, err)

	frame := interleavedFrame{channel: header[1], data: data}
	c.frames = append(c.frames, frame)
	return frame
}

// readRTP 读取n个指定通道上的RTP包
func (c *testClient) readRTP(channel byte, n int) []*rtp.Packet {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var packets []*rtp.Packet
	for len(packets) < n {
		frame := c.readFrame()
		if frame.channel != channel {
			continue
		}

		packet := &rtp.Packet{}
		require.NoError(c.t, packet.Unmarshal(frame.data))
		packets = append(packets, packet)
	}

	return packets
}

// rtcpByes 已收到的BYE个数
func (c *testClient) rtcpByes(channel byte) int {
	var n int
	for _, frame := range c.frames {
		if frame.channel != channel {
			continue
		}

		packets, err := rtcp.Unmarshal(frame.data)
		require.NoError(c.t, err)
		for _, packet := range packets {
			if _, ok := packet.(*rtcp.Goodbye); ok {
				n++
			}
		}
	}

	return n
}

// blockingOpener 打开的demuxer在Seek时通知seeking, 等待release关闭后才执行
type blockingOpener struct {
	stream.FileOpener
	seeking chan float64
	release chan struct{}
}

func (o *blockingOpener) Open(path string) (stream.Demuxer, error) {
	demuxer, err := o.FileOpener.Open(path)
	if err != nil {
		return nil, err
	}

	return &blockingDemuxer{Demuxer: demuxer, opener: o}, nil
}

type blockingDemuxer struct {
	stream.Demuxer
	opener *blockingOpener
}

func (d *blockingDemuxer) Seek(sec float64) error {
	d.opener.seeking <- sec
	<-d.opener.release
	return d.Demuxer.Seek(sec)
}

func findResource(name string) *stream.Resource {
	for _, r := range stream.ResourceManager.All() {
		if r.Name() == name {
			return r
		}
	}

	return nil
}

// parseRTPInfo url=..;seq=..;rtptime=..
func parseRTPInfo(t *testing.T, value string) (string, uint16, uint32) {
	t.Helper()

	var url string
	var seq, rtpTime uint64
	for _, param := range strings.Split(value, ";") {
		key, v, ok := strings.Cut(param, "=")
		require.True(t, ok)

		var err error
		switch key {
		case "url":
			url = v
		case "seq":
			seq, err = strconv.ParseUint(v, 10, 16)
		case "rtptime":
			rtpTime, err = strconv.ParseUint(v, 10, 32)
		}
		require.NoError(t, err)
	}

	return url, uint16(seq), uint32(rtpTime)
}
