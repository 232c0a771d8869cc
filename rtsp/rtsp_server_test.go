package rtsp

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/lscube/feng/stream"
	"github.com/pion/rtcp"
	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tcpTransport = "RTP/AVP/TCP;unicast;interleaved=0-1"

func TestServer_Options(t *testing.T) {
	server, _ := newTestServer(t, nil)
	client := dialTestServer(t, server)

	response := client.do(MethodOptions, "*")
	require.Equal(t, http.StatusOK, response.code)

	public := response.headers.Get("Public")
	for _, method := range []string{MethodOptions, MethodDescribe, MethodSetup, MethodPlay, MethodPause, MethodTeardown, MethodGetParameter} {
		assert.Contains(t, public, method)
	}
}

func TestServer_Describe(t *testing.T) {
	server, dir := newTestServer(t, nil)
	writeTestDump(t, dir, "describe.dump", false, 50)
	client := dialTestServer(t, server)

	url := "rtsp://127.0.0.1/describe.dump"
	response := client.do(MethodDescribe, url)
	require.Equal(t, http.StatusOK, response.code)
	assert.Equal(t, "application/sdp", response.headers.Get("Content-Type"))
	assert.Equal(t, url+"/", response.headers.Get("Content-Base"))

	description := &sdp.SessionDescription{}
	require.NoError(t, description.Unmarshal(response.body))
	require.Len(t, description.MediaDescriptions, 2)

	video := description.MediaDescriptions[0]
	assert.Equal(t, "video", video.MediaName.Media)
	control, _ := video.Attribute("control")
	assert.Equal(t, "trackID=0", control)
	rtpmap, _ := video.Attribute("rtpmap")
	assert.Equal(t, "96 H264/90000", rtpmap)
	fmtp, _ := video.Attribute("fmtp")
	assert.Equal(t, "96 packetization-mode=1", fmtp)

	rtpmap, _ = description.MediaDescriptions[1].Attribute("rtpmap")
	assert.Equal(t, "97 MPEG4-GENERIC/48000/2", rtpmap)

	r, _ := description.Attribute("range")
	assert.Equal(t, "npt=0.000-2.000", r)

	response = client.do(MethodDescribe, "rtsp://127.0.0.1/missing.dump")
	assert.Equal(t, http.StatusNotFound, response.code)
}

func TestServer_ProtocolErrors(t *testing.T) {
	server, _ := newTestServer(t, nil)
	client := dialTestServer(t, server)

	response := client.do("RECORD", "rtsp://127.0.0.1/a.dump")
	assert.Equal(t, http.StatusNotImplemented, response.code)
	assert.Contains(t, response.headers.Get("Allow"), MethodPlay)

	response = client.do(MethodOptions, "*", "Require", "implicit-play")
	assert.Equal(t, StatusOptionNotSupported, response.code)
	assert.Equal(t, "implicit-play", response.headers.Get("Unsupported"))

	client.session = "UNKNOWN"
	response = client.do(MethodPause, "rtsp://127.0.0.1/a.dump")
	assert.Equal(t, StatusSessionNotFound, response.code)
	client.session = ""

	// 缺少CSeq
	client.write("OPTIONS * RTSP/1.0\r\n\r\n")
	response = client.readResponse()
	assert.Equal(t, http.StatusBadRequest, response.code)

	// 错误的请求行, 连接仍然可用
	client.write("HELLO\r\nCSeq: 9\r\n\r\n")
	response = client.readResponse()
	assert.Equal(t, http.StatusBadRequest, response.code)
	assert.Equal(t, "9", response.headers.Get("Cseq"))

	response = client.do(MethodOptions, "*")
	assert.Equal(t, http.StatusOK, response.code)
}

func TestServer_PlayInInit(t *testing.T) {
	server, dir := newTestServer(t, nil)
	writeTestDump(t, dir, "init.dump", false, 10)
	client := dialTestServer(t, server)

	for _, method := range []string{MethodPlay, MethodPause} {
		response := client.do(method, "rtsp://127.0.0.1/init.dump")
		require.Equal(t, StatusMethodNotValidInThisState, response.code)

		allow := response.headers.Get("Allow")
		assert.Contains(t, allow, MethodSetup)
		assert.Contains(t, allow, MethodTeardown)
		assert.NotContains(t, allow, MethodPlay)
	}
}

func TestServer_TeardownFromEveryState(t *testing.T) {
	server, dir := newTestServer(t, nil)
	writeTestDump(t, dir, "teardown.dump", false, 50)
	url := "rtsp://127.0.0.1/teardown.dump"

	t.Run("init", func(t *testing.T) {
		client := dialTestServer(t, server)
		response := client.do(MethodTeardown, url)
		assert.Equal(t, http.StatusOK, response.code)
	})

	t.Run("ready", func(t *testing.T) {
		client := dialTestServer(t, server)
		require.Equal(t, http.StatusOK, client.do(MethodSetup, url+"/trackID=0", "Transport", tcpTransport).code)
		require.Equal(t, 1, server.SessionCount())

		require.Equal(t, http.StatusOK, client.do(MethodTeardown, url).code)
		require.Equal(t, 0, server.SessionCount())
		require.Nil(t, findResource("teardown.dump"))

		// 会话已经不存在
		require.Equal(t, http.StatusOK, client.do(MethodTeardown, url).code)
		require.Equal(t, StatusSessionNotFound, client.do(MethodPlay, url).code)
	})

	t.Run("playing", func(t *testing.T) {
		client := dialTestServer(t, server)
		require.Equal(t, http.StatusOK, client.do(MethodSetup, url+"/trackID=0", "Transport", tcpTransport).code)
		require.Equal(t, http.StatusOK, client.do(MethodPlay, url).code)
		client.readRTP(0, 2)

		require.Equal(t, http.StatusOK, client.do(MethodTeardown, url).code)
		require.Equal(t, 0, server.SessionCount())
		require.Equal(t, 1, client.rtcpByes(1))
	})
}

func TestServer_DuplicateSetup(t *testing.T) {
	server, dir := newTestServer(t, nil)
	writeTestDump(t, dir, "dup.dump", false, 10)
	client := dialTestServer(t, server)

	url := "rtsp://127.0.0.1/dup.dump/trackID=0"
	require.Equal(t, http.StatusOK, client.do(MethodSetup, url, "Transport", tcpTransport).code)

	response := client.do(MethodSetup, url, "Transport", "RTP/AVP/TCP;unicast;interleaved=2-3")
	assert.Equal(t, http.StatusBadRequest, response.code)

	// 不存在的track
	response = client.do(MethodSetup, "rtsp://127.0.0.1/dup.dump/trackID=5", "Transport", "RTP/AVP/TCP;unicast;interleaved=4-5")
	assert.Equal(t, http.StatusNotFound, response.code)

	// 聚合路径
	response = client.do(MethodSetup, "rtsp://127.0.0.1/dup.dump", "Transport", "RTP/AVP/TCP;unicast;interleaved=4-5")
	assert.Equal(t, StatusAggregateOperationNotAllowed, response.code)

	response = client.do(MethodSetup, "rtsp://127.0.0.1/dup.dump/trackID=1", "Transport", "RTP/AVP/TCP;unicast;interleaved=0-1")
	assert.Equal(t, StatusUnsupportedTransport, response.code)

	response = client.do(MethodSetup, "rtsp://127.0.0.1/dup.dump/trackID=1", "Transport", tcpTransport+",RTP/AVP/TCP;unicast")
	require.Equal(t, http.StatusOK, response.code)
	assert.True(t, strings.HasPrefix(response.headers.Get("Transport"), "RTP/AVP/TCP;unicast;interleaved=2-3;ssrc="))
}

func TestServer_TwoSetupsIndependentConsumers(t *testing.T) {
	server, dir := newTestServer(t, nil)
	writeTestDump(t, dir, "shared.dump", true, 50)

	url := "rtsp://127.0.0.1/shared.dump/trackID=0"
	first := dialTestServer(t, server)
	second := dialTestServer(t, server)

	require.Equal(t, http.StatusOK, first.do(MethodSetup, url, "Transport", tcpTransport).code)
	require.Equal(t, http.StatusOK, second.do(MethodSetup, url, "Transport", tcpTransport).code)
	require.NotEqual(t, first.session, second.session)

	resource := findResource("shared.dump")
	require.NotNil(t, resource)
	track, err := resource.Track(0)
	require.NoError(t, err)
	require.Equal(t, 2, track.ConsumerCount())

	require.Equal(t, http.StatusOK, first.do(MethodTeardown, "rtsp://127.0.0.1/shared.dump").code)
	require.Equal(t, 1, track.ConsumerCount())
	require.NotNil(t, findResource("shared.dump"))

	require.Equal(t, http.StatusOK, second.do(MethodTeardown, "rtsp://127.0.0.1/shared.dump").code)
	require.Equal(t, 0, track.ConsumerCount())
	require.Nil(t, findResource("shared.dump"))
}

// 新会话的第一个SETUP失败, 会话和资源都要回滚
func TestServer_FailedFirstSetupUnwinds(t *testing.T) {
	server, dir := newTestServer(t, nil)
	writeTestDump(t, dir, "unwind.dump", false, 10)
	writeTestDump(t, dir, "unwind_live.dump", true, 50)

	tests := []struct {
		name      string
		url       string
		transport string
		code      int
	}{
		// 点播源不能组播, 管道连接也没有UDP可用的对端地址
		{name: "unsupported transport", url: "rtsp://127.0.0.1/unwind.dump/trackID=0", transport: "RTP/AVP;multicast,RTP/AVP;unicast;client_port=5000-5001", code: StatusUnsupportedTransport},
		{name: "track not found", url: "rtsp://127.0.0.1/unwind.dump/trackID=9", transport: tcpTransport, code: http.StatusNotFound},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			client := dialTestServer(t, server)
			response := client.do(MethodSetup, test.url, "Transport", test.transport)
			require.Equal(t, test.code, response.code)
			assert.Empty(t, response.headers.Get("Session"))
			assert.Equal(t, 0, server.SessionCount())
			assert.Nil(t, findResource("unwind.dump"))

			// 连接仍然可用
			response = client.do(MethodSetup, "rtsp://127.0.0.1/unwind.dump/trackID=0", "Transport", tcpTransport)
			require.Equal(t, http.StatusOK, response.code)
			require.Equal(t, 1, server.SessionCount())
			require.Equal(t, http.StatusOK, client.do(MethodTeardown, "rtsp://127.0.0.1/unwind.dump").code)
			assert.Equal(t, 0, server.SessionCount())
		})
	}

	// 共享的直播源上失败的SETUP不能留下消费者
	url := "rtsp://127.0.0.1/unwind_live.dump"
	holder := dialTestServer(t, server)
	require.Equal(t, http.StatusOK, holder.do(MethodSetup, url+"/trackID=0", "Transport", tcpTransport).code)

	resource := findResource("unwind_live.dump")
	require.NotNil(t, resource)
	track, err := resource.Track(0)
	require.NoError(t, err)
	require.Equal(t, 1, track.ConsumerCount())

	client := dialTestServer(t, server)
	require.Equal(t, StatusUnsupportedTransport, client.do(MethodSetup, url+"/trackID=0", "Transport", "RTP/AVP;unicast;client_port=5000-5001").code)
	require.Equal(t, http.StatusNotFound, client.do(MethodSetup, url+"/trackID=9", "Transport", tcpTransport).code)
	assert.Equal(t, 1, server.SessionCount())
	assert.Equal(t, 1, track.ConsumerCount())
	assert.Equal(t, 1, stream.ResourceManager.Refs(resource))

	require.Equal(t, http.StatusOK, holder.do(MethodTeardown, url).code)
	assert.Equal(t, 0, track.ConsumerCount())
	assert.Nil(t, findResource("unwind_live.dump"))
	assert.Equal(t, 0, server.SessionCount())
}

func TestServer_MulticastGroupRefcount(t *testing.T) {
	server, dir := newTestServer(t, func(options *Options) {
		options.Multicast = MulticastOptions{Enable: true, GroupStart: "239.255.0.1", Port: 45000, TTL: 1}
	})
	writeTestDump(t, dir, "group.dump", true, 50)

	url := "rtsp://127.0.0.1/group.dump"
	first := dialTestServer(t, server)
	second := dialTestServer(t, server)

	response := first.do(MethodSetup, url+"/trackID=0", "Transport", "RTP/AVP;multicast")
	require.Equal(t, http.StatusOK, response.code)
	transport := response.headers.Get("Transport")
	assert.True(t, strings.HasPrefix(transport, "RTP/AVP;multicast;destination=239.255.0.1;port=45000-45001;ttl=1;ssrc="), transport)
	require.Equal(t, 1, server.MulticastGroupCount())

	// 第二个客户端加入同一个组
	response = second.do(MethodSetup, url+"/trackID=0", "Transport", "RTP/AVP;multicast")
	require.Equal(t, http.StatusOK, response.code)
	assert.Equal(t, transport, response.headers.Get("Transport"))
	require.Equal(t, 1, server.MulticastGroupCount())

	// 客户端指定的组播地址不接受
	third := dialTestServer(t, server)
	response = third.do(MethodSetup, url+"/trackID=0", "Transport", "RTP/AVP;multicast;destination=239.1.1.1")
	require.Equal(t, StatusUnsupportedTransport, response.code)

	resource := findResource("group.dump")
	require.NotNil(t, resource)
	track, err := resource.Track(0)
	require.NoError(t, err)
	assert.Equal(t, 1, track.ConsumerCount())
	// 两个会话各持有一次, 组持有一次
	assert.Equal(t, 3, stream.ResourceManager.Refs(resource))

	response = first.do(MethodPlay, url)
	require.Equal(t, http.StatusOK, response.code)
	assert.Contains(t, response.headers.Get("Rtp-Info"), "url="+url+"/trackID=0;seq=")

	require.Equal(t, http.StatusOK, first.do(MethodTeardown, url).code)
	assert.Equal(t, 1, server.MulticastGroupCount())
	assert.Equal(t, 1, track.ConsumerCount())
	assert.Equal(t, 2, stream.ResourceManager.Refs(resource))

	require.Equal(t, http.StatusOK, second.do(MethodTeardown, url).code)
	assert.Equal(t, 0, server.MulticastGroupCount())
	assert.Equal(t, 0, track.ConsumerCount())
	assert.Nil(t, findResource("group.dump"))
	assert.Equal(t, 0, server.SessionCount())
}

func TestServer_SeekRTPInfo(t *testing.T) {
	server, dir := newTestServer(t, nil)
	writeTestDump(t, dir, "seek.dump", false, 300)
	client := dialTestServer(t, server)

	url := "rtsp://127.0.0.1/seek.dump"
	require.Equal(t, http.StatusOK, client.do(MethodSetup, url+"/trackID=0", "Transport", tcpTransport).code)

	response := client.do(MethodPlay, url, "Range", "npt=5-10")
	require.Equal(t, http.StatusOK, response.code)
	assert.Equal(t, "npt=5.000-10.000", response.headers.Get("Range"))

	trackURL, seq, rtpTime := parseRTPInfo(t, response.headers.Get("Rtp-Info"))
	assert.Equal(t, url+"/trackID=0", trackURL)

	packets := client.readRTP(0, 2)
	assert.Equal(t, seq, packets[0].SequenceNumber)
	assert.Equal(t, rtpTime, packets[0].Timestamp)
	assert.Equal(t, []byte{0x65, 125}, packets[0].Payload)
	assert.Equal(t, rtpTime+3600, packets[1].Timestamp)

	// 再次seek, 序号继续递增
	response = client.do(MethodPlay, url, "Range", "npt=1-")
	require.Equal(t, http.StatusOK, response.code)
	_, seq2, rtpTime2 := parseRTPInfo(t, response.headers.Get("Rtp-Info"))

	packets = client.readRTP(0, 1)
	for packets[0].SequenceNumber != seq2 {
		packets = client.readRTP(0, 1)
	}
	assert.Equal(t, rtpTime2, packets[0].Timestamp)
	assert.Equal(t, []byte{0x65, 25}, packets[0].Payload)
	assert.True(t, seq2-seq >= 2)
}

// seek由读取协程执行, 期间连接的loop继续工作, 后续请求按顺序响应
func TestServer_SeekDoesNotBlockLoop(t *testing.T) {
	opener := &blockingOpener{seeking: make(chan float64), release: make(chan struct{})}
	server, dir := newTestServer(t, func(options *Options) {
		opener.FileOpener = options.Opener.(stream.FileOpener)
		options.Opener = opener
	})
	writeTestDump(t, dir, "slow.dump", false, 300)
	client := dialTestServer(t, server)

	url := "rtsp://127.0.0.1/slow.dump"
	require.Equal(t, http.StatusOK, client.do(MethodSetup, url+"/trackID=0", "Transport", tcpTransport).code)

	playCSeq := client.send(MethodPlay, url, "Range", "npt=2-")
	select {
	case sec := <-opener.seeking:
		assert.Equal(t, 2.0, sec)
	case <-time.After(2 * time.Second):
		t.Fatal("seek not started")
	}

	// seek还没完成, 排在后面的请求等待
	keepaliveCSeq := client.send(MethodGetParameter, url)

	sessions := make(chan []SessionInfo, 1)
	go func() {
		sessions <- server.Sessions()
	}()

	select {
	case infos := <-sessions:
		require.Len(t, infos, 1)
		assert.Equal(t, SessionStateReady.String(), infos[0].State)
	case <-time.After(2 * time.Second):
		t.Fatal("connection loop blocked by seek")
	}

	close(opener.release)

	response := client.readResponse()
	require.Equal(t, strconv.Itoa(playCSeq), response.headers.Get("Cseq"))
	require.Equal(t, http.StatusOK, response.code)
	assert.True(t, strings.HasPrefix(response.headers.Get("Range"), "npt=2.000-"))

	response = client.readResponse()
	require.Equal(t, strconv.Itoa(keepaliveCSeq), response.headers.Get("Cseq"))
	require.Equal(t, http.StatusOK, response.code)

	packets := client.readRTP(0, 1)
	assert.Equal(t, []byte{0x65, 50}, packets[0].Payload)

	require.Equal(t, http.StatusOK, client.do(MethodTeardown, url).code)
}

func TestServer_LiveNotSeekable(t *testing.T) {
	server, dir := newTestServer(t, nil)
	writeTestDump(t, dir, "live.dump", true, 50)
	client := dialTestServer(t, server)

	url := "rtsp://127.0.0.1/live.dump"
	require.Equal(t, http.StatusOK, client.do(MethodSetup, url+"/trackID=0", "Transport", tcpTransport).code)

	response := client.do(MethodPlay, url, "Range", "npt=5-")
	require.Equal(t, StatusHeaderFieldNotValid, response.code)

	response = client.do(MethodPlay, url, "Range", "npt=0-10")
	require.Equal(t, StatusHeaderFieldNotValid, response.code)
	assert.Equal(t, "npt=now-", response.headers.Get("Range"))

	response = client.do(MethodPlay, url, "Range", "npt=now-")
	require.Equal(t, http.StatusOK, response.code)
	assert.Equal(t, "npt=now-", response.headers.Get("Range"))

	_, _, rtpTime := parseRTPInfo(t, response.headers.Get("Rtp-Info"))
	packets := client.readRTP(0, 1)
	assert.Equal(t, rtpTime, packets[0].Timestamp)

	require.Equal(t, http.StatusOK, client.do(MethodTeardown, url).code)
}

func TestServer_SessionQuota(t *testing.T) {
	server, dir := newTestServer(t, func(options *Options) {
		options.MaxConnections = 1
	})
	writeTestDump(t, dir, "quota.dump", false, 10)

	url := "rtsp://127.0.0.1/quota.dump/trackID=0"
	first := dialTestServer(t, server)
	require.Equal(t, http.StatusOK, first.do(MethodSetup, url, "Transport", tcpTransport).code)

	second := dialTestServer(t, server)
	require.Equal(t, StatusNotEnoughBandwidth, second.do(MethodSetup, url, "Transport", tcpTransport).code)

	require.Equal(t, http.StatusOK, first.do(MethodTeardown, url).code)
	require.Equal(t, http.StatusOK, second.do(MethodSetup, url, "Transport", tcpTransport).code)
}

func TestServer_PlayHookRejects(t *testing.T) {
	server, dir := newTestServer(t, func(options *Options) {
		options.OnPlay = func(info stream.PlayEventInfo) error {
			return fmt.Errorf("rejected %s", info.Resource)
		}
	})
	writeTestDump(t, dir, "hook.dump", false, 10)
	client := dialTestServer(t, server)

	response := client.do(MethodSetup, "rtsp://127.0.0.1/hook.dump/trackID=0", "Transport", tcpTransport)
	assert.Equal(t, http.StatusForbidden, response.code)
	assert.Equal(t, 0, server.SessionCount())
}

func TestServer_PlayPauseTeardown(t *testing.T) {
	server, dir := newTestServer(t, nil)
	writeTestDump(t, dir, "e2e.dump", false, 100)
	client := dialTestServer(t, server)

	events, cancel := server.Events().Subscribe(16)
	defer cancel()

	url := "rtsp://127.0.0.1/e2e.dump"
	response := client.do(MethodSetup, url+"/trackID=0", "Transport", tcpTransport)
	require.Equal(t, http.StatusOK, response.code)
	assert.Contains(t, response.headers.Get("Session"), ";timeout=60")

	response = client.do(MethodSetup, url+"/trackID=1", "Transport", "RTP/AVP/TCP;unicast;interleaved=2-3")
	require.Equal(t, http.StatusOK, response.code)

	response = client.do(MethodPlay, url)
	require.Equal(t, http.StatusOK, response.code)
	infos := strings.Split(response.headers.Get("Rtp-Info"), ",")
	require.Len(t, infos, 2)

	video := client.readRTP(0, 3)
	assert.Equal(t, video[0].SequenceNumber+1, video[1].SequenceNumber)
	assert.Equal(t, video[0].Timestamp+3600, video[1].Timestamp)

	require.Equal(t, http.StatusOK, client.do(MethodPause, url).code)
	require.Equal(t, http.StatusOK, client.do(MethodGetParameter, url).code)

	// 暂停后继续, 序号和时间戳连续
	var last uint16
	for _, frame := range client.frames {
		if frame.channel == 0 {
			last = uint16(frame.data[2])<<8 | uint16(frame.data[3])
		}
	}

	response = client.do(MethodPlay, url)
	require.Equal(t, http.StatusOK, response.code)
	_, seq, _ := parseRTPInfo(t, strings.Split(response.headers.Get("Rtp-Info"), ",")[0])
	assert.Equal(t, last+1, seq)

	resumed := client.readRTP(0, 1)
	assert.Equal(t, seq, resumed[0].SequenceNumber)

	infos2 := server.Sessions()
	require.Len(t, infos2, 1)
	assert.Equal(t, "playing", infos2[0].State)
	assert.Len(t, infos2[0].Tracks, 2)

	require.Equal(t, http.StatusOK, client.do(MethodTeardown, url).code)
	assert.Equal(t, 0, server.SessionCount())
	assert.Nil(t, findResource("e2e.dump"))

	// 每个track一个BYE, 之后没有RTP
	var byes int
	for i, frame := range client.frames {
		if frame.channel%2 == 0 {
			continue
		}

		packets, err := rtcp.Unmarshal(frame.data)
		require.NoError(t, err)
		for _, packet := range packets {
			if _, ok := packet.(*rtcp.Goodbye); ok {
				byes++
				for _, after := range client.frames[i+1:] {
					assert.NotEqual(t, frame.channel-1, after.channel)
				}
			}
		}
	}
	assert.Equal(t, 2, byes)

	var types []EventType
	timeout := time.After(time.Second)
	for len(types) < 4 {
		select {
		case event := <-events:
			types = append(types, event.Type)
		case <-timeout:
			t.Fatalf("missing events %v", types)
		}
	}
	assert.Equal(t, []EventType{EventSessionCreated, EventSessionPlaying, EventSessionPaused, EventSessionPlaying}, types)
}

func TestServer_ApiTeardown(t *testing.T) {
	server, dir := newTestServer(t, nil)
	writeTestDump(t, dir, "api.dump", false, 10)
	client := dialTestServer(t, server)

	require.Equal(t, http.StatusOK, client.do(MethodSetup, "rtsp://127.0.0.1/api.dump/trackID=0", "Transport", tcpTransport).code)

	sessions := server.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, client.session, sessions[0].Id)
	assert.Equal(t, "api.dump", sessions[0].Resource)
	assert.Equal(t, "ready", sessions[0].State)

	require.True(t, server.Teardown(client.session))
	require.Eventually(t, func() bool {
		return server.SessionCount() == 0
	}, time.Second, 10*time.Millisecond)
	require.False(t, server.Teardown(client.session))

	require.Equal(t, StatusSessionNotFound, client.do(MethodPlay, "rtsp://127.0.0.1/api.dump").code)
}

func TestServer_DisconnectReleasesSessions(t *testing.T) {
	server, dir := newTestServer(t, nil)
	writeTestDump(t, dir, "disconnect.dump", false, 10)
	client := dialTestServer(t, server)

	require.Equal(t, http.StatusOK, client.do(MethodSetup, "rtsp://127.0.0.1/disconnect.dump/trackID=0", "Transport", tcpTransport).code)
	require.Equal(t, 1, server.ConnectionCount())

	require.NoError(t, client.conn.Close())
	require.Eventually(t, func() bool {
		return server.SessionCount() == 0 && server.ConnectionCount() == 0 && findResource("disconnect.dump") == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_DigestAuth(t *testing.T) {
	server, dir := newTestServer(t, func(options *Options) {
		options.Password = "secret"
		options.Realm = "feng"
	})
	writeTestDump(t, dir, "auth.dump", false, 10)
	client := dialTestServer(t, server)

	require.Equal(t, http.StatusOK, client.do(MethodOptions, "*").code)

	url := "rtsp://127.0.0.1/auth.dump"
	response := client.do(MethodDescribe, url)
	require.Equal(t, http.StatusUnauthorized, response.code)

	params, err := parseAuthParams(response.headers.Get("WWW-Authenticate"))
	require.NoError(t, err)
	require.Equal(t, "feng", params["realm"])
	require.Len(t, params["nonce"], 32)

	digest := calculateResponse("admin", params["realm"], params["nonce"], MethodDescribe, url, "secret")
	authorization := fmt.Sprintf(`Digest username="admin", realm="%s", nonce="%s", uri="%s", response="%s"`, params["realm"], params["nonce"], url, digest)
	response = client.do(MethodDescribe, url, "Authorization", authorization)
	require.Equal(t, http.StatusOK, response.code)
	require.NotEmpty(t, response.body)

	wrong := calculateResponse("admin", params["realm"], params["nonce"], MethodDescribe, url, "guess")
	authorization = fmt.Sprintf(`Digest username="admin", realm="%s", nonce="%s", uri="%s", response="%s"`, params["realm"], params["nonce"], url, wrong)
	require.Equal(t, http.StatusUnauthorized, client.do(MethodDescribe, url, "Authorization", authorization).code)
}
