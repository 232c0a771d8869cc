package rtsp

import (
	"errors"
	"math"
	"net/http"
	"net/textproto"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/lscube/feng/log"
	"github.com/lscube/feng/stream"
)

// 请求的起始位置与当前位置相差超过该值时seek
const seekEpsilon = 0.001

type Request struct {
	conn     *conn
	session  *session
	sourceId string
	index    int // track索引, 聚合请求为-1
	method   string
	url      *url.URL
	rawURL   string
	headers  textproto.MIMEHeader
	body     []byte
}

// Handler 处理RTSP各个请求消息
type Handler interface {
	OnOptions(request Request) (*http.Response, []byte, error)

	// OnDescribe 获取sdp
	OnDescribe(request Request) (*http.Response, []byte, error)

	// OnSetup 订阅track
	OnSetup(request Request) (*http.Response, []byte, error)

	// OnPlay 请求播放
	OnPlay(request Request) (*http.Response, []byte, error)

	OnPause(request Request) (*http.Response, []byte, error)

	// OnTeardown 结束播放
	OnTeardown(request Request) (*http.Response, []byte, error)

	OnGetParameter(request Request) (*http.Response, []byte, error)
}

type handler struct {
	methods      map[string]reflect.Value
	password     string
	realm        string
	publicHeader string
}

// Process 路由请求给具体的handler, 失败时生成错误响应
func (h *handler) Process(c *conn, msg *message, parseErr error) (*http.Response, []byte) {
	var cseq string
	if msg != nil {
		cseq = msg.headers.Get("Cseq")
	}

	if parseErr != nil {
		log.Sugar.Warnf("failed to parse rtsp request err:%s conn:%s", parseErr.Error(), c.remoteAddr())
		return NewResponse(http.StatusBadRequest, cseq), nil
	} else if cseq == "" {
		return NewResponse(http.StatusBadRequest, cseq), nil
	}

	m, ok := h.methods[msg.method]
	if !ok {
		response := NewResponse(http.StatusNotImplemented, cseq)
		response.Header.Set("Allow", h.publicHeader)
		return response, nil
	}

	if require := msg.headers.Get("Require"); require != "" {
		response := NewResponse(StatusOptionNotSupported, cseq)
		response.Header.Set("Unsupported", require)
		return response, nil
	}

	//校验密码
	if h.password != "" && MethodOptions != msg.method && !h.authenticate(msg) {
		response := NewResponse(http.StatusUnauthorized, cseq)
		response.Header.Set("WWW-Authenticate", generateAuthHeader(h.realm))
		return response, nil
	}

	request := Request{conn: c, index: -1, method: msg.method, url: msg.url, rawURL: msg.rawURL, headers: msg.headers, body: msg.body}
	if MethodOptions != msg.method && MethodGetParameter != msg.method {
		source, index, err := stream.ParseControl(msg.url.Path)
		if err != nil || source == "" {
			return NewResponse(http.StatusNotFound, cseq), nil
		}

		request.sourceId = source
		request.index = index
	}

	state := SessionStateInit
	if header := msg.headers.Get("Session"); header != "" {
		request.session = c.sessions[sessionId(header)]
		if request.session == nil {
			// 会话已经不存在, TEARDOWN仍然成功
			if MethodTeardown == msg.method {
				return NewOKResponse(cseq), nil
			}

			return NewResponse(StatusSessionNotFound, cseq), nil
		}

		state = request.session.state
		request.session.touch()
	}

	if !state.allow(msg.method) {
		response := NewResponse(StatusMethodNotValidInThisState, cseq)
		response.Header.Set("Allow", state.allowHeader())
		return response, nil
	}

	//反射调用各个处理函数
	results := m.Call([]reflect.Value{
		reflect.ValueOf(h),
		reflect.ValueOf(request),
	})

	if err, _ := results[2].Interface().(error); err != nil {
		return h.errorResponse(request, cseq, err), nil
	}

	response := results[0].Interface().(*http.Response)
	body := results[1].Bytes()
	return response, body
}

func (h *handler) authenticate(msg *message) bool {
	authorization := msg.headers.Get("Authorization")
	if authorization == "" {
		return false
	}

	params, err := parseAuthParams(authorization)
	return err == nil && DoAuthenticatePlainTextPassword(params, msg.method, h.password)
}

func (h *handler) errorResponse(request Request, cseq string, err error) *http.Response {
	code := http.StatusInternalServerError

	var statusErr *statusError
	if errors.As(err, &statusErr) {
		code = statusErr.code
	} else if errors.Is(err, stream.ErrResourceNotFound) || errors.Is(err, stream.ErrTrackNotFound) {
		code = http.StatusNotFound
	} else if errors.Is(err, stream.ErrNotSeekable) {
		code = StatusHeaderFieldNotValid
	}

	log.Sugar.Warnf("rtsp request failed method:%s url:%s code:%d err:%s conn:%s", request.method, request.rawURL, code, err.Error(), request.conn.remoteAddr())

	response := NewResponse(code, cseq)
	if statusErr != nil {
		for k, v := range statusErr.header {
			response.Header.Set(k, v)
		}
	}

	if request.session != nil && !request.session.closed {
		response.Header.Set("Session", request.session.header())
	}

	return response
}

func (h *handler) OnOptions(request Request) (*http.Response, []byte, error) {
	rep := NewOKResponse(request.headers.Get("Cseq"))
	rep.Header.Set("Public", h.publicHeader)
	return rep, nil, nil
}

func (h *handler) OnDescribe(request Request) (*http.Response, []byte, error) {
	server := request.conn.server

	demuxer, err := server.options.Opener.Open(request.sourceId)
	if err != nil {
		return nil, nil, err
	}

	defer demuxer.Close()

	tracks := demuxer.Tracks()
	for i := range tracks {
		tracks[i].Index = i
	}

	host := server.options.PublicIP
	if host == "" {
		host = "0.0.0.0"
	}

	body, err := generateSDP(request.sourceId, tracks, demuxer.Duration(), demuxer.Live(), host)
	if err != nil {
		return nil, nil, err
	}

	response := NewOKResponse(request.headers.Get("Cseq"))
	response.Header.Set("Content-Type", "application/sdp")
	response.Header.Set("Content-Base", aggregateURL(request.rawURL)+"/")
	return response, body, nil
}

func (h *handler) OnSetup(request Request) (*http.Response, []byte, error) {
	if request.index < 0 {
		return nil, nil, newStatusError(StatusAggregateOperationNotAllowed, "setup requires a track control url")
	}

	specs, err := parseTransports(request.headers.Get("Transport"))
	if err != nil {
		return nil, nil, newStatusError(http.StatusBadRequest, "%w", err)
	} else if len(specs) == 0 {
		return nil, nil, newStatusError(StatusUnsupportedTransport, "no supported transport in %q", request.headers.Get("Transport"))
	}

	c := request.conn
	s := request.session
	created := s == nil
	if created {
		if s, err = c.newSession(request.sourceId); err != nil {
			return nil, nil, err
		}
	} else if s.resourceName != request.sourceId {
		return nil, nil, newStatusError(StatusAggregateOperationNotAllowed, "session %s controls %s", s.id, s.resourceName)
	} else if s.track(request.index) != nil {
		return nil, nil, newStatusError(http.StatusBadRequest, "track %d already set up", request.index)
	}

	track, err := c.setupTrack(s, request.index, specs)
	if err != nil {
		// 新建的会话整体回滚
		if created {
			c.destroySession(s, "setup failed")
		}

		return nil, nil, err
	}

	s.tracks = append(s.tracks, track)
	if SessionStateInit == s.state {
		s.state = SessionStateReady
	}

	log.Sugar.Infof("rtsp setup session:%s track:%d transport:%s", s.id, request.index, track.transport)

	response := NewOKResponse(request.headers.Get("Cseq"))
	response.Header.Set("Transport", track.transport)
	response.Header.Set("Session", s.header())
	return response, nil, nil
}

func (h *handler) OnPlay(request Request) (*http.Response, []byte, error) {
	s := request.session

	var playRange *playRange
	if header := request.headers.Get("Range"); header != "" {
		var err error
		if playRange, err = parseRange(header); err != nil {
			return nil, nil, newStatusError(StatusHeaderFieldNotValid, "%w", err)
		}
	}

	if request.index >= 0 && len(s.tracks) > 1 {
		return nil, nil, newStatusError(StatusAggregateOperationNotAllowed, "play of a single track in an aggregate session")
	}

	live := s.resource.Live()
	// 直播只接受从当前位置开始且没有结束时间的范围
	if live && playRange != nil && (playRange.hasEnd || playRange.hasStart && playRange.start != 0) {
		return nil, nil, newStatusError(StatusHeaderFieldNotValid, "resource %s is not seekable", s.resourceName).with("Range", "npt=now-")
	}

	position := s.position
	if SessionStatePlaying == s.state {
		position = s.currentPosition()
	}

	if live || playRange == nil || !playRange.hasStart || s.played && math.Abs(playRange.start-position) <= seekEpsilon {
		return h.startPlay(request, playRange, position), nil, nil
	}

	// 读取协程完成seek之后再响应
	cseq := request.headers.Get("Cseq")
	pending := request.conn.deferResponse(s)
	s.seek(playRange.start, func(err error) {
		if err != nil {
			request.conn.complete(pending, h.errorResponse(request, cseq, err), nil)
		} else {
			request.conn.complete(pending, h.startPlay(request, playRange, playRange.start), nil)
		}
	})

	return nil, nil, nil
}

// startPlay 开始发送并生成PLAY响应
func (h *handler) startPlay(request Request, playRange *playRange, position float64) *http.Response {
	s := request.session
	live := s.resource.Live()

	// 播放前计算, 第一个包在本次请求处理完之后发送
	base := aggregateURL(request.rawURL)
	rtpInfo := s.rtpInfo(base, position)
	s.play()

	end := s.resource.Duration()
	if playRange != nil && playRange.hasEnd {
		end = playRange.end
	}

	request.conn.server.events.Publish(Event{Type: EventSessionPlaying, Session: s.id, Resource: s.resourceName, RemoteAddr: request.conn.remoteAddr()})

	response := NewOKResponse(request.headers.Get("Cseq"))
	response.Header.Set("Session", s.header())
	response.Header.Set("Range", formatRange(position, end, live))
	if rtpInfo != "" {
		response.Header.Set("RTP-Info", rtpInfo)
	}

	return response
}

func (h *handler) OnPause(request Request) (*http.Response, []byte, error) {
	s := request.session
	s.pause()

	request.conn.server.events.Publish(Event{Type: EventSessionPaused, Session: s.id, Resource: s.resourceName, RemoteAddr: request.conn.remoteAddr()})

	response := NewOKResponse(request.headers.Get("Cseq"))
	response.Header.Set("Session", s.header())
	return response, nil, nil
}

func (h *handler) OnTeardown(request Request) (*http.Response, []byte, error) {
	response := NewOKResponse(request.headers.Get("Cseq"))

	s := request.session
	if s == nil {
		return response, nil, nil
	}

	if request.index >= 0 {
		if track := s.track(request.index); track != nil {
			if err := s.removeTrack(track); err != nil {
				log.Sugar.Warnf("failed to close track err:%s session:%s track:%d", err.Error(), s.id, request.index)
			}
		}

		if len(s.tracks) > 0 {
			response.Header.Set("Session", s.header())
			return response, nil, nil
		}
	}

	request.conn.destroySession(s, "teardown")
	return response, nil, nil
}

// OnGetParameter 保活
func (h *handler) OnGetParameter(request Request) (*http.Response, []byte, error) {
	response := NewOKResponse(request.headers.Get("Cseq"))
	if request.session != nil {
		response.Header.Set("Session", request.session.header())
	}

	return response, nil, nil
}

// aggregateURL 去掉末尾的track control
func aggregateURL(raw string) string {
	raw = strings.TrimSuffix(raw, "/")
	if i := strings.LastIndex(raw, "/"); i >= 0 && strings.HasPrefix(raw[i+1:], "trackID=") {
		return raw[:i]
	}

	return raw
}

// methodName OnGetParameter -> GET_PARAMETER
func methodName(name string) string {
	var builder strings.Builder
	for i, r := range name {
		if i > 0 && unicode.IsUpper(r) {
			builder.WriteByte('_')
		}

		builder.WriteRune(unicode.ToUpper(r))
	}

	return builder.String()
}

func newHandler(password, realm string) *handler {
	h := &handler{
		methods:  make(map[string]reflect.Value, 10),
		password: password,
		realm:    realm,
	}

	//反射获取所有成员函数, 映射对应的RTSP请求方法
	t := reflect.TypeOf(h)
	numMethod := t.NumMethod()
	headers := make([]string, 0, 10)
	for i := 0; i < numMethod; i++ {
		method := t.Method(i)
		if !strings.HasPrefix(method.Name, "On") {
			continue
		}

		//确保函数名和RTSP标准的请求方法保持一致
		name := methodName(method.Name[2:])
		h.methods[name] = method.Func
		headers = append(headers, name)
	}

	sort.Strings(headers)
	h.publicHeader = strings.Join(headers, ", ")
	return h
}
