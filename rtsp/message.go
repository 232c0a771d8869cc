package rtsp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	MethodOptions      = "OPTIONS"
	MethodDescribe     = "DESCRIBE"
	MethodSetup        = "SETUP"
	MethodPlay         = "PLAY"
	MethodTeardown     = "TEARDOWN"
	MethodPause        = "PAUSE"
	MethodGetParameter = "GET_PARAMETER"

	Version = "RTSP/1.0"

	// MaxBodySize 请求正文上限
	MaxBodySize = 64 * 1024
)

// RTSP特有的状态码
const (
	StatusNotEnoughBandwidth           = 453
	StatusSessionNotFound              = 454
	StatusMethodNotValidInThisState    = 455
	StatusHeaderFieldNotValid          = 456
	StatusAggregateOperationNotAllowed = 459
	StatusUnsupportedTransport         = 461
	StatusOptionNotSupported           = 551
)

var statusText = map[int]string{
	StatusNotEnoughBandwidth:           "Not Enough Bandwidth",
	StatusSessionNotFound:              "Session Not Found",
	StatusMethodNotValidInThisState:    "Method Not Valid in This State",
	StatusHeaderFieldNotValid:          "Header Field Not Valid for Resource",
	StatusAggregateOperationNotAllowed: "Aggregate Operation Not Allowed",
	StatusUnsupportedTransport:         "Unsupported Transport",
	StatusOptionNotSupported:           "Option not supported",
}

var errMalformedRequest = errors.New("malformed rtsp request")

func StatusText(code int) string {
	if text, ok := statusText[code]; ok {
		return text
	}

	return http.StatusText(code)
}

// statusError 携带响应码和附加头的错误
type statusError struct {
	code   int
	header map[string]string
	err    error
}

func newStatusError(code int, format string, args ...interface{}) *statusError {
	return &statusError{code: code, err: fmt.Errorf(format, args...)}
}

func (e *statusError) with(key, value string) *statusError {
	if e.header == nil {
		e.header = make(map[string]string, 2)
	}

	e.header[key] = value
	return e
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.code, StatusText(e.code), e.err.Error())
}

func (e *statusError) Unwrap() error {
	return e.err
}

type message struct {
	method  string
	rawURL  string
	url     *url.URL
	headers textproto.MIMEHeader
	body    []byte
}

// readMessage 读取一个请求. 返回errMalformedRequest时连接仍然可用
func readMessage(reader *bufio.Reader) (*message, error) {
	tp := textproto.NewReader(reader)

	line, err := tp.ReadLine()
	for err == nil && line == "" {
		line, err = tp.ReadLine()
	}

	if err != nil {
		return nil, err
	}

	header, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, err
	}

	msg := &message{headers: header}
	if length := header.Get("Content-Length"); length != "" {
		n, err := strconv.Atoi(length)
		if err != nil || n < 0 || n > MaxBodySize {
			return nil, fmt.Errorf("invalid content length %s", length)
		}

		msg.body = make([]byte, n)
		if _, err = io.ReadFull(reader, msg.body); err != nil {
			return nil, err
		}
	}

	split := strings.Split(line, " ")
	if len(split) != 3 || !strings.HasPrefix(split[2], "RTSP/") {
		return msg, fmt.Errorf("%w: request line %q", errMalformedRequest, line)
	}

	msg.method = strings.ToUpper(split[0])
	msg.rawURL = split[1]
	if msg.url, err = url.Parse(split[1]); err != nil {
		return msg, fmt.Errorf("%w: %s", errMalformedRequest, err.Error())
	}

	return msg, nil
}

func NewResponse(code int, cseq string) *http.Response {
	rep := &http.Response{
		Proto:      Version,
		StatusCode: code,
		Status:     StatusText(code),
		Header:     make(http.Header),
	}

	if cseq != "" {
		rep.Header.Set("Cseq", cseq)
	}

	return rep
}

func NewOKResponse(cseq string) *http.Response {
	return NewResponse(http.StatusOK, cseq)
}

// marshalResponse 按头名称排序输出
func marshalResponse(response *http.Response, body []byte) []byte {
	if len(body) > 0 {
		response.Header.Set("Content-Length", strconv.Itoa(len(body)))
	}

	buffer := bytes.NewBuffer(make([]byte, 0, 512+len(body)))
	_, _ = fmt.Fprintf(buffer, "%s %d %s\r\n", response.Proto, response.StatusCode, response.Status)

	keys := make([]string, 0, len(response.Header))
	for k := range response.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range response.Header[k] {
			_, _ = fmt.Fprintf(buffer, "%s: %s\r\n", k, v)
		}
	}

	//分隔头部与主体
	buffer.WriteString("\r\n")
	buffer.Write(body)
	return buffer.Bytes()
}
