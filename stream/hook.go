package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PlayEventInfo 每个通知都需要携带的字段
type PlayEventInfo struct {
	Session    string `json:"session"`  // RTSP会话id
	Resource   string `json:"resource"` // 资源路径
	Protocol   string `json:"protocol"`
	RemoteAddr string `json:"remote_addr"`
}

func sendHookEvent(url string, body interface{}) (*http.Response, error) {
	marshal, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	client := &http.Client{
		Timeout: time.Duration(AppConfig.Hooks.Timeout),
	}

	request, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(marshal))
	if err != nil {
		return nil, err
	}

	request.Header.Set("Content-Type", "application/json")
	return client.Do(request)
}

// Hook 非200响应视为失败
func Hook(event HookEvent, body interface{}) (*http.Response, error) {
	url, ok := hookUrls[event]
	if url == "" || !ok {
		return nil, fmt.Errorf("the url for this %s event does not exist", event.String())
	}

	response, err := sendHookEvent(url, body)
	if err != nil {
		return nil, err
	}

	_, _ = io.Copy(io.Discard, response.Body)
	_ = response.Body.Close()
	if http.StatusOK != response.StatusCode {
		return response, fmt.Errorf("code:%d reason:%s", response.StatusCode, response.Status)
	}

	return response, nil
}
