package stream

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrResourceNotFound = errors.New("resource not found")
	ErrTrackNotFound    = errors.New("track not found")
	ErrNotSeekable      = errors.New("resource is not seekable")
	ErrResourceClosed   = errors.New("resource closed")
	ErrSeekInProgress   = errors.New("seek in progress")
)

const controlPrefix = "trackID="

// Demuxer 解复用并打包好的媒体源, 每次读出一个可直接发送的RTP负载
type Demuxer interface {
	Tracks() []TrackInfo

	// ReadPacket 读到结尾返回io.EOF
	ReadPacket() (int, *Buffer, error)

	Seek(sec float64) error

	// Duration 单位秒, 直播源为0
	Duration() float64

	Live() bool

	Close() error
}

type Opener interface {
	Open(path string) (Demuxer, error)
}

func ControlName(index int) string {
	return controlPrefix + strconv.Itoa(index)
}

// ParseControl 拆分请求路径为资源名和track索引, 聚合路径返回-1
func ParseControl(path string) (string, int, error) {
	path = strings.Trim(path, "/")
	index := strings.LastIndex(path, "/")
	if index < 0 || !strings.HasPrefix(path[index+1:], controlPrefix) {
		return path, -1, nil
	}

	n, err := strconv.Atoi(path[index+1+len(controlPrefix):])
	if err != nil || n < 0 {
		return "", 0, fmt.Errorf("invalid track control %s: %w", path[index+1:], ErrTrackNotFound)
	}

	return path[:index], n, nil
}
