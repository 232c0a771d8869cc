package log

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var (
	accessLogger *logrus.Logger
	accessLock   sync.Mutex
)

// InitAccessLogger 每个RTSP请求一行访问日志. name为空时输出到控制台
func InitAccessLogger(name string, maxSize, maxBackup, maxAge int, compress bool) {
	var out io.Writer = os.Stdout
	if name != "" {
		out = newRotateWriter(name, maxSize, maxBackup, maxAge, compress)
	}

	SetAccessOutput(out)
}

// SetAccessOutput out为nil时关闭访问日志
func SetAccessOutput(out io.Writer) {
	if out == nil {
		accessLock.Lock()
		accessLogger = nil
		accessLock.Unlock()
		return
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&prefixed.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		ForceFormatting: true,
		TimestampFormat: "2006-01-02T15:04:05.000Z0700",
	})

	accessLock.Lock()
	accessLogger = logger
	accessLock.Unlock()
}

// Access 未初始化时丢弃
func Access(fields Fields) {
	accessLock.Lock()
	logger := accessLogger
	accessLock.Unlock()

	if logger == nil {
		return
	}

	logger.WithFields(logrus.Fields(fields)).WithField("prefix", "rtsp").Info("request")
}
