package log

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/lscube/feng/utils"
	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Sugar 未初始化前为空实现, 测试和工具代码可以直接使用
	Sugar = zap.NewNop().Sugar()

	initialized bool
)

func InitLogger(fileLogging bool, leve zapcore.LevelEnabler,
	name string, maxSize, maxBackup, maxAge int, compress bool) {
	utils.Assert(!initialized)

	var sinks []zapcore.Core
	encoder := getEncoder()

	if fileLogging {
		writeSyncer := getLogWriter(name, maxSize, maxBackup, maxAge, compress)
		sinks = append(sinks, zapcore.NewCore(encoder, writeSyncer, leve))
	}

	// 打印到控制台
	sinks = append(sinks, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), leve))

	core := zapcore.NewTee(sinks...)
	logger := zap.New(core, zap.AddCaller())
	Sugar = logger.Sugar()
	initialized = true
}

func getEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

// 配置日志保存规则
// @name      日志文件名, 可包含路径
// @maxSize   单个日志文件最大大小(M)
// @maxBackup 日志文件最多生成多少个
// @maxAge	  日志文件最多保存多少天
func getLogWriter(name string, maxSize, maxBackup, maxAge int, compress bool) zapcore.WriteSyncer {
	return zapcore.AddSync(newRotateWriter(name, maxSize, maxBackup, maxAge, compress))
}

func newRotateWriter(name string, maxSize, maxBackup, maxAge int, compress bool) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   name,
		MaxSize:    maxSize,
		MaxBackups: maxBackup,
		MaxAge:     maxAge,
		Compress:   compress,
	}
}

type Fields map[string]interface{}

func (fields Fields) String() string {
	str := make([]string, 0, len(fields))

	for k, v := range fields {
		str = append(str, fmt.Sprintf("%s=%+v", k, v))
	}

	sort.Strings(str)
	return strings.Join(str, " ")
}

func (fields Fields) WithFields(newFields Fields) Fields {
	allFields := make(Fields, len(fields)+len(newFields))

	for k, v := range fields {
		allFields[k] = v
	}

	for k, v := range newFields {
		allFields[k] = v
	}

	return allFields
}
