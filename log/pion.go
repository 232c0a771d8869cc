package log

import (
	"fmt"

	"github.com/pion/logging"
	"go.uber.org/zap"
)

// PionLoggerFactory 将pion库(sctp/transport)的日志转发到Sugar
type PionLoggerFactory struct{}

func (PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{scope: scope}
}

type pionLogger struct {
	scope string
}

// Sugar可能在工厂创建之后才被初始化, 每次打印时再取
func (p *pionLogger) sugar() *zap.SugaredLogger {
	return Sugar.With("scope", p.scope)
}

func (p *pionLogger) Trace(msg string) {
	p.sugar().Debug(msg)
}

func (p *pionLogger) Tracef(format string, args ...interface{}) {
	p.sugar().Debugf(format, args...)
}

func (p *pionLogger) Debug(msg string) {
	p.sugar().Debug(msg)
}

func (p *pionLogger) Debugf(format string, args ...interface{}) {
	p.sugar().Debugf(format, args...)
}

func (p *pionLogger) Info(msg string) {
	p.sugar().Info(msg)
}

func (p *pionLogger) Infof(format string, args ...interface{}) {
	p.sugar().Infof(format, args...)
}

func (p *pionLogger) Warn(msg string) {
	p.sugar().Warn(msg)
}

func (p *pionLogger) Warnf(format string, args ...interface{}) {
	p.sugar().Warnf(format, args...)
}

func (p *pionLogger) Error(msg string) {
	p.sugar().Error(msg)
}

func (p *pionLogger) Errorf(format string, args ...interface{}) {
	p.sugar().Error(fmt.Sprintf(format, args...))
}
