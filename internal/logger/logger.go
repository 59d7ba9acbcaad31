package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger defines a standard interface for logging.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

// ZapLogger is a wrapper around a zap sugared logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a new logger instance based on the specified level.
func NewLogger(level string) Logger {
	var lvl zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = zapcore.DebugLevel
	case "info":
		lvl = zapcore.InfoLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true

	log, err := cfg.Build()
	if err != nil {
		// Don't fail startup over a logging sink problem.
		log = zap.NewExample()
	}

	return &ZapLogger{sugar: log.Sugar()}
}

// Debugf logs a message at the debug level.
func (l *ZapLogger) Debugf(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

// Infof logs a message at the info level.
func (l *ZapLogger) Infof(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warnf logs a message at the warn level.
func (l *ZapLogger) Warnf(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Errorf logs a message at the error level.
func (l *ZapLogger) Errorf(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// Nop returns a logger that discards everything. Useful as a default when
// no logger is supplied and in tests.
func Nop() Logger {
	return &ZapLogger{sugar: zap.NewNop().Sugar()}
}
