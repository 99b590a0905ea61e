// Package logging defines the Logger interface used by the consensus modules.
// It also includes functions for setting the global log level.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mut      sync.RWMutex
	logLevel = zap.InfoLevel
)

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	case "panic":
		return zap.PanicLevel
	case "fatal":
		return zap.FatalLevel
	default:
		panic("invalid log level '" + level + "'")
	}
}

// SetLogLevel sets the global log level.
// Loggers created after the call use the new level.
func SetLogLevel(levelStr string) {
	level := parseLevel(levelStr)
	mut.Lock()
	logLevel = level
	mut.Unlock()
}

// Logger is the logging interface used by the consensus modules.
// It is based on zap.SugaredLogger.
type Logger interface {
	Debug(args ...any)
	Debugf(template string, args ...any)
	Info(args ...any)
	Infof(template string, args ...any)
	Warn(args ...any)
	Warnf(template string, args ...any)
	Error(args ...any)
	Errorf(template string, args ...any)
	Panic(args ...any)
	Panicf(template string, args ...any)
	Fatal(args ...any)
	Fatalf(template string, args ...any)
}

// New returns a new logger for stderr with the given name.
func New(name string) Logger {
	return NewWithDest(os.Stderr, name)
}

// NewWithDest returns a new logger that writes to dest, for use in tests.
func NewWithDest(dest io.Writer, name string) Logger {
	config := zap.NewDevelopmentEncoderConfig()
	if f, ok := dest.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		config.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	mut.RLock()
	level := logLevel
	mut.RUnlock()
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(config),
		zapcore.AddSync(dest),
		level,
	)
	return zap.New(core).Named(name).Sugar()
}
