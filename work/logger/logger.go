package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel is the threshold of a Logger. The values are zerolog's, so they
// order DEBUG < INFO < WARN < ERROR.
type LogLevel = zerolog.Level

const (
	DEBUG = zerolog.DebugLevel
	INFO  = zerolog.InfoLevel
	WARN  = zerolog.WarnLevel
	ERROR = zerolog.ErrorLevel
)

var (
	defaultLogger *Logger
	once          sync.Once
)

// Logger keeps the printf-style leveled API used across the service and
// writes each message as a zerolog event.
type Logger struct {
	mu    sync.RWMutex
	level LogLevel
	zl    zerolog.Logger
}

// New returns a Logger at level writing JSON to stdout.
func New(level string) *Logger {
	return NewWithWriter(level, "json", os.Stdout)
}

// NewWithWriter returns a Logger at level writing to w. format is "json" or "console".
func NewWithWriter(level, format string, w io.Writer) *Logger {
	return &Logger{
		level: ParseLogLevel(level),
		zl:    newZerolog(w, format),
	}
}

func newZerolog(w io.Writer, format string) zerolog.Logger {
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Str("app", "kptv-timeshift").Logger()
}

func getDefaultLogger() *Logger {
	once.Do(func() {
		defaultLogger = New("INFO")
	})
	return defaultLogger
}

// Configure sets the level, format and output of the package-level logger.
// A nil w means stdout.
func Configure(level, format string, w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	l := getDefaultLogger()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = ParseLogLevel(level)
	l.zl = newZerolog(w, format)
}

// ParseLogLevel maps DEBUG, INFO, WARN/WARNING and ERROR (any case) to a
// level. Anything else is INFO.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLogLevel changes the package-level logger's threshold.
func SetLogLevel(level string) {
	getDefaultLogger().SetLevel(level)
}

// GetLogLevel returns the package-level logger's threshold, e.g. "INFO".
func GetLogLevel() string {
	return getDefaultLogger().GetLevel()
}

// SetLevel changes the threshold of l. Unknown names mean INFO, as in
// ParseLogLevel.
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = ParseLogLevel(level)
}

// GetLevel returns the threshold of l in upper case.
func (l *Logger) GetLevel() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return strings.ToUpper(l.level.String())
}

func (l *Logger) log(level LogLevel, format string, v []interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if level < l.level {
		return
	}
	l.zl.WithLevel(level).Msg(fmt.Sprintf(format, v...))
}

func (l *Logger) Debug(format string, v ...interface{}) { l.log(DEBUG, format, v) }
func (l *Logger) Info(format string, v ...interface{})  { l.log(INFO, format, v) }
func (l *Logger) Warn(format string, v ...interface{})  { l.log(WARN, format, v) }
func (l *Logger) Error(format string, v ...interface{}) { l.log(ERROR, format, v) }

// Package-level shortcuts, e.g. logger.Info("{pkg - Func} ...").

func Debug(format string, v ...interface{}) { getDefaultLogger().Debug(format, v...) }
func Info(format string, v ...interface{})  { getDefaultLogger().Info(format, v...) }
func Warn(format string, v ...interface{})  { getDefaultLogger().Warn(format, v...) }
func Error(format string, v ...interface{}) { getDefaultLogger().Error(format, v...) }
