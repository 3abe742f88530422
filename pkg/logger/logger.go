// Package logger provides component-scoped structured logging for the gateway.
//
// Call sites name the component emitting the line ("telegram", "bridge", ...)
// and attach fields as a map, the same way across every package:
//
//	logger.InfoCF("bridge", "Injected message dispatched", map[string]any{"account_id": id})
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[LogLevel]string{
	DEBUG: "debug",
	INFO:  "info",
	WARN:  "warn",
	ERROR: "error",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "info"
}

// ParseLevel maps a config string to a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

var (
	mu      sync.RWMutex
	current LogLevel = INFO
	base             = newLogger(os.Stderr, "text")
)

func newLogger(w io.Writer, format string) zerolog.Logger {
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// Configure switches the output writer and format ("text" or "json").
func Configure(w io.Writer, format string) {
	if w == nil {
		w = os.Stderr
	}
	mu.Lock()
	defer mu.Unlock()
	base = newLogger(w, strings.ToLower(strings.TrimSpace(format)))
}

func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	current = level
}

func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func toZerolog(level LogLevel) zerolog.Level {
	switch level {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func logMessage(level LogLevel, component, message string, fields map[string]any) {
	mu.RLock()
	enabled := level >= current
	l := base
	mu.RUnlock()
	if !enabled {
		return
	}

	ev := l.WithLevel(toZerolog(level))
	if component != "" {
		ev = ev.Str("component", component)
	}
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	ev.Msg(message)
}

func Debug(message string) { logMessage(DEBUG, "", message, nil) }
func DebugC(component, message string) { logMessage(DEBUG, component, message, nil) }
func DebugF(message string, fields map[string]any) { logMessage(DEBUG, "", message, fields) }
func DebugCF(component, message string, f map[string]any) { logMessage(DEBUG, component, message, f) }

func Info(message string) { logMessage(INFO, "", message, nil) }
func InfoC(component, message string) { logMessage(INFO, component, message, nil) }
func InfoF(message string, fields map[string]any) { logMessage(INFO, "", message, fields) }
func InfoCF(component, message string, f map[string]any) { logMessage(INFO, component, message, f) }

func Warn(message string) { logMessage(WARN, "", message, nil) }
func WarnC(component, message string) { logMessage(WARN, component, message, nil) }
func WarnF(message string, fields map[string]any) { logMessage(WARN, "", message, fields) }
func WarnCF(component, message string, f map[string]any) { logMessage(WARN, component, message, f) }

func Error(message string) { logMessage(ERROR, "", message, nil) }
func ErrorC(component, message string) { logMessage(ERROR, component, message, nil) }
func ErrorF(message string, fields map[string]any) { logMessage(ERROR, "", message, fields) }
func ErrorCF(component, message string, f map[string]any) { logMessage(ERROR, component, message, f) }
