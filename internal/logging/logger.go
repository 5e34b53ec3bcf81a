package logging

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel maps debug|info|warn|error to a Level. Unknown or empty values
// default to info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger is a leveled front for a standard *log.Logger. A nil *Logger
// discards everything.
type Logger struct {
	std   *log.Logger
	level Level
}

// New wraps std. A nil std writes to io.Discard.
func New(std *log.Logger, level Level) *Logger {
	if std == nil {
		std = log.New(io.Discard, "", 0)
	}
	return &Logger{std: std, level: level}
}

// Std exposes the underlying logger, e.g. for http.Server.ErrorLog.
func (l *Logger) Std() *log.Logger {
	if l == nil {
		return log.New(io.Discard, "", 0)
	}
	return l.std
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return l != nil && level >= l.level
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, "DEBUG ", format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, "", format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, "WARN ", format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, "ERROR ", format, args...) }

func (l *Logger) logf(level Level, tag, format string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	_ = l.std.Output(3, tag+fmt.Sprintf(format, args...))
}
