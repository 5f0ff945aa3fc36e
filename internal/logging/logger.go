// Package logging provides structured, leveled logging for the driver,
// wrapping the standard library's log.Logger rather than pulling in an
// external logging stack. Contextual loggers (WithDevice, WithRing,
// WithRequest, WithError) chain additional key=value fields onto every
// line a reactor or TX/RX path emits, which is how log output stays
// attributable to a device without threading ids through every call.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Logger wraps stdlib log with level support and a chain of contextual
// fields.
type Logger struct {
	logger  *log.Logger
	level   LogLevel
	format  string
	noColor bool
	fields  []field
	mu      *sync.Mutex
}

type field struct {
	key string
	val any
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config holds logging configuration.
type Config struct {
	Level LogLevel
	// Format selects "text" (default) or "json" line rendering.
	Format string
	Output io.Writer
	// Sync is accepted but has no effect: every write already happens
	// under the logger's own lock.
	Sync    bool
	NoColor bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// NewLogger creates a new logger.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	format := config.Format
	if format == "" {
		format = "text"
	}
	return &Logger{
		logger:  log.New(output, "", log.LstdFlags),
		level:   config.Level,
		format:  format,
		noColor: config.NoColor,
		mu:      &sync.Mutex{},
	}
}

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// WithDevice returns a logger that tags every line with the VIF id.
func (l *Logger) WithDevice(id int) *Logger {
	return l.with(field{"device_id", id})
}

// WithRing returns a logger that tags every line with which ring
// ("rx" or "tx") the line concerns.
func (l *Logger) WithRing(name string) *Logger {
	return l.with(field{"ring", name})
}

// WithRequest returns a logger that tags every line with an in-flight
// ring request id and the operation it belongs to.
func (l *Logger) WithRequest(tag uint16, op string) *Logger {
	return l.with(field{"tag", tag}, field{"op", op})
}

// WithError returns a logger that tags every line with an error value.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with(field{"err", err})
}

func (l *Logger) with(extra ...field) *Logger {
	fields := make([]field, 0, len(l.fields)+len(extra))
	fields = append(fields, l.fields...)
	fields = append(fields, extra...)
	return &Logger{
		logger:  l.logger,
		level:   l.level,
		format:  l.format,
		noColor: l.noColor,
		fields:  fields,
		mu:      l.mu,
	}
}

func (l *Logger) render(prefix, msg string, args []any) string {
	all := make([]any, 0, len(l.fields)*2+len(args))
	for _, f := range l.fields {
		all = append(all, f.key, f.val)
	}
	all = append(all, args...)

	if l.format == "json" {
		return fmt.Sprintf("{\"level\":%q,\"msg\":%q%s}", prefix, msg, formatArgsJSON(all))
	}
	return fmt.Sprintf("%s %s%s", prefix, msg, formatArgs(all))
}

// formatArgs converts key-value pairs to a string.
func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var result string
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			if result != "" {
				result += " "
			}
			result += fmt.Sprintf("%v=%v", args[i], args[i+1])
		}
	}
	if result != "" {
		return " " + result
	}
	return ""
}

func formatArgsJSON(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var result string
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			result += fmt.Sprintf(",%q:%q", fmt.Sprint(args[i]), fmt.Sprint(args[i+1]))
		}
	}
	return result
}

func (l *Logger) log(level LogLevel, prefix, msg string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Print(l.render(prefix, msg, args))
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, "[DEBUG]", msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, "[INFO]", msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, "[WARN]", msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, "[ERROR]", msg, args...) }

// Printf-style logging.
func (l *Logger) Debugf(format string, args ...any) {
	l.log(LevelDebug, "[DEBUG]", fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...any) {
	l.log(LevelInfo, "[INFO]", fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.log(LevelWarn, "[WARN]", fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log(LevelError, "[ERROR]", fmt.Sprintf(format, args...))
}

// Printf for compatibility.
func (l *Logger) Printf(format string, args ...any) { l.Infof(format, args...) }

// Global convenience functions.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
