// Package logging is ORBIT's leveled logger. Entries carry sorted key=value
// fields and an optional component prefix; every entry derived from the same
// root writes through one sink, so lines never interleave.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

// Level represents log level
type Level int32

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

// ANSI colors per level: cyan, green, yellow, red
var levelColors = [...]string{"\033[36m", "\033[32m", "\033[33m", "\033[31m"}

const colorReset = "\033[0m"

func (l Level) String() string {
	if l < DEBUG || l > ERROR {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// Color returns the ANSI escape used for the level tag
func (l Level) Color() string {
	if l < DEBUG || l > ERROR {
		return colorReset
	}
	return levelColors[l]
}

// ParseLevel parses a level name such as "debug" or "WARN". Empty means INFO.
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	switch name {
	case "":
		return INFO, nil
	case "WARNING":
		return WARN, nil
	}
	for i, n := range levelNames {
		if n == name {
			return Level(i), nil
		}
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

// sink is the destination shared by a root logger and everything derived from it
type sink struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
	level atomic.Int32
	now   func() time.Time
}

func newSink(w io.Writer, level Level) *sink {
	s := &sink{out: w, color: isTerminal(w), now: time.Now}
	s.level.Store(int32(level))
	return s
}

func (s *sink) setOutput(w io.Writer) {
	s.mu.Lock()
	s.out = w
	s.color = isTerminal(w)
	s.mu.Unlock()
}

// isTerminal reports whether w is a terminal that can render colors
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Logger writes leveled entries. Derived loggers never modify their parent.
type Logger struct {
	sink      *sink
	component string
	fields    map[string]any
}

// New returns a root logger writing to w
func New(w io.Writer, level Level) *Logger {
	return &Logger{sink: newSink(w, level)}
}

var std = New(os.Stdout, INFO)

// SetLevel sets the level of the default logger and everything derived from it
func SetLevel(level Level) {
	std.sink.level.Store(int32(level))
}

// SetOutput sets the default output. Colors are enabled only for terminals.
func SetOutput(w io.Writer) {
	std.sink.setOutput(w)
}

// For returns a default logger tagged with a component name
func For(component string) *Logger {
	return std.For(component)
}

// WithField returns a default logger with a field added
func WithField(key string, value any) *Logger {
	return std.WithField(key, value)
}

// WithFields returns a default logger with fields added
func WithFields(fields map[string]any) *Logger {
	return std.WithFields(fields)
}

// For returns a copy tagged with a component name
func (l *Logger) For(component string) *Logger {
	return &Logger{sink: l.sink, component: component, fields: l.fields}
}

// WithField returns a copy with one more field
func (l *Logger) WithField(key string, value any) *Logger {
	return l.WithFields(map[string]any{key: value})
}

// WithFields returns a copy with the fields merged in
func (l *Logger) WithFields(fields map[string]any) *Logger {
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{sink: l.sink, component: l.component, fields: merged}
}

// WithError adds the error as the "error" field
func (l *Logger) WithError(err error) *Logger {
	return l.WithField("error", err)
}

// format renders one line without the trailing newline
func (l *Logger) format(ts time.Time, level Level, color bool, msg string) string {
	var b strings.Builder
	b.WriteString(ts.Format("15:04:05"))
	b.WriteByte(' ')
	if color {
		b.WriteString(level.Color())
	}
	b.WriteString("[" + level.String() + "]")
	if color {
		b.WriteString(colorReset)
	}
	if l.component != "" {
		b.WriteString(" " + l.component + ":")
	}
	b.WriteByte(' ')
	b.WriteString(msg)

	if len(l.fields) > 0 {
		keys := make([]string, 0, len(l.fields))
		for k := range l.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, l.fields[k])
		}
	}
	return b.String()
}

func (l *Logger) log(level Level, msg string, args ...any) {
	s := l.sink
	if int32(level) < s.level.Load() {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, l.format(s.now(), level, s.color, msg))
}

// Debug logs at DEBUG on the default logger
func Debug(msg string, args ...any) { std.log(DEBUG, msg, args...) }

// Info logs at INFO on the default logger
func Info(msg string, args ...any) { std.log(INFO, msg, args...) }

// Warn logs at WARN on the default logger
func Warn(msg string, args ...any) { std.log(WARN, msg, args...) }

// Error logs at ERROR on the default logger
func Error(msg string, args ...any) { std.log(ERROR, msg, args...) }

func (l *Logger) Debug(msg string, args ...any) { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(ERROR, msg, args...) }
