package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Entry is the JSON shape written in json mode.
type Entry struct {
	Timestamp string         `json:"ts"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"msg"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Logger is a small leveled logger passed explicitly to the components that
// need it. The zero value is not usable; use New, NewFile or Discard.
type Logger struct {
	out       *log.Logger
	component string
	jsonMode  bool
	dev       bool
}

// New wraps w. Dev-level lines are written only when DEV_MODE=1.
func New(w io.Writer, jsonMode bool) *Logger {
	return &Logger{
		out:      log.New(w, "", log.LstdFlags),
		jsonMode: jsonMode,
		dev:      os.Getenv("DEV_MODE") == "1",
	}
}

// NewFile opens a size-rotated log file at path.
func NewFile(path string, jsonMode bool) (*Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28,
	}
	l := New(sink, jsonMode)
	l.out.SetFlags(0)
	if !jsonMode {
		l.out.SetFlags(log.LstdFlags | log.Lmicroseconds)
	}
	return l, sink, nil
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, false)
}

// With returns a copy tagged with component.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	cp := *l
	cp.component = component
	return &cp
}

// SetDev toggles dev-level output.
func (l *Logger) SetDev(on bool) {
	if l != nil {
		l.dev = on
	}
}

func (l *Logger) Dev(format string, args ...any) {
	if l == nil || !l.dev {
		return
	}
	l.write("DEV", fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Info(format string, args ...any) {
	l.write("INFO", fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Warn(format string, args ...any) {
	l.write("WARN", fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Error(format string, args ...any) {
	l.write("ERROR", fmt.Sprintf(format, args...), nil)
}

// Event logs msg with structured fields.
func (l *Logger) Event(level, msg string, fields map[string]any) {
	l.write(strings.ToUpper(level), msg, fields)
}

func (l *Logger) write(level, msg string, fields map[string]any) {
	if l == nil || l.out == nil {
		return
	}
	if l.jsonMode {
		data, err := json.Marshal(Entry{
			Timestamp: time.Now().Format(time.RFC3339),
			Level:     level,
			Component: l.component,
			Message:   msg,
			Fields:    fields,
		})
		if err != nil {
			return
		}
		l.out.Println(string(data))
		return
	}

	var b strings.Builder
	b.WriteString("[" + level + "] ")
	if l.component != "" {
		b.WriteString("[" + l.component + "] ")
	}
	b.WriteString(msg)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	l.out.Println(b.String())
}
