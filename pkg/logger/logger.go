// Package logger wraps zerolog behind a typed-field API. Warn and error
// lines can additionally be aggregated and shipped to a Kafka topic through
// an attached collector.
package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr, or a file path
	TimeFormat string // defaults to RFC3339 with nanoseconds
}

type Logger struct {
	zl        zerolog.Logger
	collector *LogCollector
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var out io.Writer
	switch cfg.Output {
	case "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = timeFormat

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	}

	// Caller frames to skip: zerolog internals, emit, and the level method.
	zl := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		CallerWithSkipFrameCount(4).
		Logger()

	return &Logger{zl: zl}, nil
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.emit(l.zl.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.emit(l.zl.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.emit(l.zl.Warn(), msg, fields)
	l.collect("warn", msg, fields)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.emit(l.zl.Error(), msg, fields)
	l.collect("error", msg, fields)
}

func (l *Logger) emit(e *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		f.apply(e)
	}
	e.Msg(msg)
}

// AddCollector starts aggregating warn and error lines. A previous collector
// is flushed and closed first.
func (l *Logger) AddCollector(cfg *CollectionConfig) {
	if l.collector != nil {
		l.collector.Close()
	}
	l.collector = NewLogCollector(cfg)
}

func (l *Logger) RemoveCollector() {
	if l.collector != nil {
		l.collector.Close()
	}
}

func (l *Logger) collect(level, msg string, fields []Field) {
	if l.collector == nil {
		return
	}

	kv := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		k, v := f.kv()
		kv[k] = v
	}
	// Skip collect and the level method to reach the caller.
	l.collector.AddLog(level, msg, kv, callerAt(2))
}

func callerAt(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	// Keep the last two path segments; full build paths are noise.
	if i := strings.LastIndex(file, "/"); i > 0 {
		if j := strings.LastIndex(file[:i], "/"); j >= 0 {
			file = file[j+1:]
		}
	}
	return file + ":" + strconv.Itoa(line)
}

type fieldKind uint8

const (
	kindString fieldKind = iota
	kindInt64
	kindFloat64
	kindStrings
	kindError
	kindAny
)

// Field is a typed key/value pair attached to a log line.
type Field struct {
	key  string
	kind fieldKind
	str  string
	num  int64
	fp   float64
	strs []string
	err  error
	any  interface{}
}

func String(key, value string) Field {
	return Field{key: key, kind: kindString, str: value}
}

func Int(key string, value int) Field {
	return Field{key: key, kind: kindInt64, num: int64(value)}
}

func Int64(key string, value int64) Field {
	return Field{key: key, kind: kindInt64, num: value}
}

func Float64(key string, value float64) Field {
	return Field{key: key, kind: kindFloat64, fp: value}
}

// Duration logs as whole milliseconds.
func Duration(key string, value time.Duration) Field {
	return Field{key: key, kind: kindInt64, num: value.Milliseconds()}
}

func Strings(key string, values []string) Field {
	return Field{key: key, kind: kindStrings, strs: values}
}

func Error(err error) Field {
	return Field{key: "error", kind: kindError, err: err}
}

func Any(key string, value interface{}) Field {
	return Field{key: key, kind: kindAny, any: value}
}

func (f Field) apply(e *zerolog.Event) {
	switch f.kind {
	case kindString:
		e.Str(f.key, f.str)
	case kindInt64:
		e.Int64(f.key, f.num)
	case kindFloat64:
		e.Float64(f.key, f.fp)
	case kindStrings:
		e.Strs(f.key, f.strs)
	case kindError:
		e.Err(f.err)
	case kindAny:
		e.Interface(f.key, f.any)
	}
}

func (f Field) kv() (string, interface{}) {
	switch f.kind {
	case kindString:
		return f.key, f.str
	case kindInt64:
		return f.key, f.num
	case kindFloat64:
		return f.key, f.fp
	case kindStrings:
		return f.key, f.strs
	case kindError:
		if f.err == nil {
			return f.key, nil
		}
		return f.key, f.err.Error()
	default:
		return f.key, f.any
	}
}
