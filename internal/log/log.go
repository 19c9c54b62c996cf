package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Options controls where log lines go.
type Options struct {
	Level Level
	// File, if set, receives a copy of every line in addition to stderr.
	File string
	// Quiet disables the stderr writer. Used by report mode so that stdout/stderr
	// only carry the report text.
	Quiet bool
}

var (
	mu      sync.Mutex
	logger  zerolog.Logger
	logFile *os.File
	inited  bool
)

func initLogger() {
	if inited {
		return
	}
	logger = newLogger(consoleWriter(os.Stderr), LevelInfo)
	inited = true
}

func newLogger(w io.Writer, l Level) zerolog.Logger {
	return zerolog.New(w).Level(toZerolog(l)).With().Timestamp().Logger()
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339Nano, NoColor: true}
}

// Setup (re)configures the global logger. It is safe to call more than once;
// a previously opened log file is closed.
func Setup(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	writers := make([]io.Writer, 0, 2)
	if !opts.Quiet {
		writers = append(writers, consoleWriter(os.Stderr))
	}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
			return fmt.Errorf("log: create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("log: open log file: %w", err)
		}
		logFile = f
		writers = append(writers, f)
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	level := opts.Level
	if level == "" {
		level = LevelInfo
	}
	logger = newLogger(zerolog.MultiLevelWriter(writers...), level)
	inited = true
	return nil
}

// SetOutput points the logger at w. Tests use it to capture lines.
func SetOutput(w io.Writer, l Level) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w, l)
	inited = true
}

func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	initLogger()
	logger = logger.Level(toZerolog(l))
}

// ParseLevel maps a config string ("debug", "info", ...) to a Level.
// Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Close flushes and closes the log file, if any.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func Debug(msg string, kv ...any) {
	logWithLevel(LevelDebug, nil, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(LevelInfo, nil, msg, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(LevelWarn, nil, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	logWithLevel(LevelError, err, msg, kv...)
}

func logWithLevel(level Level, err error, msg string, kv ...any) {
	mu.Lock()
	initLogger()
	l := logger
	mu.Unlock()

	ev := l.WithLevel(toZerolog(level))
	if ev == nil {
		return
	}
	if err != nil {
		ev = ev.Err(err)
	}

	// Expect kv as pairs: key, value, key, value, ...
	// If odd number of args, last one is ignored.
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}

func toZerolog(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
