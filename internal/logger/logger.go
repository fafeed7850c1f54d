// Package logger is a small level-filtered logger with printf-style calls.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Format selects the line encoding.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

var (
	mu           sync.RWMutex
	currentLevel = LevelInfo
	format       = FormatText
	logger       = stdlog.New(os.Stdout, "", 0)
	closer       io.Closer
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name. Unknown names report false.
func ParseLevel(level string) (Level, bool) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	}
	return LevelInfo, false
}

// SetLevel sets the minimum level. Unknown names are ignored.
func SetLevel(level string) {
	if l, ok := ParseLevel(level); ok {
		mu.Lock()
		currentLevel = l
		mu.Unlock()
	}
}

// SetFormat selects "text" or "json" output.
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()
	if strings.EqualFold(f, "json") {
		format = FormatJSON
	} else {
		format = FormatText
	}
}

// SetOutput redirects log lines to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	closeOutputLocked()
	logger = stdlog.New(w, "", 0)
}

// Configure sets level, format and output in one call. output is "stdout",
// "stderr" or a file path, which is opened for appending.
func Configure(level, f, output string) error {
	var w io.Writer
	var c io.Closer
	switch strings.ToLower(output) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", output, err)
		}
		w, c = file, file
	}

	SetLevel(level)
	SetFormat(f)

	mu.Lock()
	defer mu.Unlock()
	closeOutputLocked()
	logger = stdlog.New(w, "", 0)
	closer = c
	return nil
}

func closeOutputLocked() {
	if closer != nil {
		_ = closer.Close()
		closer = nil
	}
}

// Enabled reports whether messages at level are emitted.
func Enabled(level Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return level >= currentLevel
}

func log(level Level, msgFormat string, v ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if level < currentLevel {
		return
	}

	now := time.Now()
	message := fmt.Sprintf(msgFormat, v...)
	if format == FormatJSON {
		line, err := json.Marshal(struct {
			Time    string `json:"time"`
			Level   string `json:"level"`
			Message string `json:"msg"`
		}{now.Format(time.RFC3339Nano), level.String(), message})
		if err == nil {
			logger.Println(string(line))
			return
		}
	}
	logger.Println(fmt.Sprintf("[%s] [%s] ", now.Format("2006-01-02 15:04:05"), level.String()) + message)
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}
