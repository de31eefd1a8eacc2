package logging

// Leveled logging for xcpmaster

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelVerbose
	LogLevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelSilent:
		return "silent"
	case LogLevelError:
		return "error"
	case LogLevelInfo:
		return "info"
	case LogLevelVerbose:
		return "verbose"
	case LogLevelDebug:
		return "debug"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel maps a config or flag value to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silent", "quiet", "none":
		return LogLevelSilent, nil
	case "error":
		return LogLevelError, nil
	case "", "info":
		return LogLevelInfo, nil
	case "verbose":
		return LogLevelVerbose, nil
	case "debug":
		return LogLevelDebug, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger writes leveled messages to the console and an optional file
type Logger struct {
	mu       sync.Mutex
	level    LogLevel
	format   string
	logEvery int
	counter  int
	file     *os.File
	fileLog  *log.Logger
	stdout   *log.Logger
	stderr   *log.Logger
}

// NewLogger creates a new text logger
func NewLogger(level LogLevel, logFile string) (*Logger, error) {
	return NewLoggerWithOptions(level, logFile, "text", 1)
}

// NewLoggerWithOptions creates a logger with an output format ("text" or
// "json") and console sampling: with logEvery N only every Nth non-error
// message reaches the console. The file always receives every message.
func NewLoggerWithOptions(level LogLevel, logFile, format string, logEvery int) (*Logger, error) {
	if format == "" {
		format = "text"
	}
	if format != "text" && format != "json" {
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	if logEvery < 1 {
		logEvery = 1
	}
	l := &Logger{
		level:    level,
		format:   format,
		logEvery: logEvery,
		stdout:   log.New(os.Stdout, "", 0),
		stderr:   log.New(os.Stderr, "", 0),
	}

	if logFile != "" {
		file, err := os.Create(logFile)
		if err != nil {
			return nil, fmt.Errorf("create log file: %w", err)
		}
		l.file = file
		flags := log.LstdFlags | log.Lmicroseconds
		if format == "json" {
			flags = 0
		}
		l.fileLog = log.New(file, "", flags)
	}

	return l, nil
}

// Discard returns a logger that writes nothing.
func Discard() *Logger {
	l, _ := NewLogger(LogLevelSilent, "")
	return l
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		l.fileLog = nil
		return err
	}
	return nil
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	if l.GetLevel() >= LogLevelError {
		l.write("ERROR", fmt.Sprintf(format, v...), true)
	}
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	if l.GetLevel() >= LogLevelInfo {
		l.write("INFO", fmt.Sprintf(format, v...), false)
	}
}

// Verbose logs a verbose message
func (l *Logger) Verbose(format string, v ...interface{}) {
	if l.GetLevel() >= LogLevelVerbose {
		l.write("VERBOSE", fmt.Sprintf(format, v...), false)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	if l.GetLevel() >= LogLevelDebug {
		l.write("DEBUG", fmt.Sprintf(format, v...), false)
	}
}

type jsonEntry struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

func levelLabel(isError bool) string {
	if isError {
		return "error"
	}
	return "info"
}

// render formats one line in the configured format
func (l *Logger) render(prefix, msg string, isError bool) string {
	if l.format != "json" {
		return prefix + ": " + msg
	}
	level := strings.ToLower(prefix)
	if level == "" {
		level = levelLabel(isError)
	}
	data, err := json.Marshal(jsonEntry{
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Level:   level,
		Message: msg,
	})
	if err != nil {
		return prefix + ": " + msg
	}
	return string(data)
}

// write sends a message to the file and, for errors or verbose levels, the console
func (l *Logger) write(prefix, msg string, isError bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := l.render(prefix, msg, isError)
	if l.fileLog != nil {
		l.fileLog.Println(line)
	}

	if isError {
		l.stderr.Println(line)
		return
	}

	l.counter++
	if l.counter%l.logEvery != 0 {
		return
	}
	if l.level >= LogLevelVerbose {
		l.stdout.Println(line)
	}
}

// FileOnly stops console output. Messages still reach the log file.
func (l *Logger) FileOnly() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stdout = log.New(io.Discard, "", 0)
	l.stderr = log.New(io.Discard, "", 0)
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// LogCommand logs one completed command exchange
func (l *Logger) LogCommand(command, target string, success bool, rttMs float64, errorCode string, err error) {
	statusStr := "OK"
	if !success {
		statusStr = "FAILED"
	}

	var detail string
	if errorCode != "" {
		detail = ", " + errorCode
	}
	if err != nil {
		detail += fmt.Sprintf(" - error: %v", err)
	}

	msg := fmt.Sprintf("%s %s %s (RTT: %.3fms%s)", statusStr, command, target, rttMs, detail)
	if success {
		l.Verbose("%s", msg)
	} else {
		l.Info("%s", msg)
	}
}

// LogStateChange logs a session state transition
func (l *Logger) LogStateChange(from, to, reason string) {
	if reason != "" {
		l.Info("session %s -> %s (%s)", from, to, reason)
		return
	}
	l.Info("session %s -> %s", from, to)
}

// LogStartup logs startup information
func (l *Logger) LogStartup(mode, slave string, timeoutMs, signals int, configPath string) {
	l.Info("Starting xcpmaster %s", mode)
	l.Verbose("  Slave: %s", slave)
	l.Verbose("  Timeout: %d ms", timeoutMs)
	l.Verbose("  Signals: %d", signals)
	l.Verbose("  Config: %s", configPath)
}

// LogHex logs a packet as spaced hex bytes at debug level
func (l *Logger) LogHex(label string, data []byte) {
	if l.GetLevel() < LogLevelDebug {
		return
	}
	var b strings.Builder
	for i, c := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", c)
	}
	l.Debug("%s: %s", label, b.String())
}
