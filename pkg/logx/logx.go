// Package logx provides leveled, printf-style logging for the hand engine.
// Every line is tagged with a hand (or component) identifier so interleaved
// runs remain readable. Debug output is gated by environment variables.
package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger writes timestamped log lines tagged with a hand identifier.
type Logger struct {
	handID string
}

// Level is a log severity label.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

const timestampFormat = "2006-01-02T15:04:05.000Z"

// debugConfig controls debug gating; initialized once from the environment.
type debugConfig struct {
	enabled bool
	domains map[string]bool // nil = all domains
}

//nolint:gochecknoglobals // Process-wide log sink and debug gating.
var (
	debugCfg    debugConfig
	debugMu     sync.RWMutex
	logWriter   io.Writer // nil = stderr
	logWriterMu sync.Mutex
)

//nolint:gochecknoinits // Environment-driven debug setup must run before any logging.
func init() {
	initDebugFromEnv()
	initLogFileFromEnv()
}

// initLogFileFromEnv redirects log output to DEBUG_FILE when set. An
// unopenable path leaves output on stderr.
func initLogFileFromEnv() {
	path := os.Getenv("DEBUG_FILE")
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	SetOutput(f)
}

// initDebugFromEnv reads DEBUG and DEBUG_DOMAINS.
//
// DEBUG=1                       enable debug for all domains
// DEBUG=1 DEBUG_DOMAINS=loop    enable debug only for the loop domain
// DEBUG=1 DEBUG_DOMAINS=loop,proc
func initDebugFromEnv() {
	debugMu.Lock()
	defer debugMu.Unlock()

	if v := os.Getenv("DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		debugCfg.enabled = true
	}
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugCfg.domains = make(map[string]bool)
		for _, d := range strings.Split(domains, ",") {
			debugCfg.domains[strings.TrimSpace(d)] = true
		}
	}
}

// SetDebug overrides the environment-derived debug switch.
func SetDebug(enabled bool) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debugCfg.enabled = enabled
}

// SetDebugDomains restricts debug output to the given domains. Empty enables all.
func SetDebugDomains(domains []string) {
	debugMu.Lock()
	defer debugMu.Unlock()
	if len(domains) == 0 {
		debugCfg.domains = nil
		return
	}
	debugCfg.domains = make(map[string]bool)
	for _, d := range domains {
		debugCfg.domains[strings.TrimSpace(d)] = true
	}
}

// IsDebugEnabled reports whether debug logging is on.
func IsDebugEnabled() bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	return debugCfg.enabled
}

// IsDebugEnabledForDomain reports whether debug logging is on for domain.
func IsDebugEnabledForDomain(domain string) bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	if !debugCfg.enabled {
		return false
	}
	if debugCfg.domains == nil {
		return true
	}
	return debugCfg.domains[domain]
}

// SetOutput redirects all log output. Passing nil restores stderr.
// Intended for tests and for callers that tee logs to a file.
func SetOutput(w io.Writer) {
	logWriterMu.Lock()
	defer logWriterMu.Unlock()
	logWriter = w
}

func writeLine(line string) {
	logWriterMu.Lock()
	defer logWriterMu.Unlock()
	w := logWriter
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprintln(w, line)
}

// NewLogger returns a logger tagged with the given hand or component ID.
func NewLogger(handID string) *Logger {
	return &Logger{handID: handID}
}

// GetHandID returns the identifier this logger tags lines with.
func (l *Logger) GetHandID() string {
	return l.handID
}

func (l *Logger) log(level Level, format string, args ...any) {
	ts := time.Now().UTC().Format(timestampFormat)
	msg := fmt.Sprintf(format, args...)
	writeLine(fmt.Sprintf("[%s] [%s] %s: %s", ts, l.handID, level, msg))
}

// Debug logs at DEBUG level when debug logging is enabled.
func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Debugd logs at DEBUG level under a named domain, subject to DEBUG_DOMAINS.
func (l *Logger) Debugd(domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}
	l.log(LevelDebug, "[%s] %s", domain, fmt.Sprintf(format, args...))
}

//nolint:gochecknoglobals // Default logger for the error helpers.
var defaultLogger = NewLogger("engine")

// Errorf logs and returns the formatted error.
// Use when a failure should be both visible in logs and returned:
//
//	return logx.Errorf("launch %s: %w", name, err)
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err.Error() and returns the wrapped error.
//
//	if err != nil { return logx.Wrap(err, "open run store") }
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}
