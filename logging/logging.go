// Package logging provides real-time console output for lifecycle events.
// Request outcomes travel through futures and are never logged here; this
// package reports what services and the orchestrator are doing.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ParseLevel converts a level name to a Level. Unknown names map to INFO.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "WARNING":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger provides leveled key=value logging to stdout.
// Loggers derived with WithComponent share the parent's output and lock.
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	traceID   string
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		mu:       &sync.Mutex{},
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// Discard returns a logger that writes nothing.
func Discard() *Logger {
	l := New()
	l.output = io.Discard
	return l
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		traceID:   l.traceID,
	}
}

// WithTraceID returns a new logger that tags every line with trace_id.
func (l *Logger) WithTraceID(traceID string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		traceID:   traceID,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs, sorted by key.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry in traditional format: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	merged := make(map[string]interface{})
	if len(fields) > 0 && fields[0] != nil {
		for k, v := range fields[0] {
			merged[k] = v
		}
	}
	if l.traceID != "" {
		merged["trace_id"] = l.traceID
	}
	fieldStr := formatFields(merged)

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.output.Write([]byte(line))
}

// --- Lifecycle logging methods ---
// Called by services and the orchestrator at state transitions.

// ServiceStart logs that a service's workers are running.
func (l *Logger) ServiceStart(service string, workers int) {
	l.Info("service_start", map[string]interface{}{
		"service": service,
		"workers": workers,
	})
}

// ServiceStop logs that a service's workers have all exited.
func (l *Logger) ServiceStop(service string, duration time.Duration) {
	l.Info("service_stop", map[string]interface{}{
		"service":  service,
		"duration": duration.String(),
	})
}

// ServiceUnavailable logs that a service crashed and now rejects work.
func (l *Logger) ServiceUnavailable(service string, cause error, failedQueued int) {
	fields := map[string]interface{}{
		"service":       service,
		"failed_queued": failedQueued,
	}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	l.Error("service_unavailable", fields)
}

// ShutdownBegin logs the start of an orchestrator shutdown.
func (l *Logger) ShutdownBegin(mode string, grace time.Duration) {
	l.Info("shutdown_begin", map[string]interface{}{
		"mode":  mode,
		"grace": grace.String(),
	})
}

// ShutdownPhase logs the completion of one shutdown phase.
func (l *Logger) ShutdownPhase(phase string, duration time.Duration, failed int) {
	l.Debug("shutdown_phase", map[string]interface{}{
		"phase":    phase,
		"duration": duration.String(),
		"failed":   failed,
	})
}

// GraceExpired logs that the grace period ran out and work is force-cancelled.
func (l *Logger) GraceExpired(grace time.Duration, pending []string) {
	l.Warn("grace_expired", map[string]interface{}{
		"grace":   grace.String(),
		"pending": strings.Join(pending, ","),
	})
}

// ShutdownComplete logs the end of an orchestrator shutdown.
func (l *Logger) ShutdownComplete(duration time.Duration, forced bool) {
	l.Info("shutdown_complete", map[string]interface{}{
		"duration": duration.String(),
		"forced":   forced,
	})
}
