//go:build !windows

package windows

import (
	"errors"
	"log"
)

func logFallback(level, source, msg string) {
	log.Printf("[%s] %s: %s", level, source, msg)
}

// ServiceRunner mirrors the Windows-only type so callers can reference it
// unconditionally; it is never exercised off Windows.
type ServiceRunner struct {
	StopChan chan<- struct{}
}

// RunAsService is unavailable off Windows.
func RunAsService(name string, stopChan chan<- struct{}) error {
	return errors.New("windows: service hosting is only available on Windows")
}

// IsWindowsService always reports false off Windows.
func IsWindowsService() bool {
	return false
}

// EventLogger falls back to the standard logger off Windows.
type EventLogger struct {
	source string
}

func NewEventLogger(source string) *EventLogger {
	return &EventLogger{source: source}
}

func (l *EventLogger) Info(eid uint32, msg string)    { logFallback("INFO", l.source, msg) }
func (l *EventLogger) Warning(eid uint32, msg string) { logFallback("WARN", l.source, msg) }
func (l *EventLogger) Error(eid uint32, msg string)   { logFallback("ERROR", l.source, msg) }
func (l *EventLogger) Close()                         {}
