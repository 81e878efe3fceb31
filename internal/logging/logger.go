// Package logging provides the capture logger package tests assert
// against. The production zap logger lives in pkg/logging.
package logging

import (
	"strings"
	"sync"

	"dca_grid/internal/core"
)

// LogEntry is one captured log line
type LogEntry struct {
	Level   string
	Message string
	Fields  []interface{}
}

// Capture is a core.ILogger that records every line instead of printing.
// Fatal records the entry instead of exiting so failure paths stay
// testable. WithField and WithFields return the same sink, keeping every
// line visible to assertions.
type Capture struct {
	mu      sync.Mutex
	entries []LogEntry
}

var _ core.ILogger = (*Capture)(nil)

// NewCapture creates an empty capture logger
func NewCapture() *Capture {
	return &Capture{}
}

func (c *Capture) log(level, msg string, fields ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, LogEntry{Level: level, Message: msg, Fields: fields})
}

func (c *Capture) Debug(msg string, fields ...interface{}) { c.log("DEBUG", msg, fields...) }
func (c *Capture) Info(msg string, fields ...interface{})  { c.log("INFO", msg, fields...) }
func (c *Capture) Warn(msg string, fields ...interface{})  { c.log("WARN", msg, fields...) }
func (c *Capture) Error(msg string, fields ...interface{}) { c.log("ERROR", msg, fields...) }
func (c *Capture) Fatal(msg string, fields ...interface{}) { c.log("FATAL", msg, fields...) }

func (c *Capture) WithField(key string, value interface{}) core.ILogger  { return c }
func (c *Capture) WithFields(fields map[string]interface{}) core.ILogger { return c }

// Entries returns a copy of everything logged so far
func (c *Capture) Entries() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Contains reports whether any captured message contains the substring
func (c *Capture) Contains(substring string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if strings.Contains(e.Message, substring) {
			return true
		}
	}
	return false
}
