// Package logging configures structured logging and the deployment audit
// trail. All output goes to a file, never to stdout, so it cannot corrupt
// the stdio tool protocol's framing (spec.md §6).
package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup builds a new logrus logger that writes to a rotated file under
// logDir, at the given level, in either JSON or text form.
func Setup(logDir, level string, jsonFormat bool) (*logrus.Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(&lumberjack.Logger{
		Filename:   filepath.Join(logDir, "mcp-cicd-agent.log"),
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	})

	if jsonFormat {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(normalizeLevel(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	return logger, nil
}

func normalizeLevel(level string) string {
	switch level {
	case "WARNING":
		return "warn"
	case "CRITICAL":
		return "fatal"
	default:
		return level
	}
}

// AuditEvent is one durable record of a tool invocation or pipeline step,
// independent of the deployment state store.
type AuditEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	Details   map[string]any `json:"details"`
}

// AuditLogger buffers audit events and flushes them to a JSON-lines file
// from a single background goroutine, so tool handlers never block on disk
// I/O to record an event. Grounded on the teacher's AuditLogger shape
// (buffered channel + processEvents loop) with the HTTP backend-streaming
// half removed: there is no fleet backend to stream to.
type AuditLogger struct {
	file    *os.File
	encoder *json.Encoder
	events  chan AuditEvent
	done    chan struct{}
	mu      sync.Mutex
}

// NewAuditLogger opens (creating if necessary) an append-only JSON-lines
// file under logDir and starts the background writer.
func NewAuditLogger(logDir string) (*AuditLogger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	al := &AuditLogger{
		file:    f,
		encoder: json.NewEncoder(f),
		events:  make(chan AuditEvent, 1000),
		done:    make(chan struct{}),
	}
	go al.processEvents()
	return al, nil
}

func (a *AuditLogger) processEvents() {
	defer close(a.done)
	for ev := range a.events {
		a.mu.Lock()
		_ = a.encoder.Encode(ev)
		a.mu.Unlock()
	}
}

// LogEvent records a non-security audit event asynchronously. If the
// internal buffer is full the event is dropped rather than blocking the
// caller — audit logging must never slow down a tool call.
func (a *AuditLogger) LogEvent(eventType string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	ev := AuditEvent{Timestamp: time.Now().UTC(), EventType: eventType, Details: details}
	select {
	case a.events <- ev:
	default:
	}
}

// Close stops accepting new events, drains the buffer, and closes the file.
func (a *AuditLogger) Close() error {
	close(a.events)
	<-a.done
	return a.file.Close()
}
