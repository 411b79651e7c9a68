// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// Audit event types. One constant per security-relevant action.
const (
	EventRegistration   = "REGISTRATION"
	EventLogin          = "LOGIN"
	EventLoginAttempt   = "LOGIN_ATTEMPT"
	EventAccountUnlock  = "ACCOUNT_UNLOCK"
	EventSession        = "SESSION"
	EventPasswordChange = "PASSWORD_CHANGE"
	EventTamper         = "TAMPER"
)

// queueSize bounds the fire-and-forget event queue. When the queue is
// full events are dropped rather than blocking the caller.
const queueSize = 256

// =============================================================================
// SECURITY EVENT
// =============================================================================

// SecurityEvent is one immutable audit record. Events are append-only:
// never mutated or deleted after being written.
type SecurityEvent struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Origin    string    `json:"origin"`
	Success   bool      `json:"success"`
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

// AuditLogger appends encrypted security events to a line-oriented log
// file. Logging is best-effort and fire-and-forget: LogEvent never blocks
// and never surfaces an error; internal failures go to the standard
// logger only. A single writer goroutine owns the file, so appends are
// serialized; readers run against their own file handle and skip any
// partially written trailing line.
type AuditLogger struct {
	path   string
	cipher *Cipher
	origin string

	events chan SecurityEvent
	done   chan struct{}

	mu     sync.Mutex
	closed bool

	file *os.File
}

// NewAuditLogger opens (or creates) the audit log at path and starts the
// writer goroutine.
func NewAuditLogger(path string, cipher *Cipher) (*AuditLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	origin, err := os.Hostname()
	if err != nil {
		origin = "unknown"
	}

	l := &AuditLogger{
		path:   path,
		cipher: cipher,
		origin: origin,
		events: make(chan SecurityEvent, queueSize),
		done:   make(chan struct{}),
		file:   file,
	}

	go l.run()

	return l, nil
}

// LogEvent queues a security event for appending. It never blocks: when
// the queue is full or the logger is closed the event is dropped with a
// diagnostic message. A nil logger discards everything, which is how
// audit logging is disabled.
func (l *AuditLogger) LogEvent(eventType, username, message string, success bool) {
	if l == nil {
		return
	}

	event := SecurityEvent{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Username:  username,
		Message:   message,
		Origin:    l.origin,
		Success:   success,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		log.Printf("audit: dropped %s event for %q: logger closed", eventType, username)
		return
	}

	select {
	case l.events <- event:
	default:
		log.Printf("audit: dropped %s event for %q: queue full", eventType, username)
	}
}

// run is the single writer. It drains the queue until Close.
func (l *AuditLogger) run() {
	defer close(l.done)
	for event := range l.events {
		l.append(event)
	}
}

// append serializes, encrypts, and writes one event as one line.
// Failures are diagnostic-only; audit logging never propagates errors.
func (l *AuditLogger) append(event SecurityEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("audit: failed to serialize event: %v", err)
		return
	}

	token, err := l.cipher.Encrypt(data)
	if err != nil {
		log.Printf("audit: failed to encrypt event: %v", err)
		return
	}

	if _, err := fmt.Fprintln(l.file, token); err != nil {
		log.Printf("audit: failed to append event: %v", err)
		return
	}
	if err := l.file.Sync(); err != nil {
		log.Printf("audit: failed to sync log: %v", err)
	}
}

// Close drains queued events and releases the log file. Subsequent
// LogEvent calls are dropped. Safe to call more than once.
func (l *AuditLogger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.events)
	l.mu.Unlock()

	<-l.done
	return l.file.Close()
}

// =============================================================================
// READING
// =============================================================================

// GetRecentEvents returns up to limit events, most recent first. Lines
// that fail to decrypt or parse are skipped: a trailing partial line from
// a concurrent append, or a corrupt entry, degrades to absence rather
// than an error.
func (l *AuditLogger) GetRecentEvents(limit int) ([]SecurityEvent, error) {
	if l == nil {
		return nil, nil
	}

	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	events := make([]SecurityEvent, 0, limit)
	for i := len(lines) - 1; i >= 0 && len(events) < limit; i-- {
		plaintext, err := l.cipher.Decrypt(lines[i])
		if err != nil {
			continue
		}
		var event SecurityEvent
		if err := json.Unmarshal(plaintext, &event); err != nil {
			continue
		}
		events = append(events, event)
	}

	return events, nil
}
