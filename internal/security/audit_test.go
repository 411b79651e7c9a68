// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestAuditLogger(t *testing.T) (*AuditLogger, *Cipher, string) {
	t.Helper()
	c := newTestCipher(t)
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewAuditLogger(path, c)
	if err != nil {
		t.Fatalf("NewAuditLogger failed: %v", err)
	}
	return l, c, path
}

func TestAuditLoggerAppendAndRead(t *testing.T) {
	l, _, _ := newTestAuditLogger(t)

	l.LogEvent(EventLogin, "alice", "Successful login", true)
	l.LogEvent(EventLoginAttempt, "bob", "Invalid password", false)
	l.LogEvent(EventRegistration, "carol", "User registered successfully", true)

	// Close drains the queue, so reads after it see every event.
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	events, err := l.GetRecentEvents(10)
	if err != nil {
		t.Fatalf("GetRecentEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	// Most recent first.
	if events[0].EventType != EventRegistration || events[0].Username != "carol" {
		t.Errorf("events[0] = %s/%s, want REGISTRATION/carol", events[0].EventType, events[0].Username)
	}
	if events[2].EventType != EventLogin || events[2].Username != "alice" {
		t.Errorf("events[2] = %s/%s, want LOGIN/alice", events[2].EventType, events[2].Username)
	}
	if !events[2].Success {
		t.Error("LOGIN event lost its success flag")
	}
	if events[1].Success {
		t.Error("failed LOGIN_ATTEMPT marked successful")
	}
}

func TestAuditLoggerLimit(t *testing.T) {
	l, _, _ := newTestAuditLogger(t)

	for i := 0; i < 10; i++ {
		l.LogEvent(EventSession, "alice", fmt.Sprintf("event %d", i), true)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	events, err := l.GetRecentEvents(3)
	if err != nil {
		t.Fatalf("GetRecentEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Message != "event 9" {
		t.Errorf("events[0].Message = %q, want %q", events[0].Message, "event 9")
	}
}

func TestAuditLoggerSkipsCorruptLines(t *testing.T) {
	l, c, path := newTestAuditLogger(t)

	l.LogEvent(EventLogin, "alice", "first", true)
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Append garbage lines by hand: not base64, and valid ciphertext that
	// is not JSON.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	notJSON, err := c.EncryptString("this is not a json event")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	fmt.Fprintln(f, "%%% not a token %%%")
	fmt.Fprintln(f, notJSON)
	f.Close()

	events, err := l.GetRecentEvents(10)
	if err != nil {
		t.Fatalf("GetRecentEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 (corrupt lines skipped)", len(events))
	}
	if events[0].Message != "first" {
		t.Errorf("surviving event message = %q, want %q", events[0].Message, "first")
	}
}

func TestAuditLoggerMissingFile(t *testing.T) {
	c := newTestCipher(t)
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewAuditLogger(path, c)
	if err != nil {
		t.Fatalf("NewAuditLogger failed: %v", err)
	}
	defer l.Close()

	os.Remove(path)

	events, err := l.GetRecentEvents(10)
	if err != nil {
		t.Fatalf("GetRecentEvents on missing file failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events from missing file, want 0", len(events))
	}
}

func TestAuditLoggerCloseIdempotent(t *testing.T) {
	l, _, _ := newTestAuditLogger(t)

	if err := l.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	// Logging after close must not panic; the event is simply dropped.
	l.LogEvent(EventLogin, "alice", "after close", true)
}

func TestAuditLoggerLinesAreEncrypted(t *testing.T) {
	l, _, path := newTestAuditLogger(t)

	l.LogEvent(EventLogin, "alice", "plaintext must not leak", true)
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("audit file is empty")
	}
	for _, needle := range []string{"alice", "plaintext must not leak", "LOGIN"} {
		if strings.Contains(string(raw), needle) {
			t.Errorf("audit file leaks %q in cleartext", needle)
		}
	}
}
