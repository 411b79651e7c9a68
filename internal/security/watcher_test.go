// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestTamperWatcher(t *testing.T) (*TamperWatcher, *AuditLogger, string) {
	t.Helper()

	dataDir := t.TempDir()
	c := newTestCipher(t)
	// The audit log lives outside the watched directory so audit appends
	// are not themselves reported.
	audit, err := NewAuditLogger(filepath.Join(t.TempDir(), "audit.log"), c)
	if err != nil {
		t.Fatalf("NewAuditLogger failed: %v", err)
	}

	w, err := NewTamperWatcher(dataDir, audit)
	if err != nil {
		t.Fatalf("NewTamperWatcher failed: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	return w, audit, dataDir
}

func tamperEvents(t *testing.T, audit *AuditLogger) []SecurityEvent {
	t.Helper()
	if err := audit.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	events, err := audit.GetRecentEvents(100)
	if err != nil {
		t.Fatalf("GetRecentEvents failed: %v", err)
	}
	var tampers []SecurityEvent
	for _, e := range events {
		if e.EventType == EventTamper {
			tampers = append(tampers, e)
		}
	}
	return tampers
}

func TestTamperWatcherReportsExternalWrite(t *testing.T) {
	_, audit, dir := newTestTamperWatcher(t)

	if err := os.WriteFile(filepath.Join(dir, "users.json"), []byte("tampered"), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// Give the event loop time to see the change.
	time.Sleep(200 * time.Millisecond)

	if len(tamperEvents(t, audit)) == 0 {
		t.Error("external write produced no TAMPER event")
	}
}

func TestTamperWatcherIgnoresExpectedWrite(t *testing.T) {
	w, audit, dir := newTestTamperWatcher(t)

	path := filepath.Join(dir, "users.json")
	w.Expect(path)
	if err := os.WriteFile(path, []byte("own write"), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	if got := tamperEvents(t, audit); len(got) != 0 {
		t.Errorf("announced write reported as tampering: %v", got)
	}
}

func TestTamperWatcherIgnoresTempFiles(t *testing.T) {
	_, audit, dir := newTestTamperWatcher(t)

	if err := os.WriteFile(filepath.Join(dir, ".tmp-users.json"), []byte("scratch"), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	if got := tamperEvents(t, audit); len(got) != 0 {
		t.Errorf("temp file write reported as tampering: %v", got)
	}
}

func TestTamperWatcherReportsRemoval(t *testing.T) {
	w, audit, dir := newTestTamperWatcher(t)

	path := filepath.Join(dir, "budgets.json")
	w.Expect(path)
	if err := os.WriteFile(path, []byte("data"), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	// An unannounced delete is tampering even if the create was expected.
	time.Sleep(expectWindow)
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if len(tamperEvents(t, audit)) == 0 {
		t.Error("external removal produced no TAMPER event")
	}
}

func TestTamperWatcherCloseIsDeterministic(t *testing.T) {
	w, _, _ := newTestTamperWatcher(t)

	done := make(chan struct{})
	go func() {
		w.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}
