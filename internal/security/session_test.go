// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jeranaias/budgetvault/internal/model"
)

func newTestSessionManager(t *testing.T, onExpired func(*model.User), opts ...SessionOption) *SessionManager {
	t.Helper()
	c := newTestCipher(t)
	audit, err := NewAuditLogger(filepath.Join(t.TempDir(), "audit.log"), c)
	if err != nil {
		t.Fatalf("NewAuditLogger failed: %v", err)
	}
	t.Cleanup(func() { audit.Close() })

	m := NewSessionManager(audit, onExpired, opts...)
	t.Cleanup(m.Close)
	return m
}

func TestSessionStartAndEnd(t *testing.T) {
	m := newTestSessionManager(t, nil)

	if m.IsActive() {
		t.Fatal("new manager reports an active session")
	}

	user := model.NewUser("alice", "hash")
	m.Start(user)

	if !m.IsActive() {
		t.Fatal("session not active after Start")
	}
	if got := m.CurrentUser(); got != user {
		t.Errorf("CurrentUser = %v, want %v", got, user)
	}

	m.End()
	if m.IsActive() {
		t.Error("session still active after End")
	}
	if m.CurrentUser() != nil {
		t.Error("CurrentUser not cleared by End")
	}
}

func TestSessionExpiresWhenIdle(t *testing.T) {
	expired := make(chan *model.User, 1)
	m := newTestSessionManager(t,
		func(u *model.User) { expired <- u },
		WithSessionTimeout(20*time.Millisecond),
		WithCheckInterval(5*time.Millisecond),
	)

	user := model.NewUser("alice", "hash")
	m.Start(user)

	select {
	case got := <-expired:
		if got.Username != "alice" {
			t.Errorf("expiry delivered user %q, want alice", got.Username)
		}
	case <-time.After(time.Second):
		t.Fatal("session never expired")
	}

	if m.IsActive() {
		t.Error("session still active after expiry")
	}
}

func TestSessionExtendPostponesExpiry(t *testing.T) {
	expired := make(chan *model.User, 1)
	m := newTestSessionManager(t,
		func(u *model.User) { expired <- u },
		WithSessionTimeout(60*time.Millisecond),
		WithCheckInterval(10*time.Millisecond),
	)

	m.Start(model.NewUser("alice", "hash"))

	// Keep touching the session for longer than the timeout.
	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		m.Extend()
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-expired:
		t.Fatal("session expired despite continuous activity")
	default:
	}
	if !m.IsActive() {
		t.Fatal("session not active despite continuous activity")
	}

	// Stop touching it; now it must expire.
	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("session never expired after activity stopped")
	}
}

func TestSessionEndDoesNotNotify(t *testing.T) {
	expired := make(chan *model.User, 1)
	m := newTestSessionManager(t,
		func(u *model.User) { expired <- u },
		WithSessionTimeout(time.Hour),
		WithCheckInterval(5*time.Millisecond),
	)

	m.Start(model.NewUser("alice", "hash"))
	m.End()

	time.Sleep(30 * time.Millisecond)
	select {
	case <-expired:
		t.Error("explicit End triggered the expiry observer")
	default:
	}
}

func TestSessionRemaining(t *testing.T) {
	m := newTestSessionManager(t, nil, WithSessionTimeout(time.Hour))

	if got := m.Remaining(); got != 0 {
		t.Errorf("Remaining with no session = %v, want 0", got)
	}

	m.Start(model.NewUser("alice", "hash"))
	got := m.Remaining()
	if got <= 0 || got > time.Hour {
		t.Errorf("Remaining = %v, want (0, 1h]", got)
	}
}

func TestSessionCloseStopsWatchdog(t *testing.T) {
	c := newTestCipher(t)
	audit, err := NewAuditLogger(filepath.Join(t.TempDir(), "audit.log"), c)
	if err != nil {
		t.Fatalf("NewAuditLogger failed: %v", err)
	}
	defer audit.Close()

	m := NewSessionManager(audit, nil, WithCheckInterval(5*time.Millisecond))

	done := make(chan struct{})
	go func() {
		m.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}
