// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"sync"
	"time"

	"github.com/jeranaias/budgetvault/internal/model"
)

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	// DefaultSessionTimeout is the idle window before a session expires.
	DefaultSessionTimeout = 30 * time.Minute

	// DefaultCheckInterval is how often the watchdog inspects the session.
	DefaultCheckInterval = 60 * time.Second
)

// =============================================================================
// SESSION MANAGER
// =============================================================================

// SessionManager tracks the single interactive session: either inactive
// or bound to one authenticated user. A background watchdog goroutine
// expires the session once idle time reaches the timeout. The expiry
// handler runs in its own goroutine so a slow observer never stalls the
// watchdog tick.
type SessionManager struct {
	timeout       time.Duration
	checkInterval time.Duration
	audit         *AuditLogger
	onExpired     func(*model.User)

	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.Mutex
	user         *model.User
	lastActivity time.Time
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithSessionTimeout overrides the idle timeout.
func WithSessionTimeout(d time.Duration) SessionOption {
	return func(m *SessionManager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithCheckInterval overrides the watchdog tick interval.
func WithCheckInterval(d time.Duration) SessionOption {
	return func(m *SessionManager) {
		if d > 0 {
			m.checkInterval = d
		}
	}
}

// NewSessionManager creates a manager and starts its watchdog. onExpired
// is invoked once per expiry with the user whose session ended; it may be
// nil. Call Close to stop the watchdog.
func NewSessionManager(audit *AuditLogger, onExpired func(*model.User), opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		timeout:       DefaultSessionTimeout,
		checkInterval: DefaultCheckInterval,
		audit:         audit,
		onExpired:     onExpired,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.watch(ctx)

	return m
}

// Start binds the session to user and stamps activity. A session already
// in progress is replaced without notification.
func (m *SessionManager) Start(user *model.User) {
	m.mu.Lock()
	m.user = user
	m.lastActivity = time.Now()
	m.mu.Unlock()

	m.audit.LogEvent(EventSession, user.Username, "Session started", true)
}

// Extend stamps activity, pushing expiry back by a full timeout. A call
// with no active session is a no-op.
func (m *SessionManager) Extend() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user != nil {
		m.lastActivity = time.Now()
	}
}

// End terminates the session without notifying the expiry observer. Used
// for explicit logout.
func (m *SessionManager) End() {
	m.mu.Lock()
	user := m.user
	m.user = nil
	m.mu.Unlock()

	if user != nil {
		m.audit.LogEvent(EventSession, user.Username, "Session ended", true)
	}
}

// CurrentUser returns the bound user, or nil when no session is active.
func (m *SessionManager) CurrentUser() *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// IsActive reports whether a session is in progress.
func (m *SessionManager) IsActive() bool {
	return m.CurrentUser() != nil
}

// Remaining returns the idle time left before expiry, or zero when no
// session is active.
func (m *SessionManager) Remaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return 0
	}
	remaining := m.timeout - time.Since(m.lastActivity)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Close stops the watchdog and waits for it to exit. The session itself
// is left as-is; callers wanting a logout call End first.
func (m *SessionManager) Close() {
	m.cancel()
	<-m.done
}

// watch is the watchdog loop. It owns the ticker and exits on cancel.
func (m *SessionManager) watch(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.expireIfIdle()
		}
	}
}

// expireIfIdle ends the session when idle time has reached the timeout,
// then notifies the observer from a fresh goroutine.
func (m *SessionManager) expireIfIdle() {
	m.mu.Lock()
	if m.user == nil || time.Since(m.lastActivity) < m.timeout {
		m.mu.Unlock()
		return
	}
	user := m.user
	m.user = nil
	m.mu.Unlock()

	m.audit.LogEvent(EventSession, user.Username, "Session expired after inactivity", true)

	if m.onExpired != nil {
		go m.onExpired(user)
	}
}
