// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures persisted by the credential
// and record stores.
package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// USER
// =============================================================================

// User is a registered account. The password is never stored; only a
// salted one-way hash of it. Username uniqueness is enforced
// case-insensitively at registration time.
type User struct {
	// ID uniquely identifies the user across renames.
	ID uuid.UUID `json:"id"`

	// Username is the login name. Comparisons are case-insensitive;
	// the stored value keeps the casing the user registered with.
	Username string `json:"username"`

	// PasswordHash is the bcrypt hash of the password.
	PasswordHash string `json:"password_hash"`

	// CreatedAt is when the account was registered (UTC).
	CreatedAt time.Time `json:"created_at"`

	// LastLogin is the timestamp of the most recent successful login (UTC).
	LastLogin time.Time `json:"last_login"`

	// IsLocked indicates an active or expired lockout. An expired lock is
	// cleared on the next successful login.
	IsLocked bool `json:"is_locked"`

	// LockedUntil is when the lockout expires. Nil when not locked.
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// NewUser creates a user with a fresh id and UTC timestamps.
func NewUser(username, passwordHash string) *User {
	now := time.Now().UTC()
	return &User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		LastLogin:    now,
	}
}

// LockExpired returns true if the user carries a lock whose window has passed.
func (u *User) LockExpired(now time.Time) bool {
	return u.IsLocked && (u.LockedUntil == nil || !u.LockedUntil.After(now))
}

// =============================================================================
// LOGIN ATTEMPT
// =============================================================================

// LoginAttempt tracks consecutive login failures for one username. Records
// are keyed by lowercased username and exist for unregistered usernames
// too, so the response to an unknown user is indistinguishable from a
// wrong password.
type LoginAttempt struct {
	// Username is the lowercased login name this record tracks.
	Username string `json:"username"`

	// FailedAttempts is the consecutive failure count. Reset to zero on
	// any successful login.
	FailedAttempts int `json:"failed_attempts"`

	// LastAttemptTime is the timestamp of the most recent attempt (UTC).
	LastAttemptTime time.Time `json:"last_attempt_time"`

	// LockoutEnd is when the lockout window closes. Nil when not locked.
	LockoutEnd *time.Time `json:"lockout_end,omitempty"`
}

// LockedAt reports whether the record carries an unexpired lockout at now.
func (a *LoginAttempt) LockedAt(now time.Time) bool {
	return a.LockoutEnd != nil && a.LockoutEnd.After(now)
}

// LockoutRemaining returns the time left in the lockout window, or zero
// when the record is not locked.
func (a *LoginAttempt) LockoutRemaining(now time.Time) time.Duration {
	if !a.LockedAt(now) {
		return 0
	}
	return a.LockoutEnd.Sub(now)
}
