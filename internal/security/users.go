// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// This file implements account registration, login with brute-force
// lockout, and password changes, backed by encrypted JSON state files.
package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/jeranaias/budgetvault/internal/model"
	"github.com/jeranaias/budgetvault/internal/util"
)

// =============================================================================
// POLICY CONSTANTS
// =============================================================================

const (
	// DefaultMaxFailedAttempts is the consecutive-failure threshold that
	// triggers a lockout.
	DefaultMaxFailedAttempts = 5

	// DefaultLockoutDuration is how long a triggered lockout lasts.
	DefaultLockoutDuration = 15 * time.Minute

	// MinPasswordLength is the minimum accepted password length.
	MinPasswordLength = 8
)

// =============================================================================
// ERRORS
// =============================================================================

// ValidationError reports bad input shape: blank fields or a password
// that fails the strength policy. The message is safe to show the user.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ErrInvalidCredentials is the single generic login failure. The same
// value covers "no such user" and "wrong password" so the response does
// not reveal which usernames exist.
var ErrInvalidCredentials = errors.New("invalid username or password")

// LockedError reports an active lockout window. Unlike the generic
// credential failure it discloses the remaining time, rounded up to
// whole minutes.
type LockedError struct {
	Remaining time.Duration
}

// Minutes returns the remaining lockout time rounded up to whole minutes.
func (e *LockedError) Minutes() int {
	return int(math.Ceil(e.Remaining.Minutes()))
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account is locked; try again in %d minute(s)", e.Minutes())
}

// =============================================================================
// USER SERVICE
// =============================================================================

// UserService owns the user and login-attempt collections. Both are held
// in memory, loaded from encrypted files at construction, and persisted
// after every mutation. Attempt records are keyed by lowercased username;
// the normalization happens here, at every read and write boundary, and
// nowhere else.
type UserService struct {
	usersFile    string
	attemptsFile string
	cipher       *Cipher
	audit        *AuditLogger

	maxFailedAttempts int
	lockoutDuration   time.Duration
	announce          func(path string)

	mu       sync.Mutex
	users    []*model.User
	attempts map[string]*model.LoginAttempt
}

// UserServiceOption configures a UserService.
type UserServiceOption func(*UserService)

// WithMaxFailedAttempts overrides the lockout threshold.
func WithMaxFailedAttempts(n int) UserServiceOption {
	return func(s *UserService) {
		if n > 0 {
			s.maxFailedAttempts = n
		}
	}
}

// WithLockoutDuration overrides the lockout window length.
func WithLockoutDuration(d time.Duration) UserServiceOption {
	return func(s *UserService) {
		if d > 0 {
			s.lockoutDuration = d
		}
	}
}

// WithWriteAnnouncer registers a callback invoked with the target path
// before each state file save, so a tamper watcher can exempt the
// application's own writes.
func WithWriteAnnouncer(fn func(path string)) UserServiceOption {
	return func(s *UserService) {
		s.announce = fn
	}
}

// NewUserService loads both collections from disk. Missing, corrupt, or
// undecryptable files degrade to empty collections; plaintext legacy
// files are parsed and immediately re-saved through the encryption path.
func NewUserService(usersFile, attemptsFile string, cipher *Cipher, audit *AuditLogger, opts ...UserServiceOption) *UserService {
	s := &UserService{
		usersFile:         usersFile,
		attemptsFile:      attemptsFile,
		cipher:            cipher,
		audit:             audit,
		maxFailedAttempts: DefaultMaxFailedAttempts,
		lockoutDuration:   DefaultLockoutDuration,
		attempts:          make(map[string]*model.LoginAttempt),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.users = s.loadUsers()
	s.attempts = s.loadAttempts()

	return s
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Register creates a new account. It returns a *ValidationError for blank
// or weak input, (false, nil) when the username is already taken under
// case-insensitive comparison, and (true, nil) on success. Every outcome
// is audit-logged.
func (s *UserService) Register(username, password string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(username) == "" {
		s.audit.LogEvent(EventRegistration, username, "Registration failed: empty username", false)
		return false, &ValidationError{Msg: "username cannot be empty"}
	}
	if strings.TrimSpace(password) == "" {
		s.audit.LogEvent(EventRegistration, username, "Registration failed: empty password", false)
		return false, &ValidationError{Msg: "password cannot be empty"}
	}
	if !validatePasswordStrength(password) {
		s.audit.LogEvent(EventRegistration, username, "Registration failed: weak password", false)
		return false, &ValidationError{Msg: passwordPolicyMessage}
	}

	if s.findUserLocked(username) != nil {
		s.audit.LogEvent(EventRegistration, username, "Registration failed: username already exists", false)
		return false, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		s.audit.LogEvent(EventRegistration, username, "Registration failed: could not hash password", false)
		return false, fmt.Errorf("failed to hash password: %w", err)
	}

	s.users = append(s.users, model.NewUser(username, string(hash)))
	if err := s.saveUsersLocked(); err != nil {
		return false, err
	}

	s.audit.LogEvent(EventRegistration, username, "User registered successfully", true)
	return true, nil
}

// =============================================================================
// LOGIN
// =============================================================================

// Login authenticates a username/password pair.
//
// Failure modes, in check order:
//   - an active lockout on the attempt record → *LockedError
//   - unknown username → ErrInvalidCredentials (failure recorded)
//   - an unexpired lock on the user record → *LockedError
//   - wrong password → ErrInvalidCredentials (failure recorded)
//
// On success any expired lock is cleared, the last-login timestamp is
// updated and persisted, and the failure counter resets to zero.
func (s *UserService) Login(username, password string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	// An attempt during an active lockout is audited but does not grow
	// the failure counter past the count that triggered the lock.
	if record, ok := s.attempts[strings.ToLower(username)]; ok && record.LockedAt(now) {
		s.audit.LogEvent(EventLoginAttempt, username, "Attempt on locked account", false)
		return nil, &LockedError{Remaining: record.LockoutRemaining(now)}
	}

	user := s.findUserLocked(username)
	if user == nil {
		// Unknown usernames still accrue failures, so the caller cannot
		// probe which accounts exist by timing or counter behavior.
		s.recordAttemptLocked(username, false)
		s.audit.LogEvent(EventLoginAttempt, username, "Invalid username", false)
		return nil, ErrInvalidCredentials
	}

	if user.IsLocked && user.LockedUntil != nil && user.LockedUntil.After(now) {
		s.audit.LogEvent(EventLoginAttempt, username, "Attempt on locked account", false)
		return nil, &LockedError{Remaining: user.LockedUntil.Sub(now)}
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.recordAttemptLocked(username, false)
		s.audit.LogEvent(EventLoginAttempt, username, "Invalid password", false)
		return nil, ErrInvalidCredentials
	}

	user.LastLogin = now
	if user.IsLocked {
		user.IsLocked = false
		user.LockedUntil = nil
		s.audit.LogEvent(EventAccountUnlock, username, "Account automatically unlocked at login", true)
	}
	if err := s.saveUsersLocked(); err != nil {
		return nil, err
	}

	s.recordAttemptLocked(username, true)
	s.audit.LogEvent(EventLogin, username, "Successful login", true)

	return user, nil
}

// recordAttemptLocked updates the per-username failure counter and, at
// the threshold, stamps the lockout end on both the attempt record and
// the user record so either can drive future checks independently.
// Caller must hold s.mu.
func (s *UserService) recordAttemptLocked(username string, success bool) {
	key := strings.ToLower(username)
	record, ok := s.attempts[key]
	if !ok {
		record = &model.LoginAttempt{Username: key}
		s.attempts[key] = record
	}

	now := time.Now().UTC()
	record.LastAttemptTime = now

	if success {
		record.FailedAttempts = 0
		record.LockoutEnd = nil
	} else {
		record.FailedAttempts++
		if record.FailedAttempts >= s.maxFailedAttempts {
			end := now.Add(s.lockoutDuration)
			record.LockoutEnd = &end

			if user := s.findUserLocked(username); user != nil {
				user.IsLocked = true
				user.LockedUntil = &end
				if err := s.saveUsersLocked(); err != nil {
					s.audit.LogEvent(EventLoginAttempt, username, "Failed to persist lockout", false)
				}
			}
		}
	}

	if err := s.saveAttemptsLocked(); err != nil {
		s.audit.LogEvent(EventLoginAttempt, username, "Failed to persist attempt record", false)
	}
}

// =============================================================================
// PASSWORD CHANGE
// =============================================================================

// ChangePassword verifies the current password and replaces the stored
// hash. A nil return means success. All failures carry a user-safe
// message and are audit-logged with the reason.
func (s *UserService) ChangePassword(username, currentPassword, newPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(username) == "" || strings.TrimSpace(currentPassword) == "" || strings.TrimSpace(newPassword) == "" {
		s.audit.LogEvent(EventPasswordChange, username, "Password change failed: missing data", false)
		return &ValidationError{Msg: "username and passwords are required"}
	}

	user := s.findUserLocked(username)
	if user == nil {
		s.audit.LogEvent(EventPasswordChange, username, "Password change failed: user not found", false)
		return ErrInvalidCredentials
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)) != nil {
		s.audit.LogEvent(EventPasswordChange, username, "Password change failed: incorrect current password", false)
		return &ValidationError{Msg: "current password is incorrect"}
	}

	if !validatePasswordStrength(newPassword) {
		s.audit.LogEvent(EventPasswordChange, username, "Password change failed: new password too weak", false)
		return &ValidationError{Msg: passwordPolicyMessage}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		s.audit.LogEvent(EventPasswordChange, username, "Password change failed: could not hash password", false)
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user.PasswordHash = string(hash)
	if err := s.saveUsersLocked(); err != nil {
		return err
	}

	s.audit.LogEvent(EventPasswordChange, username, "Password changed successfully", true)
	return nil
}

// =============================================================================
// LOOKUPS
// =============================================================================

// GetUser returns the user for a username, or nil if none exists.
// Comparison is case-insensitive.
func (s *UserService) GetUser(username string) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findUserLocked(username)
}

// findUserLocked returns the user matching username case-insensitively.
// Caller must hold s.mu.
func (s *UserService) findUserLocked(username string) *model.User {
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return u
		}
	}
	return nil
}

// =============================================================================
// PASSWORD POLICY
// =============================================================================

const passwordPolicyMessage = "password must be at least 8 characters and include uppercase, lowercase, digit, and special character"

// validatePasswordStrength enforces the composition rule: minimum length
// plus at least one uppercase letter, lowercase letter, digit, and
// non-alphanumeric character.
func validatePasswordStrength(password string) bool {
	if len(password) < MinPasswordLength {
		return false
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// loadUsers reads the user collection. Legacy plaintext files are
// re-saved encrypted; anything unreadable degrades to an empty slice.
func (s *UserService) loadUsers() []*model.User {
	data, err := os.ReadFile(s.usersFile)
	if err != nil {
		return nil
	}

	var users []*model.User
	if LooksEncrypted(data) {
		plaintext, err := s.cipher.Decrypt(string(data))
		if err != nil {
			return nil
		}
		if err := json.Unmarshal(plaintext, &users); err != nil {
			return nil
		}
		return users
	}

	// Legacy plaintext file: parse, then immediately re-save encrypted.
	// A failed re-save is tolerable; the data is usable either way.
	if err := json.Unmarshal(data, &users); err != nil {
		return nil
	}
	s.users = users
	_ = s.saveUsersLocked()
	return users
}

// loadAttempts reads the login-attempt collection, persisted as a list
// and keyed in memory by lowercased username.
func (s *UserService) loadAttempts() map[string]*model.LoginAttempt {
	attempts := make(map[string]*model.LoginAttempt)

	data, err := os.ReadFile(s.attemptsFile)
	if err != nil {
		return attempts
	}

	raw := data
	if LooksEncrypted(data) {
		plaintext, err := s.cipher.Decrypt(string(data))
		if err != nil {
			return attempts
		}
		raw = plaintext
	}

	var list []*model.LoginAttempt
	if err := json.Unmarshal(raw, &list); err != nil {
		return attempts
	}
	for _, record := range list {
		if record.Username != "" {
			attempts[strings.ToLower(record.Username)] = record
		}
	}
	return attempts
}

// saveUsersLocked persists the user collection encrypted, atomically.
// Caller must hold s.mu.
func (s *UserService) saveUsersLocked() error {
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize users: %w", err)
	}
	token, err := s.cipher.Encrypt(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt users: %w", err)
	}
	if s.announce != nil {
		s.announce(s.usersFile)
	}
	return util.AtomicWriteFile(s.usersFile, []byte(token), 0600)
}

// saveAttemptsLocked persists the attempt records encrypted, atomically.
// Caller must hold s.mu.
func (s *UserService) saveAttemptsLocked() error {
	list := make([]*model.LoginAttempt, 0, len(s.attempts))
	for _, record := range s.attempts {
		list = append(list, record)
	}

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize login attempts: %w", err)
	}
	token, err := s.cipher.Encrypt(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt login attempts: %w", err)
	}
	if s.announce != nil {
		s.announce(s.attemptsFile)
	}
	return util.AtomicWriteFile(s.attemptsFile, []byte(token), 0600)
}
