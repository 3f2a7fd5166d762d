// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth implements master-password authentication for the
// vault: Argon2id password hashing, brute-force lockout, pluggable
// second factors, and derivation of the master encryption key that
// roots the envelope hierarchy.
//
// The [Guard] is the single entry point for authentication decisions.
// Outcomes that are part of normal operation (wrong password, locked
// account, pending factor) are reported in [AuthResult], not as
// errors; errors are reserved for storage and infrastructure failures.
package auth

import (
	"context"
	"errors"
	"time"
)

// Authentication state machine constants.
const (
	// maxFailedAttempts is the failure count that trips the lockout.
	maxFailedAttempts = 5

	// lockoutDuration is how long the account stays locked once
	// tripped.
	lockoutDuration = 5 * time.Minute
)

// ErrNoVault is returned by UserAuthRepository.Get when the vault has
// never been initialized.
var ErrNoVault = errors.New("vault is not initialized")

// ErrVaultExists is returned by Initialize when a UserAuth record
// already exists.
var ErrVaultExists = errors.New("vault is already initialized")

// ErrAuthenticationFailed covers password and factor verification
// failures on paths that report through errors rather than an
// AuthResult, such as password rotation.
var ErrAuthenticationFailed = errors.New("authentication failed")

// ErrUnknownFactor is returned when a factor name has no registered
// verifier.
var ErrUnknownFactor = errors.New("unknown authentication factor")

// AuthStatus is the outcome category of an authentication attempt.
type AuthStatus int

const (
	// StatusSuccess: the password (and any required factor) verified.
	StatusSuccess AuthStatus = iota

	// StatusInvalidCredentials: the password did not verify.
	StatusInvalidCredentials

	// StatusAccountLocked: the lockout window is active. Reported
	// independent of password correctness.
	StatusAccountLocked

	// StatusFactorRequired: the password verified but an enabled
	// second factor is outstanding. AuthResult.Factor names it.
	StatusFactorRequired

	// StatusPasswordChangeRequired: authentication is refused until
	// the master password is rotated.
	StatusPasswordChangeRequired
)

// String returns the status name for logs and CLI output.
func (s AuthStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInvalidCredentials:
		return "invalid-credentials"
	case StatusAccountLocked:
		return "account-locked"
	case StatusFactorRequired:
		return "factor-required"
	case StatusPasswordChangeRequired:
		return "password-change-required"
	default:
		return "unknown"
	}
}

// AuthResult is the outcome of an Authenticate call.
type AuthResult struct {
	Status AuthStatus

	// Factor names the outstanding factor when Status is
	// StatusFactorRequired.
	Factor string

	// LockedUntil is when the lockout expires, when Status is
	// StatusAccountLocked.
	LockedUntil time.Time
}

// UserAuth is the single per-vault authentication record. The password
// hash and master salt are set together at initialization; the salt
// never changes afterwards (password rotation re-hashes but keeps the
// wrapping salt), so a derived master key is stable for the life of
// the vault under a given password.
type UserAuth struct {
	UserID       string
	PasswordHash string

	// MasterSalt is the 32-byte PBKDF2 salt for master-key
	// derivation. Not secret, but unique per vault.
	MasterSalt []byte

	// Factors lists enabled non-password factors by name.
	Factors []string

	FailedAttempts int

	// LockedUntil is the lockout expiry; zero means not locked.
	LockedUntil time.Time

	// LastAuth is the last fully successful authentication; zero
	// means never.
	LastAuth time.Time

	PasswordChangeRequired bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Locked reports whether the lockout window is active at now.
func (u *UserAuth) Locked(now time.Time) bool {
	return !u.LockedUntil.IsZero() && now.Before(u.LockedUntil)
}

// UserAuthRepository is the persistence contract for the UserAuth
// record. Implementations live outside this package; the sqlite
// reference implementation is in the store package.
type UserAuthRepository interface {
	// Get returns the vault's UserAuth record, or ErrNoVault if the
	// vault has never been initialized.
	Get(ctx context.Context) (UserAuth, error)

	// Create persists a new record. Fails if one already exists.
	Create(ctx context.Context, record UserAuth) error

	// Update persists changes to the existing record.
	Update(ctx context.Context, record UserAuth) error
}

// Factor is a pluggable second-factor verifier (TOTP, hardware token,
// remote approval). Implementations are registered on the Guard;
// none ship with the core.
type Factor interface {
	// Name identifies the factor in UserAuth.Factors.
	Name() string

	// Verify checks a proof supplied by the user. A nil return means
	// the factor passed.
	Verify(ctx context.Context, proof string) error
}
