// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/coffer-foundation/coffer/lib/clock"
	"github.com/coffer-foundation/coffer/lib/secret"
)

// Guard is the authentication state machine. It owns every read and
// write of the UserAuth record: lockout decisions, failure counting,
// factor dispatch, and password (re)hashing.
//
// Guard methods are not safe for concurrent use on the same vault;
// the callers (CLI invocations, agent startup) are sequential by
// construction.
type Guard struct {
	repo    UserAuthRepository
	clock   clock.Clock
	logger  *slog.Logger
	params  ArgonParams
	factors map[string]Factor
}

// NewGuard builds a Guard over the given repository. The clock is
// injected so lockout windows are testable.
func NewGuard(repo UserAuthRepository, clk clock.Clock, logger *slog.Logger) *Guard {
	return &Guard{
		repo:    repo,
		clock:   clk,
		logger:  logger,
		params:  DefaultArgonParams,
		factors: make(map[string]Factor),
	}
}

// RegisterFactor makes a second-factor verifier available. A factor
// listed in UserAuth.Factors without a registered verifier fails
// verification with ErrUnknownFactor.
func (g *Guard) RegisterFactor(factor Factor) {
	g.factors[factor.Name()] = factor
}

// Initialize creates the vault's UserAuth record on first run: a
// fresh Argon2id hash and a fresh master salt, set together. Fails
// with ErrVaultExists if the vault is already initialized.
func (g *Guard) Initialize(ctx context.Context, password *secret.Buffer) error {
	_, err := g.repo.Get(ctx)
	switch {
	case err == nil:
		return ErrVaultExists
	case !errors.Is(err, ErrNoVault):
		return fmt.Errorf("auth: checking for existing vault: %w", err)
	}

	hash, err := HashPassword(g.params, password.Bytes())
	if err != nil {
		return err
	}
	salt, err := NewMasterSalt()
	if err != nil {
		return err
	}

	now := g.clock.Now()
	record := UserAuth{
		UserID:       uuid.NewString(),
		PasswordHash: hash,
		MasterSalt:   salt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := g.repo.Create(ctx, record); err != nil {
		return fmt.Errorf("auth: creating vault record: %w", err)
	}

	g.logger.Info("vault initialized", "user_id", record.UserID)
	return nil
}

// Authenticate runs the full authentication state machine:
//
//  1. An active lockout reports StatusAccountLocked, independent of
//     password correctness.
//  2. A pending forced password change reports
//     StatusPasswordChangeRequired.
//  3. The password is verified against the stored hash. Success
//     resets the failure counter and stamps LastAuth. When an enabled
//     factor is outstanding, StatusFactorRequired is reported instead
//     and the record is untouched.
//     Failure increments the counter; the attempt that reaches the
//     threshold starts the lockout window.
//
// The returned error is for storage failures only; authentication
// outcomes are in the AuthResult.
func (g *Guard) Authenticate(ctx context.Context, password *secret.Buffer) (AuthResult, error) {
	record, err := g.repo.Get(ctx)
	if err != nil {
		return AuthResult{}, fmt.Errorf("auth: loading vault record: %w", err)
	}

	now := g.clock.Now()
	if record.Locked(now) {
		return AuthResult{Status: StatusAccountLocked, LockedUntil: record.LockedUntil}, nil
	}

	if record.PasswordChangeRequired {
		return AuthResult{Status: StatusPasswordChangeRequired}, nil
	}

	ok, err := VerifyPassword(password.Bytes(), record.PasswordHash)
	if err != nil {
		return AuthResult{}, err
	}
	if !ok {
		return g.recordFailure(ctx, record)
	}

	if len(record.Factors) > 0 {
		return AuthResult{Status: StatusFactorRequired, Factor: record.Factors[0]}, nil
	}

	if err := g.recordSuccess(ctx, record); err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Status: StatusSuccess}, nil
}

// VerifyFactor completes a StatusFactorRequired authentication. A
// failed proof counts toward the lockout exactly like a failed
// password.
func (g *Guard) VerifyFactor(ctx context.Context, name, proof string) (AuthResult, error) {
	record, err := g.repo.Get(ctx)
	if err != nil {
		return AuthResult{}, fmt.Errorf("auth: loading vault record: %w", err)
	}

	if record.Locked(g.clock.Now()) {
		return AuthResult{Status: StatusAccountLocked, LockedUntil: record.LockedUntil}, nil
	}

	verifier, ok := g.factors[name]
	if !ok {
		return AuthResult{}, fmt.Errorf("%w: %s", ErrUnknownFactor, name)
	}

	if err := verifier.Verify(ctx, proof); err != nil {
		return g.recordFailure(ctx, record)
	}

	if err := g.recordSuccess(ctx, record); err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Status: StatusSuccess}, nil
}

// VerifyForRotation checks the current password for a master password
// rotation. It honors the lockout and counts failures, but ignores
// the password-change-required flag; rotation is how that flag gets
// cleared. Returns the UserAuth record so the caller can derive keys
// from its salt.
func (g *Guard) VerifyForRotation(ctx context.Context, password *secret.Buffer) (UserAuth, error) {
	record, err := g.repo.Get(ctx)
	if err != nil {
		return UserAuth{}, fmt.Errorf("auth: loading vault record: %w", err)
	}

	if record.Locked(g.clock.Now()) {
		return UserAuth{}, fmt.Errorf("%w: account is locked", ErrAuthenticationFailed)
	}

	ok, err := VerifyPassword(password.Bytes(), record.PasswordHash)
	if err != nil {
		return UserAuth{}, err
	}
	if !ok {
		if _, err := g.recordFailure(ctx, record); err != nil {
			return UserAuth{}, err
		}
		return UserAuth{}, fmt.Errorf("%w: wrong password", ErrAuthenticationFailed)
	}

	return record, nil
}

// SetPassword stores a new Argon2id hash and clears the forced-change
// flag. The master salt is untouched, so the caller MUST have
// re-wrapped every item key under the key derived from the new
// password before this commits. Use Vault.RotateMasterPassword, not
// this method, unless you are that code path.
func (g *Guard) SetPassword(ctx context.Context, password *secret.Buffer) error {
	record, err := g.repo.Get(ctx)
	if err != nil {
		return fmt.Errorf("auth: loading vault record: %w", err)
	}

	hash, err := HashPassword(g.params, password.Bytes())
	if err != nil {
		return err
	}

	record.PasswordHash = hash
	record.PasswordChangeRequired = false
	record.FailedAttempts = 0
	record.LockedUntil = time.Time{}
	record.UpdatedAt = g.clock.Now()

	if err := g.repo.Update(ctx, record); err != nil {
		return fmt.Errorf("auth: updating vault record: %w", err)
	}

	g.logger.Info("master password changed", "user_id", record.UserID)
	return nil
}

// RequirePasswordChange forces the next authentication to demand a
// password rotation.
func (g *Guard) RequirePasswordChange(ctx context.Context) error {
	record, err := g.repo.Get(ctx)
	if err != nil {
		return fmt.Errorf("auth: loading vault record: %w", err)
	}

	record.PasswordChangeRequired = true
	record.UpdatedAt = g.clock.Now()

	if err := g.repo.Update(ctx, record); err != nil {
		return fmt.Errorf("auth: updating vault record: %w", err)
	}
	return nil
}

// Record returns the current UserAuth record.
func (g *Guard) Record(ctx context.Context) (UserAuth, error) {
	return g.repo.Get(ctx)
}

// recordFailure increments the failure counter, starts the lockout
// window when the counter reaches the threshold, and persists the
// record. The tripping attempt reports StatusAccountLocked so the
// caller learns immediately that further tries are pointless.
func (g *Guard) recordFailure(ctx context.Context, record UserAuth) (AuthResult, error) {
	now := g.clock.Now()
	record.FailedAttempts++
	record.UpdatedAt = now

	result := AuthResult{Status: StatusInvalidCredentials}
	if record.FailedAttempts >= maxFailedAttempts {
		record.LockedUntil = now.Add(lockoutDuration)
		result = AuthResult{Status: StatusAccountLocked, LockedUntil: record.LockedUntil}
		g.logger.Warn("account locked after repeated failures",
			"failed_attempts", record.FailedAttempts,
			"locked_until", record.LockedUntil,
		)
	}

	if err := g.repo.Update(ctx, record); err != nil {
		return AuthResult{}, fmt.Errorf("auth: updating vault record: %w", err)
	}
	return result, nil
}

// recordSuccess resets the failure counter, clears the lockout, and
// stamps LastAuth.
func (g *Guard) recordSuccess(ctx context.Context, record UserAuth) error {
	now := g.clock.Now()
	record.FailedAttempts = 0
	record.LockedUntil = time.Time{}
	record.LastAuth = now
	record.UpdatedAt = now

	if err := g.repo.Update(ctx, record); err != nil {
		return fmt.Errorf("auth: updating vault record: %w", err)
	}
	return nil
}
