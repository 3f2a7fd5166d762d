// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

// Package vault is the credential service: the layer that turns
// plaintext payloads into stored Credential records and back.
//
// Every payload is sealed with a fresh item key and the item key is
// wrapped under the master key (envelope.KeyHierarchy). Payloads big
// enough to benefit are compressed before encryption; the codec tag
// travels inside the encrypted frame, so storage only ever sees
// ciphertext. The service consumes a CredentialRepository for
// persistence and emits best-effort audit entries for every mutation.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/coffer-foundation/coffer/audit"
	"github.com/coffer-foundation/coffer/auth"
	"github.com/coffer-foundation/coffer/envelope"
	"github.com/coffer-foundation/coffer/lib/clock"
	"github.com/coffer-foundation/coffer/lib/secret"
)

// Config carries the collaborators for New. Keys, Repo, Clock, and
// Logger are required. Audit is optional; a nil value disables audit
// emission. Guard and Tx are consumed only by RotateMasterPassword
// and may be nil for sessions that never rotate.
type Config struct {
	Keys   *envelope.KeyHierarchy
	Repo   CredentialRepository
	Clock  clock.Clock
	Logger *slog.Logger
	Audit  *audit.Logger
	Guard  *auth.Guard
	Tx     Transactor
}

// Vault is an unlocked credential session. It holds the key
// hierarchy derived from the master password for as long as the
// session lives; Close releases it.
type Vault struct {
	keys   *envelope.KeyHierarchy
	repo   CredentialRepository
	clock  clock.Clock
	logger *slog.Logger
	audit  *audit.Logger
	guard  *auth.Guard
	tx     Transactor
}

// New validates the configuration and returns a Vault.
func New(config Config) (*Vault, error) {
	if config.Keys == nil {
		return nil, fmt.Errorf("vault: config missing key hierarchy")
	}
	if config.Repo == nil {
		return nil, fmt.Errorf("vault: config missing credential repository")
	}
	if config.Clock == nil {
		return nil, fmt.Errorf("vault: config missing clock")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("vault: config missing logger")
	}
	return &Vault{
		keys:   config.Keys,
		repo:   config.Repo,
		clock:  config.Clock,
		logger: config.Logger,
		audit:  config.Audit,
		guard:  config.Guard,
		tx:     config.Tx,
	}, nil
}

// Close zeroes the session's master key material. The Vault is
// unusable afterwards.
func (v *Vault) Close() error {
	return v.keys.Close()
}

// UnlockKeys derives the master key for a verified password and
// wraps it in a KeyHierarchy. The caller owns the result and must
// Close it; the password buffer stays owned by the caller.
func UnlockKeys(password *secret.Buffer, salt []byte) (*envelope.KeyHierarchy, error) {
	key, err := auth.DeriveMasterKey(password, salt)
	if err != nil {
		return nil, err
	}
	hierarchy, err := envelope.NewKeyHierarchy(key)
	if err != nil {
		key.Close()
		return nil, err
	}
	return hierarchy, nil
}

// CreateParams describes a credential to create. Payload is the
// plaintext; it is never stored or logged.
type CreateParams struct {
	IdentityID string
	Type       CredentialType
	Name       string
	Level      SecurityLevel
	Payload    []byte
	Metadata   map[string]string
}

// CreateCredential encrypts the payload under a fresh item key and
// persists the record. The returned Credential carries ciphertext
// only.
func (v *Vault) CreateCredential(ctx context.Context, params CreateParams) (Credential, error) {
	if params.IdentityID == "" {
		return Credential{}, fmt.Errorf("%w: identity id is empty", ErrInvalidInput)
	}
	if !params.Type.Valid() {
		return Credential{}, fmt.Errorf("%w: unknown credential type %q", ErrInvalidInput, params.Type)
	}
	if params.Name == "" {
		return Credential{}, fmt.Errorf("%w: credential name is empty", ErrInvalidInput)
	}

	framed, err := packPayload(params.Payload, codecFor(params.Type, len(params.Payload)))
	if err != nil {
		return Credential{}, err
	}
	wrappedKey, ciphertext, err := v.keys.EncryptWithNewItemKey(framed)
	secret.Zero(framed)
	if err != nil {
		return Credential{}, err
	}

	now := v.clock.Now()
	credential := Credential{
		ID:             uuid.NewString(),
		IdentityID:     params.IdentityID,
		Type:           params.Type,
		Name:           params.Name,
		Level:          params.Level,
		EncryptedData:  ciphertext,
		WrappedItemKey: wrappedKey,
		Metadata:       params.Metadata,
		Fingerprint:    ComputeFingerprint(wrappedKey, ciphertext),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = v.repo.Create(ctx, credential)
	v.emit(ctx, audit.ActionCredentialCreate, credential, err == nil)
	if err != nil {
		return Credential{}, fmt.Errorf("vault: storing credential: %w", err)
	}

	v.logger.Info("credential created",
		"credential_id", credential.ID,
		"identity_id", credential.IdentityID,
		"type", string(credential.Type))
	return credential, nil
}

// CredentialData returns a credential's decrypted payload.
func (v *Vault) CredentialData(ctx context.Context, credentialID string) ([]byte, error) {
	credential, err := v.repo.Credential(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	payload, err := v.decryptPayload(credential)
	v.emit(ctx, audit.ActionCredentialRead, credential, err == nil)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// SSHKeyData returns the decoded payload of a TypeSSHKey credential.
// The agent's key loader is the primary caller.
func (v *Vault) SSHKeyData(ctx context.Context, credentialID string) (SSHKeyData, error) {
	credential, err := v.repo.Credential(ctx, credentialID)
	if err != nil {
		return SSHKeyData{}, err
	}
	if credential.Type != TypeSSHKey {
		return SSHKeyData{}, fmt.Errorf("%w: credential %s is %s, not %s",
			ErrInvalidInput, credential.ID, credential.Type, TypeSSHKey)
	}

	payload, err := v.decryptPayload(credential)
	v.emit(ctx, audit.ActionCredentialRead, credential, err == nil)
	if err != nil {
		return SSHKeyData{}, err
	}

	var keyData SSHKeyData
	if err := json.Unmarshal(payload, &keyData); err != nil {
		return SSHKeyData{}, fmt.Errorf("%w: credential %s payload is not ssh key data", ErrInvalidInput, credential.ID)
	}
	if keyData.PrivateKey == "" || keyData.PublicKey == "" {
		return SSHKeyData{}, fmt.Errorf("%w: credential %s ssh key data is missing a key field", ErrInvalidInput, credential.ID)
	}
	return keyData, nil
}

// UpdateCredentialData replaces a credential's payload. The payload
// is sealed under a fresh item key, so a legacy record becomes a
// wrapped one here. A concurrent writer loses with ErrConflict.
func (v *Vault) UpdateCredentialData(ctx context.Context, credentialID string, payload []byte) (Credential, error) {
	credential, err := v.repo.Credential(ctx, credentialID)
	if err != nil {
		return Credential{}, err
	}

	framed, err := packPayload(payload, codecFor(credential.Type, len(payload)))
	if err != nil {
		return Credential{}, err
	}
	wrappedKey, ciphertext, err := v.keys.EncryptWithNewItemKey(framed)
	secret.Zero(framed)
	if err != nil {
		return Credential{}, err
	}

	previous := credential.Fingerprint
	credential.EncryptedData = ciphertext
	credential.WrappedItemKey = wrappedKey
	credential.Fingerprint = ComputeFingerprint(wrappedKey, ciphertext)
	credential.UpdatedAt = v.clock.Now()

	err = v.repo.Update(ctx, credential, previous)
	v.emit(ctx, audit.ActionCredentialUpdate, credential, err == nil)
	if err != nil {
		return Credential{}, err
	}
	return credential, nil
}

// DeleteCredential removes a credential.
func (v *Vault) DeleteCredential(ctx context.Context, credentialID string) error {
	credential, err := v.repo.Credential(ctx, credentialID)
	if err != nil {
		return err
	}

	err = v.repo.Delete(ctx, credentialID)
	v.emit(ctx, audit.ActionCredentialDelete, credential, err == nil)
	if err != nil {
		return err
	}

	v.logger.Info("credential deleted",
		"credential_id", credential.ID,
		"identity_id", credential.IdentityID)
	return nil
}

// ListCredentials returns an identity's credentials, ciphertext and
// all. Callers that only need a listing should not decrypt.
func (v *Vault) ListCredentials(ctx context.Context, identityID string) ([]Credential, error) {
	if identityID == "" {
		return nil, fmt.Errorf("%w: identity id is empty", ErrInvalidInput)
	}
	return v.repo.CredentialsForIdentity(ctx, identityID)
}

// RotateMasterPassword re-keys the whole vault: it verifies the old
// password, derives the old and new master keys from the unchanged
// salt, rewraps every credential's item key under the new master key
// (legacy records are migrated to the wrapped form), and finally
// stores the new password hash. Everything after verification runs in
// one storage transaction, so a failure part-way leaves the vault
// exactly as it was.
//
// The session's own key hierarchy is not touched: after a successful
// rotation this Vault can still read nothing, and the caller must
// re-authenticate with the new password.
func (v *Vault) RotateMasterPassword(ctx context.Context, oldPassword, newPassword *secret.Buffer) error {
	if v.guard == nil || v.tx == nil {
		return fmt.Errorf("vault: session is not configured for password rotation")
	}

	// Verification runs outside the transaction so failed attempts
	// still count toward the lockout when the rotation is rolled
	// back.
	record, err := v.guard.VerifyForRotation(ctx, oldPassword)
	if err != nil {
		v.emitRotation(ctx, false)
		return err
	}

	var rotated int
	err = v.tx.WithTransaction(ctx, func(ctx context.Context) error {
		oldKeys, err := UnlockKeys(oldPassword, record.MasterSalt)
		if err != nil {
			return err
		}
		defer oldKeys.Close()

		newKeys, err := UnlockKeys(newPassword, record.MasterSalt)
		if err != nil {
			return err
		}
		defer newKeys.Close()

		now := v.clock.Now()
		if err := v.repo.ForEach(ctx, func(credential Credential) error {
			previous := credential.Fingerprint
			if credential.WrappedItemKey == nil {
				// Legacy record: decrypt under the old master key,
				// then re-seal in the wrapped form.
				payload, err := oldKeys.DecryptLegacy(credential.EncryptedData)
				if err != nil {
					return fmt.Errorf("credential %s: %w", credential.ID, err)
				}
				framed, err := packPayload(payload, codecFor(credential.Type, len(payload)))
				secret.Zero(payload)
				if err != nil {
					return fmt.Errorf("credential %s: %w", credential.ID, err)
				}
				wrappedKey, ciphertext, err := newKeys.EncryptWithNewItemKey(framed)
				secret.Zero(framed)
				if err != nil {
					return fmt.Errorf("credential %s: %w", credential.ID, err)
				}
				credential.WrappedItemKey = wrappedKey
				credential.EncryptedData = ciphertext
			} else {
				rewrapped, err := oldKeys.RewrapItemKey(credential.WrappedItemKey, newKeys)
				if err != nil {
					return fmt.Errorf("credential %s: %w", credential.ID, err)
				}
				credential.WrappedItemKey = rewrapped
			}

			credential.Fingerprint = ComputeFingerprint(credential.WrappedItemKey, credential.EncryptedData)
			credential.UpdatedAt = now
			if err := v.repo.Update(ctx, credential, previous); err != nil {
				return fmt.Errorf("credential %s: %w", credential.ID, err)
			}
			rotated++
			return nil
		}); err != nil {
			return err
		}

		return v.guard.SetPassword(ctx, newPassword)
	})
	v.emitRotation(ctx, err == nil)
	if err != nil {
		return fmt.Errorf("vault: rotating master password: %w", err)
	}

	v.logger.Info("master password rotated", "credentials", rotated)
	return nil
}

func (v *Vault) decryptPayload(credential Credential) ([]byte, error) {
	if credential.WrappedItemKey == nil {
		return v.keys.DecryptLegacy(credential.EncryptedData)
	}
	framed, err := v.keys.DecryptWithWrappedKey(credential.WrappedItemKey, credential.EncryptedData)
	if err != nil {
		return nil, err
	}
	return unpackPayload(framed)
}

func (v *Vault) emit(ctx context.Context, action audit.Action, credential Credential, success bool) {
	if v.audit == nil {
		return
	}
	v.audit.Record(ctx, audit.Entry{
		Action:       action,
		Resource:     "credential",
		Success:      success,
		IdentityID:   credential.IdentityID,
		CredentialID: credential.ID,
	})
}

func (v *Vault) emitRotation(ctx context.Context, success bool) {
	if v.audit == nil {
		return
	}
	v.audit.Record(ctx, audit.Entry{
		Action:   audit.ActionPasswordChange,
		Resource: "vault",
		Success:  success,
	})
}
