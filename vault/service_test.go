// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/coffer-foundation/coffer/audit"
	"github.com/coffer-foundation/coffer/auth"
	"github.com/coffer-foundation/coffer/envelope"
	"github.com/coffer-foundation/coffer/lib/clock"
	"github.com/coffer-foundation/coffer/lib/secret"
)

// memoryCredentialRepo is an in-memory CredentialRepository with the
// same fingerprint-checked update the sqlite store performs.
type memoryCredentialRepo struct {
	mu    sync.Mutex
	order []string
	items map[string]Credential
}

func newMemoryCredentialRepo() *memoryCredentialRepo {
	return &memoryCredentialRepo{items: make(map[string]Credential)}
}

func (r *memoryCredentialRepo) CredentialsForIdentity(ctx context.Context, identityID string) ([]Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Credential
	for _, id := range r.order {
		if credential := r.items[id]; credential.IdentityID == identityID {
			result = append(result, credential)
		}
	}
	return result, nil
}

func (r *memoryCredentialRepo) Credential(ctx context.Context, id string) (Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	credential, ok := r.items[id]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return credential, nil
}

func (r *memoryCredentialRepo) Create(ctx context.Context, credential Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[credential.ID]; ok {
		return errors.New("duplicate credential id")
	}
	r.items[credential.ID] = credential
	r.order = append(r.order, credential.ID)
	return nil
}

func (r *memoryCredentialRepo) Update(ctx context.Context, credential Credential, previousFingerprint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[credential.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Fingerprint != previousFingerprint {
		return ErrConflict
	}
	r.items[credential.ID] = credential
	return nil
}

func (r *memoryCredentialRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return ErrNotFound
	}
	delete(r.items, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *memoryCredentialRepo) ForEach(ctx context.Context, fn func(Credential) error) error {
	r.mu.Lock()
	ids := append([]string(nil), r.order...)
	r.mu.Unlock()
	for _, id := range ids {
		r.mu.Lock()
		credential := r.items[id]
		r.mu.Unlock()
		if err := fn(credential); err != nil {
			return err
		}
	}
	return nil
}

// memoryUserAuthRepo backs an auth.Guard for rotation tests.
type memoryUserAuthRepo struct {
	mu     sync.Mutex
	record auth.UserAuth
	exists bool
}

func (r *memoryUserAuthRepo) Get(ctx context.Context) (auth.UserAuth, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.exists {
		return auth.UserAuth{}, auth.ErrNoVault
	}
	return r.record, nil
}

func (r *memoryUserAuthRepo) Create(ctx context.Context, record auth.UserAuth) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exists {
		return auth.ErrVaultExists
	}
	r.record = record
	r.exists = true
	return nil
}

func (r *memoryUserAuthRepo) Update(ctx context.Context, record auth.UserAuth) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.exists {
		return auth.ErrNoVault
	}
	r.record = record
	return nil
}

// auditCapture records audit entries for assertions.
type auditCapture struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (c *auditCapture) Create(ctx context.Context, entry audit.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	return nil
}

func (c *auditCapture) List(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audit.Entry(nil), c.entries...), nil
}

func (c *auditCapture) actions() []audit.Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	var actions []audit.Action
	for _, entry := range c.entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bufferFrom(t *testing.T, data []byte) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromBytes(append([]byte(nil), data...))
	if err != nil {
		t.Fatalf("creating secret buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

// newSessionVault builds a Vault over a random master key. Enough for
// everything except rotation.
func newSessionVault(t *testing.T) (*Vault, *memoryCredentialRepo, *auditCapture, *clock.FakeClock) {
	t.Helper()
	master, err := secret.Random(envelope.KeySize)
	if err != nil {
		t.Fatalf("generating master key: %v", err)
	}
	keys, err := envelope.NewKeyHierarchy(master)
	if err != nil {
		t.Fatalf("building key hierarchy: %v", err)
	}
	t.Cleanup(func() { keys.Close() })

	repo := newMemoryCredentialRepo()
	capture := &auditCapture{}
	clk := clock.Fake(time.Unix(1_700_000_000, 0))
	service, err := New(Config{
		Keys:   keys,
		Repo:   repo,
		Clock:  clk,
		Logger: discardLogger(),
		Audit:  audit.NewLogger(capture, clk, discardLogger()),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return service, repo, capture, clk
}

func TestVault_CreateAndReadCredential(t *testing.T) {
	service, repo, capture, _ := newSessionVault(t)
	ctx := context.Background()

	payload := []byte("p@ssw0rd for the db")
	credential, err := service.CreateCredential(ctx, CreateParams{
		IdentityID: "identity-1",
		Type:       TypePassword,
		Name:       "prod-db",
		Payload:    payload,
		Metadata:   map[string]string{"username": "app"},
	})
	if err != nil {
		t.Fatalf("CreateCredential() error: %v", err)
	}

	if credential.WrappedItemKey == nil {
		t.Error("stored credential has no wrapped item key")
	}
	if bytes.Contains(credential.EncryptedData, payload) {
		t.Error("ciphertext contains the plaintext payload")
	}
	if want := ComputeFingerprint(credential.WrappedItemKey, credential.EncryptedData); credential.Fingerprint != want {
		t.Errorf("fingerprint = %q, want %q", credential.Fingerprint, want)
	}

	stored, err := repo.Credential(ctx, credential.ID)
	if err != nil {
		t.Fatalf("repository read error: %v", err)
	}
	if stored.Name != "prod-db" || stored.Type != TypePassword {
		t.Errorf("stored (name, type) = (%q, %q), want (prod-db, password)", stored.Name, stored.Type)
	}

	data, err := service.CredentialData(ctx, credential.ID)
	if err != nil {
		t.Fatalf("CredentialData() error: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("decrypted payload = %q, want %q", data, payload)
	}

	wantActions := []audit.Action{audit.ActionCredentialCreate, audit.ActionCredentialRead}
	got := capture.actions()
	if len(got) != len(wantActions) {
		t.Fatalf("audit actions = %v, want %v", got, wantActions)
	}
	for i := range wantActions {
		if got[i] != wantActions[i] {
			t.Errorf("audit action %d = %q, want %q", i, got[i], wantActions[i])
		}
	}
}

func TestVault_CreateCredential_LargePayloadRoundTrip(t *testing.T) {
	service, _, _, _ := newSessionVault(t)
	ctx := context.Background()

	payload := compressibleBytes(32 * 1024)
	credential, err := service.CreateCredential(ctx, CreateParams{
		IdentityID: "identity-1",
		Type:       TypeNote,
		Name:       "runbook",
		Payload:    payload,
	})
	if err != nil {
		t.Fatalf("CreateCredential() error: %v", err)
	}

	// The compressed frame plus AEAD overhead should still be far
	// smaller than the payload.
	if len(credential.EncryptedData) >= len(payload) {
		t.Errorf("ciphertext is %d bytes for a compressible %d-byte payload", len(credential.EncryptedData), len(payload))
	}

	data, err := service.CredentialData(ctx, credential.ID)
	if err != nil {
		t.Fatalf("CredentialData() error: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Error("large payload round trip mismatch")
	}
}

func TestVault_CreateCredential_Validation(t *testing.T) {
	service, _, _, _ := newSessionVault(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		params CreateParams
	}{
		{"empty_identity", CreateParams{Type: TypePassword, Name: "x", Payload: []byte("p")}},
		{"empty_name", CreateParams{IdentityID: "i", Type: TypePassword, Payload: []byte("p")}},
		{"unknown_type", CreateParams{IdentityID: "i", Type: "certificate", Name: "x", Payload: []byte("p")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := service.CreateCredential(ctx, tt.params); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("CreateCredential() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestVault_CredentialData_NotFound(t *testing.T) {
	service, _, _, _ := newSessionVault(t)

	_, err := service.CredentialData(context.Background(), "no-such-id")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("CredentialData() error = %v, want ErrNotFound", err)
	}
}

func TestVault_SSHKeyData(t *testing.T) {
	service, _, _, _ := newSessionVault(t)
	ctx := context.Background()

	keyData := SSHKeyData{
		PrivateKey: "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=",
		PublicKey:  "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIKcoffer deploy@host",
	}
	payload, err := json.Marshal(keyData)
	if err != nil {
		t.Fatalf("marshaling key data: %v", err)
	}

	credential, err := service.CreateCredential(ctx, CreateParams{
		IdentityID: "identity-1",
		Type:       TypeSSHKey,
		Name:       "deploy-key",
		Payload:    payload,
	})
	if err != nil {
		t.Fatalf("CreateCredential() error: %v", err)
	}

	got, err := service.SSHKeyData(ctx, credential.ID)
	if err != nil {
		t.Fatalf("SSHKeyData() error: %v", err)
	}
	if got != keyData {
		t.Errorf("SSHKeyData() = %+v, want %+v", got, keyData)
	}
}

func TestVault_SSHKeyData_WrongType(t *testing.T) {
	service, _, _, _ := newSessionVault(t)
	ctx := context.Background()

	credential, err := service.CreateCredential(ctx, CreateParams{
		IdentityID: "identity-1",
		Type:       TypePassword,
		Name:       "not-a-key",
		Payload:    []byte("hunter2"),
	})
	if err != nil {
		t.Fatalf("CreateCredential() error: %v", err)
	}

	if _, err := service.SSHKeyData(ctx, credential.ID); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("SSHKeyData() error = %v, want ErrInvalidInput", err)
	}
}

func TestVault_SSHKeyData_MalformedPayload(t *testing.T) {
	service, _, _, _ := newSessionVault(t)
	ctx := context.Background()

	credential, err := service.CreateCredential(ctx, CreateParams{
		IdentityID: "identity-1",
		Type:       TypeSSHKey,
		Name:       "broken-key",
		Payload:    []byte("not json"),
	})
	if err != nil {
		t.Fatalf("CreateCredential() error: %v", err)
	}

	if _, err := service.SSHKeyData(ctx, credential.ID); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("SSHKeyData() error = %v, want ErrInvalidInput", err)
	}
}

func TestVault_UpdateCredentialData(t *testing.T) {
	service, _, _, clk := newSessionVault(t)
	ctx := context.Background()

	credential, err := service.CreateCredential(ctx, CreateParams{
		IdentityID: "identity-1",
		Type:       TypePassword,
		Name:       "prod-db",
		Payload:    []byte("old secret"),
	})
	if err != nil {
		t.Fatalf("CreateCredential() error: %v", err)
	}

	clk.Advance(time.Hour)
	updated, err := service.UpdateCredentialData(ctx, credential.ID, []byte("new secret"))
	if err != nil {
		t.Fatalf("UpdateCredentialData() error: %v", err)
	}

	if updated.Fingerprint == credential.Fingerprint {
		t.Error("fingerprint unchanged after update")
	}
	if !updated.UpdatedAt.After(credential.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, not after %v", updated.UpdatedAt, credential.UpdatedAt)
	}

	data, err := service.CredentialData(ctx, credential.ID)
	if err != nil {
		t.Fatalf("CredentialData() error: %v", err)
	}
	if string(data) != "new secret" {
		t.Errorf("payload = %q, want %q", data, "new secret")
	}
}

func TestVault_UpdateCredentialData_Conflict(t *testing.T) {
	service, repo, _, _ := newSessionVault(t)
	ctx := context.Background()

	credential, err := service.CreateCredential(ctx, CreateParams{
		IdentityID: "identity-1",
		Type:       TypePassword,
		Name:       "prod-db",
		Payload:    []byte("secret"),
	})
	if err != nil {
		t.Fatalf("CreateCredential() error: %v", err)
	}

	// Another writer touches the record between our read and write.
	stored, _ := repo.Credential(ctx, credential.ID)
	stored.Fingerprint = "someone-else-wrote-this"
	repo.mu.Lock()
	repo.items[credential.ID] = stored
	repo.mu.Unlock()

	if _, err := service.UpdateCredentialData(ctx, credential.ID, []byte("mine")); !errors.Is(err, ErrConflict) {
		t.Errorf("UpdateCredentialData() error = %v, want ErrConflict", err)
	}
}

func TestVault_DeleteCredential(t *testing.T) {
	service, _, capture, _ := newSessionVault(t)
	ctx := context.Background()

	credential, err := service.CreateCredential(ctx, CreateParams{
		IdentityID: "identity-1",
		Type:       TypeNote,
		Name:       "scratch",
		Payload:    []byte("gone soon"),
	})
	if err != nil {
		t.Fatalf("CreateCredential() error: %v", err)
	}

	if err := service.DeleteCredential(ctx, credential.ID); err != nil {
		t.Fatalf("DeleteCredential() error: %v", err)
	}
	if _, err := service.CredentialData(ctx, credential.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("CredentialData() after delete error = %v, want ErrNotFound", err)
	}

	actions := capture.actions()
	if actions[len(actions)-1] != audit.ActionCredentialDelete {
		t.Errorf("last audit action = %q, want %q", actions[len(actions)-1], audit.ActionCredentialDelete)
	}
}

func TestVault_ListCredentials(t *testing.T) {
	service, _, _, _ := newSessionVault(t)
	ctx := context.Background()

	for _, setup := range []struct{ identity, name string }{
		{"identity-1", "first"},
		{"identity-2", "other"},
		{"identity-1", "second"},
	} {
		if _, err := service.CreateCredential(ctx, CreateParams{
			IdentityID: setup.identity,
			Type:       TypeNote,
			Name:       setup.name,
			Payload:    []byte(setup.name),
		}); err != nil {
			t.Fatalf("CreateCredential(%s) error: %v", setup.name, err)
		}
	}

	listed, err := service.ListCredentials(ctx, "identity-1")
	if err != nil {
		t.Fatalf("ListCredentials() error: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("listed %d credentials, want 2", len(listed))
	}
	if listed[0].Name != "first" || listed[1].Name != "second" {
		t.Errorf("listed names = (%q, %q), want (first, second)", listed[0].Name, listed[1].Name)
	}
}

// legacyCredential seals a payload directly under the master key the
// way pre-envelope records were written: no item key, no frame.
func legacyCredential(t *testing.T, password *secret.Buffer, salt []byte, identityID, name string, payload []byte) Credential {
	t.Helper()
	master, err := auth.DeriveMasterKey(password, salt)
	if err != nil {
		t.Fatalf("deriving master key: %v", err)
	}
	defer master.Close()

	ciphertext, err := envelope.Encrypt(master, payload)
	if err != nil {
		t.Fatalf("sealing legacy payload: %v", err)
	}
	return Credential{
		ID:            "legacy-" + name,
		IdentityID:    identityID,
		Type:          TypePassword,
		Name:          name,
		EncryptedData: ciphertext,
		Fingerprint:   ComputeFingerprint(nil, ciphertext),
		CreatedAt:     time.Unix(1_600_000_000, 0),
		UpdatedAt:     time.Unix(1_600_000_000, 0),
	}
}

// guardedVault builds the full rotation stack: a Guard over its own
// record, a session unlocked with the real master password, and a
// pass-through transactor standing in for the store's.
func guardedVault(t *testing.T, password string) (*Vault, *memoryCredentialRepo, *auth.Guard, []byte) {
	t.Helper()
	ctx := context.Background()

	authRepo := &memoryUserAuthRepo{}
	clk := clock.Fake(time.Unix(1_700_000_000, 0))
	guard := auth.NewGuard(authRepo, clk, discardLogger())
	if err := guard.Initialize(ctx, bufferFrom(t, []byte(password))); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	record, err := guard.Record(ctx)
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	keys, err := UnlockKeys(bufferFrom(t, []byte(password)), record.MasterSalt)
	if err != nil {
		t.Fatalf("UnlockKeys() error: %v", err)
	}
	t.Cleanup(func() { keys.Close() })

	repo := newMemoryCredentialRepo()
	service, err := New(Config{
		Keys:   keys,
		Repo:   repo,
		Clock:  clk,
		Logger: discardLogger(),
		Guard:  guard,
		Tx:     passthroughTx{},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return service, repo, guard, record.MasterSalt
}

func TestVault_RotateMasterPassword(t *testing.T) {
	service, repo, guard, saltBefore := guardedVault(t, "old password")
	ctx := context.Background()

	wrapped, err := service.CreateCredential(ctx, CreateParams{
		IdentityID: "identity-1",
		Type:       TypePassword,
		Name:       "wrapped-record",
		Payload:    []byte("wrapped payload"),
	})
	if err != nil {
		t.Fatalf("CreateCredential() error: %v", err)
	}

	legacy := legacyCredential(t, bufferFrom(t, []byte("old password")), saltBefore,
		"identity-1", "old-record", []byte("legacy payload"))
	if err := repo.Create(ctx, legacy); err != nil {
		t.Fatalf("seeding legacy record: %v", err)
	}

	err = service.RotateMasterPassword(ctx,
		bufferFrom(t, []byte("old password")),
		bufferFrom(t, []byte("new password")))
	if err != nil {
		t.Fatalf("RotateMasterPassword() error: %v", err)
	}

	record, err := guard.Record(ctx)
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if !bytes.Equal(record.MasterSalt, saltBefore) {
		t.Error("master salt changed during rotation")
	}

	// The old password no longer authenticates; the new one does.
	result, err := guard.Authenticate(ctx, bufferFrom(t, []byte("old password")))
	if err != nil {
		t.Fatalf("Authenticate(old) error: %v", err)
	}
	if result.Status != auth.StatusInvalidCredentials {
		t.Errorf("old password status = %v, want %v", result.Status, auth.StatusInvalidCredentials)
	}
	result, err = guard.Authenticate(ctx, bufferFrom(t, []byte("new password")))
	if err != nil {
		t.Fatalf("Authenticate(new) error: %v", err)
	}
	if result.Status != auth.StatusSuccess {
		t.Errorf("new password status = %v, want %v", result.Status, auth.StatusSuccess)
	}

	// A session unlocked with the new password reads everything,
	// including the migrated legacy record.
	newKeys, err := UnlockKeys(bufferFrom(t, []byte("new password")), record.MasterSalt)
	if err != nil {
		t.Fatalf("UnlockKeys(new) error: %v", err)
	}
	defer newKeys.Close()
	newSession, err := New(Config{Keys: newKeys, Repo: repo, Clock: clock.Fake(time.Unix(1_700_000_000, 0)), Logger: discardLogger()})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	data, err := newSession.CredentialData(ctx, wrapped.ID)
	if err != nil {
		t.Fatalf("reading wrapped record after rotation: %v", err)
	}
	if string(data) != "wrapped payload" {
		t.Errorf("wrapped payload = %q, want %q", data, "wrapped payload")
	}

	data, err = newSession.CredentialData(ctx, legacy.ID)
	if err != nil {
		t.Fatalf("reading migrated legacy record: %v", err)
	}
	if string(data) != "legacy payload" {
		t.Errorf("legacy payload = %q, want %q", data, "legacy payload")
	}

	migrated, err := repo.Credential(ctx, legacy.ID)
	if err != nil {
		t.Fatalf("repository read error: %v", err)
	}
	if migrated.WrappedItemKey == nil {
		t.Error("legacy record still has no wrapped item key after rotation")
	}

	// The session that performed the rotation holds the old keys and
	// must not be able to read the rewrapped records.
	if _, err := service.CredentialData(ctx, wrapped.ID); !errors.Is(err, envelope.ErrCryptographic) {
		t.Errorf("old session read error = %v, want ErrCryptographic", err)
	}
}

func TestVault_RotateMasterPassword_WrongOldPassword(t *testing.T) {
	service, _, _, _ := guardedVault(t, "old password")
	ctx := context.Background()

	credential, err := service.CreateCredential(ctx, CreateParams{
		IdentityID: "identity-1",
		Type:       TypePassword,
		Name:       "prod-db",
		Payload:    []byte("secret"),
	})
	if err != nil {
		t.Fatalf("CreateCredential() error: %v", err)
	}

	err = service.RotateMasterPassword(ctx,
		bufferFrom(t, []byte("not the password")),
		bufferFrom(t, []byte("new password")))
	if !errors.Is(err, auth.ErrAuthenticationFailed) {
		t.Fatalf("RotateMasterPassword() error = %v, want ErrAuthenticationFailed", err)
	}

	// The failed attempt must leave every record readable.
	data, err := service.CredentialData(ctx, credential.ID)
	if err != nil {
		t.Fatalf("CredentialData() error: %v", err)
	}
	if string(data) != "secret" {
		t.Errorf("payload = %q, want %q", data, "secret")
	}
}

func TestVault_RotateMasterPassword_NotConfigured(t *testing.T) {
	service, _, _, _ := newSessionVault(t)

	err := service.RotateMasterPassword(context.Background(),
		bufferFrom(t, []byte("old")), bufferFrom(t, []byte("new")))
	if err == nil {
		t.Error("RotateMasterPassword() succeeded without a guard and transactor")
	}
}
