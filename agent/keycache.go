// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/coffer-foundation/coffer/lib/clock"
	"github.com/coffer-foundation/coffer/lib/secret"
	"github.com/coffer-foundation/coffer/vault"
)

// KeySource is the slice of the vault service the key cache loads
// from. Defined here, where it is consumed.
type KeySource interface {
	ListCredentials(ctx context.Context, identityID string) ([]vault.Credential, error)
	SSHKeyData(ctx context.Context, credentialID string) (vault.SSHKeyData, error)
}

// Key is one cached signing key. The seed stays in a locked buffer;
// the expanded private key exists only for the duration of a Sign call.
type Key struct {
	// CredentialID is the vault credential the key came from.
	CredentialID string

	// Comment is the human label reported in identity listings: the
	// comment from the stored public-key text when present, otherwise
	// the credential name.
	Comment string

	// PublicBlob is the OpenSSH wire encoding of the public key:
	// SSH-string "ssh-ed25519" followed by the SSH-string of the
	// 32-byte raw public key. Sign requests select keys by exact
	// byte match against this blob.
	PublicBlob []byte

	seed *secret.Buffer
}

// Sign signs data with the key's ed25519 seed and returns the raw
// 64-byte signature. The expanded private key is zeroed before
// returning.
func (k *Key) Sign(data []byte) []byte {
	privateKey := ed25519.NewKeyFromSeed(k.seed.Bytes())
	defer secret.Zero(privateKey)
	return ed25519.Sign(privateKey, data)
}

// Fingerprint returns the OpenSSH-style SHA-256 fingerprint of the
// public key: "SHA256:" followed by the unpadded base64 digest of the
// public blob.
func (k *Key) Fingerprint() string {
	digest := sha256.Sum256(k.PublicBlob)
	return "SHA256:" + base64.RawStdEncoding.EncodeToString(digest[:])
}

// KeyCache holds the agent's signing keys, loaded once at startup and
// immutable afterwards. Connection handlers read it without locking.
// Vault changes after startup take effect on agent restart; the
// control socket reports LoadedAt so staleness is visible.
type KeyCache struct {
	keys     []*Key
	byBlob   map[string]*Key
	loadedAt time.Time
}

// LoadKeys decrypts every ssh_key credential of the identity and
// builds the cache. A record that fails to decrypt, decode, or
// cross-check is skipped with a warning; one bad record must not keep
// the agent from serving the rest. An empty cache is not an error.
func LoadKeys(ctx context.Context, source KeySource, identityID string, clk clock.Clock, logger *slog.Logger) (*KeyCache, error) {
	credentials, err := source.ListCredentials(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}

	cache := &KeyCache{
		byBlob:   make(map[string]*Key),
		loadedAt: clk.Now(),
	}
	for _, credential := range credentials {
		if credential.Type != vault.TypeSSHKey {
			continue
		}
		key, err := loadKey(ctx, source, credential)
		if err != nil {
			logger.Warn("skipping unusable ssh key credential",
				"credential_id", credential.ID,
				"name", credential.Name,
				"error", err)
			continue
		}
		if _, exists := cache.byBlob[string(key.PublicBlob)]; exists {
			logger.Warn("skipping duplicate ssh key credential",
				"credential_id", credential.ID,
				"fingerprint", key.Fingerprint())
			key.seed.Close()
			continue
		}
		cache.keys = append(cache.keys, key)
		cache.byBlob[string(key.PublicBlob)] = key
	}

	logger.Info("agent key cache loaded",
		"identity_id", identityID,
		"keys", len(cache.keys))
	return cache, nil
}

// loadKey decrypts one credential and validates that the stored public
// key matches the private seed.
func loadKey(ctx context.Context, source KeySource, credential vault.Credential) (*Key, error) {
	data, err := source.SSHKeyData(ctx, credential.ID)
	if err != nil {
		return nil, err
	}

	seedBytes, err := base64.StdEncoding.DecodeString(data.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	if len(seedBytes) != ed25519.SeedSize {
		secret.Zero(seedBytes)
		return nil, fmt.Errorf("private key is %d bytes, want %d", len(seedBytes), ed25519.SeedSize)
	}

	privateKey := ed25519.NewKeyFromSeed(seedBytes)
	defer secret.Zero(privateKey)
	sshPublicKey, err := ssh.NewPublicKey(privateKey.Public().(ed25519.PublicKey))
	if err != nil {
		secret.Zero(seedBytes)
		return nil, fmt.Errorf("encoding public key: %w", err)
	}
	blob := sshPublicKey.Marshal()

	// The stored public-key text is authoritative for the comment but
	// must describe the same key as the seed. A mismatch means the
	// record was corrupted or assembled from two different keys.
	storedKey, comment, _, _, err := ssh.ParseAuthorizedKey([]byte(data.PublicKey))
	if err != nil {
		secret.Zero(seedBytes)
		return nil, fmt.Errorf("parsing stored public key: %w", err)
	}
	if !bytes.Equal(storedKey.Marshal(), blob) {
		secret.Zero(seedBytes)
		return nil, fmt.Errorf("stored public key does not match private key")
	}
	if comment == "" {
		comment = credential.Name
	}

	seed, err := secret.NewFromBytes(seedBytes)
	if err != nil {
		return nil, fmt.Errorf("sealing seed: %w", err)
	}
	return &Key{
		CredentialID: credential.ID,
		Comment:      comment,
		PublicBlob:   blob,
		seed:         seed,
	}, nil
}

// Keys returns the cached keys in credential listing order. Callers
// must not mutate the returned slice.
func (c *KeyCache) Keys() []*Key {
	return c.keys
}

// Len reports the number of cached keys.
func (c *KeyCache) Len() int {
	return len(c.keys)
}

// LoadedAt reports when the cache was built.
func (c *KeyCache) LoadedAt() time.Time {
	return c.loadedAt
}

// Lookup finds a key by exact public-blob bytes.
func (c *KeyCache) Lookup(blob []byte) (*Key, bool) {
	key, ok := c.byBlob[string(blob)]
	return key, ok
}

// Close zeroes every cached seed. The cache is unusable afterwards.
func (c *KeyCache) Close() error {
	for _, key := range c.keys {
		key.seed.Close()
	}
	return nil
}
