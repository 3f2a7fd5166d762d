// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coffer-foundation/coffer/vault"
)

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// credentialView is the JSON shape for listings and show. Ciphertext
// fields are deliberately absent; the payload has its own commands.
type credentialView struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Level       string            `json:"level"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Fingerprint string            `json:"fingerprint"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func viewOf(credential vault.Credential) credentialView {
	return credentialView{
		ID:          credential.ID,
		Name:        credential.Name,
		Type:        string(credential.Type),
		Level:       credential.Level.String(),
		Metadata:    credential.Metadata,
		Fingerprint: credential.Fingerprint,
		CreatedAt:   credential.CreatedAt,
		UpdatedAt:   credential.UpdatedAt,
	}
}

// shortID truncates a uuid for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// parseLevel maps the CLI level name to a SecurityLevel.
func parseLevel(name string) (vault.SecurityLevel, error) {
	switch name {
	case "", "standard":
		return vault.LevelStandard, nil
	case "high":
		return vault.LevelHigh, nil
	case "critical":
		return vault.LevelCritical, nil
	default:
		return 0, fmt.Errorf("unknown security level %q (want standard, high, or critical)", name)
	}
}

// parseMetadata converts repeated key=value flags into a map.
func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	metadata := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("metadata %q is not key=value", pair)
		}
		metadata[key] = value
	}
	return metadata, nil
}
