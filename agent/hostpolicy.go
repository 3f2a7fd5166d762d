// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// HostPolicyConfig configures host-binding enforcement.
type HostPolicyConfig struct {
	// KnownHostsPath is the OpenSSH known_hosts file holding the
	// allow-list. The file must exist; an empty file means an empty
	// allow-list.
	KnownHostsPath string

	// HintPath is the transient target-host file written by external
	// callers before they invoke a guarded command. Each policy
	// evaluation consumes it.
	HintPath string

	// ConfirmUnknown prompts for one-time confirmation instead of
	// denying when the target host is unknown or missing.
	ConfirmUnknown bool

	Logger *slog.Logger
}

// HostPolicy matches sign requests against an OpenSSH known_hosts
// allow-list. The target host arrives out of band: a caller writes it
// to the hint file before running the command that contacts the agent.
type HostPolicy struct {
	hintPath       string
	confirmUnknown bool
	logger         *slog.Logger

	plain  map[string]bool
	hashed []hashedHost
}

// hashedHost is a |1| known_hosts entry: HMAC-SHA1 of the hostname
// under a per-entry salt.
type hashedHost struct {
	salt   []byte
	digest []byte
}

// LoadHostPolicy parses the known_hosts file and returns the policy.
func LoadHostPolicy(config HostPolicyConfig) (*HostPolicy, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	raw, err := os.ReadFile(config.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("reading known_hosts: %w", err)
	}

	policy := &HostPolicy{
		hintPath:       config.HintPath,
		confirmUnknown: config.ConfirmUnknown,
		logger:         logger,
		plain:          make(map[string]bool),
	}
	for lineNumber, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Marker lines (@revoked, @cert-authority) change the meaning
		// of the key, not the host list; they are not allow-list
		// entries.
		if strings.HasPrefix(line, "@") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			logger.Warn("skipping malformed known_hosts line",
				"path", config.KnownHostsPath,
				"line", lineNumber+1)
			continue
		}
		for _, pattern := range strings.Split(fields[0], ",") {
			policy.addPattern(pattern, config.KnownHostsPath, lineNumber+1)
		}
	}
	return policy, nil
}

// addPattern records one host pattern from a known_hosts line.
func (h *HostPolicy) addPattern(pattern string, path string, lineNumber int) {
	if pattern == "" || strings.HasPrefix(pattern, "!") {
		return
	}
	if strings.HasPrefix(pattern, "|1|") {
		parts := strings.Split(pattern, "|")
		if len(parts) != 4 {
			h.logger.Warn("skipping malformed hashed known_hosts entry",
				"path", path, "line", lineNumber)
			return
		}
		salt, saltErr := base64.StdEncoding.DecodeString(parts[2])
		digest, digestErr := base64.StdEncoding.DecodeString(parts[3])
		if saltErr != nil || digestErr != nil {
			h.logger.Warn("skipping undecodable hashed known_hosts entry",
				"path", path, "line", lineNumber)
			return
		}
		h.hashed = append(h.hashed, hashedHost{salt: salt, digest: digest})
		return
	}
	// Bracketed entries carry a non-default port: [host]:2222. The
	// hint names a host without a port, so only the host part matters.
	if strings.HasPrefix(pattern, "[") {
		if end := strings.Index(pattern, "]"); end > 1 {
			pattern = pattern[1:end]
		}
	}
	h.plain[strings.ToLower(pattern)] = true
}

// Allows reports whether host is in the allow-list. Matching is
// case-insensitive; hashed entries are checked by recomputing the
// HMAC-SHA1 over the lowercased host.
func (h *HostPolicy) Allows(host string) bool {
	if host == "" {
		return false
	}
	host = strings.ToLower(host)
	if h.plain[host] {
		return true
	}
	for _, entry := range h.hashed {
		mac := hmac.New(sha1.New, entry.salt)
		mac.Write([]byte(host))
		if hmac.Equal(mac.Sum(nil), entry.digest) {
			return true
		}
	}
	return false
}

// ConsumeHint reads and removes the target-host file. The hint's
// first line may be user@host; only the host part is returned,
// lowercased. Returns false when the file is missing or empty.
func (h *HostPolicy) ConsumeHint() (string, bool) {
	raw, err := os.ReadFile(h.hintPath)
	if err != nil {
		if !os.IsNotExist(err) {
			h.logger.Warn("reading target-host hint failed", "path", h.hintPath, "error", err)
		}
		return "", false
	}
	if err := os.Remove(h.hintPath); err != nil && !os.IsNotExist(err) {
		h.logger.Warn("removing target-host hint failed", "path", h.hintPath, "error", err)
	}

	line, _, _ := strings.Cut(strings.TrimSpace(string(raw)), "\n")
	line = strings.TrimSpace(line)
	if at := strings.LastIndex(line, "@"); at >= 0 {
		line = line[at+1:]
	}
	if line == "" {
		return "", false
	}
	return strings.ToLower(line), true
}
