// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/coffer-foundation/coffer/audit"
	"github.com/coffer-foundation/coffer/auth"
	"github.com/coffer-foundation/coffer/lib/clock"
	"github.com/coffer-foundation/coffer/lib/config"
	"github.com/coffer-foundation/coffer/lib/secret"
	"github.com/coffer-foundation/coffer/store"
	"github.com/coffer-foundation/coffer/vault"
)

// addConfigFlag registers the shared --config flag on a command's
// flag set and returns the destination pointer.
func addConfigFlag(flagSet *pflag.FlagSet) *string {
	return flagSet.String("config", "", "config file path (default: COFFER_CONFIG or built-in defaults)")
}

// loadConfig resolves the effective configuration: an explicit
// --config path wins, otherwise COFFER_CONFIG, otherwise defaults.
func loadConfig(configPath string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// readMasterPassword acquires the master password from the configured
// sources in order: environment variable, password file, terminal
// prompt. The password is never accepted as a CLI argument.
func readMasterPassword(cfg *config.Config, prompt string) (*secret.Buffer, error) {
	if cfg.Auth.PasswordEnv != "" {
		if _, ok := os.LookupEnv(cfg.Auth.PasswordEnv); ok {
			return secret.ReadFromEnv(cfg.Auth.PasswordEnv)
		}
	}
	if cfg.Auth.PasswordFile != "" {
		return secret.ReadFromPath(cfg.Auth.PasswordFile)
	}
	return secret.ReadFromTerminal(prompt)
}

// readNewPassword reads a password that is being set rather than
// verified. Terminal input asks twice and requires both entries to
// match; file input (for scripted rotation and init) reads once.
func readNewPassword(prompt, repeatPrompt, fromFile string) (*secret.Buffer, error) {
	if fromFile != "" {
		return secret.ReadFromPath(fromFile)
	}

	first, err := secret.ReadFromTerminal(prompt)
	if err != nil {
		return nil, err
	}
	second, err := secret.ReadFromTerminal(repeatPrompt)
	if err != nil {
		first.Close()
		return nil, err
	}
	defer second.Close()

	if first.String() != second.String() {
		first.Close()
		return nil, fmt.Errorf("passwords do not match")
	}
	return first, nil
}

// readLine reads one line of non-secret input (confirmation answers,
// factor proofs) from the controlling terminal, falling back to stdin.
func readLine(prompt string) (string, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		fmt.Fprint(os.Stderr, prompt)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("reading input: %w", err)
		}
		return strings.TrimSpace(line), nil
	}
	defer tty.Close()

	fmt.Fprint(tty, prompt)
	line, err := bufio.NewReader(tty).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// session is an authenticated, unlocked vault for the duration of one
// CLI command.
type session struct {
	cfg    *config.Config
	store  *store.Store
	guard  *auth.Guard
	vault  *vault.Vault
	audit  *audit.Logger
	clock  clock.Clock
	logger *slog.Logger
	user   auth.UserAuth
}

// identityID returns the identity owning CLI-managed credentials.
// Coffer is a single-user vault; the identity is the vault's user id.
func (s *session) identityID() string {
	return s.user.UserID
}

// Close zeroes the session keys and releases the store.
func (s *session) Close() {
	if s.vault != nil {
		s.vault.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}

// openSession loads config, opens the store, authenticates, and
// unlocks the key hierarchy. The caller must Close the session.
func openSession(ctx context.Context, configPath string, logger *slog.Logger) (*session, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return openSessionWithConfig(ctx, cfg, logger)
}

func openSessionWithConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*session, error) {
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}

	clk := clock.Real()
	st, err := store.OpenStore(store.StoreConfig{
		Path:   cfg.Database,
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	guard := auth.NewGuard(st.UserAuth(), clk, logger)

	password, err := readMasterPassword(cfg, "Master password: ")
	if err != nil {
		st.Close()
		return nil, err
	}
	defer password.Close()

	if err := authenticate(ctx, guard, password); err != nil {
		st.Close()
		return nil, errVaultMissing(err)
	}

	record, err := guard.Record(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}

	keys, err := vault.UnlockKeys(password, record.MasterSalt)
	if err != nil {
		st.Close()
		return nil, err
	}

	auditLogger := audit.NewLogger(st.Audit(), clk, logger)
	v, err := vault.New(vault.Config{
		Keys:   keys,
		Repo:   st.Credentials(),
		Clock:  clk,
		Logger: logger,
		Audit:  auditLogger,
		Guard:  guard,
		Tx:     st,
	})
	if err != nil {
		keys.Close()
		st.Close()
		return nil, err
	}

	return &session{
		cfg:    cfg,
		store:  st,
		guard:  guard,
		vault:  v,
		audit:  auditLogger,
		clock:  clk,
		logger: logger,
		user:   record,
	}, nil
}

// authenticate runs the guard's state machine and converts
// non-success outcomes into user-facing errors. A pending second
// factor is completed interactively.
func authenticate(ctx context.Context, guard *auth.Guard, password *secret.Buffer) error {
	result, err := guard.Authenticate(ctx, password)
	if err != nil {
		return err
	}

	if result.Status == auth.StatusFactorRequired {
		proof, err := readLine(fmt.Sprintf("Verification code (%s): ", result.Factor))
		if err != nil {
			return err
		}
		result, err = guard.VerifyFactor(ctx, result.Factor, proof)
		if err != nil {
			return err
		}
	}

	switch result.Status {
	case auth.StatusSuccess:
		return nil
	case auth.StatusInvalidCredentials:
		return fmt.Errorf("%w: wrong master password", auth.ErrAuthenticationFailed)
	case auth.StatusAccountLocked:
		return fmt.Errorf("%w: too many failed attempts, locked until %s",
			auth.ErrAuthenticationFailed, result.LockedUntil.Format(time.RFC3339))
	case auth.StatusPasswordChangeRequired:
		return fmt.Errorf("%w: a master password change is required; run 'coffer rotate-password'",
			auth.ErrAuthenticationFailed)
	default:
		return fmt.Errorf("%w: %s", auth.ErrAuthenticationFailed, result.Status)
	}
}

// resolveCredential finds a credential by exact id or by unique name
// within the session's identity.
func resolveCredential(ctx context.Context, s *session, ref string) (vault.Credential, error) {
	credentials, err := s.vault.ListCredentials(ctx, s.identityID())
	if err != nil {
		return vault.Credential{}, err
	}

	var matches []vault.Credential
	for _, credential := range credentials {
		if credential.ID == ref {
			return credential, nil
		}
		if credential.Name == ref {
			matches = append(matches, credential)
		}
	}

	switch len(matches) {
	case 0:
		return vault.Credential{}, fmt.Errorf("%w: %q", vault.ErrNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		return vault.Credential{}, fmt.Errorf("name %q is ambiguous, use an id: %s",
			ref, strings.Join(ids, ", "))
	}
}

// errVaultMissing rewrites the bare ErrNoVault into a hint that
// points at init.
func errVaultMissing(err error) error {
	if errors.Is(err, auth.ErrNoVault) {
		return fmt.Errorf("%w (run 'coffer init' first)", auth.ErrNoVault)
	}
	return err
}
