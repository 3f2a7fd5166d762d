// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

// Coffer-agent is the key agent daemon. It authenticates against the
// vault once at startup, loads every ssh_key credential into locked
// memory, and serves signing requests over a UNIX socket speaking the
// ssh-agent protocol. A second socket carries CBOR control requests
// (status, list-keys, shutdown) for the coffer CLI.
//
// The agent runs in the foreground. Confirmation prompts for guarded
// signatures are answered on the agent's terminal, not the SSH
// client's, so an attacker with the socket still cannot answer them.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coffer-foundation/coffer/agent"
	"github.com/coffer-foundation/coffer/audit"
	"github.com/coffer-foundation/coffer/auth"
	"github.com/coffer-foundation/coffer/envelope"
	"github.com/coffer-foundation/coffer/lib/clock"
	"github.com/coffer-foundation/coffer/lib/config"
	"github.com/coffer-foundation/coffer/lib/redact"
	"github.com/coffer-foundation/coffer/lib/secret"
	"github.com/coffer-foundation/coffer/lib/version"
	"github.com/coffer-foundation/coffer/store"
	"github.com/coffer-foundation/coffer/vault"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var stateDirOverride string
	var socketOverride string
	var requireConfirm bool
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "path to config file (default: COFFER_CONFIG or built-in defaults)")
	flag.StringVar(&stateDirOverride, "state-dir", "", "override the configured state directory")
	flag.StringVar(&socketOverride, "socket", "", "override the configured agent socket path")
	flag.BoolVar(&requireConfirm, "require-confirm", false, "require interactive confirmation for every signature")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("coffer-agent %s\n", version.Info())
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if stateDirOverride != "" {
		cfg.StateDir = stateDirOverride
	}
	if socketOverride != "" {
		cfg.Agent.Socket = socketOverride
	}
	if requireConfirm {
		cfg.Agent.RequireConfirm = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Every log line passes through the redaction filter. The agent
	// logs request metadata around secret material constantly; the
	// filter is the backstop for anything that slips into a message.
	logger := slog.New(redact.NewHandler(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel(),
	})))
	slog.SetDefault(logger)

	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	st, err := store.OpenStore(store.StoreConfig{
		Path:   cfg.Database,
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer st.Close()

	guard := auth.NewGuard(st.UserAuth(), clk, logger)

	record, keys, err := unlock(ctx, cfg, guard)
	if err != nil {
		return err
	}

	auditLogger := audit.NewLogger(st.Audit(), clk, logger)
	v, err := vault.New(vault.Config{
		Keys:   keys,
		Repo:   st.Credentials(),
		Clock:  clk,
		Logger: logger,
		Audit:  auditLogger,
	})
	if err != nil {
		keys.Close()
		return err
	}
	defer v.Close()

	keyCache, err := agent.LoadKeys(ctx, v, record.UserID, clk, logger)
	if err != nil {
		return err
	}
	defer keyCache.Close()

	stateDir, err := agent.OpenStateDir(cfg.StateDir)
	if err != nil {
		return err
	}
	socketPath := cfg.AgentSocket()

	var hosts *agent.HostPolicy
	if cfg.Agent.KnownHosts.Enforce {
		hosts, err = agent.LoadHostPolicy(agent.HostPolicyConfig{
			KnownHostsPath: cfg.Agent.KnownHosts.Path,
			HintPath:       stateDir.TargetHostPath(),
			ConfirmUnknown: cfg.Agent.KnownHosts.ConfirmUnknown,
			Logger:         logger,
		})
		if err != nil {
			return err
		}
	}

	prompter := agent.NewPrompter(agent.PrompterConfig{
		Timeout: cfg.ConfirmTimeout(),
		Clock:   clk,
		Logger:  logger,
	})
	go prompter.Run(ctx)

	policy, err := agent.NewPolicy(agent.PolicyConfig{
		RequireConfirm:  cfg.Agent.RequireConfirm,
		MinSignInterval: cfg.MinSignInterval(),
		Prompter:        prompter,
		Hosts:           hosts,
		Clock:           clk,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	server, err := agent.NewServer(agent.ServerConfig{
		Transport:  agent.UnixTransport{Path: socketPath},
		Keys:       keyCache,
		Policy:     policy,
		Audit:      auditLogger,
		IdentityID: record.UserID,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	// The shutdown control action cancels the same context the
	// signal handler does; both paths drain through the same exit.
	control, err := agent.NewControl(agent.ControlConfig{
		SocketPath:      stateDir.ControlSocketPath(),
		AgentSocketPath: socketPath,
		Keys:            keyCache,
		Policy:          policy,
		Shutdown:        stop,
		Clock:           clk,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	if err := stateDir.WriteRuntime(os.Getpid(), socketPath); err != nil {
		return err
	}
	defer stateDir.ClearRuntime()

	logger.Info("agent started",
		"version", version.Info(),
		"pid", os.Getpid(),
		"socket", socketPath,
		"keys", keyCache.Len(),
	)
	fmt.Printf("Agent listening on %s (%d keys)\n", socketPath, keyCache.Len())
	fmt.Printf("export SSH_AUTH_SOCK=%s\n", socketPath)

	serveErrors := make(chan error, 2)
	go func() { serveErrors <- server.Serve(ctx) }()
	go func() { serveErrors <- control.Serve(ctx) }()

	// Both servers return nil once the context is cancelled and
	// their connections have drained. A hard serve failure on either
	// socket cancels the other and brings the agent down.
	var firstErr error
	for range 2 {
		if err := <-serveErrors; err != nil && firstErr == nil {
			firstErr = err
			stop()
		}
	}
	logger.Info("agent stopped")
	return firstErr
}

// unlock authenticates against the vault and derives the key
// hierarchy. The master password comes from the configured sources in
// order (environment variable, password file, terminal) and is zeroed
// before unlock returns.
func unlock(ctx context.Context, cfg *config.Config, guard *auth.Guard) (auth.UserAuth, *envelope.KeyHierarchy, error) {
	password, err := readMasterPassword(cfg)
	if err != nil {
		return auth.UserAuth{}, nil, err
	}
	defer password.Close()

	if err := authenticate(ctx, guard, password); err != nil {
		return auth.UserAuth{}, nil, err
	}

	record, err := guard.Record(ctx)
	if err != nil {
		return auth.UserAuth{}, nil, err
	}

	keys, err := vault.UnlockKeys(password, record.MasterSalt)
	if err != nil {
		return auth.UserAuth{}, nil, err
	}
	return record, keys, nil
}

func readMasterPassword(cfg *config.Config) (*secret.Buffer, error) {
	if cfg.Auth.PasswordEnv != "" {
		if _, ok := os.LookupEnv(cfg.Auth.PasswordEnv); ok {
			return secret.ReadFromEnv(cfg.Auth.PasswordEnv)
		}
	}
	if cfg.Auth.PasswordFile != "" {
		return secret.ReadFromPath(cfg.Auth.PasswordFile)
	}
	return secret.ReadFromTerminal("Master password: ")
}

// authenticate runs the guard state machine once at startup. The
// agent refuses to start on anything short of full success; a forced
// password change in particular must happen through the CLI before
// keys are served again.
func authenticate(ctx context.Context, guard *auth.Guard, password *secret.Buffer) error {
	result, err := guard.Authenticate(ctx, password)
	if err != nil {
		return err
	}

	if result.Status == auth.StatusFactorRequired {
		proof, err := readProof(fmt.Sprintf("Verification code (%s): ", result.Factor))
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
		return fmt.Errorf("%w: a master password change is required; run 'coffer rotate-password' first",
			auth.ErrAuthenticationFailed)
	default:
		return fmt.Errorf("%w: %s", auth.ErrAuthenticationFailed, result.Status)
	}
}

// readProof reads one line of factor input from the controlling
// terminal, falling back to stdin.
func readProof(prompt string) (string, error) {
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
