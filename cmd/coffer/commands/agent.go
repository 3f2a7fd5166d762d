// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/coffer-foundation/coffer/agent"
	"github.com/coffer-foundation/coffer/lib/config"
	"github.com/coffer-foundation/coffer/lib/ctlsock"

	"github.com/coffer-foundation/coffer/cmd/coffer/cli"
)

func agentCommand() *cli.Command {
	return &cli.Command{
		Name:    "agent",
		Summary: "Manage the key agent",
		Description: `The agent holds decrypted SSH keys in memory and answers signing
requests over a UNIX socket speaking the ssh-agent protocol. Point
SSH_AUTH_SOCK at the socket printed by 'coffer agent status'.

The agent is a separate process (coffer-agent) so its key material
outlives individual CLI invocations and dies with one process.`,
		Usage: "coffer agent <subcommand> [flags]",
		Subcommands: []*cli.Command{
			agentStartCommand(),
			agentStatusCommand(),
			agentKeysCommand(),
			agentStopCommand(),
		},
	}
}

func agentStartCommand() *cli.Command {
	var configPath *string

	return &cli.Command{
		Name:    "start",
		Summary: "Start the agent in the foreground",
		Description: `Run the coffer-agent daemon in the foreground. The daemon prompts
for the master password, loads every ssh_key credential, then serves
signing requests until interrupted or stopped.

The coffer-agent binary is looked up next to the coffer binary
first, then on PATH.`,
		Usage: "coffer agent start [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("start", pflag.ContinueOnError)
			configPath = addConfigFlag(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("agent start takes no arguments")
			}

			binary, err := findAgentBinary()
			if err != nil {
				return err
			}

			daemonArgs := []string{}
			if *configPath != "" {
				daemonArgs = append(daemonArgs, "--config", *configPath)
			}

			daemon := exec.CommandContext(ctx, binary, daemonArgs...)
			daemon.Stdin = os.Stdin
			daemon.Stdout = os.Stdout
			daemon.Stderr = os.Stderr
			if err := daemon.Run(); err != nil {
				if exitErr, ok := err.(*exec.ExitError); ok {
					return &cli.ExitError{Code: exitErr.ExitCode()}
				}
				return fmt.Errorf("running %s: %w", binary, err)
			}
			return nil
		},
	}
}

// findAgentBinary locates coffer-agent: next to the running coffer
// binary first (the normal install layout), then on PATH.
func findAgentBinary() (string, error) {
	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), "coffer-agent")
		if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
			return sibling, nil
		}
	}
	path, err := exec.LookPath("coffer-agent")
	if err != nil {
		return "", fmt.Errorf("coffer-agent binary not found next to coffer or on PATH")
	}
	return path, nil
}

// agentControl returns a client for the control socket of a running
// agent. The state directory is not created here; a dial failure
// means no agent is listening.
func agentControl(cfg *config.Config) *ctlsock.Client {
	return ctlsock.NewClient(filepath.Join(cfg.StateDir, agent.ControlSocketFile))
}

type agentStatusView struct {
	PID           int            `json:"pid"`
	SocketPath    string         `json:"socket_path"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	KeyCount      int            `json:"key_count"`
	KeysLoadedAt  string         `json:"keys_loaded_at"`
	Policy        agent.Snapshot `json:"policy"`
}

func agentStatusCommand() *cli.Command {
	var configPath *string
	var jsonOut bool

	return &cli.Command{
		Name:    "status",
		Summary: "Show agent status",
		Description: `Query the running agent over its control socket: process id,
protocol socket path, loaded key count, and the active signing
policy. Exits 1 when no agent is running.`,
		Usage: "coffer agent status [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			configPath = addConfigFlag(flagSet)
			flagSet.BoolVar(&jsonOut, "json", false, "print status as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("agent status takes no arguments")
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			client := agentControl(cfg)

			var status agent.StatusResponse
			if err := client.Call(ctx, agent.ActionStatus, nil, &status); err != nil {
				fmt.Fprintln(os.Stderr, "agent is not running")
				return &cli.ExitError{Code: 1}
			}

			if jsonOut {
				return printJSON(agentStatusView{
					PID:           status.PID,
					SocketPath:    status.SocketPath,
					UptimeSeconds: status.UptimeSeconds,
					KeyCount:      status.KeyCount,
					KeysLoadedAt:  status.KeysLoadedAt,
					Policy:        status.Policy,
				})
			}

			fmt.Printf("Agent running (pid %d)\n", status.PID)
			fmt.Printf("  Socket:       %s\n", status.SocketPath)
			fmt.Printf("  Uptime:       %s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())
			fmt.Printf("  Keys loaded:  %d (at %s)\n", status.KeyCount, status.KeysLoadedAt)
			fmt.Printf("  Confirm:      %t\n", status.Policy.RequireConfirm)
			if status.Policy.MinIntervalMillis > 0 {
				fmt.Printf("  Min interval: %dms\n", status.Policy.MinIntervalMillis)
			}
			fmt.Printf("  Known hosts:  enforced=%t confirm-unknown=%t\n",
				status.Policy.HostsEnforced, status.Policy.ConfirmUnknown)
			if status.Policy.LastSign != "" {
				fmt.Printf("  Last sign:    %s\n", status.Policy.LastSign)
			}
			fmt.Printf("\nexport SSH_AUTH_SOCK=%s\n", status.SocketPath)
			return nil
		},
	}
}

func agentKeysCommand() *cli.Command {
	var configPath *string

	return &cli.Command{
		Name:    "keys",
		Summary: "List keys held by the agent",
		Usage:   "coffer agent keys [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("keys", pflag.ContinueOnError)
			configPath = addConfigFlag(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("agent keys takes no arguments")
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			client := agentControl(cfg)

			var keys agent.ListKeysResponse
			if err := client.Call(ctx, agent.ActionListKeys, nil, &keys); err != nil {
				fmt.Fprintln(os.Stderr, "agent is not running")
				return &cli.ExitError{Code: 1}
			}

			if len(keys.Keys) == 0 {
				fmt.Println("Agent holds no keys.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "FINGERPRINT\tCOMMENT\tCREDENTIAL")
			for _, key := range keys.Keys {
				fmt.Fprintf(w, "%s\t%s\t%s\n", key.Fingerprint, key.Comment, shortID(key.CredentialID))
			}
			return w.Flush()
		},
	}
}

func agentStopCommand() *cli.Command {
	var configPath *string

	return &cli.Command{
		Name:    "stop",
		Summary: "Stop the running agent",
		Description: `Ask the agent to shut down over its control socket. Stopping when
no agent is running is not an error.`,
		Usage: "coffer agent stop [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("stop", pflag.ContinueOnError)
			configPath = addConfigFlag(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("agent stop takes no arguments")
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			client := agentControl(cfg)

			var response agent.ShutdownResponse
			if err := client.Call(ctx, agent.ActionShutdown, nil, &response); err != nil {
				fmt.Println("No agent running.")
				return nil
			}
			fmt.Println("Agent stopping.")
			return nil
		},
	}
}
