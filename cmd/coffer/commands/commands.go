// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete Coffer CLI command tree. Every
// subcommand opens its own authenticated session against the vault;
// nothing is cached between invocations, so there is no ambient
// logged-in state to leak.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coffer-foundation/coffer/lib/version"

	"github.com/coffer-foundation/coffer/cmd/coffer/cli"
)

// Root builds and returns the complete Coffer CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "coffer",
		Description: `Coffer: an encrypted credential vault.

Secrets are sealed with per-item keys wrapped under keys derived
from a master password. SSH keys can be served to clients through a
policy-gated agent without ever writing private material to disk.`,
		Subcommands: []*cli.Command{
			initCommand(),
			addCommand(),
			showCommand(),
			listCommand(),
			editCommand(),
			rmCommand(),
			rotatePasswordCommand(),
			escrowCommand(),
			auditCommand(),
			agentCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, args []string, _ *slog.Logger) error {
					fmt.Printf("coffer %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Create a vault (prompts for a master password)",
				Command:     "coffer init",
			},
			{
				Description: "Store a password, prompting for the secret",
				Command:     "coffer add github-token --metadata url=github.com",
			},
			{
				Description: "Generate an SSH key that never touches disk",
				Command:     "coffer add deploy-key --type ssh_key --generate",
			},
			{
				Description: "Import an existing OpenSSH private key",
				Command:     "coffer add laptop-key --type ssh_key --import ~/.ssh/id_ed25519",
			},
			{
				Description: "Reveal a secret",
				Command:     "coffer show github-token --reveal",
			},
			{
				Description: "Serve SSH keys to ssh(1) via the agent",
				Command:     "coffer agent start",
			},
			{
				Description: "See who read what, most recent first",
				Command:     "coffer audit --since 24h",
			},
			{
				Description: "Escrow a credential for offline recovery",
				Command:     "coffer escrow export deploy-key --recipient age1... --output deploy-key.escrow",
			},
		},
	}
}
