// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/coffer-foundation/coffer/lib/escrow"
	"github.com/coffer-foundation/coffer/lib/secret"

	"github.com/coffer-foundation/coffer/cmd/coffer/cli"
)

func escrowCommand() *cli.Command {
	return &cli.Command{
		Name:    "escrow",
		Summary: "Export credentials for offline recovery",
		Description: `Escrow wraps a credential's plaintext for a set of age recipients
so it can be recovered without the vault: a copy in a safe, a key
split across operators, a break-glass envelope.

Escrowed copies live outside the vault's audit and lockout controls.
Treat the output as the secret it contains.`,
		Usage: "coffer escrow <subcommand> [flags]",
		Subcommands: []*cli.Command{
			escrowKeygenCommand(),
			escrowExportCommand(),
			escrowDecryptCommand(),
		},
	}
}

func escrowKeygenCommand() *cli.Command {
	var output string

	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate an escrow keypair",
		Description: `Generate an age X25519 keypair. The private identity goes to
--output (mode 0600) or stdout; the public recipient key is printed
so it can be handed to whoever runs 'coffer escrow export'.`,
		Usage: "coffer escrow keygen [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flagSet.StringVar(&output, "output", "", "write the private identity to this file instead of stdout")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("keygen takes no arguments")
			}

			keypair, err := escrow.GenerateKeypair()
			if err != nil {
				return err
			}
			defer keypair.Close()

			if output != "" {
				identity := append([]byte(keypair.PrivateKey.String()), '\n')
				defer secret.Zero(identity)
				if err := os.WriteFile(output, identity, 0o600); err != nil {
					return fmt.Errorf("writing identity file: %w", err)
				}
				fmt.Printf("Identity written to %s\n", output)
				fmt.Printf("Public key: %s\n", keypair.PublicKey)
				return nil
			}

			fmt.Printf("# public key: %s\n", keypair.PublicKey)
			fmt.Println(keypair.PrivateKey.String())
			return nil
		},
	}
}

func escrowExportCommand() *cli.Command {
	var configPath *string
	var recipients []string
	var output string

	return &cli.Command{
		Name:    "export",
		Summary: "Escrow a credential to age recipients",
		Description: `Decrypt a credential and re-encrypt its plaintext for one or more
age recipient keys. Any single matching identity can open the result.
The export is recorded in the audit log as a credential read.`,
		Usage: "coffer escrow export <id-or-name> --recipient <age1...> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("export", pflag.ContinueOnError)
			configPath = addConfigFlag(flagSet)
			flagSet.StringArrayVar(&recipients, "recipient", nil, "age recipient public key (repeatable)")
			flagSet.StringVar(&output, "output", "", "write the ciphertext to this file instead of stdout")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: coffer escrow export <id-or-name> --recipient <age1...> [flags]")
			}
			if len(recipients) == 0 {
				return fmt.Errorf("at least one --recipient is required")
			}
			// Reject bad recipient keys before asking for the master
			// password, not after.
			for _, recipient := range recipients {
				if err := escrow.ParsePublicKey(recipient); err != nil {
					return err
				}
			}

			s, err := openSession(ctx, *configPath, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			credential, err := resolveCredential(ctx, s, args[0])
			if err != nil {
				return err
			}

			payload, err := s.vault.CredentialData(ctx, credential.ID)
			if err != nil {
				return err
			}
			defer secret.Zero(payload)

			ciphertext, err := escrow.Encrypt(payload, recipients)
			if err != nil {
				return err
			}

			if output != "" {
				if err := os.WriteFile(output, []byte(ciphertext+"\n"), 0o600); err != nil {
					return fmt.Errorf("writing ciphertext file: %w", err)
				}
				fmt.Printf("Escrowed %q for %d recipient(s) to %s\n", credential.Name, len(recipients), output)
				return nil
			}
			fmt.Println(ciphertext)
			return nil
		},
	}
}

func escrowDecryptCommand() *cli.Command {
	var identityPath string

	return &cli.Command{
		Name:    "decrypt",
		Summary: "Open an escrowed credential",
		Description: `Decrypt an escrowed ciphertext with a private identity file. This
does not touch the vault, so it works when the vault is lost or its
master password is gone. The plaintext goes to stdout.`,
		Usage: "coffer escrow decrypt --identity <file> [ciphertext-file]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("decrypt", pflag.ContinueOnError)
			flagSet.StringVar(&identityPath, "identity", "", "private identity file ('-' for stdin)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 1 {
				return fmt.Errorf("usage: coffer escrow decrypt --identity <file> [ciphertext-file]")
			}
			if identityPath == "" {
				return fmt.Errorf("--identity is required")
			}

			privateKey, err := secret.ReadFromPath(identityPath)
			if err != nil {
				return err
			}
			defer privateKey.Close()
			if err := escrow.ParsePrivateKey(privateKey); err != nil {
				return err
			}

			source := "-"
			if len(args) == 1 {
				source = args[0]
			}
			var raw []byte
			if source == "-" {
				raw, err = io.ReadAll(os.Stdin)
			} else {
				raw, err = os.ReadFile(source)
			}
			if err != nil {
				return fmt.Errorf("reading ciphertext: %w", err)
			}

			plaintext, err := escrow.Decrypt(strings.TrimSpace(string(raw)), privateKey)
			if err != nil {
				return err
			}
			defer plaintext.Close()

			os.Stdout.Write(plaintext.Bytes())
			return nil
		},
	}
}
