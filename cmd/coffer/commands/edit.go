// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/coffer-foundation/coffer/lib/secret"
	"github.com/coffer-foundation/coffer/vault"

	"github.com/coffer-foundation/coffer/cmd/coffer/cli"
)

func editCommand() *cli.Command {
	var configPath *string
	var payloadFile string

	return &cli.Command{
		Name:    "edit",
		Summary: "Replace a credential's secret",
		Description: `Replace a credential's payload. The new secret is sealed under a
fresh item key; the old ciphertext is gone after this. Name, type,
and metadata stay as they are.

SSH keys are replaced with --payload-file pointing at the JSON
payload form; to swap the actual key material, rm and re-add with
--import instead.`,
		Usage: "coffer edit <id-or-name> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("edit", pflag.ContinueOnError)
			configPath = addConfigFlag(flagSet)
			flagSet.StringVar(&payloadFile, "payload-file", "", "read the new secret from this file ('-' for stdin)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: coffer edit <id-or-name> [flags]")
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

			var payload []byte
			if payloadFile != "" {
				buffer, err := secret.ReadFromPath(payloadFile)
				if err != nil {
					return err
				}
				payload = append([]byte(nil), buffer.Bytes()...)
				buffer.Close()
			} else {
				if credential.Type == vault.TypeSSHKey {
					return fmt.Errorf("editing an ssh_key interactively is not supported, use --payload-file")
				}
				buffer, err := secret.ReadFromTerminal(fmt.Sprintf("New secret value for %q: ", credential.Name))
				if err != nil {
					return err
				}
				payload = append([]byte(nil), buffer.Bytes()...)
				buffer.Close()
			}
			defer secret.Zero(payload)

			if _, err := s.vault.UpdateCredentialData(ctx, credential.ID, payload); err != nil {
				return err
			}
			fmt.Printf("Updated %s %q\n", credential.Type, credential.Name)
			return nil
		},
	}
}
