// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"

	"github.com/coffer-foundation/coffer/cmd/coffer/cli"
)

func rmCommand() *cli.Command {
	var configPath *string
	var yes bool

	return &cli.Command{
		Name:    "rm",
		Summary: "Delete a credential",
		Description: `Delete a credential by id or name. The encrypted payload and its
wrapped item key are removed together; there is no undo.`,
		Usage: "coffer rm <id-or-name> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("rm", pflag.ContinueOnError)
			configPath = addConfigFlag(flagSet)
			flagSet.BoolVar(&yes, "yes", false, "delete without asking for confirmation")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: coffer rm <id-or-name> [flags]")
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

			if !yes {
				answer, err := readLine(fmt.Sprintf("Delete credential %q (%s)? [y/N] ", credential.Name, shortID(credential.ID)))
				if err != nil {
					return err
				}
				switch strings.ToLower(strings.TrimSpace(answer)) {
				case "y", "yes":
				default:
					fmt.Println("Aborted.")
					return nil
				}
			}

			if err := s.vault.DeleteCredential(ctx, credential.ID); err != nil {
				return err
			}
			fmt.Printf("Deleted %s %q\n", credential.Type, credential.Name)
			return nil
		},
	}
}
