// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/coffer-foundation/coffer/lib/secret"

	"github.com/coffer-foundation/coffer/cmd/coffer/cli"
)

func showCommand() *cli.Command {
	var configPath *string
	var reveal bool
	var jsonOut bool

	return &cli.Command{
		Name:    "show",
		Summary: "Show a credential",
		Description: `Show a credential's record by id or name.

Without --reveal only attribution fields are printed and the payload
stays encrypted. --reveal decrypts the payload, writes it to stdout,
and leaves an audit entry.`,
		Usage: "coffer show <id-or-name> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			configPath = addConfigFlag(flagSet)
			flagSet.BoolVar(&reveal, "reveal", false, "decrypt and print the secret payload")
			flagSet.BoolVar(&jsonOut, "json", false, "print the record as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: coffer show <id-or-name> [flags]")
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

			if reveal {
				payload, err := s.vault.CredentialData(ctx, credential.ID)
				if err != nil {
					return err
				}
				defer secret.Zero(payload)
				os.Stdout.Write(payload)
				if len(payload) > 0 && payload[len(payload)-1] != '\n' {
					fmt.Println()
				}
				return nil
			}

			if jsonOut {
				return printJSON(viewOf(credential))
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID:\t%s\n", credential.ID)
			fmt.Fprintf(w, "Name:\t%s\n", credential.Name)
			fmt.Fprintf(w, "Type:\t%s\n", credential.Type)
			fmt.Fprintf(w, "Level:\t%s\n", credential.Level)
			fmt.Fprintf(w, "Created:\t%s\n", credential.CreatedAt.Local().Format(time.RFC3339))
			fmt.Fprintf(w, "Updated:\t%s\n", credential.UpdatedAt.Local().Format(time.RFC3339))
			if len(credential.Metadata) > 0 {
				keys := make([]string, 0, len(credential.Metadata))
				for key := range credential.Metadata {
					keys = append(keys, key)
				}
				sort.Strings(keys)
				for _, key := range keys {
					fmt.Fprintf(w, "Meta %s:\t%s\n", key, credential.Metadata[key])
				}
			}
			return w.Flush()
		},
	}
}
