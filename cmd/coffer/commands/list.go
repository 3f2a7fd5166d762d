// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/coffer-foundation/coffer/cmd/coffer/cli"
)

func listCommand() *cli.Command {
	var configPath *string
	var jsonOut bool

	return &cli.Command{
		Name:    "list",
		Summary: "List credentials",
		Description: `List every credential in the vault. Payloads stay encrypted;
only names, types, and timestamps are shown.`,
		Usage: "coffer list [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			configPath = addConfigFlag(flagSet)
			flagSet.BoolVar(&jsonOut, "json", false, "print records as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("list takes no arguments")
			}

			s, err := openSession(ctx, *configPath, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			credentials, err := s.vault.ListCredentials(ctx, s.identityID())
			if err != nil {
				return err
			}

			if jsonOut {
				views := make([]credentialView, 0, len(credentials))
				for _, credential := range credentials {
					views = append(views, viewOf(credential))
				}
				return printJSON(views)
			}

			if len(credentials) == 0 {
				fmt.Println("No credentials. Add one with 'coffer add'.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tLEVEL\tUPDATED")
			for _, credential := range credentials {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					shortID(credential.ID),
					credential.Name,
					credential.Type,
					credential.Level,
					credential.UpdatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
}
