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

	"github.com/coffer-foundation/coffer/audit"

	"github.com/coffer-foundation/coffer/cmd/coffer/cli"
)

func auditCommand() *cli.Command {
	var configPath *string
	var action string
	var credential string
	var since time.Duration
	var limit int
	var jsonOut bool

	return &cli.Command{
		Name:    "audit",
		Summary: "Show the audit log",
		Description: `Show recorded vault events, newest first. Entries attribute who
touched which credential and whether the operation succeeded; they
never contain secret material.`,
		Usage: "coffer audit [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("audit", pflag.ContinueOnError)
			configPath = addConfigFlag(flagSet)
			flagSet.StringVar(&action, "action", "", "only entries with this action (e.g. credential.read, agent.sign)")
			flagSet.StringVar(&credential, "credential", "", "only entries for this credential id")
			flagSet.DurationVar(&since, "since", 0, "only entries newer than this age (e.g. 24h)")
			flagSet.IntVar(&limit, "limit", 50, "maximum entries to show (0 for all)")
			flagSet.BoolVar(&jsonOut, "json", false, "print entries as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("audit takes no arguments")
			}

			s, err := openSession(ctx, *configPath, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			filter := audit.Filter{
				Action:       audit.Action(action),
				CredentialID: credential,
				Limit:        limit,
			}
			if since > 0 {
				filter.Since = s.clock.Now().Add(-since)
			}

			entries, err := s.store.Audit().List(ctx, filter)
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(entries)
			}

			if len(entries) == 0 {
				fmt.Println("No audit entries match.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tACTION\tRESOURCE\tCREDENTIAL\tOK")
			for _, entry := range entries {
				credentialCol := "-"
				if entry.CredentialID != "" {
					credentialCol = shortID(entry.CredentialID)
				}
				ok := "yes"
				if !entry.Success {
					ok = "no"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					entry.CreatedAt.Local().Format(time.DateTime),
					entry.Action,
					entry.Resource,
					credentialCol,
					ok)
			}
			return w.Flush()
		},
	}
}
