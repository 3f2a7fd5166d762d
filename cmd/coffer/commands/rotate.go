// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/coffer-foundation/coffer/audit"
	"github.com/coffer-foundation/coffer/auth"
	"github.com/coffer-foundation/coffer/lib/clock"
	"github.com/coffer-foundation/coffer/store"
	"github.com/coffer-foundation/coffer/vault"

	"github.com/coffer-foundation/coffer/cmd/coffer/cli"
)

func rotatePasswordCommand() *cli.Command {
	var configPath *string
	var newPasswordFile string

	return &cli.Command{
		Name:    "rotate-password",
		Summary: "Change the master password",
		Description: `Change the master password and re-key the vault. Every wrapped
item key is re-encrypted under keys derived from the new password, in
one transaction, so the vault is never split between passwords.

Rotation works even when a password change is being forced after
recovery; the old password is still verified and failed attempts
still count toward lockout.`,
		Usage: "coffer rotate-password [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("rotate-password", pflag.ContinueOnError)
			configPath = addConfigFlag(flagSet)
			flagSet.StringVar(&newPasswordFile, "new-password-file", "", "read the new password from this file instead of prompting ('-' for stdin)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("rotate-password takes no arguments")
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.EnsurePaths(); err != nil {
				return err
			}

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

			// The usual authenticated session is not used here: when a
			// password change is being forced, Authenticate refuses to
			// complete until rotation happens. Rotation verifies the
			// old password itself.
			record, err := guard.Record(ctx)
			if err != nil {
				return errVaultMissing(err)
			}

			oldPassword, err := readMasterPassword(cfg, "Current master password: ")
			if err != nil {
				return err
			}
			defer oldPassword.Close()

			keys, err := vault.UnlockKeys(oldPassword, record.MasterSalt)
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
				Guard:  guard,
				Tx:     st,
			})
			if err != nil {
				keys.Close()
				return err
			}
			defer v.Close()

			newPassword, err := readNewPassword("New master password: ", "Repeat new master password: ", newPasswordFile)
			if err != nil {
				return err
			}
			defer newPassword.Close()

			if err := v.RotateMasterPassword(ctx, oldPassword, newPassword); err != nil {
				return err
			}
			fmt.Println("Master password rotated.")
			return nil
		},
	}
}
