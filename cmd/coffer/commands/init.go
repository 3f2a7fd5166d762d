// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/coffer-foundation/coffer/auth"
	"github.com/coffer-foundation/coffer/lib/clock"
	"github.com/coffer-foundation/coffer/lib/config"
	"github.com/coffer-foundation/coffer/lib/secret"
	"github.com/coffer-foundation/coffer/store"

	"github.com/coffer-foundation/coffer/cmd/coffer/cli"
)

func initCommand() *cli.Command {
	var configPath *string
	var passwordFile string

	return &cli.Command{
		Name:    "init",
		Summary: "Create a new vault",
		Description: `Create the vault database and set the master password.

The master password is read from the configured environment variable,
a password file, or an interactive prompt. It is never accepted as a
command-line argument.`,
		Usage: "coffer init [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("init", pflag.ContinueOnError)
			configPath = addConfigFlag(flagSet)
			flagSet.StringVar(&passwordFile, "password-file", "", "read the new master password from a file (\"-\" for stdin)")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Create a vault with an interactive password prompt",
				Command:     "coffer init",
			},
			{
				Description: "Create a vault non-interactively",
				Command:     "coffer init --password-file - < password.txt",
			},
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("init takes no arguments")
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

			password, err := newVaultPassword(cfg, passwordFile)
			if err != nil {
				return err
			}
			defer password.Close()

			guard := auth.NewGuard(st.UserAuth(), clk, logger)
			if err := guard.Initialize(ctx, password); err != nil {
				if errors.Is(err, auth.ErrVaultExists) {
					return fmt.Errorf("%w at %s", auth.ErrVaultExists, cfg.Database)
				}
				return err
			}

			fmt.Printf("Vault created at %s\n", cfg.Database)
			return nil
		},
	}
}

// newVaultPassword picks the password source for init: an explicit
// --password-file wins, then the configured environment variable,
// then a confirmed interactive prompt.
func newVaultPassword(cfg *config.Config, passwordFile string) (*secret.Buffer, error) {
	if passwordFile != "" {
		return secret.ReadFromPath(passwordFile)
	}
	if cfg.Auth.PasswordEnv != "" {
		if _, ok := os.LookupEnv(cfg.Auth.PasswordEnv); ok {
			return secret.ReadFromEnv(cfg.Auth.PasswordEnv)
		}
	}
	if cfg.Auth.PasswordFile != "" {
		return secret.ReadFromPath(cfg.Auth.PasswordFile)
	}
	return readNewPassword("New master password: ", "Repeat master password: ", "")
}
