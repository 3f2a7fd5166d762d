// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the coffer CLI.
//
// The central type is [Command], which represents a named subcommand with
// optional nested [Command.Subcommands], a [pflag.FlagSet] factory, and a
// Run function. Commands are assembled into a tree in cmd/coffer/commands
// and dispatched via [Command.Execute], which handles flag parsing,
// subcommand routing, and structured help output with examples. Run
// functions receive the process context and a logger so store access and
// cancellation thread through without globals.
//
// When a user types an unknown subcommand or flag, the framework computes
// Levenshtein edit distance against all known names and suggests the
// closest match (threshold: distance <= 3). This is implemented in
// suggest.go.
//
// [ExitError] lets a command exit non-zero without an "error:" line for
// outcomes that are answers rather than failures.
package cli
