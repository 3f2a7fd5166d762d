// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for Coffer commands.
//
// Configuration is loaded from a single file specified by either the
// COFFER_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). When neither is given, built-in defaults apply: a
// per-user vault under ~/.coffer. There is no ~/.config discovery and
// no merging of multiple files, so the effective configuration is always
// either one explicit file or the defaults.
//
// Environment variables never override config values. The only expansion
// performed after loading is ${HOME}, ${VAR:-default}, and leading ~ in
// path fields. The master password in particular is not configuration:
// the file names the environment variable or file to read it from, never
// the password itself.
//
// Key exports:
//
//   - [Config] -- master struct with Auth, Agent, and Log sections
//   - [Default] -- returns a Config usable without any file
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other Coffer packages.
package config
