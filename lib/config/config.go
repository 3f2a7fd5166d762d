// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for Coffer.
type Config struct {
	// Database is the path to the vault database file.
	Database string `yaml:"database"`

	// StateDir is where the agent keeps its runtime state: listening
	// sockets, pid and address files, the target-host hint. Created 0700.
	StateDir string `yaml:"state_dir"`

	// Auth configures where the master password is read from.
	Auth AuthConfig `yaml:"auth"`

	// Agent configures the key agent and its signing policy.
	Agent AgentConfig `yaml:"agent"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`
}

// AuthConfig configures master password acquisition. When both fields are
// empty the password is read interactively from the terminal.
type AuthConfig struct {
	// PasswordEnv is the name of the environment variable holding the
	// master password. The password itself is never a flag or a config
	// value, only the variable name is.
	// Default: COFFER_MASTER_PASSWORD
	PasswordEnv string `yaml:"password_env"`

	// PasswordFile is a file to read the master password from.
	// "-" means standard input. Empty means not used.
	PasswordFile string `yaml:"password_file"`
}

// AgentConfig configures the key agent daemon.
type AgentConfig struct {
	// Socket is the Unix socket path the agent listens on.
	// Default: <state_dir>/agent.sock
	Socket string `yaml:"socket"`

	// RequireConfirm asks for interactive confirmation before every
	// signing operation.
	RequireConfirm bool `yaml:"require_confirm"`

	// MinSignIntervalMS is the minimum interval between signing
	// operations in milliseconds. Zero disables rate limiting.
	MinSignIntervalMS int64 `yaml:"min_sign_interval_ms"`

	// ConfirmTimeoutS is how long a confirmation prompt waits for an
	// answer before the signing request is denied, in seconds.
	// Default: 30
	ConfirmTimeoutS int `yaml:"confirm_timeout_s"`

	// KnownHosts configures host-binding enforcement.
	KnownHosts KnownHostsConfig `yaml:"known_hosts"`
}

// KnownHostsConfig configures the known-hosts signing restriction.
type KnownHostsConfig struct {
	// Enforce restricts signing to hosts present in the known_hosts file.
	Enforce bool `yaml:"enforce"`

	// ConfirmUnknown prompts for hosts missing from the file instead of
	// denying them outright. Only meaningful when Enforce is set.
	ConfirmUnknown bool `yaml:"confirm_unknown"`

	// Path is the known_hosts file to load.
	// Default: ~/.ssh/known_hosts
	Path string `yaml:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is the minimum log level: debug, info, warn, or error.
	// Default: info
	Level string `yaml:"level"`
}

// Default returns the default configuration. These defaults make the tool
// usable without any config file at all: a per-user vault under ~/.coffer.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".coffer")

	return &Config{
		Database: filepath.Join(defaultRoot, "vault.db"),
		StateDir: filepath.Join(defaultRoot, "run"),
		Auth: AuthConfig{
			PasswordEnv:  "COFFER_MASTER_PASSWORD",
			PasswordFile: "",
		},
		Agent: AgentConfig{
			Socket:            "",
			RequireConfirm:    false,
			MinSignIntervalMS: 0,
			ConfirmTimeoutS:   30,
			KnownHosts: KnownHostsConfig{
				Enforce:        false,
				ConfirmUnknown: false,
				Path:           "~/.ssh/known_hosts",
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the COFFER_CONFIG environment variable.
//
// When COFFER_CONFIG is unset the built-in defaults are returned. There is
// no ~/.config discovery and no merging of multiple files: either an
// explicit file governs, or the defaults do.
func Load() (*Config, error) {
	configPath := os.Getenv("COFFER_CONFIG")
	if configPath == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The file is unmarshalled over the defaults, so absent keys keep their
// default values. Environment variables do not override config values; the
// only expansion performed is ${HOME} and similar path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()

	return cfg, nil
}

// expandVariables expands ${VAR}, ${VAR:-default}, and leading ~ in all
// path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Database = expandPath(c.Database, vars)
	c.StateDir = expandPath(c.StateDir, vars)
	c.Auth.PasswordFile = expandPath(c.Auth.PasswordFile, vars)
	c.Agent.Socket = expandPath(c.Agent.Socket, vars)
	c.Agent.KnownHosts.Path = expandPath(c.Agent.KnownHosts.Path, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandPath expands a leading ~ then ${VAR} and ${VAR:-default} patterns.
// "-" passes through untouched so password_file stdin selection survives.
func expandPath(s string, vars map[string]string) string {
	if s == "" || s == "-" {
		return s
	}

	if s == "~" || strings.HasPrefix(s, "~/") {
		if home := vars["HOME"]; home != "" {
			s = home + s[1:]
		}
	}

	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Database == "" {
		errs = append(errs, fmt.Errorf("database is required"))
	}

	if c.StateDir == "" {
		errs = append(errs, fmt.Errorf("state_dir is required"))
	}

	if c.Agent.MinSignIntervalMS < 0 {
		errs = append(errs, fmt.Errorf("agent.min_sign_interval_ms must not be negative"))
	}

	if c.Agent.ConfirmTimeoutS < 1 {
		errs = append(errs, fmt.Errorf("agent.confirm_timeout_s must be at least 1"))
	}

	if c.Agent.KnownHosts.Enforce && c.Agent.KnownHosts.Path == "" {
		errs = append(errs, fmt.Errorf("agent.known_hosts.path is required when enforce is set"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// AgentSocket returns the agent's Unix socket path, defaulting to
// agent.sock inside the state directory. The name must match what the
// agent daemon itself writes under state_dir.
func (c *Config) AgentSocket() string {
	if c.Agent.Socket != "" {
		return c.Agent.Socket
	}
	return filepath.Join(c.StateDir, "agent.sock")
}

// MinSignInterval returns the rate-limit interval as a duration.
func (c *Config) MinSignInterval() time.Duration {
	return time.Duration(c.Agent.MinSignIntervalMS) * time.Millisecond
}

// ConfirmTimeout returns the confirmation prompt timeout as a duration.
func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.Agent.ConfirmTimeoutS) * time.Second
}

// LogLevel maps the configured level string to a slog level.
// Call Validate first; unknown strings fall back to info.
func (c *Config) LogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EnsurePaths creates the directories holding the database and runtime
// state. Both hold secret material so they are created 0700.
func (c *Config) EnsurePaths() error {
	paths := []string{
		filepath.Dir(c.Database),
		c.StateDir,
	}

	for _, path := range paths {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
