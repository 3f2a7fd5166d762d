// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// File names inside the agent state directory.
const (
	// SocketFile is the agent protocol socket.
	SocketFile = "agent.sock"

	// AddrFile holds the socket address as text, for callers that
	// want to set SSH_AUTH_SOCK without knowing the directory layout.
	AddrFile = "agent.addr"

	// PIDFile holds the agent process id.
	PIDFile = "agent.pid"

	// ControlSocketFile is the CBOR control socket.
	ControlSocketFile = "control.sock"

	// TargetHostFile is the transient host-binding hint written by
	// external callers and consumed by the policy engine.
	TargetHostFile = "target-host"
)

// StateDir is the agent's runtime directory. The directory is owner
// only (0700) and every file in it is 0600; the filesystem is the
// access check for both sockets.
type StateDir struct {
	path string
}

// OpenStateDir creates the directory if needed and tightens its mode.
func OpenStateDir(path string) (StateDir, error) {
	if path == "" {
		return StateDir{}, fmt.Errorf("agent: state directory path is empty")
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return StateDir{}, fmt.Errorf("creating state directory: %w", err)
	}
	// MkdirAll does not change the mode of a directory that already
	// exists.
	if err := os.Chmod(path, 0o700); err != nil {
		return StateDir{}, fmt.Errorf("restricting state directory: %w", err)
	}
	return StateDir{path: path}, nil
}

// Path returns the directory path.
func (d StateDir) Path() string {
	return d.path
}

// SocketPath returns the agent protocol socket path.
func (d StateDir) SocketPath() string {
	return filepath.Join(d.path, SocketFile)
}

// ControlSocketPath returns the control socket path.
func (d StateDir) ControlSocketPath() string {
	return filepath.Join(d.path, ControlSocketFile)
}

// TargetHostPath returns the host-binding hint path.
func (d StateDir) TargetHostPath() string {
	return filepath.Join(d.path, TargetHostFile)
}

// WriteRuntime records the running agent: its pid and the socket
// address clients should connect to.
func (d StateDir) WriteRuntime(pid int, addr string) error {
	pidPath := filepath.Join(d.path, PIDFile)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	addrPath := filepath.Join(d.path, AddrFile)
	if err := os.WriteFile(addrPath, []byte(addr+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing addr file: %w", err)
	}
	return nil
}

// ReadPID returns the pid recorded by a running agent. Callers get
// os.ErrNotExist (via errors.Is) when no agent has written one.
func (d StateDir) ReadPID() (int, error) {
	raw, err := os.ReadFile(filepath.Join(d.path, PIDFile))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("parsing pid file: %w", err)
	}
	return pid, nil
}

// ReadAddr returns the socket address recorded by a running agent.
func (d StateDir) ReadAddr() (string, error) {
	raw, err := os.ReadFile(filepath.Join(d.path, AddrFile))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// WriteTargetHost writes the host-binding hint for the next sign
// request. External callers use this before invoking a command that
// will contact the agent.
func (d StateDir) WriteTargetHost(host string) error {
	if err := os.WriteFile(d.TargetHostPath(), []byte(host+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing target-host hint: %w", err)
	}
	return nil
}

// ClearRuntime removes the pid and addr files. Idempotent; socket
// files are removed by their listeners.
func (d StateDir) ClearRuntime() error {
	for _, name := range []string{PIDFile, AddrFile} {
		if err := os.Remove(filepath.Join(d.path, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", name, err)
		}
	}
	return nil
}
