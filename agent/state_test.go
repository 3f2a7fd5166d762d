// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenStateDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coffer", "agent")
	stateDir, err := OpenStateDir(path)
	if err != nil {
		t.Fatalf("OpenStateDir: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0o700 {
		t.Errorf("directory mode = %o, want 0700", mode)
	}
	if stateDir.SocketPath() != filepath.Join(path, "agent.sock") {
		t.Errorf("SocketPath = %q", stateDir.SocketPath())
	}
	if stateDir.ControlSocketPath() != filepath.Join(path, "control.sock") {
		t.Errorf("ControlSocketPath = %q", stateDir.ControlSocketPath())
	}
}

func TestOpenStateDirTightensExistingMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := OpenStateDir(path); err != nil {
		t.Fatalf("OpenStateDir: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0o700 {
		t.Errorf("directory mode = %o, want 0700", mode)
	}
}

func TestStateDirRuntimeFiles(t *testing.T) {
	stateDir, err := OpenStateDir(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("OpenStateDir: %v", err)
	}

	if err := stateDir.WriteRuntime(4242, stateDir.SocketPath()); err != nil {
		t.Fatalf("WriteRuntime: %v", err)
	}

	pid, err := stateDir.ReadPID()
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != 4242 {
		t.Errorf("pid = %d, want 4242", pid)
	}
	addr, err := stateDir.ReadAddr()
	if err != nil {
		t.Fatalf("ReadAddr: %v", err)
	}
	if addr != stateDir.SocketPath() {
		t.Errorf("addr = %q, want %q", addr, stateDir.SocketPath())
	}

	for _, name := range []string{PIDFile, AddrFile} {
		info, err := os.Stat(filepath.Join(stateDir.Path(), name))
		if err != nil {
			t.Fatalf("stat %s: %v", name, err)
		}
		if mode := info.Mode().Perm(); mode != 0o600 {
			t.Errorf("%s mode = %o, want 0600", name, mode)
		}
	}

	if err := stateDir.ClearRuntime(); err != nil {
		t.Fatalf("ClearRuntime: %v", err)
	}
	if _, err := stateDir.ReadPID(); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ReadPID after clear: %v, want not-exist", err)
	}
	// Idempotent.
	if err := stateDir.ClearRuntime(); err != nil {
		t.Errorf("second ClearRuntime: %v", err)
	}
}

func TestStateDirTargetHost(t *testing.T) {
	stateDir, err := OpenStateDir(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("OpenStateDir: %v", err)
	}
	if err := stateDir.WriteTargetHost("deploy@web01.example.com"); err != nil {
		t.Fatalf("WriteTargetHost: %v", err)
	}

	raw, err := os.ReadFile(stateDir.TargetHostPath())
	if err != nil {
		t.Fatalf("reading hint: %v", err)
	}
	if string(raw) != "deploy@web01.example.com\n" {
		t.Errorf("hint = %q", raw)
	}
	info, err := os.Stat(stateDir.TargetHostPath())
	if err != nil {
		t.Fatalf("stat hint: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Errorf("hint mode = %o, want 0600", mode)
	}
}

func TestOpenStateDirEmptyPath(t *testing.T) {
	if _, err := OpenStateDir(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
