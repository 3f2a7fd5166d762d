// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"net"
	"os"
)

// Transport abstracts the local byte-stream listener the agent serves
// on. Callers depend only on accept returning a bidirectional stream;
// the concrete transport is chosen once at startup. The shipped
// implementation is a UNIX domain socket; the seam exists for a named
// pipe on Windows.
type Transport interface {
	Listen(ctx context.Context) (net.Listener, error)
	Addr() string
}

// UnixTransport listens on a UNIX domain socket. A stale socket file
// left by a crashed agent is removed before binding, and the new
// socket is restricted to the owning user.
type UnixTransport struct {
	// Path is the socket path, normally inside the agent's 0700
	// state directory.
	Path string
}

// Listen binds the socket.
func (t UnixTransport) Listen(ctx context.Context) (net.Listener, error) {
	if err := os.Remove(t.Path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", t.Path, err)
	}
	var listenConfig net.ListenConfig
	listener, err := listenConfig.Listen(ctx, "unix", t.Path)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", t.Path, err)
	}
	if err := os.Chmod(t.Path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restricting socket permissions: %w", err)
	}
	return listener, nil
}

// Addr returns the socket path.
func (t UnixTransport) Addr() string {
	return t.Path
}
