// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/coffer-foundation/coffer/lib/clock"
	"github.com/coffer-foundation/coffer/lib/ctlsock"
)

// Control socket actions.
const (
	ActionStatus   = "status"
	ActionListKeys = "list-keys"
	ActionShutdown = "shutdown"
)

// StatusResponse is the control socket's answer to a status request.
type StatusResponse struct {
	PID           int      `cbor:"pid"`
	SocketPath    string   `cbor:"socket_path"`
	UptimeSeconds int64    `cbor:"uptime_seconds"`
	KeyCount      int      `cbor:"key_count"`
	KeysLoadedAt  string   `cbor:"keys_loaded_at"`
	Policy        Snapshot `cbor:"policy"`
}

// KeyInfo describes one cached key in a list-keys response.
type KeyInfo struct {
	Fingerprint  string `cbor:"fingerprint"`
	Comment      string `cbor:"comment"`
	CredentialID string `cbor:"credential_id"`
}

// ListKeysResponse is the control socket's answer to a list-keys
// request.
type ListKeysResponse struct {
	Keys []KeyInfo `cbor:"keys"`
}

// ShutdownResponse acknowledges a shutdown request before the agent
// stops.
type ShutdownResponse struct {
	Stopping bool `cbor:"stopping"`
}

// ControlConfig configures the control socket.
type ControlConfig struct {
	// SocketPath is where the control socket listens. Required.
	SocketPath string

	// AgentSocketPath is reported in status responses. Required.
	AgentSocketPath string

	// Keys and Policy back the status and list-keys actions. Required.
	Keys   *KeyCache
	Policy *Policy

	// Shutdown initiates a graceful stop; normally it cancels the
	// context both servers run under. Required.
	Shutdown func()

	// Clock supplies the uptime reference. Defaults to the wall
	// clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// NewControl builds the control socket server with the status,
// list-keys, and shutdown actions registered. The caller runs it with
// Serve alongside the agent server.
func NewControl(config ControlConfig) (*ctlsock.Server, error) {
	if config.SocketPath == "" {
		return nil, fmt.Errorf("agent: control SocketPath is required")
	}
	if config.Keys == nil || config.Policy == nil {
		return nil, fmt.Errorf("agent: control Keys and Policy are required")
	}
	if config.Shutdown == nil {
		return nil, fmt.Errorf("agent: control Shutdown is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	startedAt := clk.Now()
	server := ctlsock.NewServer(config.SocketPath, logger)

	server.Handle(ActionStatus, func(ctx context.Context, raw []byte) (any, error) {
		return StatusResponse{
			PID:           os.Getpid(),
			SocketPath:    config.AgentSocketPath,
			UptimeSeconds: int64(clk.Now().Sub(startedAt) / time.Second),
			KeyCount:      config.Keys.Len(),
			KeysLoadedAt:  config.Keys.LoadedAt().UTC().Format(time.RFC3339),
			Policy:        config.Policy.Snapshot(),
		}, nil
	})

	server.Handle(ActionListKeys, func(ctx context.Context, raw []byte) (any, error) {
		response := ListKeysResponse{Keys: make([]KeyInfo, 0, config.Keys.Len())}
		for _, key := range config.Keys.Keys() {
			response.Keys = append(response.Keys, KeyInfo{
				Fingerprint:  key.Fingerprint(),
				Comment:      key.Comment,
				CredentialID: key.CredentialID,
			})
		}
		return response, nil
	})

	server.Handle(ActionShutdown, func(ctx context.Context, raw []byte) (any, error) {
		logger.Info("shutdown requested over control socket")
		config.Shutdown()
		return ShutdownResponse{Stopping: true}, nil
	})

	return server, nil
}
