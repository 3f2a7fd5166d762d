// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/coffer-foundation/coffer/audit"
)

// ServerConfig configures the agent protocol server.
type ServerConfig struct {
	// Transport provides the listener. Required.
	Transport Transport

	// Keys is the loaded key cache. Required.
	Keys *KeyCache

	// Policy gates every sign request. Required.
	Policy *Policy

	// Audit records sign attempts. Required; audit writes are
	// best-effort and never block signing.
	Audit *audit.Logger

	// IdentityID attributes audit entries. Required.
	IdentityID string

	Logger *slog.Logger
}

// Server accepts agent protocol connections and serves identity and
// signing requests from the key cache. Connections are handled
// concurrently; the key cache is immutable and the signing policy does
// its own locking.
type Server struct {
	transport  Transport
	keys       *KeyCache
	policy     *Policy
	audit      *audit.Logger
	identityID string
	logger     *slog.Logger

	activeConnections sync.WaitGroup
}

// NewServer validates the configuration and returns a Server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Transport == nil {
		return nil, fmt.Errorf("agent: Transport is required")
	}
	if config.Keys == nil {
		return nil, fmt.Errorf("agent: Keys is required")
	}
	if config.Policy == nil {
		return nil, fmt.Errorf("agent: Policy is required")
	}
	if config.Audit == nil {
		return nil, fmt.Errorf("agent: Audit is required")
	}
	if config.IdentityID == "" {
		return nil, fmt.Errorf("agent: IdentityID is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		transport:  config.Transport,
		keys:       config.Keys,
		policy:     config.Policy,
		audit:      config.Audit,
		identityID: config.IdentityID,
		logger:     logger,
	}, nil
}

// Serve listens on the transport and handles connections until ctx is
// cancelled. Open connections are closed on shutdown; Serve returns
// after every handler has finished.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := s.transport.Listen(ctx)
	if err != nil {
		return err
	}

	// Closing the listener unblocks Accept when ctx is cancelled.
	listenerDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			listener.Close()
		case <-listenerDone:
		}
	}()

	s.logger.Info("agent listening", "addr", s.transport.Addr(), "keys", s.keys.Len())

	for {
		conn, err := listener.Accept()
		if err != nil {
			close(listenerDone)
			listener.Close()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.activeConnections.Wait()
			return fmt.Errorf("accepting agent connection: %w", err)
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	s.logger.Info("agent stopped")
	return nil
}

// handleConnection serves one client: read a frame, dispatch, write
// the response, repeat until EOF or error. Protocol-level problems
// inside a well-framed request (malformed payload, unknown key,
// policy denial) answer FAILURE and keep the connection; framing
// errors terminate it.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	// Unblock pending reads when the server shuts down mid-session.
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-connDone:
		}
	}()

	for {
		payload, err := ReadFrame(conn)
		if err != nil {
			if err != io.EOF && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("agent connection read failed", "error", err)
			}
			return
		}
		response := s.dispatch(ctx, payload)
		if err := WriteFrame(conn, response); err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("agent connection write failed", "error", err)
			}
			return
		}
	}
}

// dispatch routes one decoded frame to its handler. Unknown message
// types answer FAILURE.
func (s *Server) dispatch(ctx context.Context, payload []byte) []byte {
	switch payload[0] {
	case MessageTypeRequestIdentities:
		return marshalIdentitiesAnswer(s.keys.Keys())
	case MessageTypeSignRequest:
		return s.handleSign(ctx, payload[1:])
	default:
		s.logger.Debug("unsupported agent message", "type", payload[0])
		return failurePayload
	}
}

// handleSign runs one sign request through key lookup, the policy
// gate, and the signature itself. Every attempt is audit-logged,
// approved or not.
func (s *Server) handleSign(ctx context.Context, payload []byte) []byte {
	request, err := parseSignRequest(payload)
	if err != nil {
		s.logger.Warn("malformed sign request", "error", err)
		return failurePayload
	}

	key, ok := s.keys.Lookup(request.KeyBlob)
	if !ok {
		s.logger.Info("sign request for unknown key")
		s.audit.RecordSign(ctx, s.identityID, "", request.Data, false, "unknown_key")
		return failurePayload
	}

	decision := s.policy.Evaluate(ctx, key)
	if decision != DecisionAllow {
		s.logger.Info("signing denied",
			"credential_id", key.CredentialID,
			"fingerprint", key.Fingerprint(),
			"reason", decision.String())
		s.audit.RecordSign(ctx, s.identityID, key.CredentialID, request.Data, false, decision.String())
		return failurePayload
	}

	signature := key.Sign(request.Data)
	s.audit.RecordSign(ctx, s.identityID, key.CredentialID, request.Data, true, "")
	s.logger.Debug("signed",
		"credential_id", key.CredentialID,
		"fingerprint", key.Fingerprint())
	return marshalSignResponse(signature)
}
