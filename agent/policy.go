// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coffer-foundation/coffer/lib/clock"
)

// Decision is the outcome of a policy evaluation. Every non-allow
// decision maps to a FAILURE response on the wire; the distinction
// exists for audit entries and logs.
type Decision int

const (
	// DecisionAllow permits the signature.
	DecisionAllow Decision = iota

	// DecisionRateLimited denies because the previous signature was
	// produced less than the minimum interval ago.
	DecisionRateLimited

	// DecisionDeclined denies because the user answered the
	// confirmation prompt with anything but yes, or the prompt could
	// not be read.
	DecisionDeclined

	// DecisionPromptTimeout denies because no confirmation answer
	// arrived in time.
	DecisionPromptTimeout

	// DecisionHostDenied denies because the target host is not in the
	// allow-list and one-time confirmation was unavailable or refused.
	DecisionHostDenied
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionRateLimited:
		return "rate_limited"
	case DecisionDeclined:
		return "declined"
	case DecisionPromptTimeout:
		return "prompt_timeout"
	case DecisionHostDenied:
		return "host_denied"
	default:
		return fmt.Sprintf("unknown(%d)", int(d))
	}
}

// PolicyConfig configures the signing policy.
type PolicyConfig struct {
	// RequireConfirm gates every signature behind an interactive
	// yes/no prompt.
	RequireConfirm bool

	// MinSignInterval is the minimum time between signatures across
	// all keys and connections. Zero disables rate limiting.
	MinSignInterval time.Duration

	// Prompter answers confirmation questions. Required when
	// RequireConfirm is set or Hosts uses one-time confirmation.
	Prompter *Prompter

	// Hosts enables host-binding checks. Nil disables them.
	Hosts *HostPolicy

	// Clock drives the rate limiter. Defaults to the wall clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// Policy is the signing-policy engine. One instance is shared by every
// connection; a single mutex serializes evaluations, so concurrent
// sign requests are checked one at a time in lock-arrival order.
type Policy struct {
	requireConfirm bool
	minInterval    time.Duration
	prompter       *Prompter
	hosts          *HostPolicy
	clock          clock.Clock
	logger         *slog.Logger

	mu       sync.Mutex
	lastSign time.Time
}

// NewPolicy returns a Policy for the given configuration.
func NewPolicy(config PolicyConfig) (*Policy, error) {
	if config.RequireConfirm && config.Prompter == nil {
		return nil, fmt.Errorf("agent: RequireConfirm is set but no Prompter given")
	}
	if config.Hosts != nil && config.Hosts.confirmUnknown && config.Prompter == nil {
		return nil, fmt.Errorf("agent: host policy confirms unknown hosts but no Prompter given")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Policy{
		requireConfirm: config.RequireConfirm,
		minInterval:    config.MinSignInterval,
		prompter:       config.Prompter,
		hosts:          config.Hosts,
		clock:          clk,
		logger:         logger,
	}, nil
}

// Evaluate runs the policy checks for one sign request, in fixed
// order: rate limit, confirmation, last-sign bookkeeping, host
// binding. The last-sign timestamp is recorded before the host check
// runs, so a request the host policy goes on to deny still counts
// against the rate limit of the next request.
func (p *Policy) Evaluate(ctx context.Context, key *Key) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if p.minInterval > 0 && !p.lastSign.IsZero() && now.Sub(p.lastSign) < p.minInterval {
		p.logger.Info("signing denied by rate limit",
			"fingerprint", key.Fingerprint(),
			"since_last", now.Sub(p.lastSign),
			"min_interval", p.minInterval)
		return DecisionRateLimited
	}

	if p.requireConfirm {
		question := fmt.Sprintf("Allow signing with key %s (%s)?", key.Comment, key.Fingerprint())
		confirmed, err := p.prompter.Confirm(ctx, question)
		if err != nil {
			if errors.Is(err, ErrPromptTimeout) {
				return DecisionPromptTimeout
			}
			p.logger.Warn("confirmation prompt failed", "error", err)
			return DecisionDeclined
		}
		if !confirmed {
			return DecisionDeclined
		}
	}

	// The rate-limit stamp lands before the host check runs, so a
	// host-denied request still advances the window.
	p.lastSign = p.clock.Now()

	if p.hosts != nil {
		return p.evaluateHost(ctx, key)
	}
	return DecisionAllow
}

// evaluateHost applies the host-binding check. Called with the policy
// mutex held.
func (p *Policy) evaluateHost(ctx context.Context, key *Key) Decision {
	host, ok := p.hosts.ConsumeHint()
	if ok && p.hosts.Allows(host) {
		return DecisionAllow
	}

	if !p.hosts.confirmUnknown {
		p.logger.Info("signing denied by host policy",
			"fingerprint", key.Fingerprint(),
			"target_host", host)
		return DecisionHostDenied
	}

	question := fmt.Sprintf("Sign with key %s for unlisted host %q?", key.Comment, hostLabel(host))
	confirmed, err := p.prompter.Confirm(ctx, question)
	if err != nil {
		if errors.Is(err, ErrPromptTimeout) {
			return DecisionPromptTimeout
		}
		p.logger.Warn("host confirmation prompt failed", "error", err)
		return DecisionHostDenied
	}
	if !confirmed {
		return DecisionHostDenied
	}
	return DecisionAllow
}

func hostLabel(host string) string {
	if host == "" {
		return "(unknown)"
	}
	return host
}

// Snapshot is the policy state reported by the control socket.
type Snapshot struct {
	RequireConfirm    bool  `cbor:"require_confirm"`
	MinIntervalMillis int64 `cbor:"min_interval_ms"`
	HostsEnforced     bool  `cbor:"known_hosts_enforced"`
	ConfirmUnknown    bool  `cbor:"confirm_unknown"`

	// LastSign is the RFC 3339 time of the most recent signature,
	// empty when none has been produced.
	LastSign string `cbor:"last_sign,omitempty"`
}

// Snapshot reports the current policy configuration and rate-limit
// state.
func (p *Policy) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := Snapshot{
		RequireConfirm:    p.requireConfirm,
		MinIntervalMillis: p.minInterval.Milliseconds(),
	}
	if p.hosts != nil {
		snapshot.HostsEnforced = true
		snapshot.ConfirmUnknown = p.hosts.confirmUnknown
	}
	if !p.lastSign.IsZero() {
		snapshot.LastSign = p.lastSign.UTC().Format(time.RFC3339)
	}
	return snapshot
}
