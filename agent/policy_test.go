// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coffer-foundation/coffer/lib/clock"
	"github.com/coffer-foundation/coffer/lib/testutil"
)

// startPrompter builds a Prompter whose worker answers with ask and
// runs until the test ends.
func startPrompter(t *testing.T, clk clock.Clock, ask AskFunc) *Prompter {
	t.Helper()
	prompter := NewPrompter(PrompterConfig{
		Ask:    ask,
		Clock:  clk,
		Logger: discardLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go prompter.Run(ctx)
	return prompter
}

func testKey() *Key {
	return &Key{CredentialID: "cred-1", Comment: "k1", PublicBlob: []byte{0x01, 0x02}}
}

func TestPolicyRateLimit(t *testing.T) {
	clk := testClock()
	policy, err := NewPolicy(PolicyConfig{
		MinSignInterval: time.Second,
		Clock:           clk,
		Logger:          discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	ctx := context.Background()
	key := testKey()

	if got := policy.Evaluate(ctx, key); got != DecisionAllow {
		t.Fatalf("first request: %v, want allow", got)
	}
	clk.Advance(200 * time.Millisecond)
	if got := policy.Evaluate(ctx, key); got != DecisionRateLimited {
		t.Fatalf("request 200ms later: %v, want rate_limited", got)
	}
	clk.Advance(1000 * time.Millisecond)
	if got := policy.Evaluate(ctx, key); got != DecisionAllow {
		t.Fatalf("request after interval elapsed: %v, want allow", got)
	}
}

func TestPolicyZeroIntervalNeverRateLimits(t *testing.T) {
	policy, err := NewPolicy(PolicyConfig{Clock: testClock(), Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if got := policy.Evaluate(ctx, testKey()); got != DecisionAllow {
			t.Fatalf("request %d: %v, want allow", i, got)
		}
	}
}

func TestPolicyConfirmation(t *testing.T) {
	tests := []struct {
		name   string
		answer bool
		askErr error
		want   Decision
	}{
		{name: "approved", answer: true, want: DecisionAllow},
		{name: "declined", answer: false, want: DecisionDeclined},
		{name: "unreadable prompt", askErr: errors.New("tty gone"), want: DecisionDeclined},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			clk := testClock()
			var asked string
			prompter := startPrompter(t, clk, func(question string) (bool, error) {
				asked = question
				return test.answer, test.askErr
			})
			policy, err := NewPolicy(PolicyConfig{
				RequireConfirm: true,
				Prompter:       prompter,
				Clock:          clk,
				Logger:         discardLogger(),
			})
			if err != nil {
				t.Fatalf("NewPolicy: %v", err)
			}

			if got := policy.Evaluate(context.Background(), testKey()); got != test.want {
				t.Fatalf("decision = %v, want %v", got, test.want)
			}
			if !strings.Contains(asked, "k1") {
				t.Errorf("question %q does not name the key", asked)
			}
		})
	}
}

func TestPolicyPromptTimeout(t *testing.T) {
	clk := testClock()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	prompter := startPrompter(t, clk, func(question string) (bool, error) {
		<-release
		return true, nil
	})
	policy, err := NewPolicy(PolicyConfig{
		RequireConfirm: true,
		Prompter:       prompter,
		Clock:          clk,
		Logger:         discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}

	decisions := make(chan Decision, 1)
	go func() {
		decisions <- policy.Evaluate(context.Background(), testKey())
	}()

	clk.WaitForTimers(1)
	clk.Advance(defaultPromptTimeout)
	got := testutil.RequireReceive(t, decisions, 5*time.Second, "waiting for the blocked Evaluate to return")
	if got != DecisionPromptTimeout {
		t.Fatalf("decision = %v, want prompt_timeout", got)
	}
}

// writeKnownHosts writes a known_hosts file and returns a HostPolicy
// over it. The hint file lives in the same directory.
func testHostPolicy(t *testing.T, knownHosts string, confirmUnknown bool) (*HostPolicy, string) {
	t.Helper()
	directory := t.TempDir()
	knownHostsPath := filepath.Join(directory, "known_hosts")
	if err := os.WriteFile(knownHostsPath, []byte(knownHosts), 0o600); err != nil {
		t.Fatalf("writing known_hosts: %v", err)
	}
	hintPath := filepath.Join(directory, "target-host")
	policy, err := LoadHostPolicy(HostPolicyConfig{
		KnownHostsPath: knownHostsPath,
		HintPath:       hintPath,
		ConfirmUnknown: confirmUnknown,
		Logger:         discardLogger(),
	})
	if err != nil {
		t.Fatalf("LoadHostPolicy: %v", err)
	}
	return policy, hintPath
}

func TestPolicyHostAllowed(t *testing.T) {
	clk := testClock()
	hosts, hintPath := testHostPolicy(t, "example.com ssh-ed25519 AAAA\n", false)
	if err := os.WriteFile(hintPath, []byte("deploy@EXAMPLE.com\n"), 0o600); err != nil {
		t.Fatalf("writing hint: %v", err)
	}

	policy, err := NewPolicy(PolicyConfig{Hosts: hosts, Clock: clk, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	if got := policy.Evaluate(context.Background(), testKey()); got != DecisionAllow {
		t.Fatalf("decision = %v, want allow", got)
	}
	if _, err := os.Stat(hintPath); !os.IsNotExist(err) {
		t.Error("hint file not consumed")
	}
}

func TestPolicyHostDenied(t *testing.T) {
	clk := testClock()
	hosts, hintPath := testHostPolicy(t, "example.com ssh-ed25519 AAAA\n", false)
	policy, err := NewPolicy(PolicyConfig{Hosts: hosts, Clock: clk, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	ctx := context.Background()

	// No hint file at all.
	if got := policy.Evaluate(ctx, testKey()); got != DecisionHostDenied {
		t.Fatalf("missing hint: %v, want host_denied", got)
	}

	// A hint naming a host outside the allow-list.
	if err := os.WriteFile(hintPath, []byte("attacker.example.net\n"), 0o600); err != nil {
		t.Fatalf("writing hint: %v", err)
	}
	if got := policy.Evaluate(ctx, testKey()); got != DecisionHostDenied {
		t.Fatalf("unlisted host: %v, want host_denied", got)
	}
}

func TestPolicyHostUnknownConfirmation(t *testing.T) {
	tests := []struct {
		name   string
		answer bool
		want   Decision
	}{
		{name: "confirmed", answer: true, want: DecisionAllow},
		{name: "refused", answer: false, want: DecisionHostDenied},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			clk := testClock()
			prompter := startPrompter(t, clk, func(question string) (bool, error) {
				if !strings.Contains(question, "unlisted host") {
					t.Errorf("question %q does not mention the unlisted host", question)
				}
				return test.answer, nil
			})
			hosts, hintPath := testHostPolicy(t, "example.com ssh-ed25519 AAAA\n", true)
			if err := os.WriteFile(hintPath, []byte("new-box.example.net\n"), 0o600); err != nil {
				t.Fatalf("writing hint: %v", err)
			}
			policy, err := NewPolicy(PolicyConfig{
				Hosts:    hosts,
				Prompter: prompter,
				Clock:    clk,
				Logger:   discardLogger(),
			})
			if err != nil {
				t.Fatalf("NewPolicy: %v", err)
			}
			if got := policy.Evaluate(context.Background(), testKey()); got != test.want {
				t.Fatalf("decision = %v, want %v", got, test.want)
			}
		})
	}
}

// A request denied by host policy still stamps the rate-limit
// timestamp, so the next request inside the interval is rate limited
// rather than re-evaluated against the host list.
func TestPolicyHostDenialCountsForRateLimit(t *testing.T) {
	clk := testClock()
	hosts, _ := testHostPolicy(t, "example.com ssh-ed25519 AAAA\n", false)
	policy, err := NewPolicy(PolicyConfig{
		MinSignInterval: time.Second,
		Hosts:           hosts,
		Clock:           clk,
		Logger:          discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	ctx := context.Background()

	if got := policy.Evaluate(ctx, testKey()); got != DecisionHostDenied {
		t.Fatalf("first decision = %v, want host_denied", got)
	}
	clk.Advance(100 * time.Millisecond)
	if got := policy.Evaluate(ctx, testKey()); got != DecisionRateLimited {
		t.Fatalf("second decision = %v, want rate_limited", got)
	}
}

func TestNewPolicyValidation(t *testing.T) {
	if _, err := NewPolicy(PolicyConfig{RequireConfirm: true}); err == nil {
		t.Error("expected error for RequireConfirm without Prompter")
	}

	hosts, _ := testHostPolicy(t, "", true)
	if _, err := NewPolicy(PolicyConfig{Hosts: hosts}); err == nil {
		t.Error("expected error for confirm_unknown host policy without Prompter")
	}
}

func TestPolicySnapshot(t *testing.T) {
	clk := testClock()
	hosts, _ := testHostPolicy(t, "example.com ssh-ed25519 AAAA\n", true)
	prompter := startPrompter(t, clk, func(string) (bool, error) { return true, nil })
	policy, err := NewPolicy(PolicyConfig{
		RequireConfirm:  true,
		MinSignInterval: 1500 * time.Millisecond,
		Prompter:        prompter,
		Hosts:           hosts,
		Clock:           clk,
		Logger:          discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}

	snapshot := policy.Snapshot()
	if !snapshot.RequireConfirm || snapshot.MinIntervalMillis != 1500 {
		t.Errorf("snapshot = %+v, want require_confirm with 1500ms interval", snapshot)
	}
	if !snapshot.HostsEnforced || !snapshot.ConfirmUnknown {
		t.Errorf("snapshot = %+v, want hosts enforced with confirm_unknown", snapshot)
	}
	if snapshot.LastSign != "" {
		t.Errorf("LastSign = %q before any signature", snapshot.LastSign)
	}

	// Host hint missing, but confirm_unknown approves it.
	if got := policy.Evaluate(context.Background(), testKey()); got != DecisionAllow {
		t.Fatalf("decision = %v, want allow", got)
	}
	snapshot = policy.Snapshot()
	if snapshot.LastSign != clk.Now().UTC().Format(time.RFC3339) {
		t.Errorf("LastSign = %q, want %q", snapshot.LastSign, clk.Now().UTC().Format(time.RFC3339))
	}
}
