// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/coffer-foundation/coffer/lib/clock"
)

// ErrPromptTimeout reports that an interactive confirmation was not
// answered within the configured window.
var ErrPromptTimeout = errors.New("confirmation prompt timed out")

// defaultPromptTimeout bounds how long a sign request waits for a
// human answer. An unbounded prompt would let one unanswered request
// hold the policy lock forever.
const defaultPromptTimeout = 30 * time.Second

// AskFunc reads one yes/no answer from the user. It may block
// indefinitely on terminal input; the Prompter isolates that blocking
// read on its own goroutine.
type AskFunc func(question string) (bool, error)

// PrompterConfig configures a Prompter.
type PrompterConfig struct {
	// Ask performs the blocking read. Defaults to AskTerminal.
	Ask AskFunc

	// Timeout bounds each confirmation. Defaults to 30 seconds.
	Timeout time.Duration

	// Clock drives the timeout. Defaults to the wall clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// Prompter serializes interactive confirmations onto one dedicated
// worker goroutine. Connection handlers never perform terminal reads
// themselves: they send a question over a channel and wait for the
// reply with a bounded timeout, so an unanswered prompt stalls only
// the requests queued behind it, never the network side of the agent.
type Prompter struct {
	ask      AskFunc
	timeout  time.Duration
	clock    clock.Clock
	logger   *slog.Logger
	requests chan promptRequest
}

type promptRequest struct {
	question string
	reply    chan promptReply
}

type promptReply struct {
	confirmed bool
	err       error
}

// NewPrompter returns a Prompter. Run must be started before Confirm
// is called.
func NewPrompter(config PrompterConfig) *Prompter {
	ask := config.Ask
	if ask == nil {
		ask = AskTerminal
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultPromptTimeout
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Prompter{
		ask:      ask,
		timeout:  timeout,
		clock:    clk,
		logger:   logger,
		requests: make(chan promptRequest),
	}
}

// Run processes confirmation requests until ctx is cancelled. A reply
// to a request whose caller already gave up is delivered into the
// buffered reply channel and dropped.
func (p *Prompter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case request := <-p.requests:
			confirmed, err := p.ask(request.question)
			request.reply <- promptReply{confirmed: confirmed, err: err}
		}
	}
}

// Confirm asks the user a yes/no question and returns the answer.
// Returns ErrPromptTimeout when no answer arrives within the
// configured window, counting from when Confirm is called: time spent
// queued behind an earlier prompt counts against the timeout.
func (p *Prompter) Confirm(ctx context.Context, question string) (bool, error) {
	request := promptRequest{
		question: question,
		reply:    make(chan promptReply, 1),
	}
	expired := p.clock.After(p.timeout)

	select {
	case p.requests <- request:
	case <-expired:
		return false, ErrPromptTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}

	select {
	case reply := <-request.reply:
		return reply.confirmed, reply.err
	case <-expired:
		p.logger.Warn("confirmation prompt timed out", "question", question)
		return false, ErrPromptTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// AskTerminal prompts on the controlling terminal, falling back to
// process stdio when /dev/tty cannot be opened. Only "y" or "yes"
// (case-insensitive) confirm; anything else, including a read error,
// declines.
func AskTerminal(question string) (bool, error) {
	input := os.Stdin
	output := os.Stderr
	if tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0); err == nil {
		defer tty.Close()
		input = tty
		output = tty
	}

	if _, err := fmt.Fprintf(output, "%s [y/N] ", question); err != nil {
		return false, fmt.Errorf("writing prompt: %w", err)
	}
	reader := bufio.NewReader(input)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("reading answer: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
