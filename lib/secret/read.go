// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"fmt"
	"os"

	"golang.org/x/term"
)

// ReadFromPath reads a secret from a file path, or from stdin if path
// is "-". Leading and trailing whitespace is trimmed before storing,
// and every intermediate heap copy is zeroed. Returns an error if the
// source is empty after trimming.
func ReadFromPath(path string) (*Buffer, error) {
	var data []byte

	if path == "-" {
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading stdin: %w", err)
			}
			return nil, fmt.Errorf("stdin is empty")
		}
		data = scanner.Bytes()
	} else {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, fmt.Errorf("secret is empty")
	}

	// NewFromBytes zeros trimmed; the surrounding whitespace bytes in
	// data still need wiping separately.
	buffer, err := NewFromBytes(trimmed)
	Zero(data)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}

// ReadFromEnv reads a secret from the named environment variable.
// The variable's value cannot be zeroed (the runtime owns the copy
// handed to the process), but the buffer keeps every later copy
// locked. Returns an error if the variable is unset or empty.
func ReadFromEnv(name string) (*Buffer, error) {
	value, ok := os.LookupEnv(name)
	if !ok {
		return nil, fmt.Errorf("environment variable %s is not set", name)
	}
	if value == "" {
		return nil, fmt.Errorf("environment variable %s is empty", name)
	}
	return NewFromBytes([]byte(value))
}

// ReadFromTerminal prompts on the controlling terminal and reads a
// line with echo disabled. Prefers /dev/tty so the prompt works even
// when stdio is redirected; falls back to stdin when stdin is a
// terminal. Returns an error when no terminal is available.
func ReadFromTerminal(prompt string) (*Buffer, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, fmt.Errorf("no terminal available for password prompt")
		}
		fmt.Fprint(os.Stderr, prompt)
		return readPassword(int(os.Stdin.Fd()), os.Stderr)
	}
	defer tty.Close()

	fmt.Fprint(tty, prompt)
	return readPassword(int(tty.Fd()), tty)
}

func readPassword(fd int, echo *os.File) (*Buffer, error) {
	line, err := term.ReadPassword(fd)
	fmt.Fprintln(echo)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}

	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		Zero(line)
		return nil, fmt.Errorf("password is empty")
	}

	buffer, err := NewFromBytes(trimmed)
	Zero(line)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}
