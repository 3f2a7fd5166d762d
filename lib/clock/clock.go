// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations the vault depends on: lockout
// expiry, rate-limit windows, and prompt timeouts. Production code
// injects Real(); tests inject Fake() and advance time explicitly.
//
// Any function that would call time.Now, time.After, or time.Sleep
// takes a Clock (or sits on a struct with a Clock field) instead of
// reaching for the time package directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d elapses. If d <= 0, the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the calling goroutine for at least duration d.
	Sleep(d time.Duration)
}
