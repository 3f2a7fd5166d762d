// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction so that
// lockout windows, signing rate limits, and prompt timeouts are
// testable without real sleeps.
//
// Production code accepts a Clock instead of calling time.Now,
// time.After, or time.Sleep directly. Real() is the standard library
// behavior; Fake() is a deterministic clock that moves only when
// Advance is called.
//
// Structs that use time carry a Clock field:
//
//	type Guard struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// Tests drive it explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	guard := NewGuard(repo, c, logger)
//	// ... five failed attempts ...
//	c.Advance(5 * time.Minute) // lockout expires deterministically
//
// When a goroutine registers an After or Sleep on a FakeClock, use
// WaitForTimers to block until the registration lands before calling
// Advance; that removes the race between registration and advancement.
package clock
