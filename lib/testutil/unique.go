// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns "prefix-N" with N monotonically increasing. Use it
// instead of time.Now() when a test needs distinguishable credential
// names or comments.
//
//	name := testutil.UniqueID("cred") // "cred-1", "cred-2", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
