// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for coffer packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls. These are
// the only place in the test suite where real wall-clock timeouts
// appear; everything else drives a clock.Fake.
//
// [SocketDir] creates a short-pathed temporary directory in /tmp for
// Unix domain sockets. Unix socket paths are limited to 108 bytes
// (sun_path in sockaddr_un), and t.TempDir() can exceed that under
// build systems that nest TEST_TMPDIR deeply. The directory is removed
// when the test completes.
//
// [UniqueID] generates monotonically increasing identifiers so tests
// can mint distinguishable credential names without consulting the
// clock.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
