// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build version of Coffer binaries.
//
// The release version is set via -ldflags:
//
//	go build -ldflags "-X github.com/coffer-foundation/coffer/lib/version.Release=0.2.0"
//
// Commit and build time come from the Go module build info stamped by
// the toolchain, so plain `go build` in a git checkout produces a
// fully attributed binary without extra flags.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Release is the semantic version of the binary, overridden by
// -ldflags for tagged builds.
var Release = "0.1.0-dev"

type buildFacts struct {
	commit string
	time   string
	dirty  bool
}

var readFacts = sync.OnceValue(func() buildFacts {
	facts := buildFacts{commit: "unknown", time: "unknown"}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return facts
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if len(setting.Value) >= 12 {
				facts.commit = setting.Value[:12]
			} else if setting.Value != "" {
				facts.commit = setting.Value
			}
		case "vcs.time":
			if setting.Value != "" {
				facts.time = setting.Value
			}
		case "vcs.modified":
			facts.dirty = setting.Value == "true"
		}
	}
	return facts
})

// Info returns a one-line version string for --version output, for
// example "0.1.0-dev (3fa8c1d9e2b0, 2026-08-25T10:41:03Z)".
func Info() string {
	facts := readFacts()
	commit := facts.commit
	if facts.dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s, %s)", Release, commit, facts.time)
}

// Full returns Info plus the Go runtime and platform, one item per
// line, for verbose version output.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Commit returns the stamped VCS revision, or "unknown" when the
// binary was built outside a checkout.
func Commit() string {
	return readFacts().commit
}
