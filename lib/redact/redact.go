// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

// Package redact scrubs secret values out of log lines before they
// reach any sink. Scrub applies a fixed, ordered rule list to a
// string; Handler wraps a slog.Handler so every record is scrubbed on
// its way through, whatever code emitted it.
//
// The rules match on structure (key=value pairs, JSON fields,
// Authorization headers, well-known token prefixes, one-time codes)
// against a fixed vocabulary of sensitive field names. Only the value
// is replaced; keys and surrounding structure stay intact so the line
// remains readable.
package redact

import (
	"regexp"
	"strings"
)

// Mask is the replacement written over every matched secret value.
const Mask = "[REDACTED]"

// vocabulary is the fixed set of sensitive field names. A key matches
// when it ends with one of these words, so db_password and
// service_api_key are caught too. "authorization" is handled by its
// own header rule and deliberately left out of the pair rule: the
// header rule preserves the auth scheme, which the pair rule would
// clobber.
var vocabulary = []string{
	"password", "passwd", "passphrase", "pwd",
	"secret", "secret_key", "master_key",
	"token", "access_token", "refresh_token",
	"api_key", "apikey",
	"private_key", "privatekey",
	"mnemonic", "seed", "seed_phrase",
	"otp", "totp",
	"auth", "session", "cookie", "credential",
}

type rule struct {
	pattern *regexp.Regexp
	replace string
}

// rules run in order over the whole line. The Authorization rule must
// precede the generic pair rule so the scheme word survives; the JSON
// rule must precede the pair rule so quoted keys are handled with
// their quotes.
var rules = buildRules()

func buildRules() []rule {
	keys := `[A-Za-z0-9_.-]*(?:` + strings.Join(vocabulary, `|`) + `)`

	return []rule{
		// Authorization headers: mask the credential, keep the scheme.
		{
			pattern: regexp.MustCompile(`(?i)\b(authorization\s*[=:]\s*(?:(?:bearer|basic|token)\s+)?)\S+`),
			replace: `${1}` + Mask,
		},
		// JSON object fields with a sensitive key. String, numeric,
		// and literal values all collapse to a quoted mask.
		{
			pattern: regexp.MustCompile(`(?i)("` + keys + `"\s*:\s*)("(?:[^"\\]|\\.)*"|-?\d+(?:\.\d+)?|true|false|null)`),
			replace: `${1}"` + Mask + `"`,
		},
		// key=value and key: value pairs. The value ends at
		// whitespace or a pair separator unless quoted.
		{
			pattern: regexp.MustCompile(`(?i)\b(` + keys + `\s*[=:]\s*)("[^"]*"|'[^']*'|[^\s,;&]+)`),
			replace: `${1}` + Mask,
		},
		// Bare tokens with recognizable prefixes, wherever they
		// appear in the line.
		{
			pattern: regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{8,}|\bghp_[A-Za-z0-9]{20,}|\bxox[abprs]-[A-Za-z0-9-]{10,}|\bAKIA[0-9A-Z]{16}\b|\bAGE-SECRET-KEY-1[A-Z0-9]{10,}`),
			replace: Mask,
		},
		// PEM private-key blocks, including the delimiters: the body
		// is the secret and the header only advertises it.
		{
			pattern: regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
			replace: Mask,
		},
		// One-time codes in prose: a 4-8 digit run shortly after an
		// OTP keyword.
		{
			pattern: regexp.MustCompile(`(?i)\b((?:otp|totp|2fa|one[-_ ]?time[-_ ]?(?:code|password))\D{0,12}?)\d{4,8}\b`),
			replace: `${1}` + Mask,
		},
	}
}

// Scrub returns line with every matched secret value replaced by
// Mask. Lines with nothing sensitive come back unchanged.
func Scrub(line string) string {
	for _, r := range rules {
		line = r.pattern.ReplaceAllString(line, r.replace)
	}
	return line
}
