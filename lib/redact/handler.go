// Copyright 2026 The Coffer Authors
// SPDX-License-Identifier: Apache-2.0

package redact

import (
	"context"
	"log/slog"
	"strings"
)

// Handler is a slog.Handler that scrubs the record message and every
// string attribute value before delegating to the wrapped handler.
// Attributes whose key is in the sensitive vocabulary are masked
// outright, whatever their value looks like.
type Handler struct {
	inner slog.Handler
}

// NewHandler wraps inner so every record passing through is scrubbed.
func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

// Enabled delegates to the wrapped handler.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle rebuilds the record with a scrubbed message and attributes,
// then delegates.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, Scrub(record.Message), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(scrubAttr(attr))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

// WithAttrs scrubs the attributes before attaching them downstream.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbed := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		scrubbed[i] = scrubAttr(attr)
	}
	return &Handler{inner: h.inner.WithAttrs(scrubbed)}
}

// WithGroup delegates; group members are scrubbed as they arrive.
func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}

func scrubAttr(attr slog.Attr) slog.Attr {
	if sensitiveKey(attr.Key) {
		return slog.String(attr.Key, Mask)
	}
	switch attr.Value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, Scrub(attr.Value.String()))
	case slog.KindGroup:
		members := attr.Value.Group()
		scrubbed := make([]slog.Attr, len(members))
		for i, member := range members {
			scrubbed[i] = scrubAttr(member)
		}
		return slog.Attr{Key: attr.Key, Value: slog.GroupValue(scrubbed...)}
	default:
		return attr
	}
}

// sensitiveKey reports whether an attribute key ends with a
// vocabulary word, compared case-insensitively.
func sensitiveKey(key string) bool {
	lowered := strings.ToLower(key)
	for _, word := range vocabulary {
		if strings.HasSuffix(lowered, word) {
			return true
		}
	}
	return lowered == "authorization"
}
