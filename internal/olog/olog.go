// Package olog contains small helpers for consistent slog usage across Obelisk.
package olog

import (
	"fmt"
	"log/slog"
)

// HR returns a copy of log that includes fields for the given height and round.
//
// Most consensus log lines care about the height and round,
// so this shorthand saves repetition at call sites.
func HR(log *slog.Logger, height uint64, round uint32) *slog.Logger {
	return log.With("height", height, "round", round)
}

// Hex wraps a byte slice to ensure it serializes as a hex-encoded string.
// Without this, it gets rendered as a Unicode string with embedded escape codes.
type Hex []byte

func (v Hex) LogValue() slog.Value {
	return slog.StringValue(fmt.Sprintf("%x", v))
}
