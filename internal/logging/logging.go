// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package logging builds the structured leveled logger shared by all
// pipeline components.
package logging

import (
	"io"
	"os"

	"github.com/phuslu/log"

	"github.com/pdiddy/citation-engine/pkg/types"
)

// New returns a logger at the given level. Format "json" writes one JSON
// object per line; anything else writes human-readable console lines.
func New(level, format string, w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	logger := &log.Logger{
		Level: log.ParseLevel(level),
	}
	if format == "json" {
		logger.Writer = &log.IOWriter{Writer: w}
	} else {
		logger.Writer = &log.ConsoleWriter{
			Writer:         w,
			ColorOutput:    isTerminal(w),
			QuoteString:    true,
			EndWithMessage: true,
		}
	}
	return logger
}

// FromConfig builds the logger described by cfg, writing to stderr.
func FromConfig(cfg types.LogConfig) *log.Logger {
	return New(cfg.Level, cfg.Format, os.Stderr)
}

// Nop returns a logger that discards everything.
func Nop() *log.Logger {
	return &log.Logger{Level: log.ErrorLevel, Writer: &log.IOWriter{Writer: io.Discard}}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
