// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the process logger: slog lines written to the
// console and to an append-only log file, with configured secrets redacted.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const secretToken = "[secret]"

// Options configures New.
type Options struct {
	// Format selects the handler: "json" or "text" (default).
	Format string
	// Console receives every line; nil means os.Stderr.
	Console io.Writer
	// FilePath is the append-only log file. Empty disables file output.
	FilePath string
	// Verbosity > 0 enables debug output (span lines included).
	Verbosity int
	// Secrets are replaced by [secret] wherever they appear.
	Secrets []string
}

// New returns the configured logger and a closer for the log file.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	out := console
	var closer io.Closer = nopCloser{}
	if path := strings.TrimSpace(opts.FilePath); path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create log dir: %w", err)
			}
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(console, f)
		closer = f
	}

	level := slog.LevelInfo
	if opts.Verbosity > 0 {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactAttr(NewLineRedactor(opts.Secrets)),
	}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	default:
		handler = slog.NewTextHandler(out, handlerOpts)
	}
	return slog.New(handler), closer, nil
}

// NewLineRedactor returns a function replacing every non-empty secret value
// in a line, or nil when there is nothing to redact.
func NewLineRedactor(secretValues []string) func(string) string {
	filtered := make([]string, 0, len(secretValues))
	for _, val := range secretValues {
		if val != "" {
			filtered = append(filtered, val)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return func(line string) string {
		for _, secret := range filtered {
			line = strings.ReplaceAll(line, secret, secretToken)
		}
		return line
	}
}

func redactAttr(redactor func(string) string) func([]string, slog.Attr) slog.Attr {
	if redactor == nil {
		return nil
	}
	return func(_ []string, a slog.Attr) slog.Attr {
		switch a.Value.Kind() {
		case slog.KindString:
			if s := a.Value.String(); s != "" {
				if r := redactor(s); r != s {
					return slog.String(a.Key, r)
				}
			}
		case slog.KindAny:
			s := fmt.Sprint(a.Value.Any())
			if r := redactor(s); r != s {
				return slog.String(a.Key, r)
			}
		}
		return a
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
