// Package logging builds the slog loggers shared by formtree components.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Option configures New.
type Option func(*options)

type options struct {
	out  io.Writer
	json bool
}

// WithOutput redirects log output. The default is Stderr, which keeps Stdout
// free for command output and JSON-RPC.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithJSON switches to one JSON object per record.
func WithJSON(enabled bool) Option {
	return func(o *options) { o.json = enabled }
}

// New creates the application logger. The "error" key is renamed to "err".
func New(level slog.Level, opts ...Option) *slog.Logger {
	o := options{out: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	hopts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	}
	if o.json {
		return slog.New(slog.NewJSONHandler(o.out, hopts))
	}
	return slog.New(slog.NewTextHandler(o.out, hopts))
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
