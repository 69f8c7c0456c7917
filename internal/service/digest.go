package service

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
)

// teeHandler sends every record to all of its handlers.
type teeHandler struct {
	handlers []slog.Handler
}

func (h teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, hh := range h.handlers {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if err := hh.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (h teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		out[i] = hh.WithAttrs(attrs)
	}
	return teeHandler{handlers: out}
}

func (h teeHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		out[i] = hh.WithGroup(name)
	}
	return teeHandler{handlers: out}
}

// digest captures the info-and-above log lines of one task so they can be
// posted as a single notification. Not safe for concurrent use.
type digest struct {
	buf    bytes.Buffer
	logger *slog.Logger
}

// newDigest returns a digest whose logger also writes to base.
func newDigest(base *slog.Logger) *digest {
	d := &digest{}
	capture := slog.NewTextHandler(&d.buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})
	d.logger = slog.New(teeHandler{handlers: []slog.Handler{base.Handler(), capture}})
	return d
}

// Text returns the captured lines.
func (d *digest) Text() string {
	return strings.TrimRight(d.buf.String(), "\n")
}
