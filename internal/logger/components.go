package logger

import (
	"context"
	"io"
	"log/slog"
)

// ComponentKey is the attribute that selects a per-component level.
const ComponentKey = "component"

// componentHandler applies a level per value of the component attribute.
// Records without a component, or with one missing from levels, use base.
type componentHandler struct {
	inner     slog.Handler
	base      slog.Level
	levels    map[string]slog.Level
	component string
}

// NewComponents creates a JSON logger whose level depends on the component
// a record belongs to. The component is read from attributes added with
// Logger.With as well as from the record itself.
func NewComponents(base string, levels map[string]slog.Level, output io.Writer) *slog.Logger {
	lowest := ParseLevel(base)
	for _, l := range levels {
		lowest = minLevel(lowest, l)
	}
	inner := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: lowest})
	return slog.New(&componentHandler{inner: inner, base: ParseLevel(base), levels: levels})
}

func minLevel(a, b slog.Level) slog.Level {
	if b < a {
		return b
	}
	return a
}

func (h *componentHandler) levelFor(component string) slog.Level {
	if l, ok := h.levels[component]; ok {
		return l
	}
	return h.base
}

func (h *componentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.component != "" {
		return level >= h.levelFor(h.component)
	}
	// the component may still arrive with the record
	return h.inner.Enabled(ctx, level)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	component := h.component
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == ComponentKey {
			component = a.Value.String()
			return false
		}
		return true
	})
	if r.Level < h.levelFor(component) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.inner = h.inner.WithAttrs(attrs)
	for _, a := range attrs {
		if a.Key == ComponentKey {
			next.component = a.Value.String()
		}
	}
	return &next
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.inner = h.inner.WithGroup(name)
	return &next
}
