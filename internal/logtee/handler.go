// Package logtee mirrors slog records to an observer, so the application log
// can be streamed to bridge clients without a second logging pipeline.
package logtee

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"
)

// Entry is the mirrored view of one log record.
type Entry struct {
	Time  time.Time
	Level slog.Level
	Msg   string
	Group string
}

// Mirror receives each record at or above the capture threshold. It is
// called synchronously from the logging path and must return quickly.
type Mirror func(Entry)

// Handler wraps a base slog.Handler and tees records at or above minLevel to
// a mirror. All records still reach the base handler; only the mirror call
// is gated by minLevel.
type Handler struct {
	base     slog.Handler
	mirror   Mirror
	minLevel slog.Level
	group    string // accumulated dot-separated slog group name
}

// New creates a Handler that delegates to base and mirrors every record
// whose level is >= minLevel. A nil mirror is safe; the handler then simply
// delegates.
func New(base slog.Handler, minLevel slog.Level, mirror Mirror) *Handler {
	return &Handler{
		base:     base,
		mirror:   mirror,
		minLevel: minLevel,
	}
}

// Enabled defers to the base handler; the mirror threshold does not affect
// visibility.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle forwards the record to the base handler, then mirrors it when the
// level qualifies. The mirror runs regardless of base handler errors, and a
// panicking mirror never takes the logging path down with it.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	err := h.base.Handle(ctx, record)

	if h.mirror != nil && record.Level >= h.minLevel {
		func() {
			defer func() {
				if r := recover(); r != nil {
					// Can't use slog here; that would recurse into this
					// handler.
					fmt.Fprintf(os.Stderr, "[logtee] mirror panicked: %v\n%s\n", r, debug.Stack())
				}
			}()
			h.mirror(Entry{
				Time:  record.Time,
				Level: record.Level,
				Msg:   record.Message,
				Group: h.group,
			})
		}()
	}
	return err
}

// WithAttrs returns a Handler whose base has the attributes applied. The
// mirror, threshold, and accumulated group carry over.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return &Handler{
		base:     h.base.WithAttrs(attrs),
		mirror:   h.mirror,
		minLevel: h.minLevel,
		group:    h.group,
	}
}

// WithGroup returns a Handler with the group name appended to the
// accumulated dot-separated group path.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroup := name
	if h.group != "" {
		newGroup = h.group + "." + name
	}
	return &Handler{
		base:     h.base.WithGroup(name),
		mirror:   h.mirror,
		minLevel: h.minLevel,
		group:    newGroup,
	}
}
