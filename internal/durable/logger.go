package durable

import (
	"context"
	"log/slog"
)

// replayHandler drops records emitted while the workflow replays recorded
// calls, so each line is logged once per instance.
type replayHandler struct {
	inner slog.Handler
	wf    *Context
}

func (h *replayHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return !h.wf.IsReplaying() && h.inner.Enabled(ctx, level)
}

func (h *replayHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.wf.IsReplaying() {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *replayHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &replayHandler{inner: h.inner.WithAttrs(attrs), wf: h.wf}
}

func (h *replayHandler) WithGroup(name string) slog.Handler {
	return &replayHandler{inner: h.inner.WithGroup(name), wf: h.wf}
}
