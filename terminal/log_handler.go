package terminal

import (
	"context"
	"log/slog"
	"math"

	"github.com/fornellas/slogxt/log"
	"github.com/rivo/tview"
)

// ViewLogHandler implements slog.Handler, writing records to a tview.TextView, with the level
// decided by the handler it replaces.
type ViewLogHandler struct {
	originalHandler slog.Handler
	viewHandler     slog.Handler
	textView        *tview.TextView
}

func NewViewLogHandler(originalHandler slog.Handler, textView *tview.TextView) *ViewLogHandler {
	h := &ViewLogHandler{
		originalHandler: originalHandler,
		textView:        textView,
	}
	h.viewHandler = log.NewTerminalLineHandler(tview.ANSIWriter(textView), &log.TerminalHandlerOptions{
		HandlerOptions: slog.HandlerOptions{
			Level: slog.Level(math.MinInt),
		},
		TimeLayout:        "15:04:05",
		// tview.TextView does not handle emojis correctly: drawing is corrupted.
		DisableGroupEmoji: true,
		ForceColor:        true,
	})
	return h
}

func (h *ViewLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.originalHandler.Enabled(ctx, level)
}

func (h *ViewLogHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.viewHandler.Handle(ctx, record)
}

func (h *ViewLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ViewLogHandler{
		originalHandler: h.originalHandler.WithAttrs(attrs),
		viewHandler:     h.viewHandler.WithAttrs(attrs),
		textView:        h.textView,
	}
}

func (h *ViewLogHandler) WithGroup(name string) slog.Handler {
	return &ViewLogHandler{
		originalHandler: h.originalHandler.WithGroup(name),
		viewHandler:     h.viewHandler.WithGroup(name),
		textView:        h.textView,
	}
}
