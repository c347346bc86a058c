package observability

import (
	"context"
	"log/slog"
)

// SlogObserver writes events to a slog.Logger: the event type becomes the
// message, the Resource fields become top-level attributes (see
// Resource.Attrs), and Data keys follow after them.
type SlogObserver struct {
	logger *slog.Logger
}

// NewSlogObserver wraps logger as an Observer.
func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	return &SlogObserver{logger: logger}
}

func (o *SlogObserver) Observe(ctx context.Context, event Event) {
	attrs := make([]slog.Attr, 0, len(event.Data)+5)
	attrs = append(attrs, slog.String("source", event.Source))
	attrs = append(attrs, event.Resource.Attrs()...)
	for k, v := range event.Data {
		attrs = append(attrs, slog.Any(k, v))
	}
	o.logger.LogAttrs(ctx, event.Level.SlogLevel(), string(event.Type), attrs...)
}
