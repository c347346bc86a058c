package observability

import "context"

// NoOpObserver drops every event; the default for tests and for hosts
// that consume engine state through queries rather than the event stream.
type NoOpObserver struct{}

func (NoOpObserver) Observe(ctx context.Context, event Event) {}
