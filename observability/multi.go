package observability

import "context"

// MultiObserver forwards each event to every wrapped observer in order,
// for hosts that want a log sink and a metrics sink fed from one stream.
type MultiObserver struct {
	observers []Observer
}

// NewMultiObserver combines observers, dropping nils.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	kept := make([]Observer, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			kept = append(kept, o)
		}
	}
	return &MultiObserver{observers: kept}
}

func (m *MultiObserver) Observe(ctx context.Context, event Event) {
	for _, o := range m.observers {
		o.Observe(ctx, event)
	}
}
