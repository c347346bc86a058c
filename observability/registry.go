package observability

import (
	"fmt"
	"log/slog"
	"sync"
)

// The registry lets configuration name an Observer ("noop", "slog", or a
// host-registered one) instead of threading a value through every config
// struct. "noop" and "slog" are always present.
var (
	mu        sync.RWMutex
	observers = map[string]Observer{
		"noop": NoOpObserver{},
		"slog": NewSlogObserver(slog.Default()),
	}
)

// Resolve returns the observer registered under name.
func Resolve(name string) (Observer, error) {
	mu.RLock()
	defer mu.RUnlock()
	o, ok := observers[name]
	if !ok {
		return nil, fmt.Errorf("observability: no observer registered as %q", name)
	}
	return o, nil
}

// Register adds or replaces the observer registered under name.
func Register(name string, o Observer) {
	mu.Lock()
	defer mu.Unlock()
	observers[name] = o
}
