package engine

import (
	"fmt"
	"sort"
	"sync"
)

// CallbackRegistry holds named ActionCallbacks and PolicyFuncs so a
// WorkflowDefinition can be assembled from a declarative (e.g.
// JSON-loaded) description that names callbacks by string instead of
// embedding Go closures directly.
type CallbackRegistry struct {
	mu        sync.RWMutex
	callbacks map[string]ActionCallback
	policies  map[string]PolicyFunc
	migrators map[string]MigratorFunc
}

// NewCallbackRegistry returns an empty registry.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{
		callbacks: make(map[string]ActionCallback),
		policies:  make(map[string]PolicyFunc),
		migrators: make(map[string]MigratorFunc),
	}
}

// RegisterCallback makes cb retrievable by name.
func (r *CallbackRegistry) RegisterCallback(name string, cb ActionCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[name] = cb
}

// Callback retrieves a previously registered ActionCallback.
func (r *CallbackRegistry) Callback(name string) (ActionCallback, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.callbacks[name]
	if !ok {
		return nil, fmt.Errorf("engine: no callback registered as %q", name)
	}
	return cb, nil
}

// RegisterPolicy makes p retrievable by name.
func (r *CallbackRegistry) RegisterPolicy(name string, p PolicyFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[name] = p
}

// Policy retrieves a previously registered PolicyFunc.
func (r *CallbackRegistry) Policy(name string) (PolicyFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	if !ok {
		return nil, fmt.Errorf("engine: no policy registered as %q", name)
	}
	return p, nil
}

// RegisterMigrator makes m retrievable by name for use in a
// MigrationDefinition.Migrators map.
func (r *CallbackRegistry) RegisterMigrator(name string, m MigratorFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.migrators[name] = m
}

// Migrator retrieves a previously registered MigratorFunc.
func (r *CallbackRegistry) Migrator(name string) (MigratorFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.migrators[name]
	if !ok {
		return nil, fmt.Errorf("engine: no migrator registered as %q", name)
	}
	return m, nil
}

// Names returns every registered callback name, sorted, for diagnostics.
func (r *CallbackRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.callbacks))
	for name := range r.callbacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
