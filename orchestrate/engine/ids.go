package engine

import "github.com/google/uuid"

// newID returns a fresh random identifier for a store document. The
// orchestrator never parses or orders ids; they are opaque primary keys,
// matching the document-store model the engine is built on.
func newID() string {
	return uuid.NewString()
}
