package engine

import (
	"context"
	"fmt"
	"sync"
)

// Document is one record in a Store table. Concrete engine code stores
// pointers to its instance types (*ConditionInstance, *TaskInstance, ...)
// as Documents; callers outside this package never construct one directly.
type Document any

// Table names the engine persists to. A Store implementation need not use
// these as literal namespaces, but the engine always passes one of them.
const (
	TableWorkflows     = "workflows"
	TableTasks         = "tasks"
	TableConditions    = "conditions"
	TableWorkItems     = "workItems"
	TableStatsShards   = "taskStatsShards"
	TableScheduled     = "scheduledInitializations"
	TableMigrations    = "migrations"
	TableAuditTraces   = "auditTraces"
	TableAuditSpans    = "auditSpans"
	TableAuditContexts = "auditContexts"
)

// Store is the document-store contract the engine is built against: insert
// assigns an id, Get/Patch/Replace/Delete address a single document by id,
// and Query supports an index-filtered scan. It mirrors a
// db.insert/get/patch/query().withIndex() style backend; MemoryStore and
// FileStore are the two bundled implementations, and a host embedding the
// engine may supply its own (e.g. over a real transactional KV store).
type Store interface {
	Insert(ctx context.Context, table string, doc Document) (string, error)
	Get(ctx context.Context, table, id string) (Document, error)
	Patch(ctx context.Context, table, id string, apply func(doc Document) (Document, error)) error
	Replace(ctx context.Context, table, id string, doc Document) error
	Delete(ctx context.Context, table, id string) error
	Query(table string) Query
}

// Query is a lazily-built, index-filtered scan over one table.
type Query interface {
	// WithIndex restricts the scan to documents for which match returns
	// true. name is advisory (it identifies the conceptual index for
	// logging/metrics); MemoryStore and FileStore both implement it as a
	// predicate scan rather than a real secondary index.
	WithIndex(name string, match func(doc Document) bool) Query
	Collect(ctx context.Context) ([]Document, error)
	First(ctx context.Context) (Document, bool, error)
	Unique(ctx context.Context) (Document, error)
}

// errNotUnique is wrapped in the KindDataIntegrity error Query.Unique
// returns when more than one document matches.
var errNotUnique = fmt.Errorf("query matched more than one document")

// MemoryStore is an in-process Store backed by maps guarded by a single
// mutex. It is the default Store for tests and for short-lived processes
// and provides no durability across restarts.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string]map[string]Document
	seq    uint64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: map[string]map[string]Document{}}
}

func (s *MemoryStore) table(name string) map[string]Document {
	t, ok := s.tables[name]
	if !ok {
		t = map[string]Document{}
		s.tables[name] = t
	}
	return t
}

func (s *MemoryStore) Insert(ctx context.Context, table string, doc Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("%s_%d", table, s.seq)
	s.table(table)[id] = doc
	return id, nil
}

func (s *MemoryStore) Get(ctx context.Context, table, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.table(table)[id]
	if !ok {
		return nil, notFound("Store.Get", "%s/%s", table, id)
	}
	return doc, nil
}

func (s *MemoryStore) Patch(ctx context.Context, table, id string, apply func(Document) (Document, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.table(table)[id]
	if !ok {
		return notFound("Store.Patch", "%s/%s", table, id)
	}
	next, err := apply(doc)
	if err != nil {
		return err
	}
	s.table(table)[id] = next
	return nil
}

func (s *MemoryStore) Replace(ctx context.Context, table, id string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table(table)[id] = doc
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, table, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.table(table), id)
	return nil
}

func (s *MemoryStore) Query(table string) Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]Document, 0, len(s.table(table)))
	ids := make([]string, 0, len(s.table(table)))
	for id, doc := range s.table(table) {
		snapshot = append(snapshot, doc)
		ids = append(ids, id)
	}
	return &memoryQuery{ids: ids, docs: snapshot}
}

type memoryQuery struct {
	ids  []string
	docs []Document
}

func (q *memoryQuery) WithIndex(_ string, match func(Document) bool) Query {
	filteredIDs := q.ids[:0:0]
	filtered := q.docs[:0:0]
	for i, doc := range q.docs {
		if match(doc) {
			filtered = append(filtered, doc)
			filteredIDs = append(filteredIDs, q.ids[i])
		}
	}
	return &memoryQuery{ids: filteredIDs, docs: filtered}
}

func (q *memoryQuery) Collect(ctx context.Context) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return q.docs, nil
}

func (q *memoryQuery) First(ctx context.Context) (Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if len(q.docs) == 0 {
		return nil, false, nil
	}
	return q.docs[0], true, nil
}

func (q *memoryQuery) Unique(ctx context.Context) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(q.docs) == 0 {
		return nil, notFound("Query.Unique", "no matching document")
	}
	if len(q.docs) > 1 {
		return nil, dataIntegrityErr("Query.Unique", "%w: got %d", errNotUnique, len(q.docs))
	}
	return q.docs[0], nil
}
