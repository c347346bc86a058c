package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/tasquencer/orchestrator/observability"
)

// Engine is the running orchestrator: a Store, a registry of known
// WorkflowDefinition versions, an observer, a scheduler bridge, an audit
// bridge, and the stats-shard configuration every task inherits unless it
// overrides its own shard count.
//
// An Engine is safe for concurrent use; all mutation goes through the
// Store, which owns its own concurrency control.
type Engine struct {
	store     Store
	cfg       Config
	observer  observability.Observer
	scheduler Scheduler
	audit     *auditBridge
	metrics   *metricsSet

	mu          sync.RWMutex
	definitions map[string]map[string]*WorkflowDefinition // name -> version -> def
}

// New builds an Engine over store using cfg. A nil Scheduler defaults to an
// in-process, time.AfterFunc-backed implementation suitable for a single
// running process; pass your own Scheduler to bridge to an external
// one-shot scheduling system.
func New(store Store, cfg Config, scheduler Scheduler) (*Engine, error) {
	observer, err := observability.Resolve(cfg.Observer)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve observer %q: %w", cfg.Observer, err)
	}
	if scheduler == nil {
		scheduler = NewInMemoryScheduler(store)
	}
	e := &Engine{
		store:       store,
		cfg:         cfg,
		observer:    observer,
		scheduler:   scheduler,
		definitions: map[string]map[string]*WorkflowDefinition{},
	}
	e.audit = newAuditBridge(e, cfg.AuditBufferSize)
	e.metrics = newMetricsSet()
	return e, nil
}

// Register makes def available for Initialize/migration lookups, keyed by
// its Name and VersionName.
func (e *Engine) Register(def *WorkflowDefinition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	byVersion, ok := e.definitions[def.Name]
	if !ok {
		byVersion = map[string]*WorkflowDefinition{}
		e.definitions[def.Name] = byVersion
	}
	byVersion[def.VersionName] = def
}

// Definition looks up a previously-registered definition.
func (e *Engine) Definition(name, version string) (*WorkflowDefinition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	byVersion, ok := e.definitions[name]
	if !ok {
		return nil, notFound("Definition", "no workflow named %q registered", name)
	}
	def, ok := byVersion[version]
	if !ok {
		return nil, notFound("Definition", "workflow %q has no version %q registered", name, version)
	}
	return def, nil
}

// LatestDefinition returns the non-deprecated version of name whose
// VersionName sorts greatest as a string (not the one registered last),
// for callers that always want current behavior.
func (e *Engine) LatestDefinition(name string) (*WorkflowDefinition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	byVersion, ok := e.definitions[name]
	if !ok || len(byVersion) == 0 {
		return nil, notFound("LatestDefinition", "no workflow named %q registered", name)
	}
	var best *WorkflowDefinition
	for _, def := range byVersion {
		if def.Deprecated {
			continue
		}
		if best == nil || def.VersionName > best.VersionName {
			best = def
		}
	}
	if best == nil {
		return nil, notFound("LatestDefinition", "workflow %q has only deprecated versions registered", name)
	}
	return best, nil
}

func (e *Engine) definitionForWorkflow(ctx context.Context, workflowID string) (*WorkflowDefinition, error) {
	r := repo{store: e.store}
	w, err := r.getWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return e.Definition(w.Name, w.VersionName)
}

func (e *Engine) newNet(def *WorkflowDefinition) *net {
	return &net{def: def, repo: repo{store: e.store}, eng: e}
}

// rootCtx is used by background operations (audit flush, scheduled-timer
// callbacks) that run outside the lifetime of any single caller request.
func (e *Engine) rootCtx() context.Context {
	return context.Background()
}
