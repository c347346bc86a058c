package engine

import "fmt"

// Builder assembles a WorkflowDefinition incrementally and validates its
// structural invariants on Build. It is not safe for concurrent use; build
// a definition once at startup and share the resulting *WorkflowDefinition.
type Builder struct {
	def *WorkflowDefinition
	err error
}

// NewBuilder starts a definition named name at version versionName.
func NewBuilder(name, versionName string) *Builder {
	return &Builder{
		def: &WorkflowDefinition{
			Name:                name,
			VersionName:         versionName,
			Conditions:          map[string]*ConditionDefinition{},
			Tasks:               map[string]*TaskDefinition{},
			CancellationRegions: map[string]CancellationRegion{},
		},
	}
}

// Deprecate marks the definition as deprecated: new root workflows should
// not be initialized against it, though in-flight instances continue.
func (b *Builder) Deprecate() *Builder {
	b.def.Deprecated = true
	return b
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Condition adds a place. The condition named by the last Start call
// becomes the net's single source; the one named by the last End call
// becomes its single sink.
func (b *Builder) Condition(name string) *Builder {
	if _, exists := b.def.Conditions[name]; exists {
		return b.fail(fmt.Errorf("condition %q defined twice", name))
	}
	if _, exists := b.def.Tasks[name]; exists {
		return b.fail(fmt.Errorf("%q defined as both a condition and a task", name))
	}
	b.def.Conditions[name] = &ConditionDefinition{Name: name}
	return b
}

// Start declares name as the workflow's single start condition, adding it
// if not already present.
func (b *Builder) Start(name string) *Builder {
	if _, exists := b.def.Conditions[name]; !exists {
		b.Condition(name)
	}
	b.def.StartCondition = name
	return b
}

// End declares name as the workflow's single end condition, adding it if
// not already present.
func (b *Builder) End(name string) *Builder {
	if _, exists := b.def.Conditions[name]; !exists {
		b.Condition(name)
	}
	b.def.EndCondition = name
	return b
}

// Task adds a transition.
func (b *Builder) Task(task *TaskDefinition) *Builder {
	if task.Name == "" {
		return b.fail(fmt.Errorf("task defined with empty name"))
	}
	if _, exists := b.def.Tasks[task.Name]; exists {
		return b.fail(fmt.Errorf("task %q defined twice", task.Name))
	}
	if _, exists := b.def.Conditions[task.Name]; exists {
		return b.fail(fmt.Errorf("%q defined as both a condition and a task", task.Name))
	}
	if task.Kind == nil {
		task.Kind = DummyTask{}
	}
	if (task.Split == SplitXor || task.Split == SplitOr) && task.Route == nil {
		return b.fail(fmt.Errorf("task %q has %s-split but no RouteFunc", task.Name, task.Split))
	}
	b.def.Tasks[task.Name] = task
	return b
}

// WithActivities attaches lifecycle callbacks to a previously-added task.
// Missing callbacks (a zero TaskActivities, or individual nil fields)
// default to no-op.
func (b *Builder) WithActivities(taskName string, activities TaskActivities) *Builder {
	task, ok := b.def.Tasks[taskName]
	if !ok {
		return b.fail(fmt.Errorf("WithActivities: task %q not defined", taskName))
	}
	task.Activities = activities
	return b
}

// WithWorkflowActivities attaches lifecycle callbacks to the workflow
// itself. Missing callbacks default to no-op.
func (b *Builder) WithWorkflowActivities(activities WorkflowActivities) *Builder {
	b.def.Activities = activities
	return b
}

// Flow adds a directed arc between two previously-declared elements.
func (b *Builder) Flow(from, to string) *Builder {
	b.def.flows = append(b.def.flows, Flow{From: from, To: to})
	return b
}

// CancellationRegion attaches a cancellation set to a task: the instant
// that task completes, every task/condition named here is forcibly
// withdrawn (running work canceled, tokens removed).
func (b *Builder) CancellationRegion(task string, tasks, conditions []string) *Builder {
	region := CancellationRegion{Tasks: map[string]struct{}{}, Conditions: map[string]struct{}{}}
	for _, t := range tasks {
		region.Tasks[t] = struct{}{}
	}
	for _, c := range conditions {
		region.Conditions[c] = struct{}{}
	}
	b.def.CancellationRegions[task] = region
	return b
}

// Migration attaches a fast-forward migration strategy to the definition.
func (b *Builder) Migration(m *MigrationDefinition) *Builder {
	b.def.Migration = m
	return b
}

// Build validates structural invariants and returns the finished
// definition. A definition with no start/end condition, a flow referencing
// an undeclared element, or an element unreachable from the start
// condition is a *EngineError of kind KindStructuralIntegrity.
func (b *Builder) Build() (*WorkflowDefinition, error) {
	if b.err != nil {
		return nil, structuralErr("Build", "%w", b.err)
	}
	d := b.def
	if d.StartCondition == "" {
		return nil, structuralErr("Build", "workflow %q has no start condition", d.Name)
	}
	if d.EndCondition == "" {
		return nil, structuralErr("Build", "workflow %q has no end condition", d.Name)
	}

	d.outgoing = make(map[string][]Flow, len(d.flows))
	d.incoming = make(map[string][]Flow, len(d.flows))
	for _, f := range d.flows {
		if !d.exists(f.From) {
			return nil, structuralErr("Build", "flow references undeclared element %q", f.From)
		}
		if !d.exists(f.To) {
			return nil, structuralErr("Build", "flow references undeclared element %q", f.To)
		}
		if d.IsCondition(f.From) == d.IsCondition(f.To) {
			return nil, structuralErr("Build", "flow %q->%q must connect a condition and a task", f.From, f.To)
		}
		d.outgoing[f.From] = append(d.outgoing[f.From], f)
		d.incoming[f.To] = append(d.incoming[f.To], f)
	}

	for name := range d.Tasks {
		if len(d.incoming[name]) == 0 {
			return nil, structuralErr("Build", "task %q has no incoming flow", name)
		}
		if len(d.outgoing[name]) == 0 {
			return nil, structuralErr("Build", "task %q has no outgoing flow", name)
		}
	}
	if len(d.incoming[d.StartCondition]) > 0 {
		return nil, structuralErr("Build", "start condition %q must not have incoming flows", d.StartCondition)
	}
	if len(d.outgoing[d.EndCondition]) > 0 {
		return nil, structuralErr("Build", "end condition %q must not have outgoing flows", d.EndCondition)
	}

	for name, region := range d.CancellationRegions {
		if !d.IsTask(name) {
			return nil, structuralErr("Build", "cancellation region attached to undeclared task %q", name)
		}
		for t := range region.Tasks {
			if !d.IsTask(t) {
				return nil, structuralErr("Build", "cancellation region of %q names undeclared task %q", name, t)
			}
		}
		for c := range region.Conditions {
			if !d.IsCondition(c) {
				return nil, structuralErr("Build", "cancellation region of %q names undeclared condition %q", name, c)
			}
		}
	}

	if err := d.checkReachability(); err != nil {
		return nil, err
	}

	if d.Migration != nil {
		for name := range d.Migration.Migrators {
			if !d.IsTask(name) {
				return nil, structuralErr("Build", "migrator attached to undeclared task %q", name)
			}
		}
	}

	return d, nil
}

func (d *WorkflowDefinition) exists(name string) bool {
	return d.IsCondition(name) || d.IsTask(name)
}

// checkReachability ensures every element is reachable from the start
// condition by a forward walk of flows; an unreachable element can never
// receive a token and is almost certainly a wiring mistake.
func (d *WorkflowDefinition) checkReachability() error {
	visited := map[string]bool{d.StartCondition: true}
	queue := []string{d.StartCondition}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range d.Successors(cur) {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	for name := range d.Conditions {
		if !visited[name] {
			return structuralErr("Build", "condition %q is unreachable from start condition %q", name, d.StartCondition)
		}
	}
	for name := range d.Tasks {
		if !visited[name] {
			return structuralErr("Build", "task %q is unreachable from start condition %q", name, d.StartCondition)
		}
	}
	return nil
}
