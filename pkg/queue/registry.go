package queue

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Queue is the registered handle for a named queue.
// Its config never changes after registration; only the counters move.
type Queue struct {
	name string
	cfg  QueueConfig

	enqueued  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
}

// Name returns the queue name
func (q *Queue) Name() string { return q.name }

// Config returns the resolved queue configuration
func (q *Queue) Config() QueueConfig { return q.cfg }

// Concurrency returns the max number of handlers running in parallel for this queue
func (q *Queue) Concurrency() int { return q.cfg.Concurrency }

// Retention returns the queue's cleanup policy
func (q *Queue) Retention() Retention { return *q.cfg.Retention }

// QueueCounters are in-process counters since startup
type QueueCounters struct {
	Enqueued  int64 `json:"enqueued"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
}

// Counters returns a snapshot of the in-process counters
func (q *Queue) Counters() QueueCounters {
	return QueueCounters{
		Enqueued:  q.enqueued.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Retried:   q.retried.Load(),
	}
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithDefaults replaces the global defaults layer. Zero fields, nil pointers
// and out-of-range priorities keep the built-in values.
func WithDefaults(d Defaults) RegistryOption {
	return func(r *Registry) {
		if d.Attempts > 0 {
			r.defaults.Attempts = d.Attempts
		}
		if d.Concurrency > 0 {
			r.defaults.Concurrency = d.Concurrency
		}
		if d.Priority != nil && d.Priority.Valid() {
			p := *d.Priority
			r.defaults.Priority = &p
		}
		if !d.Backoff.IsZero() {
			r.defaults.Backoff = d.Backoff
		}
		if d.Retention != nil {
			ret := *d.Retention
			r.defaults.Retention = &ret
		}
	}
}

// Registry maps queue names to queues and job types to definitions.
// Populate it at startup; lookups are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	queues   map[string]*Queue
	defs     map[string]Definition
	defaults Defaults
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		queues:   make(map[string]*Queue),
		defs:     make(map[string]Definition),
		defaults: GlobalDefaults(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Defaults returns the global defaults layer
func (r *Registry) Defaults() Defaults {
	return r.defaults
}

// RegisterQueue registers a queue. Registering the same name again with an
// equivalent config returns the existing handle; a different config is a
// configuration error.
func (r *Registry) RegisterQueue(name string, cfg QueueConfig) (*Queue, error) {
	if name == "" {
		return nil, configError(ErrUnknownQueue, "queue name cannot be empty")
	}
	if cfg.Priority != nil && !cfg.Priority.Valid() {
		return nil, configError(ErrInvalidPriority, "queue %q", name)
	}

	resolved := cfg.resolve(r.defaults)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.queues[name]; ok {
		if existing.cfg.equal(resolved) {
			return existing, nil
		}
		return nil, configError(ErrQueueConflict, "queue %q", name)
	}

	q := &Queue{name: name, cfg: resolved}
	r.queues[name] = q
	return q, nil
}

// RegisterQueues registers every queue from a topology map
func (r *Registry) RegisterQueues(queues map[string]QueueConfig) error {
	names := make([]string, 0, len(queues))
	for name := range queues {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		if _, err := r.RegisterQueue(name, queues[name]); err != nil {
			return err
		}
	}
	return nil
}

// Queue returns the handle for a registered queue
func (r *Registry) Queue(name string) (*Queue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.queues[name]
	if !ok {
		return nil, configError(ErrUnknownQueue, "queue %q", name)
	}
	return q, nil
}

// Queues returns all registered queues sorted by name
func (r *Registry) Queues() []*Queue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	qs := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		qs = append(qs, q)
	}
	slices.SortFunc(qs, func(a, b *Queue) int {
		if a.name < b.name {
			return -1
		}
		if a.name > b.name {
			return 1
		}
		return 0
	})
	return qs
}

// QueueNames returns the sorted names of all registered queues
func (r *Registry) QueueNames() []string {
	qs := r.Queues()
	names := make([]string, len(qs))
	for i, q := range qs {
		names[i] = q.name
	}
	return names
}

// Definition returns the definition registered for jobType
func (r *Registry) Definition(jobType string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.defs[jobType]
	if !ok {
		return nil, configError(ErrUnknownJobType, "job type %q", jobType)
	}
	return d, nil
}

// Definitions returns all registered definitions sorted by job type
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		defs = append(defs, d)
	}
	slices.SortFunc(defs, func(a, b Definition) int {
		if a.JobType() < b.JobType() {
			return -1
		}
		if a.JobType() > b.JobType() {
			return 1
		}
		return 0
	})
	return defs
}

func (r *Registry) addDefinition(d Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.defs[d.JobType()]; ok {
		return configError(ErrJobTypeRegistered, "job type %q", d.JobType())
	}
	r.defs[d.JobType()] = d
	return nil
}
