package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Definition binds a job type to its queue, payload schema and handler.
// The registry dispatches on JobType when a worker leases a job.
type Definition interface {
	JobType() string
	Queue() *Queue
	Priority() Priority
	Attempts() int
	Backoff() Backoff
	Timeout() time.Duration

	// Validate checks payload against the schema and returns its canonical JSON
	Validate(payload any) (json.RawMessage, error)

	// Handle decodes a stored payload, runs the handler and encodes its result
	Handle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

// Validatable payloads get their Validate method called after decoding
type Validatable interface {
	Validate() error
}

// HandlerFunc processes one job payload and returns a result visible to parents and introspection
type HandlerFunc[T, R any] func(ctx context.Context, payload T) (R, error)

// NoResult is a convenience result type for handlers that return nothing
type NoResult = struct{}

// DefinitionOption overrides queue defaults for one job type
type DefinitionOption func(*definitionOptions)

type definitionOptions struct {
	priority *Priority
	attempts int
	backoff  Backoff
	timeout  time.Duration
}

// WithJobPriority overrides the queue's default priority
func WithJobPriority(p Priority) DefinitionOption {
	return func(o *definitionOptions) {
		if p.Valid() {
			o.priority = &p
		}
	}
}

// WithJobAttempts overrides the queue's default max attempts
func WithJobAttempts(n int) DefinitionOption {
	return func(o *definitionOptions) {
		if n > 0 {
			o.attempts = n
		}
	}
}

// WithJobBackoff overrides the queue's default backoff
func WithJobBackoff(b Backoff) DefinitionOption {
	return func(o *definitionOptions) {
		if !b.IsZero() {
			o.backoff = b
		}
	}
}

// WithJobTimeout bounds a single handler invocation
func WithJobTimeout(d time.Duration) DefinitionOption {
	return func(o *definitionOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// JobDefinition is the typed Definition produced by Define
type JobDefinition[T, R any] struct {
	jobType  string
	queue    *Queue
	handler  HandlerFunc[T, R]
	priority Priority
	attempts int
	backoff  Backoff
	timeout  time.Duration
}

// Define registers a job type on queueName with a typed payload and handler.
// It fails with ErrConfiguration when the type is taken or the queue is unknown.
func Define[T, R any](r *Registry, jobType, queueName string, handler HandlerFunc[T, R], opts ...DefinitionOption) (*JobDefinition[T, R], error) {
	if r == nil {
		return nil, ErrRegistryNil
	}
	if jobType == "" {
		return nil, configError(ErrUnknownJobType, "job type cannot be empty")
	}
	if handler == nil {
		return nil, configError(ErrHandlerNotFound, "job type %q has nil handler", jobType)
	}

	q, err := r.Queue(queueName)
	if err != nil {
		return nil, fmt.Errorf("define %q: %w", jobType, err)
	}

	options := &definitionOptions{}
	for _, opt := range opts {
		opt(options)
	}

	qcfg := q.Config()
	d := &JobDefinition[T, R]{
		jobType:  jobType,
		queue:    q,
		handler:  handler,
		priority: *qcfg.Priority,
		attempts: qcfg.Attempts,
		backoff:  qcfg.Backoff,
		timeout:  options.timeout,
	}
	if options.priority != nil {
		d.priority = *options.priority
	}
	if options.attempts > 0 {
		d.attempts = options.attempts
	}
	if !options.backoff.IsZero() {
		d.backoff = options.backoff
		if d.backoff.Type == "" {
			d.backoff.Type = BackoffExponential
		}
	}

	if err := r.addDefinition(d); err != nil {
		return nil, err
	}
	return d, nil
}

// MustDefine is like Define but panics on error. Use it during startup wiring.
func MustDefine[T, R any](r *Registry, jobType, queueName string, handler HandlerFunc[T, R], opts ...DefinitionOption) *JobDefinition[T, R] {
	d, err := Define(r, jobType, queueName, handler, opts...)
	if err != nil {
		panic(fmt.Sprintf("queue: failed to define job %q: %v", jobType, err))
	}
	return d
}

func (d *JobDefinition[T, R]) JobType() string        { return d.jobType }
func (d *JobDefinition[T, R]) Queue() *Queue          { return d.queue }
func (d *JobDefinition[T, R]) Priority() Priority     { return d.priority }
func (d *JobDefinition[T, R]) Attempts() int          { return d.attempts }
func (d *JobDefinition[T, R]) Backoff() Backoff       { return d.backoff }
func (d *JobDefinition[T, R]) Timeout() time.Duration { return d.timeout }

// Validate implements Definition
func (d *JobDefinition[T, R]) Validate(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, errors.Join(ErrValidation, ErrPayloadNil)
	}

	var raw []byte
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Join(ErrValidation, fmt.Errorf("failed to marshal payload of type %T: %w", payload, err))
		}
		raw = b
	}

	v, err := d.decode(raw)
	if err != nil {
		return nil, errors.Join(ErrValidation, err)
	}

	canonical, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Join(ErrValidation, err)
	}
	return canonical, nil
}

// Handle implements Definition
func (d *JobDefinition[T, R]) Handle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	v, err := d.decode(payload)
	if err != nil {
		// A stored payload that no longer decodes will never succeed
		return nil, NonRetryable(err)
	}

	res, err := d.handler(ctx, v)
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(res)
	if err != nil {
		return nil, NonRetryable(fmt.Errorf("failed to marshal result of %q: %w", d.jobType, err))
	}
	return out, nil
}

// Enqueue is a typed shortcut for e.Enqueue(ctx, d.JobType(), payload, opts...)
func (d *JobDefinition[T, R]) Enqueue(ctx context.Context, e *Enqueuer, payload T, opts ...EnqueueOption) (uuid.UUID, error) {
	return e.Enqueue(ctx, d.jobType, payload, opts...)
}

// decode parses raw strictly into T and runs its Validate method if present
func (d *JobDefinition[T, R]) decode(raw []byte) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("payload does not match %q schema: %w", d.jobType, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return v, fmt.Errorf("payload for %q has trailing data after the JSON value", d.jobType)
	}

	if val, ok := any(&v).(Validatable); ok {
		if err := val.Validate(); err != nil {
			return v, err
		}
	} else if val, ok := any(v).(Validatable); ok {
		if err := val.Validate(); err != nil {
			return v, err
		}
	}
	return v, nil
}
