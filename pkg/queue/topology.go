package queue

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Topology is the on-disk description of queues and global defaults.
//
//	defaults:
//	  attempts: 3
//	  priority: 0
//	  retention: {completed_count: 100, failed_age: 72h}
//	queues:
//	  email:
//	    concurrency: 2
//	    backoff: {type: exponential, delay: 1s, max_delay: 1m}
type Topology struct {
	Defaults struct {
		Attempts    int        `yaml:"attempts"`
		Concurrency int        `yaml:"concurrency"`
		Priority    *Priority  `yaml:"priority"`
		Backoff     Backoff    `yaml:"backoff"`
		Retention   *Retention `yaml:"retention"`
	} `yaml:"defaults"`
	Queues map[string]QueueConfig `yaml:"queues"`
}

// LoadTopology decodes a YAML topology
func LoadTopology(r io.Reader) (*Topology, error) {
	var t Topology
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		if errors.Is(err, io.EOF) {
			return &t, nil
		}
		return nil, fmt.Errorf("failed to decode queue topology: %w", err)
	}
	return &t, nil
}

// RegistryOptions converts the topology defaults into registry options
func (t *Topology) RegistryOptions() []RegistryOption {
	return []RegistryOption{WithDefaults(Defaults{
		Attempts:    t.Defaults.Attempts,
		Concurrency: t.Defaults.Concurrency,
		Priority:    t.Defaults.Priority,
		Backoff:     t.Defaults.Backoff,
		Retention:   t.Defaults.Retention,
	})}
}

// NewRegistryFromTopology builds a registry with every queue in t registered
func NewRegistryFromTopology(t *Topology, opts ...RegistryOption) (*Registry, error) {
	if p := t.Defaults.Priority; p != nil && !p.Valid() {
		return nil, configError(ErrInvalidPriority, "topology default priority %d", *p)
	}
	r := NewRegistry(append(t.RegistryOptions(), opts...)...)
	if err := r.RegisterQueues(t.Queues); err != nil {
		return nil, err
	}
	return r, nil
}
