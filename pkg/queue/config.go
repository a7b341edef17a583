package queue

import "time"

// Config holds process-level settings for workers and maintenance loops
type Config struct {
	PollInterval    time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	LockTimeout     time.Duration `env:"QUEUE_LOCK_TIMEOUT" envDefault:"5m"`
	ShutdownTimeout time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	JanitorInterval time.Duration `env:"QUEUE_JANITOR_INTERVAL" envDefault:"30s"`
	SchedulerTick   time.Duration `env:"QUEUE_SCHEDULER_TICK" envDefault:"30s"`
	TopologyFile    string        `env:"QUEUE_TOPOLOGY_FILE" envDefault:"queues.yaml"`
}

// Global defaults applied when neither the definition nor the queue sets a value
const (
	DefaultAttempts    = 3
	DefaultConcurrency = 1
	DefaultBackoffBase = time.Second
	DefaultBackoffMax  = time.Hour
)

// Retention is advisory cleanup policy for finished jobs.
// Zero values disable the corresponding limit.
type Retention struct {
	CompletedCount int           `json:"completed_count" yaml:"completed_count"`
	CompletedAge   time.Duration `json:"completed_age" yaml:"completed_age"`
	FailedCount    int           `json:"failed_count" yaml:"failed_count"`
	FailedAge      time.Duration `json:"failed_age" yaml:"failed_age"`
}

// DefaultRetention keeps failed jobs longer than completed ones for postmortems
func DefaultRetention() Retention {
	return Retention{
		CompletedCount: 1000,
		CompletedAge:   24 * time.Hour,
		FailedCount:    5000,
		FailedAge:      7 * 24 * time.Hour,
	}
}

// QueueConfig holds per-queue defaults. Zero fields inherit the global defaults.
type QueueConfig struct {
	Concurrency int        `json:"concurrency" yaml:"concurrency"`
	Attempts    int        `json:"attempts" yaml:"attempts"`
	Backoff     Backoff    `json:"backoff" yaml:"backoff"`
	Priority    *Priority  `json:"priority,omitempty" yaml:"priority"`
	Retention   *Retention `json:"retention,omitempty" yaml:"retention"`
}

// Defaults is the global layer of the configuration merge.
// Nil pointers and zero values leave the built-in value in place.
type Defaults struct {
	Attempts    int
	Concurrency int
	Priority    *Priority
	Backoff     Backoff
	Retention   *Retention
}

// GlobalDefaults returns the built-in global defaults
func GlobalDefaults() Defaults {
	p := PriorityDefault
	r := DefaultRetention()
	return Defaults{
		Attempts:    DefaultAttempts,
		Concurrency: DefaultConcurrency,
		Priority:    &p,
		Backoff:     ExponentialBackoff(DefaultBackoffBase, DefaultBackoffMax),
		Retention:   &r,
	}
}

// resolve fills zero fields from the global defaults
func (c QueueConfig) resolve(d Defaults) QueueConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Attempts <= 0 {
		c.Attempts = d.Attempts
	}
	if c.Backoff.IsZero() {
		c.Backoff = d.Backoff
	} else if c.Backoff.Type == "" {
		c.Backoff.Type = BackoffExponential
	}
	if c.Priority == nil {
		p := *d.Priority
		c.Priority = &p
	}
	if c.Retention == nil {
		r := *d.Retention
		c.Retention = &r
	}
	return c
}

// equal compares two resolved configs
func (c QueueConfig) equal(o QueueConfig) bool {
	return c.Concurrency == o.Concurrency &&
		c.Attempts == o.Attempts &&
		c.Backoff == o.Backoff &&
		*c.Priority == *o.Priority &&
		*c.Retention == *o.Retention
}
