package environment

import "slices"

// Gate decides once, at startup, whether this process registers recurring jobs.
// Only processes running in one of the allowed environments do, so scaled-out
// development or preview replicas never schedule production work.
type Gate struct {
	env     Environment
	allowed []Environment
}

// GateOption configures a Gate
type GateOption func(*Gate)

// WithRecurringEnvironments replaces the environments allowed to register
// recurring jobs. The default is Production only.
func WithRecurringEnvironments(envs ...Environment) GateOption {
	return func(g *Gate) {
		g.allowed = make([]Environment, 0, len(envs))
		for _, e := range envs {
			g.allowed = append(g.allowed, Parse(string(e)))
		}
	}
}

// NewGate creates a gate for the process environment env
func NewGate(env Environment, opts ...GateOption) Gate {
	g := Gate{
		env:     Parse(string(env)),
		allowed: []Environment{Production},
	}
	for _, opt := range opts {
		opt(&g)
	}
	return g
}

// ShouldRegisterRecurring reports whether recurring jobs may be registered
func (g Gate) ShouldRegisterRecurring() bool {
	return slices.Contains(g.allowed, g.env)
}

// Environment returns the environment the gate was computed for
func (g Gate) Environment() Environment {
	return g.env
}
