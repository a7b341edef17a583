package environment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/jobkit/pkg/environment"
)

func TestGate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		env  environment.Environment
		opts []environment.GateOption
		want bool
	}{
		{name: "production is open by default", env: environment.Production, want: true},
		{name: "short production spelling", env: "prod", want: true},
		{name: "development is closed", env: environment.Development, want: false},
		{name: "staging is closed", env: environment.Staging, want: false},
		{name: "empty is closed", env: "", want: false},
		{
			name: "widened to staging",
			env:  environment.Staging,
			opts: []environment.GateOption{environment.WithRecurringEnvironments(environment.Production, "stage")},
			want: true,
		},
		{
			name: "narrowed away from production",
			env:  environment.Production,
			opts: []environment.GateOption{environment.WithRecurringEnvironments(environment.Staging)},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g := environment.NewGate(tt.env, tt.opts...)
			assert.Equal(t, tt.want, g.ShouldRegisterRecurring())
		})
	}
}

func TestGate_Environment(t *testing.T) {
	t.Parallel()

	assert.Equal(t, environment.Development, environment.NewGate("dev").Environment())
}
