package environment_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/jobkit/pkg/environment"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want environment.Environment
	}{
		{in: "production", want: environment.Production},
		{in: "PROD", want: environment.Production},
		{in: " dev ", want: environment.Development},
		{in: "local", want: environment.Development},
		{in: "stage", want: environment.Staging},
		{in: "testing", want: environment.Test},
		{in: "Preview", want: environment.Environment("preview")},
		{in: "", want: environment.Environment("")},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, environment.Parse(tt.in))
		})
	}
}

func TestConfig_Environment(t *testing.T) {
	t.Parallel()

	assert.Equal(t, environment.Staging, environment.Config{AppEnv: "stage"}.Environment())
}

func TestContext(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		ctx := environment.WithContext(context.Background(), environment.Staging)
		assert.Equal(t, environment.Staging, environment.FromContext(ctx))
		assert.True(t, environment.IsStaging(ctx))
		assert.False(t, environment.IsProduction(ctx))
		assert.False(t, environment.IsDevelopment(ctx))
	})

	t.Run("short spelling", func(t *testing.T) {
		t.Parallel()

		ctx := environment.WithContext(context.Background(), environment.Environment("prod"))
		assert.True(t, environment.IsProduction(ctx))
	})

	t.Run("missing", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, environment.Environment(""), environment.FromContext(context.Background()))
		assert.False(t, environment.IsProduction(context.Background()))
	})
}
