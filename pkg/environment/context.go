package environment

import (
	"context"
	"strings"
)

// Environment represents application environment.
type Environment string

const (
	// Development for development environment.
	Development Environment = "development"
	// Production for production environment.
	Production Environment = "production"
	// Staging for staging environment.
	Staging Environment = "staging"
	// Test for automated test runs.
	Test Environment = "test"
)

// Config reads the environment name from APP_ENV
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"development"`
}

// Environment returns the parsed environment of the config
func (c Config) Environment() Environment {
	return Parse(c.AppEnv)
}

// Parse normalizes common spellings ("prod", "dev", "stage") to the
// predefined constants. Unknown values are returned lowercased as-is.
func Parse(s string) Environment {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "production", "prod":
		return Production
	case "development", "dev", "local":
		return Development
	case "staging", "stage":
		return Staging
	case "test", "testing":
		return Test
	default:
		return Environment(v)
	}
}

// String implements fmt.Stringer
func (e Environment) String() string {
	return string(e)
}

type contextKey struct{}

// WithContext adds environment to context
func WithContext(ctx context.Context, env Environment) context.Context {
	return context.WithValue(ctx, contextKey{}, env)
}

// FromContext retrieves environment from context
func FromContext(ctx context.Context) Environment {
	if ctx == nil {
		return ""
	}
	env, _ := ctx.Value(contextKey{}).(Environment)
	return env
}

// IsProduction checks if the environment from context is production
func IsProduction(ctx context.Context) bool {
	return Parse(string(FromContext(ctx))) == Production
}

// IsDevelopment checks if the environment from context is development
func IsDevelopment(ctx context.Context) bool {
	return Parse(string(FromContext(ctx))) == Development
}

// IsStaging checks if the environment from context is staging
func IsStaging(ctx context.Context) bool {
	return Parse(string(FromContext(ctx))) == Staging
}
