package jobapi

import "time"

// Config holds the HTTP listener and request limits of the job API.
type Config struct {
	Addr             string        `env:"HTTP_ADDR" envDefault:":8080"`               // Addr is the address the server listens on.
	ReadTimeout      time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`         // ReadTimeout is the maximum duration for reading the entire request.
	WriteTimeout     time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`        // WriteTimeout is the maximum duration before timing out writes of the response.
	IdleTimeout      time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`        // IdleTimeout is the maximum amount of time to wait for the next request when keep-alives are enabled.
	ShutdownTimeout  time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"5s"`      // ShutdownTimeout is the time allowed for graceful shutdown.
	MaxBodyBytes     int64         `env:"JOBAPI_MAX_BODY_BYTES" envDefault:"1048576"` // MaxBodyBytes caps the size of a submitted job.
	DefaultListLimit int           `env:"JOBAPI_DEFAULT_LIST_LIMIT" envDefault:"50"`  // DefaultListLimit applies when a list request has no limit.
	MaxListLimit     int           `env:"JOBAPI_MAX_LIST_LIMIT" envDefault:"500"`     // MaxListLimit is the largest accepted limit.
}

// DefaultConfig returns the values used when no environment is loaded
func DefaultConfig() Config {
	return Config{
		Addr:             ":8080",
		ShutdownTimeout:  5 * time.Second,
		MaxBodyBytes:     1 << 20,
		DefaultListLimit: 50,
		MaxListLimit:     500,
	}
}
