package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvFilesVar lists the .env files read before the first Load, comma
// separated. It defaults to ".env". Missing files are skipped.
const EnvFilesVar = "ENV_FILES"

var (
	mu     sync.Mutex
	cache  = make(map[reflect.Type]any)
	dotenv sync.Once
)

// Load fills v from environment variables described by its `env` tags.
// Each config type is parsed once per process; later calls copy the cached
// value. Fields already set in v act as defaults for the first parse.
//
// Example:
//
//	type StoreConfig struct {
//		Driver string `env:"QUEUE_STORE" envDefault:"memory"`
//		DSN    string `env:"PG_CONN_URL"`
//	}
//
//	var cfg StoreConfig
//	if err := config.Load(&cfg); err != nil {
//		// Handle error
//	}
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	dotenv.Do(loadDotenv)

	key := reflect.TypeFor[T]()

	mu.Lock()
	defer mu.Unlock()

	if cached, ok := cache[key]; ok {
		*v = cached.(T)
		return nil
	}

	cfg := *v
	if err := env.Parse(&cfg); err != nil {
		return errors.Join(ErrParsingConfig, fmt.Errorf("%s: %w", key, err))
	}
	cache[key] = cfg
	*v = cfg
	return nil
}

// MustLoad is Load for settings the process cannot start without.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

// LoadEnv loads one or more .env files into the process environment.
// Variables already set in the environment are not overridden.
func LoadEnv(filenames ...string) error {
	if err := godotenv.Load(filenames...); err != nil {
		return errors.Join(ErrLoadingEnvFile, err)
	}
	return nil
}

// ResetCache drops every cached configuration so the next Load parses again
func ResetCache() {
	mu.Lock()
	defer mu.Unlock()
	clear(cache)
}

func loadDotenv() {
	files := []string{".env"}
	if v := os.Getenv(EnvFilesVar); v != "" {
		files = strings.Split(v, ",")
	}
	for _, f := range files {
		if f = strings.TrimSpace(f); f != "" {
			_ = godotenv.Load(f)
		}
	}
}
