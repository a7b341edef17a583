// Package config loads process settings from the environment and structured
// settings from YAML files.
//
// Load parses a struct annotated with `env` tags using
// github.com/caarlos0/env/v11. Before the first Load the files named by
// ENV_FILES (default ".env") are read with github.com/joho/godotenv; values
// already in the environment win. Each struct type is parsed once and cached,
// so packages can call Load for their own config type without coordinating:
//
//	var cfg queue.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// LoadYAML decodes a file strictly with gopkg.in/yaml.v3. It is used for the
// queue topology (QUEUE_TOPOLOGY_FILE), which does not fit flat variables.
//
// ResetCache clears the cache; tests call it after changing the environment.
//
// Errors: ErrParsingConfig, ErrParsingYAML, ErrLoadingEnvFile and
// ErrNilPointer, all comparable with errors.Is.
package config
