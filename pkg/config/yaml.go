package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadYAML decodes the YAML file at path into v. Unknown keys are rejected
// so typos in hand-written files fail at startup. An empty file leaves v untouched.
//
// YAML files are not cached: they describe topology rather than process settings
// and are read once by the caller.
//
// Example:
//
//	var topo queue.Topology
//	if err := config.LoadYAML("queues.yaml", &topo); err != nil {
//		// Handle error
//	}
func LoadYAML[T any](path string, v *T) error {
	if v == nil {
		return ErrNilPointer
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.Join(ErrParsingYAML, fmt.Errorf("%s: %w", path, err))
	}
	return nil
}
