package artifact

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Object describes a stored artifact.
type Object struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	URL         string    `json:"url"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// Storage keeps files produced by jobs, such as exports, under slash-separated keys.
type Storage interface {
	// Put stores body under key, replacing any previous object.
	Put(ctx context.Context, key string, body io.Reader, contentType string) (*Object, error)
	// Delete removes the object at key. Missing objects return ErrNotFound.
	Delete(ctx context.Context, key string) error
	// List returns every object under prefix, recursively.
	List(ctx context.Context, prefix string) ([]Object, error)
	// URL returns the public URL of key.
	URL(key string) string
}

// cleanKey normalizes key and rejects anything escaping the storage root
func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(strings.ReplaceAll(key, "\\", "/"), "/")
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return path.Clean(key), nil
}

// cleanPrefix is cleanKey for list prefixes, where empty means everything
func cleanPrefix(prefix string) (string, error) {
	if strings.Trim(prefix, "/") == "" {
		return "", nil
	}
	p, err := cleanKey(prefix)
	if err != nil {
		return "", err
	}
	return p + "/", nil
}

// OlderThan filters objects last modified before cutoff
func OlderThan(objects []Object, cutoff time.Time) []Object {
	var out []Object
	for _, o := range objects {
		if o.ModifiedAt.Before(cutoff) {
			out = append(out, o)
		}
	}
	return out
}
