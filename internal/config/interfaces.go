package config

import "context"

// SecretProvider resolves secret references to plaintext values. Keys are the
// reference values found in *_SECRET_REF variables.
type SecretProvider interface {
	// GetParametersBatch returns a map of key -> plaintext for every key it
	// could resolve. Unresolvable keys are omitted.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
