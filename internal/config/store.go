package config

import (
	"context"
	"errors"
	"fmt"
	"unicode"
)

// ErrInvalidKey is returned when a config key contains invalid characters.
var ErrInvalidKey = errors.New("invalid config key")

// ValidateKey checks if a config key contains only allowed characters.
// Valid keys contain: letters, digits, dots, underscores, and hyphens.
// This protects against typos and malformed keys.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	for i, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_' && r != '-' {
			return fmt.Errorf("%w: invalid character %q at position %d", ErrInvalidKey, r, i)
		}
	}
	// Don't allow keys starting or ending with dots
	if key[0] == '.' || key[len(key)-1] == '.' {
		return fmt.Errorf("%w: key cannot start or end with a dot", ErrInvalidKey)
	}
	return nil
}

// Store provides access to runtime-tunable settings. The worker re-reads
// these on every poll tick, so changes take effect without a restart.
// No caching - reads fresh from the backing store each time.
type Store interface {
	// Get returns a single config entry by key, or nil if absent.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set creates or updates a config entry.
	Set(ctx context.Context, key string, value any, description string) error

	// GetAll returns all config entries.
	GetAll(ctx context.Context) (map[string]Entry, error)

	// GetByPrefix returns config entries matching the prefix.
	GetByPrefix(ctx context.Context, prefix string) (map[string]Entry, error)

	// Delete removes a config entry.
	Delete(ctx context.Context, key string) error
}

// Entry represents a single configuration entry.
type Entry struct {
	Key         string `json:"key"`
	Value       any    `json:"value"`
	Description string `json:"description"`
}

// IntOr returns the entry value as an int. Values round-trip through
// JSON, so numbers usually arrive as float64. Returns fallback for nil
// entries or non-numeric values.
func (e *Entry) IntOr(fallback int) int {
	if e == nil {
		return fallback
	}
	switch v := e.Value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// FloatOr returns the entry value as a float64, or fallback.
func (e *Entry) FloatOr(fallback float64) float64 {
	if e == nil {
		return fallback
	}
	switch v := e.Value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return fallback
}

// BoolOr returns the entry value as a bool, or fallback.
func (e *Entry) BoolOr(fallback bool) bool {
	if e == nil {
		return fallback
	}
	if v, ok := e.Value.(bool); ok {
		return v
	}
	return fallback
}

// StringOr returns the entry value as a string, or fallback.
func (e *Entry) StringOr(fallback string) string {
	if e == nil {
		return fallback
	}
	if v, ok := e.Value.(string); ok {
		return v
	}
	return fallback
}
