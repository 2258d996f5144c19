// Handles persistence of serialized responses, keyed by request fingerprint
package cache

import (
	"errors"
	"strings"
)

// Sentinel errors for cache operations.
var (
	ErrEmptyURL   = errors.New("cache: url is empty")
	ErrInvalidURL = errors.New("cache: url is invalid")
	ErrInvalidKey = errors.New("cache: key is invalid")
)

// GenericCache interface for caching operations
//
// Implementations must be safe for concurrent use. A Get that races with a Set
// on the same key returns either the previous or the new value, never a mix.
type GenericCache interface {
	// retrieves cached data if it exists.
	// returns nil, nil when not found
	Get(key string) ([]byte, error)
	// stores data under key, replacing any previous value
	Set(key string, value []byte) error
	// removes every stored entry
	Clear() error
	// initializes the cache (e.g., creates necessary directories)
	Init() error
}

// ValidateKey checks that key can be used as a store key.
// Keys are used as file names, so path separators and dot segments are rejected.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, "/\\\n\r\x00") || key == "." || key == ".." {
		return ErrInvalidKey
	}
	return nil
}
