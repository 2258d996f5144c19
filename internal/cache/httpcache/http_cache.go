package httpcache

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hutaol/nethelper/internal/cache"

	"github.com/sirupsen/logrus"
)

// HTTPCache stores HTTP responses in a GenericCache under derived request keys.
// It never expires or evicts entries; ClearAll is the only removal.
type HTTPCache struct {
	cache cache.GenericCache
	keyer cache.Keyer
	now   func() time.Time
}

func New(store cache.GenericCache, keyer cache.Keyer) *HTTPCache {
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	return &HTTPCache{
		cache: store,
		keyer: keyer,
		now:   time.Now,
	}
}

// GenerateKey derives the storage key for a request descriptor
func (d *HTTPCache) GenerateKey(rawURL string, params any, extra string) (string, error) {
	key, err := d.keyer.Key(rawURL, params, extra)
	if err != nil {
		return "", fmt.Errorf("failed to generate cache key: %w", err)
	}
	return key, nil
}

// Put serializes resp and stores it under key, replacing any previous entry.
// The response body is consumed.
func (d *HTTPCache) Put(key string, resp *http.Response) error {
	data, err := Serialize(key, d.now(), resp)
	if err != nil {
		return fmt.Errorf("failed to serialize response: %w", err)
	}

	if err := d.cache.Set(key, data); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	return nil
}

// Get returns the entry stored under key, or nil, nil on a miss.
// A record that fails to decode, or that belongs to another key, yields ErrCorrupt.
func (d *HTTPCache) Get(key string) (*Entry, error) {
	data, err := d.cache.Get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}
	if data == nil {
		return nil, nil // Cache miss
	}

	entry, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	if entry.Key != key {
		return nil, fmt.Errorf("%w: stored key %s does not match %s", ErrCorrupt, entry.Key, key)
	}

	logrus.Debugf("Cache hit for key %s (stored at %s)", key, entry.StoredAt.Format(time.RFC3339))
	return entry, nil
}

// ClearAll removes every stored response
func (d *HTTPCache) ClearAll() error {
	if err := d.cache.Clear(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}
