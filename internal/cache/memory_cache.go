package cache

import "sync"

// MemoryCache is an in-memory GenericCache. Values are copied on Set and Get.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemory creates a new in-memory cache
func NewMemory() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string][]byte),
	}
}

// Get retrieves a value from the cache. Returns nil, nil on miss.
func (m *MemoryCache) Get(key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	m.mu.RLock()
	value, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	return append([]byte(nil), value...), nil
}

// Set stores a value, replacing any previous one
func (m *MemoryCache) Set(key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	stored := append([]byte(nil), value...)
	m.mu.Lock()
	m.entries[key] = stored
	m.mu.Unlock()
	return nil
}

// Clear drops every entry
func (m *MemoryCache) Clear() error {
	m.mu.Lock()
	m.entries = make(map[string][]byte)
	m.mu.Unlock()
	return nil
}

// Init is a no-op for the memory cache
func (m *MemoryCache) Init() error {
	return nil
}

// Len returns the number of stored entries
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

var _ GenericCache = (*MemoryCache)(nil)
