package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DiskCache implements GenericCache with one file per key below cacheDir.
//
// Writes land in a temporary file in the destination directory and are renamed
// into place, so readers observe either the old or the new file. The lock only
// separates Clear from Get/Set; Get and Set on any keys run in parallel.
//
// Concurrent Gets of one key share a read. A Get issued after Set or Clear
// returned never joins a read that started before them: Set forgets the key
// once the new file is in place and Clear moves every read to a new generation.
type DiskCache struct {
	cacheDir   string
	mu         sync.RWMutex
	reads      singleflight.Group
	generation atomic.Uint64
}

// NewDisk creates a new disk cache
func NewDisk(cacheDir string) *DiskCache {
	return &DiskCache{
		cacheDir: cacheDir,
	}
}

// Dir returns the root directory of the cache
func (d *DiskCache) Dir() string {
	return d.cacheDir
}

// path returns <cacheDir>/<key[0:2]>/<key>.bin
func (d *DiskCache) path(key string) string {
	if len(key) > 2 {
		return filepath.Join(d.cacheDir, key[:2], key+".bin")
	}
	return filepath.Join(d.cacheDir, key+".bin")
}

// Get retrieves a cached value. Returns nil, nil when the key has no entry.
func (d *DiskCache) Get(key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	v, err, _ := d.reads.Do(d.flightKey(key), func() (any, error) {
		d.mu.RLock()
		defer d.mu.RUnlock()

		data, err := os.ReadFile(d.path(key))
		if errors.Is(err, os.ErrNotExist) {
			return []byte(nil), nil
		}
		return data, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	return v.([]byte), nil
}

func (d *DiskCache) flightKey(key string) string {
	return strconv.FormatUint(d.generation.Load(), 10) + "/" + key
}

// Set stores a value in the cache, atomically replacing any previous value
func (d *DiskCache) Set(key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	cachePath := d.path(key)
	dir := filepath.Dir(cachePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(cachePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logrus.Warnf("Failed to remove temp cache file %s: %v", tmpPath, err)
		}
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close cache file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("failed to chmod cache file: %w", err)
	}
	if err := os.Rename(tmpPath, cachePath); err != nil {
		cleanup()
		return fmt.Errorf("failed to move cache file into place: %w", err)
	}
	d.reads.Forget(d.flightKey(key))

	logrus.Debugf("Cached entry: %s", cachePath)
	return nil
}

// Clear removes every entry, keeping the cache directory itself
func (d *DiskCache) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.generation.Add(1)

	entries, err := os.ReadDir(d.cacheDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to list cache directory: %w", err)
	}

	for _, entry := range entries {
		p := filepath.Join(d.cacheDir, entry.Name())
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}

	logrus.Debugf("Cleared cache directory %s (%d entries)", d.cacheDir, len(entries))
	return nil
}

// Init ensures the cache directory exists
func (d *DiskCache) Init() error {
	return os.MkdirAll(d.cacheDir, 0o755)
}

var _ GenericCache = (*DiskCache)(nil)
