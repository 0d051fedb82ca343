package scanner

import (
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
)

// DefaultCacheSize bounds the number of descriptors kept between scans.
const DefaultCacheSize = 2048

// Cache keeps the most recent descriptor per absolute file path. A rescan of a
// path replaces (or drops) its entry.
type Cache struct {
	entries *lru.Cache[string, *models.ComponentDescriptor]
}

// NewCache creates a descriptor cache holding at most size entries.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, *models.ComponentDescriptor](size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: c}, nil
}

func cacheKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Get returns the cached descriptor for path.
func (c *Cache) Get(path string) (*models.ComponentDescriptor, bool) {
	if c == nil {
		return nil, false
	}
	return c.entries.Get(cacheKey(path))
}

// Put stores d under its FilePath.
func (c *Cache) Put(d *models.ComponentDescriptor) {
	if c == nil || d == nil {
		return
	}
	c.entries.Add(cacheKey(d.FilePath), d)
}

// Forget drops the entry for path.
func (c *Cache) Forget(path string) {
	if c == nil {
		return
	}
	c.entries.Remove(cacheKey(path))
}

// Len returns the number of cached descriptors.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
