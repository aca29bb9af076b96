package resolver

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of entries a Cache keeps when none is given.
const DefaultCacheSize = 1024

// Cache memoizes resolved values across Resolve calls and across installs.
// It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	lru *lru.Cache[K, V]
}

// NewCache creates a Cache holding at most size entries.
func NewCache[K comparable, V any](size int) (*Cache[K, V], error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[K, V](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver cache: %w", err)
	}
	return &Cache[K, V]{lru: c}, nil
}

// Get returns the cached value for key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.lru.Get(key)
}

// Add stores value under key.
func (c *Cache[K, V]) Add(key K, value V) {
	c.lru.Add(key, value)
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	return c.lru.Len()
}

// Cached wraps fn so successful lookups are stored in cache under key(item)
// and served from it afterwards. A nil cache returns fn unchanged.
func Cached[T any, K comparable, R any](fn Func[T, R], cache *Cache[K, R], key func(T) K) Func[T, R] {
	if cache == nil {
		return fn
	}
	return func(ctx context.Context, item T) (R, bool, error) {
		k := key(item)
		if v, ok := cache.Get(k); ok {
			return v, true, nil
		}
		v, ok, err := fn(ctx, item)
		if err == nil && ok {
			cache.Add(k, v)
		}
		return v, ok, err
	}
}
