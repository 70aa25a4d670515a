// Package cache provides the TTL cache injected into the read-only market data
// handlers. The trade path never goes through it.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Store is a key/value cache with per-entry expiry
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Delete(key string)
}

// Memory is an in-process Store
type Memory struct {
	items *gocache.Cache
}

// NewMemory creates a cache whose entries default to ttl and are swept every cleanup
func NewMemory(ttl, cleanup time.Duration) *Memory {
	return &Memory{items: gocache.New(ttl, cleanup)}
}

func (m *Memory) Get(key string) (any, bool) {
	return m.items.Get(key)
}

func (m *Memory) Set(key string, value any, ttl time.Duration) {
	m.items.Set(key, value, ttl)
}

func (m *Memory) Delete(key string) {
	m.items.Delete(key)
}

// Len returns the number of entries, including expired ones not yet swept
func (m *Memory) Len() int {
	return m.items.ItemCount()
}

// Nop never stores anything, for tests and for bypassing the cache
type Nop struct{}

func (Nop) Get(string) (any, bool)         { return nil, false }
func (Nop) Set(string, any, time.Duration) {}
func (Nop) Delete(string)                  {}

// Memoizer deduplicates concurrent fills of the same key
type Memoizer struct {
	store Store
	group singleflight.Group
}

// NewMemoizer wraps store
func NewMemoizer(store Store) *Memoizer {
	if store == nil {
		store = Nop{}
	}
	return &Memoizer{store: store}
}

// Do returns the cached value for key or computes, stores and returns it.
// Errors are never cached.
func Do[T any](m *Memoizer, key string, ttl time.Duration, fn func() (T, error)) (T, error) {
	if v, ok := m.store.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
		log.Warn().Str("key", key).Msg("cache entry has unexpected type, recomputing")
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		value, err := fn()
		if err != nil {
			return nil, err
		}
		m.store.Set(key, value, ttl)
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
