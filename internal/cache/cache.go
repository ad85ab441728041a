// Package cache is the cache-aside layer in front of the table and object
// stores. The stores stay authoritative: callers populate the cache after a
// read miss and invalidate keys after every write.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Cache is a byte-valued key/value cache with per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Remove(ctx context.Context, keys ...string) error
}

// Memory is an in-process Cache. Expired entries are never returned and are
// evicted in the background until Close.
type Memory struct {
	items     *ttlcache.Cache[string, []byte]
	closeOnce sync.Once
}

func NewMemory(capacity uint64) *Memory {
	opts := []ttlcache.Option[string, []byte]{ttlcache.WithDisableTouchOnHit[string, []byte]()}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, []byte](capacity))
	}
	items := ttlcache.New[string, []byte](opts...)
	go items.Start()
	return &Memory{items: items}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	item := m.items.Get(key)
	if item == nil {
		return nil, false, nil
	}
	return item.Value(), true, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return errors.New("cache ttl must be positive")
	}
	m.items.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (m *Memory) Remove(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, key := range keys {
		m.items.Delete(key)
	}
	return nil
}

func (m *Memory) Len() int {
	return m.items.Len()
}

func (m *Memory) Close() {
	m.closeOnce.Do(m.items.Stop)
}
