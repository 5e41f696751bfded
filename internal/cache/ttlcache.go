package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// TTLCache is an in-process LRU whose entries expire after a fixed TTL
type TTLCache[V any] struct {
	lru *expirable.LRU[string, V]
}

// NewTTLCache creates a cache holding at most size entries for ttl each
func NewTTLCache[V any](size int, ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{lru: expirable.NewLRU[string, V](size, nil, ttl)}
}

// Get returns the value for key if present and unexpired
func (c *TTLCache[V]) Get(_ context.Context, key string) (V, bool) {
	return c.lru.Get(key)
}

// Put stores value under key
func (c *TTLCache[V]) Put(_ context.Context, key string, value V) {
	c.lru.Add(key, value)
}

// Len returns the number of live entries
func (c *TTLCache[V]) Len() int {
	return c.lru.Len()
}
