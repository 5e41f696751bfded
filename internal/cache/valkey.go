package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/valkey-io/valkey-go"
)

// ValkeyStore keeps JSON-encoded values in Valkey so cached results are
// shared between API replicas
type ValkeyStore[V any] struct {
	client valkey.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewValkeyClient connects to a Valkey server
func NewValkeyClient(addr, password string) (valkey.Client, error) {
	return valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
		Password:    password,
	})
}

// NewValkeyStore creates a store namespacing keys under prefix
func NewValkeyStore[V any](client valkey.Client, prefix string, ttl time.Duration, logger *slog.Logger) *ValkeyStore[V] {
	if logger == nil {
		logger = slog.Default()
	}
	return &ValkeyStore[V]{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With("component", "valkey"),
	}
}

// Get returns the decoded value for key. Misses and transport failures both
// report false; failures are logged so a Valkey outage degrades to no cache.
func (s *ValkeyStore[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	raw, err := s.client.Do(ctx, s.client.B().Get().Key(s.prefix+key).Build()).AsBytes()
	if err != nil {
		if !valkey.IsValkeyNil(err) {
			s.logger.Warn("cache get failed", "key", key, "error", err)
		}
		return zero, false
	}
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		s.logger.Warn("cache entry corrupt", "key", key, "error", err)
		return zero, false
	}
	return v, true
}

// Put stores value under key with the store TTL
func (s *ValkeyStore[V]) Put(ctx context.Context, key string, value V) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	cmd := s.client.B().Set().Key(s.prefix + key).Value(string(raw)).Ex(s.ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		s.logger.Warn("cache set failed", "key", key, "error", err)
	}
}
