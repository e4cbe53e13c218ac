package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Get when a key has not been materialized yet.
var ErrCacheMiss = errors.New("cache miss")

// Store holds materialized payloads. Swap replaces a key atomically: readers
// see either the previous payload or the new one, never a mix.
type Store interface {
	Swap(ctx context.Context, key string, payload []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

func (m *MemoryStore) Swap(_ context.Context, key string, payload []byte) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)

	m.mu.Lock()
	m.entries[key] = cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	payload, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	return payload, nil
}

// RedisStore keeps gzip-compressed payloads in Redis so every API replica
// serves the same materialization.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a RedisStore on client
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Swap writes the payload to a unique temporary key and renames it over key
// in one MULTI/EXEC. RENAME replaces the destination atomically.
func (s *RedisStore) Swap(ctx context.Context, key string, payload []byte) error {
	compressed, err := compress(payload)
	if err != nil {
		return err
	}

	tmp := key + ":swap:" + uuid.NewString()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, tmp, compressed, 0)
		pipe.Rename(ctx, tmp, key)
		return nil
	})
	if err != nil {
		// the temporary key may have been written before RENAME failed
		_ = s.client.Del(context.WithoutCancel(ctx), tmp).Err()
		return fmt.Errorf("failed to swap cache key %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	compressed, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache key %s: %w", key, err)
	}
	return decompress(compressed)
}

func compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(compressed []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %w", err)
	}
	defer zr.Close()

	payload, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %w", err)
	}
	return payload, nil
}
