// Package kv wraps the Redis/Valkey instance that backs the ingest queue,
// the retrieval cache, the dedup fingerprint indexes, and connector state.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// IngestQueue is the list the workers consume document payloads from.
	IngestQueue = "ingest:documents"
	// DeadLetterQueue receives payloads that failed processing.
	DeadLetterQueue = "ingest:documents:dead"
	// SimhashIndex maps doc keys to decimal simhash fingerprints.
	SimhashIndex = "dedupe:simhash"
	// PhashIndex maps doc keys to hex perceptual hashes.
	PhashIndex = "dedupe:phash"

	dequeueTimeout = 5 * time.Second
)

// Store is a thin typed layer over a Redis client.
type Store struct {
	rdb *redis.Client
}

// New connects to the given Redis address. The connection is verified lazily;
// use Ping for a health check.
func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// NewFromClient wraps an existing client. Used by tests with miniredis.
func NewFromClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// GetJSON unmarshals the value at key into out. Returns (false, nil) on a
// cache miss.
func (s *Store) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kv get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("kv decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v at key with the given TTL. ttl <= 0 stores without expiry.
func (s *Store) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv encode %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

// HGetAll returns every field of a hash. An absent hash yields an empty map.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("kv hgetall %s: %w", key, err)
	}
	return m, nil
}

// HSet writes one field of a hash.
func (s *Store) HSet(ctx context.Context, key, field, value string) error {
	if err := s.rdb.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("kv hset %s.%s: %w", key, field, err)
	}
	return nil
}

// Enqueue pushes a raw payload onto a work queue.
func (s *Store) Enqueue(ctx context.Context, queue string, payload []byte) error {
	if err := s.rdb.LPush(ctx, queue, payload).Err(); err != nil {
		return fmt.Errorf("kv enqueue %s: %w", queue, err)
	}
	return nil
}

// Dequeue blocks up to 5 seconds for the next payload on queue. Returns
// (nil, nil) when the wait times out with nothing available.
func (s *Store) Dequeue(ctx context.Context, queue string) ([]byte, error) {
	res, err := s.rdb.BRPop(ctx, dequeueTimeout, queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv dequeue %s: %w", queue, err)
	}
	// BRPop returns [queue, value].
	return []byte(res[1]), nil
}

// QueueLen reports the number of pending payloads.
func (s *Store) QueueLen(ctx context.Context, queue string) (int64, error) {
	n, err := s.rdb.LLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("kv llen %s: %w", queue, err)
	}
	return n, nil
}

// ConnectorState fetches the persisted cursor state for a sync connector.
func (s *Store) ConnectorState(ctx context.Context, name string) (map[string]string, error) {
	return s.HGetAll(ctx, "connector:"+name+":state")
}

// SetConnectorState persists one cursor field for a sync connector.
func (s *Store) SetConnectorState(ctx context.Context, name, field, value string) error {
	return s.HSet(ctx, "connector:"+name+":state", field, value)
}
