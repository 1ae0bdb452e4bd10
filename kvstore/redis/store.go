// Package redis provides a Redis implementation of gedauth.KVStore.
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store implements gedauth.KVStore using Redis. Every operation is a single
// command, so each key is updated atomically.
type Store struct {
	client redis.UniversalClient
}

// New creates a new Redis store. Works with single node, sentinel and cluster clients.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set stores value under key for ttl.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("redis: ttl must be positive")
	}
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes key and reports whether this call removed it.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
