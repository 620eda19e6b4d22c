// Package store is the typed accessor layer over the Redis-backed table
// state: meta, seats, players, hands, shoe, ready/votes, the event
// stream, and request dedup. Every operation
// here is a thin, single-purpose wrapper around go-redis calls; higher
// level atomicity (the table lock) is enforced by internal/tablelock,
// not by this package.
package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store wraps a Redis client with the table data-model accessors.
type Store struct {
	rdb *redis.Client
}

// New wires a Store against an already-constructed redis.Client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Client exposes the underlying client for components (tablelock,
// eventstream) that need raw Redis primitives not modeled here.
func (s *Store) Client() *redis.Client {
	return s.rdb
}

// Ping verifies connectivity at startup.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}
