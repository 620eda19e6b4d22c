package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// reconnectTokenTTL bounds how long a reconnect token is honored after
// a HELLO issues it.
const reconnectTokenTTL = 24 * time.Hour

// SetReconnectToken indexes a reconnect token to its player id.
func (s *Store) SetReconnectToken(ctx context.Context, token, pid string) error {
	return s.rdb.Set(ctx, keyReconnect(token), pid, reconnectTokenTTL).Err()
}

// GetReconnectPlayerID resolves a reconnect token back to a player id,
// or ok=false if the token is unknown or has expired.
func (s *Store) GetReconnectPlayerID(ctx context.Context, token string) (string, bool, error) {
	pid, err := s.rdb.Get(ctx, keyReconnect(token)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return pid, true, nil
}
