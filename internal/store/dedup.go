package store

import (
	"context"
	"time"
)

// requestDedupTTL bounds how long a client request id is remembered;
// client retries past this window re-apply.
const requestDedupTTL = 120 * time.Second

// MarkRequest atomically records a client request id for dedup. It
// returns true the first time a given request_id is seen for this
// table (the caller should proceed), and false on every subsequent call
// within the TTL window (the caller should return the current snapshot
// with no side effects).
func (s *Store) MarkRequest(ctx context.Context, tid, requestID string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, keyRequest(tid, requestID), "1", requestDedupTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}
