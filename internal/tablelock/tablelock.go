// Package tablelock implements keyed per-table exclusion: a short-TTL
// SET NX advisory lock with compare-and-delete release, so a crashed
// holder never wedges a table forever.
package tablelock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is the lock lease duration. Every state-mutating operation
// is expected to complete well within this window; the ticker and
// client-driven handlers both take the same lock per table.
const DefaultTTL = 5000 * time.Millisecond

// ErrBusy is returned when a table's lock is currently held by someone else.
var ErrBusy = errors.New("table_busy")

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Locker acquires and releases per-table locks against a shared redis client.
type Locker struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

// Handle is a held lock's release token, required to release safely.
type Handle struct {
	key   string
	token string
}

// Acquire attempts to take the lock for tid, failing immediately with
// ErrBusy if already held. Callers are expected to retry at the message
// or tick layer rather than block here, since nothing should hold an
// idle goroutine open waiting on another table's critical section.
func (l *Locker) Acquire(ctx context.Context, tid string) (*Handle, error) {
	key := lockKey(tid)
	token := uuid.New().String()
	ok, err := l.rdb.SetNX(ctx, key, token, DefaultTTL).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBusy
	}
	return &Handle{key: key, token: token}, nil
}

// Release compares-and-deletes the lock, a no-op if it already expired
// or was stolen by a lease timeout. Errors are swallowed by design: a
// release that fails because the key is already gone is not a problem
// the caller can act on.
func (l *Locker) Release(ctx context.Context, h *Handle) {
	if h == nil {
		return
	}
	_ = releaseScript.Run(ctx, l.rdb, []string{h.key}, h.token).Err()
}

func lockKey(tid string) string { return "bj:lock:" + tid }
