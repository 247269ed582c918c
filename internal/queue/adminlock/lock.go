// Package adminlock provides a best-effort distributed lock guarding the
// admin sweep operations (reset-stale, cleanup) so two admin processes
// don't run the same sweep concurrently. It is not in the claim protocol's
// critical path: the claim protocol's correctness never depends on this
// lock, which only smooths over redundant sweep work when more than one
// admin process is deployed. Grounded on the go-redis client usage in
// yungbote-neurobridge-backend's internal/clients/redis package.
package adminlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Release when the caller's token no longer
// matches the lock holder (it expired or was taken by another process).
var ErrNotHeld = errors.New("adminlock: lock not held by this token")

// Locker acquires and releases named, TTL-bounded locks in Redis; build one
// with New or Connect. A nil Locker, or one without a client, runs
// unlocked: TryAcquire always succeeds and Release does nothing.
type Locker struct {
	client *redis.Client
}

// New wraps an existing Redis client for locking.
func New(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// Connect dials addr and verifies the connection. Returns a Locker that
// talks to that server.
func Connect(ctx context.Context, addr string) (*Locker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("adminlock: redis ping: %w", err)
	}
	return New(client), nil
}

// Close releases the underlying Redis client, if any.
func (l *Locker) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}

// TryAcquire attempts to take the named lock for ttl using SET NX. It
// returns ("", false, nil) without error when another holder already owns
// the lock — that is the expected "someone else is sweeping" outcome, not
// a failure. A nil Locker (no REDIS_URL configured) always succeeds with a
// synthetic token, so callers can run unlocked without a nil check.
func (l *Locker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (token string, acquired bool, err error) {
	if l == nil || l.client == nil {
		return "unlocked", true, nil
	}

	token = uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(name), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("adminlock: acquire %q: %w", name, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release drops the named lock if and only if token is still the current
// holder, using a Lua script so the check-and-delete is atomic.
func (l *Locker) Release(ctx context.Context, name, token string) error {
	if l == nil || l.client == nil {
		return nil
	}

	res, err := releaseScript.Run(ctx, l.client, []string{lockKey(name)}, token).Int64()
	if err != nil {
		return fmt.Errorf("adminlock: release %q: %w", name, err)
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

func lockKey(name string) string {
	return "job-queue:adminlock:" + name
}
