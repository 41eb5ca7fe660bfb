package shared

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SweepLockKey guards the expired-cycle sweep so only one runs at a time.
const SweepLockKey = "susu:sweep:lock"

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("lock already held")

// releaseScript deletes the key only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out Redis backed mutual-exclusion leases.
type Locker struct {
	client *redis.Client
}

// NewLocker constructs a Locker.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// Lease is a held lock. Release is safe to call once the TTL has lapsed.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// Acquire takes key for ttl or returns ErrLockHeld.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("locker not initialised")
	}
	token, err := newLockToken()
	if err != nil {
		return nil, err
	}
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("shared: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lease{locker: l, key: key, token: token}, nil
}

// Release gives the lock back if still owned.
func (s *Lease) Release(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, s.locker.client, []string{s.key}, s.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("shared: release %s: %w", s.key, err)
	}
	return nil
}

func newLockToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
