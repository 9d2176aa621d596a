package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("doctor schedule lock not acquired")
	// ErrLockUnavailable means Redis could not be asked for the lock at all.
	// fn has not run.
	ErrLockUnavailable = errors.New("doctor schedule lock unavailable")
)

// Locker guards the check-then-insert booking sequence per clinic and doctor.
type Locker interface {
	WithDoctorLock(ctx context.Context, clinicID, doctorID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisDoctorLocker struct {
	client     *redis.Client
	ttl        time.Duration
	retries    int
	retryDelay time.Duration
}

// NewRedisDoctorLocker creates a locker that uses one Redis key per doctor schedule.
func NewRedisDoctorLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisDoctorLocker{
		client:     client,
		ttl:        ttl,
		retries:    3,
		retryDelay: 50 * time.Millisecond,
	}
}

func lockKey(clinicID, doctorID uuid.UUID) string {
	return fmt.Sprintf("lock:schedule:%s:%s", clinicID, doctorID)
}

func (l *redisDoctorLocker) WithDoctorLock(ctx context.Context, clinicID, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	key := lockKey(clinicID, doctorID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

// acquire makes a few short attempts; two patients picking times for the same
// doctor is common and the critical section is only a couple of queries.
func (l *redisDoctorLocker) acquire(ctx context.Context, key, token string) error {
	for attempt := 0; ; attempt++ {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrLockUnavailable, err)
		}
		if ok {
			return nil
		}
		if attempt >= l.retries {
			return ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisDoctorLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release schedule lock: %w", err)
	}
	return nil
}
