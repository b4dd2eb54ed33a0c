// Package lock provides a distributed named mutual-exclusion lock
// backed by Redis, used both to cut contention on the MySQL row lock
// under flash-sale load (the per-product admission lock) and to keep
// the periodic sweeper single-flight across instances. It is an
// optimization, not a correctness boundary: every admission caller
// still takes the authoritative SELECT ... FOR UPDATE inside the
// transaction. A disabled or unreachable Redis is handled by failing
// open rather than refusing traffic; a reachable Redis that is simply
// busy past the wait budget is a distinct, named condition
// (ErrContended) the admission path surfaces as SystemBusy instead
// (SPEC_FULL.md §4.1/§4.3/§4.6, grounded on the reference's
// NewTokenBucket Lua-script discipline in
// internal/middleware/ratelimit.go).
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisLocker is the narrow slice of *redis.Client the lock needs: the
// lock acquisition primitive plus redis.Scripter, which *redis.Script
// requires in order to run the unlock script.
type redisLocker interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd
}

var unlockScript = redis.NewScript(`
    if redis.call('GET', KEYS[1]) == ARGV[1] then
        return redis.call('DEL', KEYS[1])
    end
    return 0
`)

// NamedLock acquires a short-lived, named mutual-exclusion token in
// Redis.
type NamedLock struct {
	rdb      redisLocker
	ttl      time.Duration
	waitStep time.Duration
}

// New constructs a NamedLock bound to rdb, accepted as the concrete
// *redis.Client so a nil client (Redis unreachable at startup) degrades
// cleanly instead of producing a non-nil interface wrapping a nil
// pointer. A nil rdb makes every Acquire call fail immediately
// (acquired=false) with a no-op release, the fail-open posture required
// when Redis is unavailable.
func New(rdb *redis.Client, ttl time.Duration) *NamedLock {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	var locker redisLocker
	if rdb != nil {
		locker = rdb
	}
	return &NamedLock{rdb: locker, ttl: ttl, waitStep: 20 * time.Millisecond}
}

// Release unlocks a previously acquired named lock. A no-op func is
// returned by Acquire itself when no lock was actually taken, so
// callers can always defer the returned func unconditionally.
type Release func(ctx context.Context)

// ErrContended is returned by Acquire when Redis was reachable and
// responsive for the whole wait, but some other holder kept the named
// lock until the wait budget ran out. Callers that need to tell "the
// lock is busy" apart from "locking is unavailable" — the admission
// lock surfaces the former as SystemBusy — check for this error
// specifically; every other failure (disabled lock, Redis fault,
// caller's context cancelled) returns a nil error alongside
// acquired=false, the fail-open case the caller's own row lock covers.
var ErrContended = errors.New("lock: wait budget exhausted while another holder held the lock")

// Acquire blocks up to wait for the named lock key, polling every
// waitStep. It returns a Release func to call when the caller's work
// is done, a bool reporting whether the lock was actually obtained,
// and an error that is non-nil only for ErrContended — acquired=false
// with a nil error means Redis is disabled or unreachable, which the
// caller should treat as fail-open rather than as lock contention.
func (l *NamedLock) Acquire(ctx context.Context, key string, wait time.Duration) (Release, bool, error) {
	noop := func(context.Context) {}
	if l.rdb == nil {
		return noop, false, nil
	}
	token, err := randomToken()
	if err != nil {
		log.Printf("lock: token generation failed: %v", err)
		return noop, false, nil
	}

	deadline := time.Now().Add(wait)
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			log.Printf("lock: redis unavailable, failing open for key %s: %v", key, err)
			return noop, false, nil
		}
		if ok {
			return func(releaseCtx context.Context) {
				if _, err := unlockScript.Run(releaseCtx, l.rdb, []string{key}, token).Result(); err != nil {
					log.Printf("lock: release failed for key %s: %v", key, err)
				}
			}, true, nil
		}
		if time.Now().After(deadline) {
			return noop, false, ErrContended
		}
		select {
		case <-ctx.Done():
			return noop, false, nil
		case <-time.After(l.waitStep):
		}
	}
}

// AcquireProductLock acquires the admission lock for productID, keyed
// hold_lock:product:{id} per SPEC_FULL.md §4.3 step 1.
func (l *NamedLock) AcquireProductLock(ctx context.Context, productID uint64, wait time.Duration) (Release, bool, error) {
	return l.Acquire(ctx, "hold_lock:product:"+strconv.FormatUint(productID, 10), wait)
}

// sweeperLockKey is the single shared key sweeper instances race for,
// so that only one instance's tick does the sweeping work at a time.
const sweeperLockKey = "sweeper:lock"

// AcquireSweeperLock acquires the shared sweeper single-flight lock.
func (l *NamedLock) AcquireSweeperLock(ctx context.Context, wait time.Duration) (Release, bool, error) {
	return l.Acquire(ctx, sweeperLockKey, wait)
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.New("lock: failed to generate token: " + err.Error())
	}
	return hex.EncodeToString(buf), nil
}
