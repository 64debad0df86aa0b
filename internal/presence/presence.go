// Package presence publishes the active session to Redis so that only one
// controller instance drives a participant at a time and operators can see
// who is connected.
package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"manualpilot/experiment/internal/session"
)

const (
	DefaultTTL = 10 * time.Second

	FieldSent = "sent"
	FieldRecv = "recv"

	lockKey = "exp:lock:session"
)

type Registry interface {
	// Claim records the session and takes the single-session lock. It
	// fails with session.ErrSessionActive when another holder has it.
	Claim(ctx context.Context, id, peer string) error
	// Touch extends the record and the lock.
	Touch(ctx context.Context, id string) error
	// Count increments one of the session's message counters.
	Count(ctx context.Context, id, field string) error
	Release(ctx context.Context, id string) error
}

// Nop is used when no Redis is configured.
type Nop struct{}

func (Nop) Claim(context.Context, string, string) error { return nil }
func (Nop) Touch(context.Context, string) error          { return nil }
func (Nop) Count(context.Context, string, string) error  { return nil }
func (Nop) Release(context.Context, string) error        { return nil }

type Redis struct {
	rdb        *redis.Client
	locker     *redislock.Client
	locks      sync.Map
	instanceID string
	ttl        time.Duration
}

func NewRedis(rdb *redis.Client, instanceID string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Redis{
		rdb:        rdb,
		locker:     redislock.New(rdb),
		instanceID: instanceID,
		ttl:        ttl,
	}
}

func Key(id string) string {
	return fmt.Sprintf("exp:session:%v", id)
}

func (r *Redis) Claim(ctx context.Context, id, peer string) error {
	lock, err := r.locker.Obtain(ctx, lockKey, r.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return session.ErrSessionActive
	} else if err != nil {
		return err
	}

	data := map[string]string{
		"inst":    r.instanceID,
		"peer":    peer,
		"join":    strconv.Itoa(int(time.Now().Unix())),
		FieldRecv: "0",
		FieldSent: "0",
	}

	rid := Key(id)
	if err := r.rdb.HSet(ctx, rid, data).Err(); err != nil {
		_ = lock.Release(context.Background())
		return err
	}

	if err := r.rdb.Expire(ctx, rid, r.ttl).Err(); err != nil {
		_ = lock.Release(context.Background())
		return err
	}

	r.locks.Store(id, lock)
	return nil
}

func (r *Redis) Touch(ctx context.Context, id string) error {
	lock, ok := r.locks.Load(id)
	if !ok {
		return fmt.Errorf("no lock for %v", id)
	}

	if err := lock.(*redislock.Lock).Refresh(ctx, r.ttl, nil); err != nil {
		return err
	}

	return r.rdb.Expire(ctx, Key(id), r.ttl).Err()
}

// Count is a no-op once the session is released. The expiry is renewed
// with the increment so a count racing a release cannot leave the record
// behind for good.
func (r *Redis) Count(ctx context.Context, id, field string) error {
	if _, ok := r.locks.Load(id); !ok {
		return nil
	}

	rid := Key(id)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, rid, field, 1)
		pipe.Expire(ctx, rid, r.ttl)
		return nil
	})

	return err
}

func (r *Redis) Release(ctx context.Context, id string) error {
	lock, ok := r.locks.LoadAndDelete(id)

	delErr := r.rdb.Del(ctx, Key(id)).Err()
	if !ok {
		return delErr
	}

	if err := lock.(*redislock.Lock).Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return err
	}

	return delErr
}

// Stats reads the counters of a session record.
func (r *Redis) Stats(ctx context.Context, id string) (sent, recv int64, err error) {
	res, err := r.rdb.HMGet(ctx, Key(id), FieldSent, FieldRecv).Result()
	if err != nil {
		return 0, 0, err
	}

	if res[0] == nil || res[1] == nil {
		return 0, 0, redis.Nil
	}

	if sent, err = strconv.ParseInt(res[0].(string), 10, 64); err != nil {
		return 0, 0, err
	}

	if recv, err = strconv.ParseInt(res[1].(string), 10, 64); err != nil {
		return 0, 0, err
	}

	return sent, recv, nil
}
