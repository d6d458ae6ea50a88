package throttle

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisWindowStore implements WindowStore on a shared Redis instance so
// the same limit applies across horizontally scaled replicas. Each key
// is a sorted set of hit timestamps scored by unix nanoseconds.
type RedisWindowStore struct {
	client *redis.Client
	prefix string
}

// NewRedisWindowStore creates a RedisWindowStore
func NewRedisWindowStore(client *redis.Client, prefix string) *RedisWindowStore {
	if prefix == "" {
		prefix = "throttle"
	}
	return &RedisWindowStore{client: client, prefix: prefix}
}

func (s *RedisWindowStore) key(key string) string {
	return s.prefix + ":" + key
}

// Allow implements WindowStore. Prune, add, and count run in one
// MULTI/EXEC transaction so concurrent calls on the same key serialize
// on the server: each caller observes a count that already includes its
// own hit, and a count past the limit means this caller lost the race
// and is denied. The denied hit is removed afterwards so a rejected
// request does not consume window budget; until that removal lands it
// can only inflate counts seen by others, which denies, never admits.
func (s *RedisWindowStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := time.Now()
	rkey := s.key(key)
	cutoff := strconv.FormatInt(now.Add(-window).UnixNano(), 10)

	// nanosecond timestamps can collide across replicas; the suffix keeps
	// every hit a distinct member
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "0", cutoff)
	pipe.ZAdd(ctx, rkey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	count := pipe.ZCard(ctx, rkey)
	oldest := pipe.ZRangeWithScores(ctx, rkey, 0, 0)
	pipe.Expire(ctx, rkey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	reset := now.Add(window)
	if vals := oldest.Val(); len(vals) > 0 {
		reset = time.Unix(0, int64(vals[0].Score)).Add(window)
	}

	if count.Val() > int64(limit) {
		// best effort: an unremoved member ages out at the window edge anyway
		s.client.ZRem(ctx, rkey, member)
		return Result{Reset: reset}, nil
	}

	return Result{
		Allowed:   true,
		Remaining: limit - int(count.Val()),
		Reset:     reset,
	}, nil
}

// Remaining implements WindowStore
func (s *RedisWindowStore) Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	cutoff := strconv.FormatInt(time.Now().Add(-window).UnixNano(), 10)
	count, err := s.client.ZCount(ctx, s.key(key), cutoff, "+inf").Result()
	if err != nil {
		return 0, err
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset implements WindowStore
func (s *RedisWindowStore) Reset(ctx context.Context, key string, window time.Duration) (time.Time, error) {
	vals, err := s.client.ZRangeWithScores(ctx, s.key(key), 0, 0).Result()
	if err != nil {
		return time.Time{}, err
	}
	if len(vals) == 0 {
		return time.Now(), nil
	}

	oldest := time.Unix(0, int64(vals[0].Score))
	return oldest.Add(window), nil
}
