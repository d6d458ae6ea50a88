package throttle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) *RedisWindowStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisWindowStore(client, "test")
}

func TestRedisWindowStore_LimitWithinWindow(t *testing.T) {
	store := newTestRedisStore(t)

	ctx := context.Background()
	const limit = 5
	window := time.Minute

	for i := 0; i < limit; i++ {
		res, err := store.Allow(ctx, "login|1.2.3.4", limit, window)
		if err != nil {
			t.Fatalf("allow %d: %v", i+1, err)
		}
		if !res.Allowed {
			t.Fatalf("call %d within limit was denied", i+1)
		}
	}

	res, err := store.Allow(ctx, "login|1.2.3.4", limit, window)
	if err != nil {
		t.Fatalf("allow over limit: %v", err)
	}
	if res.Allowed {
		t.Fatal("6th call within window was allowed")
	}
	if res.Reset.Before(time.Now()) {
		t.Error("denied call reported a reset in the past")
	}
}

func TestRedisWindowStore_ConcurrentBurstNeverOverAdmits(t *testing.T) {
	store := newTestRedisStore(t)

	ctx := context.Background()
	const limit = 5
	const callers = 50

	var admitted atomic.Int64
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			res, err := store.Allow(ctx, "k", limit, time.Minute)
			if err != nil {
				t.Errorf("allow: %v", err)
				return
			}
			if res.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != limit {
		t.Fatalf("concurrent burst: want %d admitted, got %d", limit, got)
	}
}

func TestRedisWindowStore_KeysIndependent(t *testing.T) {
	store := newTestRedisStore(t)

	ctx := context.Background()
	if res, _ := store.Allow(ctx, "a", 1, time.Minute); !res.Allowed {
		t.Fatal("first call for key a denied")
	}
	if res, _ := store.Allow(ctx, "a", 1, time.Minute); res.Allowed {
		t.Fatal("second call for key a allowed")
	}
	if res, _ := store.Allow(ctx, "b", 1, time.Minute); !res.Allowed {
		t.Fatal("key b throttled by key a's hits")
	}
}

func TestRedisWindowStore_RemainingCountsDown(t *testing.T) {
	store := newTestRedisStore(t)

	ctx := context.Background()
	const limit = 3

	got, err := store.Remaining(ctx, "k", limit, time.Minute)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if got != limit {
		t.Fatalf("fresh key remaining: want %d, got %d", limit, got)
	}

	store.Allow(ctx, "k", limit, time.Minute)
	store.Allow(ctx, "k", limit, time.Minute)

	got, err = store.Remaining(ctx, "k", limit, time.Minute)
	if err != nil {
		t.Fatalf("remaining after 2 hits: %v", err)
	}
	if got != 1 {
		t.Fatalf("remaining after 2 hits: want 1, got %d", got)
	}
}
