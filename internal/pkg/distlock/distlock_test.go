package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisLock_MutualExclusion(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	a := New(client, nil, "retention", time.Minute)
	b := New(client, nil, "retention", time.Minute)

	ok, err := a.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if !ok {
		t.Fatal("first acquire should succeed")
	}

	ok, err = b.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Error("second acquire should fail while lock is held")
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	ok, err = b.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if !ok {
		t.Error("acquire after release should succeed")
	}
}

func TestRedisLock_ReleaseOnlyReleasesOwnLock(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	a := New(client, nil, "recovery", time.Minute)
	b := New(client, nil, "recovery", time.Minute)

	if ok, _ := a.TryAcquire(ctx); !ok {
		t.Fatal("acquire failed")
	}

	// b never acquired the lock, so its release must be a no-op.
	if err := b.Release(ctx); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}

	if ok, _ := b.TryAcquire(ctx); ok {
		t.Error("lock should still be held by a after non-owner release")
	}
}

func TestRedisLock_DistinctKeysIndependent(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	a := New(client, nil, "retention", time.Minute)
	b := New(client, nil, "recovery", time.Minute)

	if ok, _ := a.TryAcquire(ctx); !ok {
		t.Fatal("acquire retention failed")
	}
	if ok, _ := b.TryAcquire(ctx); !ok {
		t.Error("different key should be acquirable")
	}
}
