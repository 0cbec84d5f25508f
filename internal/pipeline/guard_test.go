package pipeline

import (
	"context"
	"testing"
	"time"

	"sales-call-pipeline/pkg/apperr"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

func TestMemoryGuard(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGuard()

	release, err := g.Acquire(ctx, "c")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := g.Acquire(ctx, "c"); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	other, err := g.Acquire(ctx, "d")
	if err != nil {
		t.Fatalf("expected independent call to acquire, got %v", err)
	}
	other()

	release()
	release()
	again, err := g.Acquire(ctx, "c")
	if err != nil {
		t.Fatalf("expected acquire after release, got %v", err)
	}
	again()
}

func TestRedisGuard(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	g := NewRedisGuard(redislock.New(rdb), time.Minute)

	release, err := g.Acquire(ctx, "c")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := g.Acquire(ctx, "c"); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	release()
	if _, err := g.Acquire(ctx, "c"); err != nil {
		t.Fatalf("expected acquire after release, got %v", err)
	}

	// An abandoned lock expires with its ttl.
	mr.FastForward(2 * time.Minute)
	if _, err := g.Acquire(ctx, "c"); err != nil {
		t.Fatalf("expected acquire after ttl expiry, got %v", err)
	}
}

func TestCappedGuard(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	g := NewCappedGuard(NewMemoryGuard(), rdb, 2, time.Minute)

	releaseA, err := g.Acquire(ctx, "a")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	// Per-call conflict must not leak a slot.
	if _, err := g.Acquire(ctx, "a"); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict for a, got %v", err)
	}
	releaseB, err := g.Acquire(ctx, "b")
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	if _, err := g.Acquire(ctx, "c"); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected cap conflict for c, got %v", err)
	}

	releaseA()
	releaseA()
	releaseC, err := g.Acquire(ctx, "c")
	if err != nil {
		t.Fatalf("expected slot after release, got %v", err)
	}
	releaseB()
	releaseC()
}
