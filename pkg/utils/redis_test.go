package utils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestOpenRedis_Ping(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := OpenRedis(context.Background(), RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = rdb.Close()
}

func TestConcurrencyCap(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	const key = "pipeline:active"
	for i := 0; i < 2; i++ {
		ok, err := AcquireConcurrencyCap(ctx, rdb, key, 2, time.Minute)
		if err != nil || !ok {
			t.Fatalf("acquire %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := AcquireConcurrencyCap(ctx, rdb, key, 2, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok {
		t.Fatalf("expected third slot to be rejected")
	}

	if err := ReleaseConcurrencyCap(ctx, rdb, key); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = AcquireConcurrencyCap(ctx, rdb, key, 2, time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected slot after release: ok=%v err=%v", ok, err)
	}
}

func TestConcurrencyCap_SlotsExpire(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	if ok, err := AcquireConcurrencyCap(ctx, rdb, "k", 1, time.Minute); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	mr.FastForward(2 * time.Minute)
	if ok, err := AcquireConcurrencyCap(ctx, rdb, "k", 1, time.Minute); err != nil || !ok {
		t.Fatalf("expected leaked slot to expire: ok=%v err=%v", ok, err)
	}
}

func TestConcurrencyCap_ArgumentChecks(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	if _, err := AcquireConcurrencyCap(ctx, rdb, "", 1, time.Minute); err == nil {
		t.Fatalf("expected key error")
	}
	if _, err := AcquireConcurrencyCap(ctx, rdb, "k", 0, time.Minute); err == nil {
		t.Fatalf("expected limit error")
	}
	if _, err := AcquireConcurrencyCap(ctx, rdb, "k", 1, 0); err == nil {
		t.Fatalf("expected ttl error")
	}
}
