package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sales-call-pipeline/pkg/apperr"
	"sales-call-pipeline/pkg/utils"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Guard admits at most one Process run per call id at a time.
// Acquire returns a Conflict error when a run is already in flight.
type Guard interface {
	Acquire(ctx context.Context, callID string) (release func(), err error)
}

func errRunning() error { return apperr.Conflict("pipeline already running") }

// MemoryGuard is an in-process Guard.
type MemoryGuard struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{running: map[string]struct{}{}}
}

func (g *MemoryGuard) Acquire(ctx context.Context, callID string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.running[callID]; ok {
		return nil, errRunning()
	}
	g.running[callID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.running, callID)
			g.mu.Unlock()
		})
	}, nil
}

// RedisGuard holds a TTL-bound redis lock per call id, so a crashed process
// frees the call after ttl. ttl must outlast a full pipeline run.
type RedisGuard struct {
	locker *redislock.Client
	ttl    time.Duration
	prefix string
}

func NewRedisGuard(locker *redislock.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisGuard{locker: locker, ttl: ttl, prefix: "pipeline:run:"}
}

func (g *RedisGuard) Acquire(ctx context.Context, callID string) (func(), error) {
	lock, err := g.locker.Obtain(ctx, g.prefix+callID, g.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, errRunning()
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Sprintf("obtain run lock for %s", callID), err)
	}
	return func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}, nil
}

// CappedGuard bounds the number of Process runs in flight across all
// processes, then defers to the per-call guard.
type CappedGuard struct {
	next  Guard
	rdb   redis.Scripter
	key   string
	limit int
	ttl   time.Duration
}

// NewCappedGuard admits at most limit concurrent runs.
func NewCappedGuard(next Guard, rdb redis.Scripter, limit int, ttl time.Duration) *CappedGuard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CappedGuard{next: next, rdb: rdb, key: "pipeline:active", limit: limit, ttl: ttl}
}

func (g *CappedGuard) Acquire(ctx context.Context, callID string) (func(), error) {
	ok, err := utils.AcquireConcurrencyCap(ctx, g.rdb, g.key, g.limit, g.ttl)
	if err != nil {
		return nil, apperr.Internal("acquire pipeline slot", err)
	}
	if !ok {
		return nil, apperr.Conflict(fmt.Sprintf("too many pipelines running (limit %d)", g.limit))
	}
	releaseSlot := func() {
		_ = utils.ReleaseConcurrencyCap(context.WithoutCancel(ctx), g.rdb, g.key)
	}

	release, err := g.next.Acquire(ctx, callID)
	if err != nil {
		releaseSlot()
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			release()
			releaseSlot()
		})
	}, nil
}
