package seqlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"USync/tools/ids"
)

// Allocator 每 bucket 独立发号。同一 bucket 串行、不同 bucket 并行。
type Allocator interface {
	// Next 取下一个 seq（首次自动从 DB 水位初始化）
	Next(ctx context.Context, bucketKey string) (int64, error)
	// ReconcileAndNext 发现计数落后于 DB 时：只升不降，矫正后取新号
	ReconcileAndNext(ctx context.Context, bucketKey string, dbMax int64) (int64, error)
}

// ---- Redis 实现 ----

type RedisAllocator struct {
	rdb        redis.UniversalClient
	db         DB
	seqPrefix  string
	lockPrefix string
	lockTTL    time.Duration
	spinWait   time.Duration
}

func NewRedisAllocator(rdb redis.UniversalClient, db DB) *RedisAllocator {
	return &RedisAllocator{
		rdb:        rdb,
		db:         db,
		seqPrefix:  "us:seq",
		lockPrefix: "us:seq:init",
		lockTTL:    10 * time.Second,
		spinWait:   50 * time.Millisecond,
	}
}

func (a *RedisAllocator) seqKey(bucketKey string) string {
	return fmt.Sprintf("%s:%s", a.seqPrefix, bucketKey)
}
func (a *RedisAllocator) lockKey(bucketKey string) string {
	return fmt.Sprintf("%s:%s", a.lockPrefix, bucketKey)
}

// Next 若 redis 未初始化（无/0），存储桶存在化→读 DB max→SET→INCR
func (a *RedisAllocator) Next(ctx context.Context, bucketKey string) (int64, error) {
	key := a.seqKey(bucketKey)
	if v, err := a.rdb.Get(ctx, key).Int64(); err == nil && v > 0 {
		return a.rdb.Incr(ctx, key).Result()
	}
	if err := a.initIfNeeded(ctx, bucketKey); err != nil {
		return 0, err
	}
	return a.rdb.Incr(ctx, key).Result()
}

func (a *RedisAllocator) initIfNeeded(ctx context.Context, bucketKey string) error {
	key := a.seqKey(bucketKey)
	if v, err := a.rdb.Get(ctx, key).Int64(); err == nil && v > 0 {
		return nil
	}
	// 加锁防止初始化风暴
	lock := a.lockKey(bucketKey)
	token := ids.GenerateString()
	ok, err := a.rdb.SetNX(ctx, lock, token, a.lockTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		timer := time.NewTimer(a.spinWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if v, err := a.rdb.Get(ctx, key).Int64(); err == nil && v > 0 {
			return nil
		}
		return errors.New("seq init contention, retry")
	}
	defer func() { _ = unlock(ctx, a.rdb, lock, token) }()

	// 双检
	if v, err := a.rdb.Get(ctx, key).Int64(); err == nil && v > 0 {
		return nil
	}
	if err := a.db.EnsureBucket(ctx, bucketKey); err != nil {
		return err
	}
	maxSeq, err := a.db.QueryMaxSeq(ctx, bucketKey)
	if err != nil {
		return err
	}
	return a.rdb.Set(ctx, key, maxSeq, 0).Err()
}

// 只升不降
var reconcileAndNextLua = `
local k = KEYS[1]
local dbMax = tonumber(ARGV[1])
local v = redis.call('GET', k)
if (not v) or (tonumber(v) < dbMax) then
  redis.call('SET', k, dbMax)
end
return redis.call('INCR', k)
`

func (a *RedisAllocator) ReconcileAndNext(ctx context.Context, bucketKey string, dbMax int64) (int64, error) {
	return a.rdb.Eval(ctx, reconcileAndNextLua, []string{a.seqKey(bucketKey)}, dbMax).Int64()
}

var unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

func unlock(ctx context.Context, rdb redis.UniversalClient, key, token string) error {
	return rdb.Eval(ctx, unlockLua, []string{key}, token).Err()
}

// ---- 内存实现（单测/单机） ----

type MemAllocator struct {
	mu   sync.Mutex
	db   DB
	curr map[string]int64
	init map[string]bool
}

func NewMemAllocator(db DB) *MemAllocator {
	return &MemAllocator{db: db, curr: make(map[string]int64), init: make(map[string]bool)}
}

func (a *MemAllocator) Next(ctx context.Context, bucketKey string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.init[bucketKey] {
		if err := a.db.EnsureBucket(ctx, bucketKey); err != nil {
			return 0, err
		}
		maxSeq, err := a.db.QueryMaxSeq(ctx, bucketKey)
		if err != nil {
			return 0, err
		}
		if maxSeq > a.curr[bucketKey] {
			a.curr[bucketKey] = maxSeq
		}
		a.init[bucketKey] = true
	}
	a.curr[bucketKey]++
	return a.curr[bucketKey], nil
}

func (a *MemAllocator) ReconcileAndNext(_ context.Context, bucketKey string, dbMax int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.curr[bucketKey] < dbMax {
		a.curr[bucketKey] = dbMax
	}
	a.curr[bucketKey]++
	return a.curr[bucketKey], nil
}
