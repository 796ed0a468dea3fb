package send

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RandomIDIndex 管理 “(sender, randomId) -> messageId” 的幂等窗口。
// DB 的唯一索引是兜底；这层只是快路径。
type RandomIDIndex interface {
	// Ensure 不存在则写入 proposed 并返回 (proposed, false)；已存在返回 (旧值, true)
	Ensure(ctx context.Context, senderID, randomID, proposedMsgID int64) (msgID int64, existed bool, err error)
	// Del 回滚占位（落库失败时）
	Del(ctx context.Context, senderID, randomID int64) error
}

// ---- Redis 实现 ----

type redisIndex struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisIndex(rdb redis.UniversalClient) RandomIDIndex {
	return &redisIndex{rdb: rdb, prefix: "us:rid", ttl: 48 * time.Hour}
}

// key 规范：us:rid:{sender}:{randomId}
func (m *redisIndex) key(senderID, randomID int64) string {
	return fmt.Sprintf("%s:%d:%d", m.prefix, senderID, randomID)
}

// Lua：原子 SETNX + PEXPIRE；已存在则 GET 返回旧值
const ensureLua = `
local k = KEYS[1]
local v = ARGV[1]
local ttl_ms = tonumber(ARGV[2])
local ok = redis.call('SETNX', k, v)
if ok == 1 then
  redis.call('PEXPIRE', k, ttl_ms)
  return {0, v}
else
  local old = redis.call('GET', k)
  return {1, old}
end
`

func (m *redisIndex) Ensure(ctx context.Context, senderID, randomID, proposedMsgID int64) (int64, bool, error) {
	key := m.key(senderID, randomID)
	res, err := m.rdb.Eval(ctx, ensureLua, []string{key},
		strconv.FormatInt(proposedMsgID, 10), int64(m.ttl/time.Millisecond)).Result()
	if err != nil {
		return 0, false, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return 0, false, fmt.Errorf("unexpected lua result: %#v", res)
	}
	flag, _ := arr[0].(int64)
	val, _ := arr[1].(string)
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return id, flag == 1, nil
}

func (m *redisIndex) Del(ctx context.Context, senderID, randomID int64) error {
	return m.rdb.Del(ctx, m.key(senderID, randomID)).Err()
}

// ---- 内存实现（单测） ----

type memIndex struct {
	mu sync.Mutex
	m  map[string]int64
}

func NewMemIndex() RandomIDIndex {
	return &memIndex{m: make(map[string]int64)}
}

func (m *memIndex) key(senderID, randomID int64) string {
	return fmt.Sprintf("%d:%d", senderID, randomID)
}

func (m *memIndex) Ensure(_ context.Context, senderID, randomID, proposedMsgID int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(senderID, randomID)
	if old, ok := m.m[k]; ok {
		return old, true, nil
	}
	m.m[k] = proposedMsgID
	return proposedMsgID, false, nil
}

func (m *memIndex) Del(_ context.Context, senderID, randomID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, m.key(senderID, randomID))
	return nil
}
