package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"USync/logger"
	"USync/module/update/model"
	"USync/module/update/seqlog"
)

// Watchers 谁关心某用户的在线状态（联系人 / 共同会话成员）
type Watchers interface {
	WatcherIDs(ctx context.Context, userID int64) ([]int64, error)
}

// StaticWatchers 固定映射，单测用
type StaticWatchers map[int64][]int64

func (w StaticWatchers) WatcherIDs(_ context.Context, userID int64) ([]int64, error) {
	return w[userID], nil
}

// Presence 在线状态：redis 维护连接集合（多端多连接），
// 0->1 / 1->0 跳变时向关注者的用户桶追加 userStatus 更新。
type Presence struct {
	rdb      redis.UniversalClient
	watchers Watchers
	log      *seqlog.Log
	ttl      time.Duration
}

func NewPresence(rdb redis.UniversalClient, watchers Watchers, log *seqlog.Log) *Presence {
	return &Presence{rdb: rdb, watchers: watchers, log: log, ttl: 5 * time.Minute}
}

func (p *Presence) key(userID int64) string {
	return fmt.Sprintf("us:online:%d", userID)
}

func (p *Presence) Online(ctx context.Context, userID int64, connID string) {
	if p.rdb != nil {
		n, err := p.rdb.SAdd(ctx, p.key(userID), connID).Result()
		if err != nil {
			logger.Warnf("[presence] sadd user=%d: %v", userID, err)
			return
		}
		p.rdb.Expire(ctx, p.key(userID), p.ttl)
		if n == 0 {
			return // 重复注册
		}
		cnt, _ := p.rdb.SCard(ctx, p.key(userID)).Result()
		if cnt > 1 {
			return // 已经在线，另一端而已
		}
	}
	p.notify(ctx, userID, true)
}

func (p *Presence) Offline(ctx context.Context, userID int64, connID string) {
	if p.rdb != nil {
		if err := p.rdb.SRem(ctx, p.key(userID), connID).Err(); err != nil {
			logger.Warnf("[presence] srem user=%d: %v", userID, err)
			return
		}
		cnt, _ := p.rdb.SCard(ctx, p.key(userID)).Result()
		if cnt > 0 {
			return // 还有别的连接
		}
	}
	p.notify(ctx, userID, false)
}

func (p *Presence) notify(ctx context.Context, userID int64, online bool) {
	watcherIDs, err := p.watchers.WatcherIDs(ctx, userID)
	if err != nil {
		logger.Warnf("[presence] watchers user=%d: %v", userID, err)
		return
	}
	stored := model.UserStatusUpdate(&model.StoredUserStatus{
		UserID:     userID,
		Online:     online,
		LastOnline: time.Now().Unix(),
	})
	for _, w := range watcherIDs {
		if _, aerr := p.log.Append(ctx, model.UserBucket(w), stored); aerr != nil {
			logger.Warnf("[presence] append watcher=%d: %v", w, aerr)
		}
	}
}
