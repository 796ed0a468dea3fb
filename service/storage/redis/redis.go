package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"USync/global"
	"USync/logger"
)

// Connect 建立 redis 连接并 ping 通。单机/集群由地址数量决定。
func Connect(ctx context.Context, cfg global.RedisConfig) (redis.UniversalClient, error) {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{cfg.Addr},
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     cfg.PoolSize,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	logger.Infof("[redis] connected %s", cfg.Addr)
	return rdb, nil
}
