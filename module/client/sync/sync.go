package sync

import (
	"context"
	"time"

	"USync/logger"
	"USync/module/client/applier"
	"USync/module/client/store"
	"USync/module/update/resolver"
)

// Puller getUpdates 的客户端出口（WebSocket RPC 或 REST）
type Puller interface {
	GetUpdates(ctx context.Context, bucketKey string, startSeq, seqEnd int64, limit int) (*resolver.Result, error)
}

// ResyncFunc TOO_LONG 时的全量重建：拉快照、重建本地状态。
// 返回 nil 后游标直接跳到 serverSeq。
type ResyncFunc func(ctx context.Context, bucketKey string, serverSeq int64) error

type Config struct {
	BaseDelay time.Duration // 首次失败后的等待
	MaxDelay  time.Duration // 退避封顶
	PageLimit int           // 单次拉取条数
}

func (c *Config) fill() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Minute
	}
	if c.PageLimit <= 0 {
		c.PageLimit = 200
	}
}

// Syncer 每 bucket 的拉取驱动。游标持久化在本地库里，
// 崩了从上次提交点续传。
type Syncer struct {
	st     *store.Store
	ap     *applier.Applier
	pull   Puller
	resync ResyncFunc
	cfg    Config

	// 测试注入；生产默认真实睡眠
	sleep func(ctx context.Context, d time.Duration) error
}

func New(st *store.Store, ap *applier.Applier, pull Puller, resync ResyncFunc, cfg Config) *Syncer {
	cfg.fill()
	return &Syncer{
		st: st, ap: ap, pull: pull, resync: resync, cfg: cfg,
		sleep: realSleep,
	}
}

func realSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SyncOnce 从持久化游标追到服务端水位（Final 为止）。
func (s *Syncer) SyncOnce(ctx context.Context, bucketKey string) error {
	startSeq, err := s.st.CursorSeq(bucketKey)
	if err != nil {
		return err
	}
	for {
		r, err := s.pull.GetUpdates(ctx, bucketKey, startSeq, 0, s.cfg.PageLimit)
		if err != nil {
			return err
		}
		switch r.Type {
		case resolver.ResultTooLong:
			if s.resync != nil {
				if rerr := s.resync(ctx, bucketKey, r.Seq); rerr != nil {
					return rerr
				}
			}
			// 快照已重建：游标锚到服务端水位
			return s.ap.ApplyBatch(&applier.Batch{BucketKey: bucketKey, Seq: r.Seq})
		default:
			if err := s.ap.ApplyBatch(&applier.Batch{
				BucketKey: bucketKey, Updates: r.Updates, Seq: r.Seq,
			}); err != nil {
				return err
			}
			startSeq = r.Seq
			if r.Final {
				return nil
			}
		}
	}
}

// Run 带退避的常驻循环：成功归零，失败指数加倍封顶。
// interval 是两次追平之间的静默期（推送正常时兜底轮询用）。
func (s *Syncer) Run(ctx context.Context, bucketKey string, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	delay := time.Duration(0)
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.SyncOnce(ctx, bucketKey)
		if err == nil {
			delay = 0
			if s.sleep(ctx, interval) != nil {
				return
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if delay == 0 {
			delay = s.cfg.BaseDelay
		} else {
			delay *= 2
			if delay > s.cfg.MaxDelay {
				delay = s.cfg.MaxDelay
			}
		}
		logger.Warnf("[sync] bucket=%s err=%v, retry in %s", bucketKey, err, delay)
		if s.sleep(ctx, delay) != nil {
			return
		}
	}
}
