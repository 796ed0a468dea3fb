package seqlog

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"USync/logger"
	"USync/module/update/codec"
	"USync/module/update/model"
	errs "USync/tools/errs"
)

var appendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "usync_seqlog_append_total",
	Help: "Appends to the update log by result.",
}, []string{"result"})

// Sink 落库成功后的投递口（喂给 fanout / bus）。
// 实现必须非阻塞：不允许拖住 Append 的提交路径。
type Sink interface {
	Deliver(bucket model.Bucket, seq int64, date time.Time, stored *model.Stored)
}

// Log 更新日志（发号器 + 持久化）。
// Append 对同一 bucket 的并发调用安全：seq 不重不漏。
type Log struct {
	db    DB
	alloc Allocator
	codec *codec.Codec
	sink  Sink // 可为 nil
}

// MultiSink 依次投递给每个下游（本地推送 + 跨节点总线）。
// Add 只许在开始 Append 前调用。
type MultiSink struct {
	sinks []Sink
}

func (m *MultiSink) Add(s Sink) {
	if s != nil {
		m.sinks = append(m.sinks, s)
	}
}

func (m *MultiSink) Deliver(bucket model.Bucket, seq int64, date time.Time, stored *model.Stored) {
	for _, s := range m.sinks {
		s.Deliver(bucket, seq, date, stored)
	}
}

func New(db DB, alloc Allocator, cdc *codec.Codec, sink Sink) *Log {
	return &Log{db: db, alloc: alloc, codec: cdc, sink: sink}
}

func (l *Log) DB() DB { return l.db }

// Append 追加一条更新：发号→编码→落库（冲突矫正重试）→推水位→投递。
// 返回的 seq 一定对应已持久化的记录；失败不污染计数器。
func (l *Log) Append(ctx context.Context, bucket model.Bucket, stored *model.Stored) (int64, error) {
	if !bucket.Valid() {
		return 0, errs.ErrBadRequest.WrapMsg("invalid bucket", "bucket", bucket)
	}
	key := bucket.Key()

	seq, err := l.alloc.Next(ctx, key)
	if err != nil {
		appendTotal.WithLabelValues("alloc_err").Inc()
		return 0, err
	}

	now := time.Now()
	payload, err := l.codec.Encode(key, stored)
	if err != nil {
		appendTotal.WithLabelValues("encode_err").Inc()
		return 0, err
	}

	rec := &model.UpdateRecord{BucketKey: key, Seq: seq, Date: now, Payload: payload}

	const maxRetry = 3
	backoff := 50 * time.Millisecond
	for i := 0; i <= maxRetry; i++ {
		err = l.db.InsertRecord(ctx, rec)
		if err == nil {
			if e := l.db.BumpMaxSeq(ctx, key, rec.Seq); e != nil {
				// 水位推进失败不致命：下次 Append/读取会再推
				logger.Warnf("[seqlog] bump max_seq failed bucket=%s seq=%d err=%v", key, rec.Seq, e)
			}
			appendTotal.WithLabelValues("ok").Inc()
			if l.sink != nil {
				l.sink.Deliver(bucket, rec.Seq, now, stored)
			}
			return rec.Seq, nil
		}

		// seq 唯一冲突：发号器落后于 DB → 矫正后重试
		if l.db.IsUniqueSeqErr(err) {
			dbMax, e := l.db.QueryMaxSeq(ctx, key)
			if e == nil {
				if newSeq, e2 := l.alloc.ReconcileAndNext(ctx, key, dbMax); e2 == nil {
					rec.Seq = newSeq
					continue
				}
			}
		}
		// 瞬时错误：退避
		if l.db.IsTransientErr(err) && i < maxRetry {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}
		break
	}

	appendTotal.WithLabelValues("insert_err").Inc()
	return 0, errs.ErrInternal.WrapMsg("append failed", "bucket", key, "err", err)
}

// MaxSeq 当前提交水位
func (l *Log) MaxSeq(ctx context.Context, bucket model.Bucket) (int64, error) {
	return l.db.QueryMaxSeq(ctx, bucket.Key())
}
