package resolver

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"USync/logger"
	"USync/module/update/codec"
	"USync/module/update/inflate"
	"USync/module/update/model"
	"USync/module/update/seqlog"
)

// ResultType 增量拉取的三种出口
type ResultType int32

const (
	ResultSlice   ResultType = 1 // 有序切片，可能还有下一页
	ResultEmpty   ResultType = 2 // 区间内无可见更新
	ResultTooLong ResultType = 3 // 缺口过大，放弃增量，走全量重拉
)

func (t ResultType) String() string {
	switch t {
	case ResultSlice:
		return "slice"
	case ResultEmpty:
		return "empty"
	case ResultTooLong:
		return "too_long"
	}
	return "unknown"
}

var resultTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "usync_resolver_result_total",
	Help: "getUpdates results by type.",
}, []string{"type"})

// Result getUpdates 的返回。Seq 是客户端下一次 startSeq 的游标：
// 被跳过（无法展开）的记录也推进 Seq，客户端绝不重复请求已告知的区间。
type Result struct {
	Updates []*inflate.Update `json:"updates"`
	Seq     int64             `json:"seq"`
	Final   bool              `json:"final"`
	Type    ResultType        `json:"resultType"`
}

type Config struct {
	GapThreshold int64 // maxSeq-startSeq 超过则 TOO_LONG
	HardLimit    int   // totalLimit 钳制上限
}

// Resolver 只读；跨 bucket、跨调用方并行安全。
type Resolver struct {
	db    seqlog.DB
	codec *codec.Codec
	cfg   Config
}

func New(db seqlog.DB, cdc *codec.Codec, cfg Config) *Resolver {
	if cfg.GapThreshold <= 0 {
		cfg.GapThreshold = 10000
	}
	if cfg.HardLimit <= 0 {
		cfg.HardLimit = 1500
	}
	return &Resolver{db: db, codec: cdc, cfg: cfg}
}

// GetUpdates 见 Result 注释。forUser 用于展开时的视角字段（非用户桶传 0）。
// seqEnd<=0 表示不设上界。
func (r *Resolver) GetUpdates(ctx context.Context, bucket model.Bucket, forUser int64, startSeq, seqEnd int64, totalLimit int) (*Result, error) {
	key := bucket.Key()

	// 服务端硬顶，客户端要多少都不超过
	if totalLimit <= 0 || totalLimit > r.cfg.HardLimit {
		totalLimit = r.cfg.HardLimit
	}

	maxSeq, err := r.db.QueryMaxSeq(ctx, key)
	if err != nil {
		return nil, err
	}
	minSeq, err := r.db.QueryMinSeq(ctx, key)
	if err != nil {
		return nil, err
	}

	// 缺口过大 / 起点已被清理：放弃增量，锚定当前水位
	if maxSeq-startSeq > r.cfg.GapThreshold || startSeq < minSeq {
		resultTotal.WithLabelValues(ResultTooLong.String()).Inc()
		return &Result{Seq: maxSeq, Final: true, Type: ResultTooLong}, nil
	}

	recs, err := r.db.ListRange(ctx, key, startSeq, seqEnd, totalLimit)
	if err != nil {
		return nil, err
	}

	cursor := startSeq
	updates := make([]*inflate.Update, 0, len(recs))
	for _, rec := range recs {
		// 有序性由存储保证；这里只消费
		cursor = rec.Seq
		stored, derr := r.codec.Decode(key, rec.Payload)
		if derr != nil {
			// 解不开的记录跳过但照常推进游标
			logger.Warnf("[resolver] decode failed bucket=%s seq=%d err=%v", key, rec.Seq, derr)
			continue
		}
		u, ierr := inflate.Inflate(rec.Seq, rec.Date.Unix(), stored, forUser)
		if ierr != nil {
			logger.Debugf("[resolver] skip unhandled kind=%q bucket=%s seq=%d", stored.Kind, key, rec.Seq)
			continue
		}
		updates = append(updates, u)
	}

	final := cursor >= maxSeq || (seqEnd > 0 && cursor >= seqEnd)
	res := &Result{Updates: updates, Seq: cursor, Final: final}
	if len(updates) == 0 {
		res.Type = ResultEmpty
		if len(recs) == 0 {
			res.Seq = startSeq
			res.Final = true
		}
	} else {
		res.Type = ResultSlice
	}
	resultTotal.WithLabelValues(res.Type.String()).Inc()
	return res, nil
}
