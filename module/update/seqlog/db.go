package seqlog

import (
	"context"

	"USync/module/update/model"
)

// DB 更新日志存储抽象：生产走 Mongo（db_mongo.go），测试用内存实现（db_mem.go）。
type DB interface {
	// EnsureBucket 水位文档存在化（首条更新前调用）
	EnsureBucket(ctx context.Context, bucketKey string) error

	// InsertRecord 落一条记录；违反 UNIQUE(bucket,seq) 返回可识别错误
	InsertRecord(ctx context.Context, rec *model.UpdateRecord) error

	// QueryMaxSeq / QueryMinSeq 读水位；不存在视为 0
	QueryMaxSeq(ctx context.Context, bucketKey string) (int64, error)
	QueryMinSeq(ctx context.Context, bucketKey string) (int64, error)

	// BumpMaxSeq $max 语义推进提交水位，防回退
	BumpMaxSeq(ctx context.Context, bucketKey string, seq int64) error

	// ListRange 按 seq 升序返回 (afterSeq, endSeq] 内最多 limit 条；endSeq<=0 表示不设上界
	ListRange(ctx context.Context, bucketKey string, afterSeq, endSeq int64, limit int) ([]*model.UpdateRecord, error)

	IsUniqueSeqErr(err error) bool
	IsTransientErr(err error) bool
}
