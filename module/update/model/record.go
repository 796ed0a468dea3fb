package model

import "time"

// UpdateRecord 更新日志的持久化单元。bucket 内 seq 连续且唯一，
// 记录一旦落库不可变；Payload 为 codec 加密后的字节。
type UpdateRecord struct {
	BucketKey string    `bson:"bucket_key"` // u:<id> / c:<id> / s:<id>
	Seq       int64     `bson:"seq"`
	Date      time.Time `bson:"date"`
	Payload   []byte    `bson:"payload"`
}

const (
	RecordFieldBucketKey = "bucket_key"
	RecordFieldSeq       = "seq"
	RecordFieldDate      = "date"
	RecordFieldPayload   = "payload"
)

func (UpdateRecord) GetTableName() string { return "update_record" }

// SeqBucket 每个 bucket 的水位文档。
// MaxSeq：已提交可读的最大序号（$max 推进，防回退）；
// MinSeq：历史清理后的保留下界，读范围 = (MinSeq, MaxSeq]。
type SeqBucket struct {
	BucketKey  string    `bson:"bucket_key"`
	MaxSeq     int64     `bson:"max_seq"`
	MinSeq     int64     `bson:"min_seq"`
	CreateTime time.Time `bson:"create_time"`
	UpdateTime time.Time `bson:"update_time"`
}

const (
	SeqBucketFieldBucketKey  = "bucket_key"
	SeqBucketFieldMaxSeq     = "max_seq"
	SeqBucketFieldMinSeq     = "min_seq"
	SeqBucketFieldCreateTime = "create_time"
	SeqBucketFieldUpdateTime = "update_time"
)

func (SeqBucket) GetTableName() string { return "seq_bucket" }

// MessageModel 服务端消息主存储。UNIQUE(chat_id, message_id)，
// UNIQUE(sender_id, random_id) 保证重试幂等。
type MessageModel struct {
	ChatID   int64     `bson:"chat_id"`
	MessageID int64    `bson:"message_id"`
	SenderID int64     `bson:"sender_id"`
	RandomID int64     `bson:"random_id,omitempty"`
	Peer     Peer      `bson:"peer"`
	Text     string    `bson:"text,omitempty"`
	Date     time.Time `bson:"date"`
}

const (
	MsgFieldChatID    = "chat_id"
	MsgFieldMessageID = "message_id"
	MsgFieldSenderID  = "sender_id"
	MsgFieldRandomID  = "random_id"
	MsgFieldDate      = "date"
)

func (MessageModel) GetTableName() string { return "message" }
