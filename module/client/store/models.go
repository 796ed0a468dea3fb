package store

import (
	"USync/module/update/model"
)

// 本地库模型。服务端下发的是事实，本地只做物化视图；
// 任何合并都必须幂等（同一批更新重放结果不变）。

// Chat 会话元数据
type Chat struct {
	ID              int64          `gorm:"primaryKey"`
	PeerKind        model.PeerKind `gorm:"index:idx_chat_peer"`
	PeerID          int64          `gorm:"index:idx_chat_peer"`
	Title           string
	LastMessageID   int64
	LastMessageDate int64 // unix 秒；晚到的旧事件不得回退 LastMessageID
}

// Dialog 会话在列表里的展示状态（未读、已读位点、置顶……）
type Dialog struct {
	ChatID          int64 `gorm:"primaryKey"`
	PeerKind        model.PeerKind
	PeerID          int64
	Unread          int32
	ReadInboxMaxID  int64 // 我读到哪
	ReadOutboxMaxID int64 // 对方读到哪（我发的）
	UnreadMark      bool  // 手动未读标记
	Pinned          bool
	Archived        bool
	Draft           string
	Silent          bool
	MutedTil        int64
}

// Message 本地消息。发送中的乐观消息用负 ID 占位，
// msgIdReassigned 到达后换成服务端号。
type Message struct {
	ChatID    int64 `gorm:"primaryKey;autoIncrement:false"`
	MessageID int64 `gorm:"primaryKey;autoIncrement:false"`
	FromID    int64
	RandomID  int64 `gorm:"index:idx_msg_random"`
	Text      string
	Date      int64
	Out       bool
	Status    string `gorm:"size:16"` // sending / sent / failed
}

const (
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Cursor 每 bucket 的同步游标：下一次 getUpdates 的 startSeq
type Cursor struct {
	BucketKey string `gorm:"primaryKey;size:32"`
	Seq       int64
}

// Member 会话/空间成员
type Member struct {
	ChatID  int64 `gorm:"primaryKey;autoIncrement:false"`
	UserID  int64 `gorm:"primaryKey;autoIncrement:false"`
	SpaceID int64
	Date    int64
}

// Reaction 消息表情回应
type Reaction struct {
	ChatID    int64  `gorm:"primaryKey;autoIncrement:false"`
	MessageID int64  `gorm:"primaryKey;autoIncrement:false"`
	UserID    int64  `gorm:"primaryKey;autoIncrement:false"`
	Emoji     string `gorm:"primaryKey;size:32"`
	Date      int64
}
