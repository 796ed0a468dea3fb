package sender

import (
	"context"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"USync/logger"
	"USync/module/client/applier"
	"USync/module/client/store"
	"USync/module/send"
	"USync/module/update/inflate"
	"USync/module/update/model"
	"USync/tools/ids"
)

// Transport 发送 RPC 的出口（WebSocket 或 REST）
type Transport interface {
	SendMessage(ctx context.Context, randomID int64, peer model.Peer, text string) (*send.Ack, error)
}

// Sender 乐观发送：先落本地占位（负 ID、sending 态），
// 服务端回执后换正式号。重试复用同一个 randomId，重号不可能。
type Sender struct {
	st     *store.Store
	ap     *applier.Applier
	rpc    Transport
	selfID int64

	nextLocal atomic.Int64 // 负向占位计数
}

func New(st *store.Store, ap *applier.Applier, rpc Transport, selfID int64) *Sender {
	return &Sender{st: st, ap: ap, rpc: rpc, selfID: selfID}
}

// Pending 等待重试的一次发送
type Pending struct {
	RandomID int64
	ChatID   int64
	LocalID  int64
}

// Send 写占位并发起提交。返回的 Pending 供失败后 Retry。
func (s *Sender) Send(ctx context.Context, chatID int64, peer model.Peer, text string) (*Pending, error) {
	randomID := ids.RandomID()
	localID := s.nextLocal.Add(-1)

	err := s.ap.RunLocal(func(tx *gorm.DB) error {
		return tx.Create(&store.Message{
			ChatID:    chatID,
			MessageID: localID,
			FromID:    s.selfID,
			RandomID:  randomID,
			Text:      text,
			Date:      time.Now().Unix(),
			Out:       true,
			Status:    store.StatusSending,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	p := &Pending{RandomID: randomID, ChatID: chatID, LocalID: localID}
	if err := s.submit(ctx, p, peer, text); err != nil {
		return p, err
	}
	return p, nil
}

// Retry 同一 randomId 重发；服务端幂等，最坏情况拿回同一个号
func (s *Sender) Retry(ctx context.Context, p *Pending, peer model.Peer, text string) error {
	return s.submit(ctx, p, peer, text)
}

// MarkFailed 放弃重试，占位标记失败（UI 显示感叹号）
func (s *Sender) MarkFailed(p *Pending) error {
	return s.ap.RunLocal(func(tx *gorm.DB) error {
		return tx.Model(&store.Message{}).
			Where("chat_id = ? AND message_id = ?", p.ChatID, p.LocalID).
			Update("status", store.StatusFailed).Error
	})
}

func (s *Sender) submit(ctx context.Context, p *Pending, peer model.Peer, text string) error {
	ack, err := s.rpc.SendMessage(ctx, p.RandomID, peer, text)
	if err != nil {
		logger.Warnf("[sender] submit random=%d: %v", p.RandomID, err)
		return err
	}
	// 回执直接合并，不等用户桶的 msgIdReassigned（它来了也幂等）
	return s.ap.ApplyBatch(&applier.Batch{Updates: []*inflate.Update{{
		Date: ack.Date,
		Kind: inflate.WireMsgIDReassigned,
		MsgIDReassigned: &inflate.WireIDReassign{
			ChatID:    ack.ChatID,
			RandomID:  p.RandomID,
			MessageID: ack.MessageID,
		},
	}}})
}
