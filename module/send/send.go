package send

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"USync/logger"
	"USync/module/update/model"
	"USync/module/update/route"
	"USync/module/update/seqlog"
	"USync/tools/errs"
)

// ChatResolver 把 peer 解析成会话。DM 场景由业务侧建会话后返回其 ID。
type ChatResolver interface {
	ResolveChat(ctx context.Context, senderID int64, peer model.Peer) (chatID int64, err error)
}

// StaticChats (sender, peer) -> chatID 固定映射，单测用
type StaticChats map[model.Peer]int64

func (c StaticChats) ResolveChat(_ context.Context, _ int64, peer model.Peer) (int64, error) {
	id, ok := c[peer]
	if !ok {
		return 0, errs.ErrChatNotFound
	}
	return id, nil
}

var submitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "usync_send_submit_total",
	Help: "message submits by outcome.",
}, []string{"outcome"})

// Ack 发送回执。Duplicate=true 表示这次请求命中了幂等窗口，
// 没有产生新消息，MessageID 是第一次提交分配的号。
type Ack struct {
	ChatID    int64 `json:"chatId"`
	MessageID int64 `json:"messageId"`
	RandomID  int64 `json:"randomId"`
	Date      int64 `json:"date"`
	Duplicate bool  `json:"duplicate,omitempty"`
}

// Sender 消息提交入口。幂等键是 (senderID, randomID)：
// redis 索引做快路径，DB 唯一约束兜底，两层都丢失才可能重号。
type Sender struct {
	store  Store
	index  RandomIDIndex
	chats  ChatResolver
	router *route.Router
	log    *seqlog.Log
}

func NewSender(store Store, index RandomIDIndex, chats ChatResolver, router *route.Router, log *seqlog.Log) *Sender {
	return &Sender{store: store, index: index, chats: chats, router: router, log: log}
}

// SubmitMessage 处理一次客户端发送。重复提交返回首次的 Ack，不再写任何记录。
func (s *Sender) SubmitMessage(ctx context.Context, senderID, randomID int64, peer model.Peer, text string) (*Ack, error) {
	if senderID == 0 || randomID == 0 || !peer.Valid() {
		return nil, errs.ErrBadRequest.WithDetail("senderId/randomId/peer required")
	}
	if text == "" {
		return nil, errs.ErrBadRequest.WithDetail("empty message")
	}

	chatID, err := s.chats.ResolveChat(ctx, senderID, peer)
	if err != nil {
		return nil, err
	}

	// 快路径：redis 幂等窗口。索引故障不拦请求，落到 DB 兜底。
	if s.index != nil {
		if existing, found := s.lookupIndex(ctx, senderID, randomID); found {
			submitTotal.WithLabelValues("dup_index").Inc()
			return existing, nil
		}
	}

	now := time.Now()
	msg := &model.MessageModel{
		ChatID:   chatID,
		SenderID: senderID,
		RandomID: randomID,
		Peer:     peer,
		Text:     text,
		Date:     now,
	}

	// 取号 + 落库；message_id 撞号换号重试，random_id 撞号走幂等返回
	const maxRetry = 3
	for i := 0; ; i++ {
		msg.MessageID, err = s.store.NextMessageID(ctx, chatID)
		if err != nil {
			return nil, errs.ErrInternal.WithDetail(err.Error())
		}
		err = s.store.InsertMessage(ctx, msg)
		if err == nil {
			break
		}
		if s.store.IsDupRandomErr(err) {
			prev, ferr := s.store.FindByRandomID(ctx, senderID, randomID)
			if ferr != nil {
				return nil, errs.ErrInternal.WithDetail(ferr.Error())
			}
			submitTotal.WithLabelValues("dup_db").Inc()
			return ackOf(prev, true), nil
		}
		if s.store.IsDupMessageErr(err) && i < maxRetry {
			logger.Warnf("[send] message_id collision chat=%d id=%d, retrying", chatID, msg.MessageID)
			continue
		}
		return nil, errs.ErrInternal.WithDetail(err.Error())
	}

	if s.index != nil {
		if _, _, ierr := s.index.Ensure(ctx, senderID, randomID, msg.MessageID); ierr != nil {
			logger.Warnf("[send] index ensure failed sender=%d random=%d err=%v", senderID, randomID, ierr)
		}
	}

	s.fanout(ctx, msg)
	submitTotal.WithLabelValues("ok").Inc()
	return ackOf(msg, false), nil
}

func (s *Sender) lookupIndex(ctx context.Context, senderID, randomID int64) (*Ack, bool) {
	// Ensure(proposed=0)：0 永不占位成功前返回，只探测已有值
	got, existed, err := s.index.Ensure(ctx, senderID, randomID, 0)
	if err != nil {
		logger.Warnf("[send] index probe failed sender=%d random=%d err=%v", senderID, randomID, err)
		return nil, false
	}
	if !existed {
		// 探测写入了 0 占位，清掉，让真实取号路径接管
		if derr := s.index.Del(ctx, senderID, randomID); derr != nil {
			logger.Warnf("[send] index cleanup failed: %v", derr)
		}
		return nil, false
	}
	if got == 0 {
		// 另一个并发请求正在占位，按未命中处理，DB 兜底
		return nil, false
	}
	prev, ferr := s.store.FindByRandomID(ctx, senderID, randomID)
	if ferr != nil {
		// 索引有值但 DB 没有：上次落库失败残留，放行重新提交
		logger.Warnf("[send] index/db mismatch sender=%d random=%d: %v", senderID, randomID, ferr)
		return nil, false
	}
	return ackOf(prev, true), true
}

// fanout 收件方展开 + 逐桶追加。收件桶尽力而为（失败记日志，
// 客户端靠缺口重拉补齐）；发件人桶的 msgIdReassigned 同样尽力，
// Ack 本身已携带新号。
func (s *Sender) fanout(ctx context.Context, msg *model.MessageModel) {
	date := msg.Date.Unix()
	buckets, err := s.router.Buckets(ctx, route.ToChat(msg.ChatID).Excluding(msg.SenderID))
	if err != nil {
		logger.Errorf("[send] route chat=%d: %v", msg.ChatID, err)
		buckets = []model.Bucket{model.ChatBucket(msg.ChatID)}
	}
	stored := model.NewMessageUpdate(&model.StoredNewMessage{
		ChatID:    msg.ChatID,
		MessageID: msg.MessageID,
		FromID:    msg.SenderID,
		Peer:      msg.Peer,
		Date:      date,
		Text:      msg.Text,
	})
	for _, b := range buckets {
		if _, aerr := s.log.Append(ctx, b, stored); aerr != nil {
			logger.Errorf("[send] append newMessage bucket=%s: %v", b.Key(), aerr)
		}
	}

	reassign := model.MsgIDReassignedUpdate(&model.StoredMsgIDReassigned{
		ChatID:    msg.ChatID,
		RandomID:  msg.RandomID,
		MessageID: msg.MessageID,
		Date:      date,
	})
	if _, aerr := s.log.Append(ctx, model.UserBucket(msg.SenderID), reassign); aerr != nil {
		logger.Errorf("[send] append msgIdReassigned user=%d: %v", msg.SenderID, aerr)
	}
}

func ackOf(m *model.MessageModel, dup bool) *Ack {
	return &Ack{
		ChatID:    m.ChatID,
		MessageID: m.MessageID,
		RandomID:  m.RandomID,
		Date:      m.Date.Unix(),
		Duplicate: dup,
	}
}
