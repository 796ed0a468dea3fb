package applier

import (
	"errors"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"USync/logger"
	"USync/module/client/store"
	"USync/module/update/inflate"
	"USync/module/update/model"
)

// Batch 一次提交的单位：同一 bucket 的一段连续更新 + 新游标。
// 整批一个事务，提交后游标才算推进；崩溃重放整批，合并规则保证幂等。
type Batch struct {
	BucketKey string
	Updates   []*inflate.Update
	Seq       int64 // 应用后该 bucket 的游标
}

// Listener 事务提交后的通知（UI 刷新用）。回调里不得再写库。
type Listener func(b *Batch)

// Applier 本地库唯一写入口。mu 保证单写者：
// 同步循环、发送回执、用户操作都经这里排队。
type Applier struct {
	st     *store.Store
	selfID int64

	mu        sync.Mutex
	lmu       sync.Mutex
	listeners []Listener
}

func New(st *store.Store, selfID int64) *Applier {
	return &Applier{st: st, selfID: selfID}
}

func (a *Applier) OnCommit(l Listener) {
	a.lmu.Lock()
	defer a.lmu.Unlock()
	a.listeners = append(a.listeners, l)
}

// ApplyBatch 应用一批更新并推进游标，全部成败一致。
func (a *Applier) ApplyBatch(b *Batch) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.st.Transaction(func(tx *gorm.DB) error {
		for _, u := range b.Updates {
			if err := a.applyOne(tx, u); err != nil {
				return err
			}
		}
		if b.BucketKey == "" {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bucket_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"seq"}),
		}).Create(&store.Cursor{BucketKey: b.BucketKey, Seq: b.Seq}).Error
	})
	if err != nil {
		return err
	}

	a.lmu.Lock()
	ls := make([]Listener, len(a.listeners))
	copy(ls, a.listeners)
	a.lmu.Unlock()
	for _, l := range ls {
		l(b)
	}
	return nil
}

// RunLocal 本地发起的写（乐观消息、草稿）与同步批共用同一把写锁，
// 不经游标。
func (a *Applier) RunLocal(fn func(tx *gorm.DB) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st.Transaction(fn)
}

func (a *Applier) applyOne(tx *gorm.DB, u *inflate.Update) error {
	switch {
	case u.NewMessage != nil:
		return a.applyNewMessage(tx, u)
	case u.MsgIDReassigned != nil:
		return a.applyReassign(tx, u.MsgIDReassigned)
	case u.ReadMaxChanged != nil:
		return a.applyReadMax(tx, u.ReadMaxChanged)
	case u.UnreadMark != nil:
		return a.applyUnreadMark(tx, u.UnreadMark)
	case u.NotifySettings != nil:
		return a.applyNotifySettings(tx, u.NotifySettings)
	case u.MemberChange != nil:
		return a.applyMemberChange(tx, u)
	case u.MessageDeleted != nil:
		return a.applyMessageDeleted(tx, u.MessageDeleted)
	case u.ReactionChanged != nil:
		return a.applyReaction(tx, u)
	case u.UserStatus != nil, u.ComposeAction != nil:
		// 瞬态，不落库；listener 能从 Batch 里拿到
		return nil
	}
	// 未来版本的更新：跳过，游标照常推进
	logger.Debugf("[applier] skip unknown update kind=%q seq=%d", u.Kind, u.Seq)
	return nil
}

func (a *Applier) applyNewMessage(tx *gorm.DB, u *inflate.Update) error {
	m := u.NewMessage

	// 重放幂等：已有该消息就什么都不做
	var exists store.Message
	err := tx.First(&exists, "chat_id = ? AND message_id = ?", m.ChatID, m.MessageID).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	if err := tx.Create(&store.Message{
		ChatID:    m.ChatID,
		MessageID: m.MessageID,
		FromID:    m.FromID,
		RandomID:  m.RandomID,
		Text:      m.Text,
		Date:      m.Date,
		Out:       m.Out,
		Status:    store.StatusSent,
	}).Error; err != nil {
		return err
	}

	chat, err := ensureChat(tx, m.ChatID, m.Peer.Kind, m.Peer.ID)
	if err != nil {
		return err
	}
	// 乱序晚到的旧消息不回退会话头
	if m.Date >= chat.LastMessageDate {
		chat.LastMessageID = m.MessageID
		chat.LastMessageDate = m.Date
		if err := tx.Save(chat).Error; err != nil {
			return err
		}
	}

	d, err := ensureDialog(tx, m.ChatID, m.Peer.Kind, m.Peer.ID)
	if err != nil {
		return err
	}
	// 只有别人发的、且在已读位点之后的消息才算未读
	if !m.Out && m.FromID != a.selfID && m.MessageID > d.ReadInboxMaxID {
		d.Unread++
		return tx.Save(d).Error
	}
	return nil
}

// applyReassign randomId 换正式号。本地没有这条乐观消息时整体 no-op
// （多端场景：别的设备发的）。
func (a *Applier) applyReassign(tx *gorm.DB, r *inflate.WireIDReassign) error {
	var local store.Message
	err := tx.First(&local, "chat_id = ? AND random_id = ?", r.ChatID, r.RandomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if local.MessageID == r.MessageID {
		// 重放
		return tx.Model(&store.Message{}).
			Where("chat_id = ? AND message_id = ?", r.ChatID, r.MessageID).
			Update("status", store.StatusSent).Error
	}

	// 主键变更：删旧插新，同一事务内原子
	if err := tx.Delete(&store.Message{}, "chat_id = ? AND message_id = ?", local.ChatID, local.MessageID).Error; err != nil {
		return err
	}
	local.MessageID = r.MessageID
	local.Status = store.StatusSent
	if err := tx.Create(&local).Error; err != nil {
		return err
	}

	var chat store.Chat
	if err := tx.First(&chat, "id = ?", r.ChatID).Error; err == nil {
		if chat.LastMessageID < r.MessageID && chat.LastMessageDate <= local.Date {
			chat.LastMessageID = r.MessageID
			chat.LastMessageDate = local.Date
			return tx.Save(&chat).Error
		}
	}
	return nil
}

// applyReadMax 已读位点只进不退
func (a *Applier) applyReadMax(tx *gorm.DB, r *inflate.WireReadMax) error {
	d, err := ensureDialog(tx, r.ChatID, r.Peer.Kind, r.Peer.ID)
	if err != nil {
		return err
	}
	if r.Outbox {
		if r.MaxID <= d.ReadOutboxMaxID {
			return nil
		}
		d.ReadOutboxMaxID = r.MaxID
	} else {
		if r.MaxID <= d.ReadInboxMaxID {
			return nil
		}
		d.ReadInboxMaxID = r.MaxID
		d.Unread = r.Unread
		if d.Unread < 0 {
			d.Unread = 0
		}
		d.UnreadMark = false
	}
	return tx.Save(d).Error
}

func (a *Applier) applyUnreadMark(tx *gorm.DB, m *inflate.WireUnread) error {
	d, err := dialogByPeer(tx, m.Peer)
	if err != nil || d == nil {
		return err
	}
	d.UnreadMark = m.Unread
	return tx.Save(d).Error
}

func (a *Applier) applyNotifySettings(tx *gorm.DB, n *inflate.WireNotify) error {
	d, err := dialogByPeer(tx, n.Peer)
	if err != nil || d == nil {
		return err
	}
	d.Silent = n.Silent
	d.MutedTil = n.MutedTil
	return tx.Save(d).Error
}

func (a *Applier) applyMemberChange(tx *gorm.DB, u *inflate.Update) error {
	m := u.MemberChange
	if m.Added {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&store.Member{
			ChatID: m.ChatID, UserID: m.UserID, SpaceID: m.SpaceID, Date: u.Date,
		}).Error
	}
	return tx.Delete(&store.Member{}, "chat_id = ? AND user_id = ?", m.ChatID, m.UserID).Error
}

// applyMessageDeleted 删除 + 会话头降级在同一事务里完成
func (a *Applier) applyMessageDeleted(tx *gorm.DB, del *inflate.WireDeleted) error {
	if len(del.MessageIDs) == 0 {
		return nil
	}
	if err := tx.Delete(&store.Message{}, "chat_id = ? AND message_id IN ?", del.ChatID, del.MessageIDs).Error; err != nil {
		return err
	}
	if err := tx.Delete(&store.Reaction{}, "chat_id = ? AND message_id IN ?", del.ChatID, del.MessageIDs).Error; err != nil {
		return err
	}

	var chat store.Chat
	err := tx.First(&chat, "id = ?", del.ChatID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, id := range del.MessageIDs {
		if id != chat.LastMessageID {
			continue
		}
		// 会话头被删：顶上剩余最新一条
		var next store.Message
		ferr := tx.Where("chat_id = ?", del.ChatID).
			Order("message_id DESC").First(&next).Error
		if errors.Is(ferr, gorm.ErrRecordNotFound) {
			chat.LastMessageID = 0
			chat.LastMessageDate = 0
		} else if ferr != nil {
			return ferr
		} else {
			chat.LastMessageID = next.MessageID
			chat.LastMessageDate = next.Date
		}
		return tx.Save(&chat).Error
	}
	return nil
}

func (a *Applier) applyReaction(tx *gorm.DB, u *inflate.Update) error {
	r := u.ReactionChanged
	if r.Removed {
		return tx.Delete(&store.Reaction{},
			"chat_id = ? AND message_id = ? AND user_id = ? AND emoji = ?",
			r.ChatID, r.MessageID, r.UserID, r.Emoji).Error
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&store.Reaction{
		ChatID: r.ChatID, MessageID: r.MessageID, UserID: r.UserID, Emoji: r.Emoji, Date: u.Date,
	}).Error
}

// ---- 行确保 ----

func ensureChat(tx *gorm.DB, chatID int64, peerKind model.PeerKind, peerID int64) (*store.Chat, error) {
	var c store.Chat
	err := tx.First(&c, "id = ?", chatID).Error
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	c = store.Chat{ID: chatID, PeerKind: peerKind, PeerID: peerID}
	if err := tx.Create(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// dialogByPeer 对话行的键是服务端 chatId，直聊的 chatId 是服务端发号，
// 本地只能经 chat 表的 (peer_kind, peer_id) 反查。直聊还没有会话行时
// 无从定位，按 no-op 处理（返回 nil dialog）；线程的 chatId 就是线程号。
func dialogByPeer(tx *gorm.DB, peer model.Peer) (*store.Dialog, error) {
	var c store.Chat
	err := tx.First(&c, "peer_kind = ? AND peer_id = ?", peer.Kind, peer.ID).Error
	if err == nil {
		return ensureDialog(tx, c.ID, peer.Kind, peer.ID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if peer.IsUser() {
		return nil, nil
	}
	return ensureDialog(tx, peer.ID, peer.Kind, peer.ID)
}

func ensureDialog(tx *gorm.DB, chatID int64, peerKind model.PeerKind, peerID int64) (*store.Dialog, error) {
	var d store.Dialog
	err := tx.First(&d, "chat_id = ?", chatID).Error
	if err == nil {
		return &d, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	d = store.Dialog{ChatID: chatID, PeerKind: peerKind, PeerID: peerID}
	if err := tx.Create(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}
