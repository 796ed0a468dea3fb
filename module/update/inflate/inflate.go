package inflate

import (
	"errors"

	"USync/module/update/model"
)

// ErrUnhandled 存储变体无法展开（未来版本写入的 kind）。
// 调用方跳过该条但必须照常推进游标。
var ErrUnhandled = errors.New("unhandled stored update kind")

// Inflate 纯函数展开：每种存储变体对应且仅对应一种线上形态。
// 不做任何 I/O。forUser 是收到该更新的用户（决定 Out 标记等视角字段）。
func Inflate(seq int64, date int64, s *model.Stored, forUser int64) (*Update, error) {
	if s == nil || !s.Known() {
		return nil, ErrUnhandled
	}
	u := &Update{Seq: seq, Date: date}
	switch s.Kind {
	case model.KindNewMessage:
		m := s.NewMessage
		if m == nil {
			return nil, ErrUnhandled
		}
		u.Kind = WireNewMessage
		u.NewMessage = &WireMessage{
			ChatID: m.ChatID, MessageID: m.MessageID, FromID: m.FromID,
			Peer: m.Peer, RandomID: m.RandomID, Date: m.Date,
			Text: m.Text, Mentioned: m.Mentioned,
			Out: forUser != 0 && m.FromID == forUser,
		}
	case model.KindMsgIDReassigned:
		m := s.MsgIDReassigned
		if m == nil {
			return nil, ErrUnhandled
		}
		u.Kind = WireMsgIDReassigned
		u.MsgIDReassigned = &WireIDReassign{
			ChatID: m.ChatID, RandomID: m.RandomID, MessageID: m.MessageID,
		}
	case model.KindReadMaxChanged:
		m := s.ReadMaxChanged
		if m == nil {
			return nil, ErrUnhandled
		}
		u.Kind = WireReadMaxChanged
		u.ReadMaxChanged = &WireReadMax{
			Peer: m.Peer, ChatID: m.ChatID, MaxID: m.MaxID,
			Unread: m.Unread, Outbox: m.Outbox,
		}
	case model.KindUnreadMark:
		m := s.UnreadMark
		if m == nil {
			return nil, ErrUnhandled
		}
		u.Kind = WireUnreadMark
		u.UnreadMark = &WireUnread{Peer: m.Peer, Unread: m.Unread}
	case model.KindUserStatus:
		m := s.UserStatus
		if m == nil {
			return nil, ErrUnhandled
		}
		u.Kind = WireUserStatus
		u.UserStatus = &WireStatus{UserID: m.UserID, Online: m.Online, LastOnline: m.LastOnline}
	case model.KindComposeAction:
		m := s.ComposeAction
		if m == nil {
			return nil, ErrUnhandled
		}
		u.Kind = WireComposeAction
		u.ComposeAction = &WireCompose{Peer: m.Peer, UserID: m.UserID, Action: m.Action}
	case model.KindNotifySettings:
		m := s.NotifySettings
		if m == nil {
			return nil, ErrUnhandled
		}
		u.Kind = WireNotifySettings
		u.NotifySettings = &WireNotify{Peer: m.Peer, Silent: m.Silent, MutedTil: m.MutedTil}
	case model.KindMemberAdd:
		m := s.MemberAdd
		if m == nil {
			return nil, ErrUnhandled
		}
		u.Kind = WireMemberAdd
		u.MemberChange = &WireMemberChange{
			SpaceID: m.SpaceID, ChatID: m.ChatID, UserID: m.UserID, ByID: m.ByID, Added: true,
		}
	case model.KindMemberDelete:
		m := s.MemberDelete
		if m == nil {
			return nil, ErrUnhandled
		}
		u.Kind = WireMemberDelete
		u.MemberChange = &WireMemberChange{
			SpaceID: m.SpaceID, ChatID: m.ChatID, UserID: m.UserID, Added: false,
		}
	case model.KindMessageDeleted:
		m := s.MessageDeleted
		if m == nil {
			return nil, ErrUnhandled
		}
		u.Kind = WireMessageDeleted
		u.MessageDeleted = &WireDeleted{ChatID: m.ChatID, MessageIDs: m.MessageIDs}
	case model.KindReactionChanged:
		m := s.ReactionChanged
		if m == nil {
			return nil, ErrUnhandled
		}
		u.Kind = WireReactionChanged
		u.ReactionChanged = &WireReaction{
			ChatID: m.ChatID, MessageID: m.MessageID, UserID: m.UserID,
			Emoji: m.Emoji, Removed: m.Removed,
		}
	default:
		return nil, ErrUnhandled
	}
	return u, nil
}
