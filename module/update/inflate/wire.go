package inflate

import (
	"USync/module/update/model"
)

// 线上形态（客户端消费的展开结果）。与存储形态分离，
// 两边独立演进；这里是唯一的展开点。

const (
	WireNewMessage      = "updateNewMessage"
	WireMsgIDReassigned = "updateMessageIdReassigned"
	WireReadMaxChanged  = "updateReadMaxChanged"
	WireUnreadMark      = "updateDialogUnreadMark"
	WireUserStatus      = "updateUserStatus"
	WireComposeAction   = "updateComposeAction"
	WireNotifySettings  = "updateNotifySettings"
	WireMemberAdd       = "updateMemberAdd"
	WireMemberDelete    = "updateMemberDelete"
	WireMessageDeleted  = "updateMessageDeleted"
	WireReactionChanged = "updateReactionChanged"
)

// Update 单条线上更新：seq + date + tagged variant。
type Update struct {
	Seq  int64  `json:"seq"`
	Date int64  `json:"date"`
	Kind string `json:"kind"`

	NewMessage      *WireMessage         `json:"newMessage,omitempty"`
	MsgIDReassigned *WireIDReassign      `json:"msgIdReassigned,omitempty"`
	ReadMaxChanged  *WireReadMax         `json:"readMaxChanged,omitempty"`
	UnreadMark      *WireUnread          `json:"unreadMark,omitempty"`
	UserStatus      *WireStatus          `json:"userStatus,omitempty"`
	ComposeAction   *WireCompose         `json:"composeAction,omitempty"`
	NotifySettings  *WireNotify          `json:"notifySettings,omitempty"`
	MemberChange    *WireMemberChange `json:"memberChange,omitempty"`
	MessageDeleted  *WireDeleted      `json:"messageDeleted,omitempty"`
	ReactionChanged *WireReaction     `json:"reactionChanged,omitempty"`
}

// WireMessage 展开后的完整消息事件
type WireMessage struct {
	ChatID    int64      `json:"chatId"`
	MessageID int64      `json:"messageId"`
	FromID    int64      `json:"fromId"`
	Peer      model.Peer `json:"peer"`
	RandomID  int64      `json:"randomId,omitempty"`
	Date      int64      `json:"date"`
	Text      string     `json:"text,omitempty"`
	Mentioned []int64    `json:"mentioned,omitempty"`
	Out       bool       `json:"out"` // 相对收到该更新的用户：是否自己发的
}

type WireIDReassign struct {
	ChatID    int64 `json:"chatId"`
	RandomID  int64 `json:"randomId"`
	MessageID int64 `json:"messageId"`
}

type WireReadMax struct {
	Peer   model.Peer `json:"peer"`
	ChatID int64      `json:"chatId"`
	MaxID  int64      `json:"maxId"`
	Unread int32      `json:"unread"`
	Outbox bool       `json:"outbox,omitempty"`
}

type WireUnread struct {
	Peer   model.Peer `json:"peer"`
	Unread bool       `json:"unread"`
}

type WireStatus struct {
	UserID     int64 `json:"userId"`
	Online     bool  `json:"online"`
	LastOnline int64 `json:"lastOnline,omitempty"`
}

type WireCompose struct {
	Peer   model.Peer `json:"peer"`
	UserID int64      `json:"userId"`
	Action string     `json:"action"`
}

type WireNotify struct {
	Peer     model.Peer `json:"peer"`
	Silent   bool       `json:"silent"`
	MutedTil int64      `json:"mutedTil,omitempty"`
}

type WireMemberChange struct {
	SpaceID int64 `json:"spaceId,omitempty"`
	ChatID  int64 `json:"chatId,omitempty"`
	UserID  int64 `json:"userId"`
	ByID    int64 `json:"byId,omitempty"`
	Added   bool  `json:"added"`
}

type WireDeleted struct {
	ChatID     int64   `json:"chatId"`
	MessageIDs []int64 `json:"messageIds"`
}

type WireReaction struct {
	ChatID    int64  `json:"chatId"`
	MessageID int64  `json:"messageId"`
	UserID    int64  `json:"userId"`
	Emoji     string `json:"emoji"`
	Removed   bool   `json:"removed,omitempty"`
}
