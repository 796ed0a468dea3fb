package model

// 存储态更新（压缩形态）。落库前经 codec 加密编码；
// 拉取时由 inflate 展开为线上形态。存储形态刻意比线上形态小，
// 两边可独立演进。

const StoredVersion = 1

// 存储变体 kind 值。新增 kind 只能追加，旧值不可复用。
const (
	KindNewMessage      = "newMessage"
	KindMsgIDReassigned = "msgIdReassigned"
	KindReadMaxChanged  = "readMaxChanged"
	KindUnreadMark      = "unreadMark"
	KindUserStatus      = "userStatus"
	KindComposeAction   = "composeAction"
	KindNotifySettings  = "notifySettings"
	KindMemberAdd       = "memberAdd"
	KindMemberDelete    = "memberDelete"
	KindMessageDeleted  = "messageDeleted"
	KindReactionChanged = "reactionChanged"
)

// Stored 存储态 tagged union：Kind 指明哪个变体指针有效。
// 未知 kind 解出来所有指针为 nil，由上层按“unhandled”跳过。
type Stored struct {
	V    int    `json:"v"`
	Kind string `json:"kind"`

	NewMessage      *StoredNewMessage      `json:"newMessage,omitempty"`
	MsgIDReassigned *StoredMsgIDReassigned `json:"msgIdReassigned,omitempty"`
	ReadMaxChanged  *StoredReadMaxChanged  `json:"readMaxChanged,omitempty"`
	UnreadMark      *StoredUnreadMark      `json:"unreadMark,omitempty"`
	UserStatus      *StoredUserStatus      `json:"userStatus,omitempty"`
	ComposeAction   *StoredComposeAction   `json:"composeAction,omitempty"`
	NotifySettings  *StoredNotifySettings  `json:"notifySettings,omitempty"`
	MemberAdd       *StoredMemberAdd       `json:"memberAdd,omitempty"`
	MemberDelete    *StoredMemberDelete    `json:"memberDelete,omitempty"`
	MessageDeleted  *StoredMessageDeleted  `json:"messageDeleted,omitempty"`
	ReactionChanged *StoredReactionChanged `json:"reactionChanged,omitempty"`
}

// Known 是否为本版本可识别的变体
func (s *Stored) Known() bool {
	switch s.Kind {
	case KindNewMessage, KindMsgIDReassigned, KindReadMaxChanged, KindUnreadMark,
		KindUserStatus, KindComposeAction, KindNotifySettings, KindMemberAdd,
		KindMemberDelete, KindMessageDeleted, KindReactionChanged:
		return true
	}
	return false
}

type StoredNewMessage struct {
	ChatID    int64   `json:"chatId"`
	MessageID int64   `json:"messageId"`
	FromID    int64   `json:"fromId"`
	Peer      Peer    `json:"peer"`
	RandomID  int64   `json:"randomId,omitempty"` // 仅发件人桶里保留
	Date      int64   `json:"date"`               // unix 秒
	Text      string  `json:"text,omitempty"`
	Mentioned []int64 `json:"mentioned,omitempty"`
}

type StoredMsgIDReassigned struct {
	ChatID    int64 `json:"chatId"`
	RandomID  int64 `json:"randomId"`
	MessageID int64 `json:"messageId"`
	Date      int64 `json:"date"`
}

// StoredReadMaxChanged 已读位点推进。Unread 在落库时算好，
// 展开保持纯函数、不查库。
type StoredReadMaxChanged struct {
	Peer    Peer  `json:"peer"`
	MaxID   int64 `json:"maxId"`
	Unread  int32 `json:"unread"`
	ChatID  int64 `json:"chatId"`
	Outbox  bool  `json:"outbox,omitempty"` // true=对端读了我发的
}

type StoredUnreadMark struct {
	Peer   Peer `json:"peer"`
	Unread bool `json:"unread"`
}

type StoredUserStatus struct {
	UserID     int64 `json:"userId"`
	Online     bool  `json:"online"`
	LastOnline int64 `json:"lastOnline,omitempty"`
}

type StoredComposeAction struct {
	Peer   Peer   `json:"peer"`
	UserID int64  `json:"userId"`
	Action string `json:"action"` // typing / uploading_photo / none ...
}

type StoredNotifySettings struct {
	Peer     Peer  `json:"peer"`
	Silent   bool  `json:"silent"`
	MutedTil int64 `json:"mutedTil,omitempty"`
}

type StoredMemberAdd struct {
	SpaceID int64 `json:"spaceId,omitempty"`
	ChatID  int64 `json:"chatId,omitempty"`
	UserID  int64 `json:"userId"`
	ByID    int64 `json:"byId"`
	Date    int64 `json:"date"`
}

type StoredMemberDelete struct {
	SpaceID int64 `json:"spaceId,omitempty"`
	ChatID  int64 `json:"chatId,omitempty"`
	UserID  int64 `json:"userId"`
	Date    int64 `json:"date"`
}

type StoredMessageDeleted struct {
	ChatID     int64   `json:"chatId"`
	MessageIDs []int64 `json:"messageIds"`
}

type StoredReactionChanged struct {
	ChatID    int64  `json:"chatId"`
	MessageID int64  `json:"messageId"`
	UserID    int64  `json:"userId"`
	Emoji     string `json:"emoji"`
	Removed   bool   `json:"removed,omitempty"`
}

// ---- 构造便捷函数（业务 handler 用） ----

func NewMessageUpdate(m *StoredNewMessage) *Stored {
	return &Stored{V: StoredVersion, Kind: KindNewMessage, NewMessage: m}
}

func MsgIDReassignedUpdate(m *StoredMsgIDReassigned) *Stored {
	return &Stored{V: StoredVersion, Kind: KindMsgIDReassigned, MsgIDReassigned: m}
}

func ReadMaxChangedUpdate(m *StoredReadMaxChanged) *Stored {
	return &Stored{V: StoredVersion, Kind: KindReadMaxChanged, ReadMaxChanged: m}
}

func UnreadMarkUpdate(m *StoredUnreadMark) *Stored {
	return &Stored{V: StoredVersion, Kind: KindUnreadMark, UnreadMark: m}
}

func UserStatusUpdate(m *StoredUserStatus) *Stored {
	return &Stored{V: StoredVersion, Kind: KindUserStatus, UserStatus: m}
}

func ComposeActionUpdate(m *StoredComposeAction) *Stored {
	return &Stored{V: StoredVersion, Kind: KindComposeAction, ComposeAction: m}
}

func NotifySettingsUpdate(m *StoredNotifySettings) *Stored {
	return &Stored{V: StoredVersion, Kind: KindNotifySettings, NotifySettings: m}
}

func MemberAddUpdate(m *StoredMemberAdd) *Stored {
	return &Stored{V: StoredVersion, Kind: KindMemberAdd, MemberAdd: m}
}

func MemberDeleteUpdate(m *StoredMemberDelete) *Stored {
	return &Stored{V: StoredVersion, Kind: KindMemberDelete, MemberDelete: m}
}

func MessageDeletedUpdate(m *StoredMessageDeleted) *Stored {
	return &Stored{V: StoredVersion, Kind: KindMessageDeleted, MessageDeleted: m}
}

func ReactionChangedUpdate(m *StoredReactionChanged) *Stored {
	return &Stored{V: StoredVersion, Kind: KindReactionChanged, ReactionChanged: m}
}
