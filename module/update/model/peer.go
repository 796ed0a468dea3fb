package model

import "fmt"

// PeerKind 消息/对话目标的类型：直聊对端用户 或 线程会话。
// 二选一在构造时定死，杜绝“两个可空字段”的运行期判空。
type PeerKind int32

const (
	PeerUser   PeerKind = 1
	PeerThread PeerKind = 2
)

type Peer struct {
	Kind PeerKind `json:"kind" bson:"kind"`
	ID   int64    `json:"id" bson:"id"`
}

func UserPeer(userID int64) Peer     { return Peer{Kind: PeerUser, ID: userID} }
func ThreadPeer(threadID int64) Peer { return Peer{Kind: PeerThread, ID: threadID} }

func (p Peer) Valid() bool {
	return (p.Kind == PeerUser || p.Kind == PeerThread) && p.ID > 0
}

func (p Peer) IsUser() bool   { return p.Kind == PeerUser }
func (p Peer) IsThread() bool { return p.Kind == PeerThread }

func (p Peer) String() string {
	switch p.Kind {
	case PeerUser:
		return fmt.Sprintf("user:%d", p.ID)
	case PeerThread:
		return fmt.Sprintf("thread:%d", p.ID)
	}
	return fmt.Sprintf("peer?:%d", p.ID)
}
