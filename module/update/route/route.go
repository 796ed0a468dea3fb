package route

import (
	"context"

	"USync/module/update/model"
)

// AddresseeKind 一次状态变更的逻辑收件方
type AddresseeKind int32

const (
	AddrUser  AddresseeKind = 1
	AddrChat  AddresseeKind = 2
	AddrSpace AddresseeKind = 3
)

type Addressee struct {
	Kind   AddresseeKind
	ID     int64
	Except int64 // 可选：排除的 userID（通常是发起者自己）
}

func ToUser(userID int64) Addressee   { return Addressee{Kind: AddrUser, ID: userID} }
func ToChat(chatID int64) Addressee   { return Addressee{Kind: AddrChat, ID: chatID} }
func ToSpace(spaceID int64) Addressee { return Addressee{Kind: AddrSpace, ID: spaceID} }

func (a Addressee) Excluding(userID int64) Addressee {
	a.Except = userID
	return a
}

// MemberSource 查询会话成员（业务侧提供；测试用静态表）
type MemberSource interface {
	ChatMemberIDs(ctx context.Context, chatID int64) ([]int64, error)
}

// StaticMembers 固定成员表实现
type StaticMembers map[int64][]int64

func (m StaticMembers) ChatMemberIDs(_ context.Context, chatID int64) ([]int64, error) {
	return m[chatID], nil
}

// Router 把逻辑收件方展开成应写入的 bucket 集合。
// 会话收件方 = 会话桶 + 每个成员的用户桶（用户桶驱动各自的 dialog 同步）。
type Router struct {
	members MemberSource
}

func NewRouter(members MemberSource) *Router {
	return &Router{members: members}
}

func (r *Router) Buckets(ctx context.Context, addr Addressee) ([]model.Bucket, error) {
	switch addr.Kind {
	case AddrUser:
		return []model.Bucket{model.UserBucket(addr.ID)}, nil
	case AddrSpace:
		return []model.Bucket{model.SpaceBucket(addr.ID)}, nil
	case AddrChat:
		out := []model.Bucket{model.ChatBucket(addr.ID)}
		memberIDs, err := r.members.ChatMemberIDs(ctx, addr.ID)
		if err != nil {
			return nil, err
		}
		for _, uid := range memberIDs {
			if uid == addr.Except {
				continue
			}
			out = append(out, model.UserBucket(uid))
		}
		return out, nil
	}
	return nil, nil
}
