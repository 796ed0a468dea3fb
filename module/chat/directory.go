package chat

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"USync/module/update/model"
	"USync/tools/errs"
	"USync/tools/ids"
)

// ChatDoc 会话文档。DM 用 (user_lo, user_hi) 唯一定位，
// 线程会话由业务建好后 chat_id 即 threadID。
type ChatDoc struct {
	ChatID     int64     `bson:"chat_id"`
	Kind       string    `bson:"kind"` // dm / thread
	UserLo     int64     `bson:"user_lo,omitempty"`
	UserHi     int64     `bson:"user_hi,omitempty"`
	SpaceID    int64     `bson:"space_id,omitempty"`
	Title      string    `bson:"title,omitempty"`
	CreateTime time.Time `bson:"create_time"`
}

func (ChatDoc) GetTableName() string { return "chat" }

type MemberDoc struct {
	ChatID int64     `bson:"chat_id"`
	UserID int64     `bson:"user_id"`
	Date   time.Time `bson:"date"`
}

func (MemberDoc) GetTableName() string { return "chat_member" }

// Directory 会话与成员的查询面：路由展开、peer 解析、在线状态的
// 关注者推导都从这里取数。
type Directory struct {
	db *mongo.Database
}

func NewDirectory(db *mongo.Database) *Directory {
	return &Directory{db: db}
}

func (d *Directory) chats() *mongo.Collection   { return d.db.Collection(ChatDoc{}.GetTableName()) }
func (d *Directory) members() *mongo.Collection { return d.db.Collection(MemberDoc{}.GetTableName()) }

// ChatMemberIDs 实现 route.MemberSource
func (d *Directory) ChatMemberIDs(ctx context.Context, chatID int64) ([]int64, error) {
	cur, err := d.members().Find(ctx, bson.M{"chat_id": chatID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []int64
	for cur.Next(ctx) {
		var m MemberDoc
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, m.UserID)
	}
	return out, cur.Err()
}

// ResolveChat 实现 send.ChatResolver。线程 peer 直接校验存在；
// 用户 peer 找或建 DM 会话（(lo,hi) 唯一索引保证并发建会话只赢一次）。
func (d *Directory) ResolveChat(ctx context.Context, senderID int64, peer model.Peer) (int64, error) {
	if peer.IsThread() {
		err := d.chats().FindOne(ctx, bson.M{"chat_id": peer.ID}).Err()
		if err == mongo.ErrNoDocuments {
			return 0, errs.ErrChatNotFound
		}
		if err != nil {
			return 0, err
		}
		return peer.ID, nil
	}

	lo, hi := senderID, peer.ID
	if lo > hi {
		lo, hi = hi, lo
	}
	var doc ChatDoc
	err := d.chats().FindOne(ctx, bson.M{"kind": "dm", "user_lo": lo, "user_hi": hi}).Decode(&doc)
	if err == nil {
		return doc.ChatID, nil
	}
	if err != mongo.ErrNoDocuments {
		return 0, err
	}

	chatID := ids.Generate()
	_, err = d.chats().UpdateOne(ctx,
		bson.M{"kind": "dm", "user_lo": lo, "user_hi": hi},
		bson.M{"$setOnInsert": ChatDoc{
			ChatID: chatID, Kind: "dm", UserLo: lo, UserHi: hi, CreateTime: time.Now(),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return 0, err
	}
	// 并发建会话可能输给别人，再读一次拿真身
	if err := d.chats().FindOne(ctx, bson.M{"kind": "dm", "user_lo": lo, "user_hi": hi}).Decode(&doc); err != nil {
		return 0, err
	}
	if doc.ChatID == chatID {
		now := time.Now()
		_, _ = d.members().InsertMany(ctx, []interface{}{
			MemberDoc{ChatID: chatID, UserID: lo, Date: now},
			MemberDoc{ChatID: chatID, UserID: hi, Date: now},
		})
	}
	return doc.ChatID, nil
}

// WatcherIDs 实现 gateway.Watchers：与该用户同会话的人
func (d *Directory) WatcherIDs(ctx context.Context, userID int64) ([]int64, error) {
	cur, err := d.members().Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}
	chatIDs := make([]int64, 0, 16)
	for cur.Next(ctx) {
		var m MemberDoc
		if err := cur.Decode(&m); err != nil {
			cur.Close(ctx)
			return nil, err
		}
		chatIDs = append(chatIDs, m.ChatID)
	}
	cur.Close(ctx)
	if len(chatIDs) == 0 {
		return nil, nil
	}

	cur, err = d.members().Find(ctx, bson.M{"chat_id": bson.M{"$in": chatIDs}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	seen := map[int64]bool{userID: true}
	var out []int64
	for cur.Next(ctx) {
		var m MemberDoc
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		if !seen[m.UserID] {
			seen[m.UserID] = true
			out = append(out, m.UserID)
		}
	}
	return out, cur.Err()
}

// EnsureIndexes chat 目录的唯一索引
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(ChatDoc{}.GetTableName()).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "chat_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_chat_id"),
		},
		{
			Keys: bson.D{{Key: "kind", Value: 1}, {Key: "user_lo", Value: 1}, {Key: "user_hi", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_dm_pair").
				SetPartialFilterExpression(bson.M{"kind": "dm"}),
		},
	})
	if err != nil {
		return err
	}
	_, err = db.Collection(MemberDoc{}.GetTableName()).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "chat_id", Value: 1}, {Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_chat_member"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetName("idx_member_user"),
		},
	})
	return err
}
