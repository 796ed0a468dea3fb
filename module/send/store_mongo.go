package send

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"USync/module/update/model"
)

// mongoStore 生产实现。幂等依赖 uniq_sender_random / uniq_chat_msg
// 两个唯一索引（见 seqlog.EnsureIndexes）。
type mongoStore struct {
	db *mongo.Database
}

func NewMongoStore(db *mongo.Database) Store {
	return &mongoStore{db: db}
}

func (s *mongoStore) messages() *mongo.Collection {
	return s.db.Collection(model.MessageModel{}.GetTableName())
}

func (s *mongoStore) InsertMessage(ctx context.Context, m *model.MessageModel) error {
	_, err := s.messages().InsertOne(ctx, m)
	return err
}

func (s *mongoStore) FindByRandomID(ctx context.Context, senderID, randomID int64) (*model.MessageModel, error) {
	var m model.MessageModel
	err := s.messages().FindOne(ctx, bson.M{
		model.MsgFieldSenderID: senderID,
		model.MsgFieldRandomID: randomID,
	}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, ErrMsgNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// chat_counter：每会话一个计数文档，$inc 原子取号
func (s *mongoStore) NextMessageID(ctx context.Context, chatID int64) (int64, error) {
	coll := s.db.Collection("chat_counter")
	after := options.After
	var doc struct {
		NextID int64 `bson:"next_id"`
	}
	err := coll.FindOneAndUpdate(ctx,
		bson.M{"chat_id": chatID},
		bson.M{
			"$inc":         bson.M{"next_id": 1},
			"$setOnInsert": bson.M{"create_time": time.Now()},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(after),
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.NextID, nil
}

func (s *mongoStore) IsDupRandomErr(err error) bool {
	return mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), "uniq_sender_random")
}

func (s *mongoStore) IsDupMessageErr(err error) bool {
	return mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), "uniq_chat_msg")
}
