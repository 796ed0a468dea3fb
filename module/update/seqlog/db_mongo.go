package seqlog

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"USync/module/update/model"
)

// mongoDB 生产实现。依赖唯一索引 uniq_bucket_seq(bucket_key, seq)。
type mongoDB struct {
	recColl *mongo.Collection
	wmColl  *mongo.Collection
}

func NewMongoDB(db *mongo.Database) DB {
	return &mongoDB{
		recColl: db.Collection(model.UpdateRecord{}.GetTableName()),
		wmColl:  db.Collection(model.SeqBucket{}.GetTableName()),
	}
}

// EnsureIndexes 建索引；只创建不存在的
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	rec := db.Collection(model.UpdateRecord{}.GetTableName())
	wm := db.Collection(model.SeqBucket{}.GetTableName())
	msg := db.Collection(model.MessageModel{}.GetTableName())

	want := map[*mongo.Collection][]mongo.IndexModel{
		rec: {{
			Keys: bson.D{{Key: model.RecordFieldBucketKey, Value: 1},
				{Key: model.RecordFieldSeq, Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_bucket_seq"),
		}},
		wm: {{
			Keys:    bson.D{{Key: model.SeqBucketFieldBucketKey, Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_bucket"),
		}},
		msg: {
			{
				Keys: bson.D{{Key: model.MsgFieldChatID, Value: 1},
					{Key: model.MsgFieldMessageID, Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_chat_msg"),
			},
			{
				Keys: bson.D{{Key: model.MsgFieldSenderID, Value: 1},
					{Key: model.MsgFieldRandomID, Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_sender_random"),
			},
		},
	}

	for coll, indexes := range want {
		existing, err := coll.Indexes().ListSpecifications(ctx)
		if err != nil {
			return err
		}
		names := make(map[string]struct{}, len(existing))
		for _, spec := range existing {
			names[spec.Name] = struct{}{}
		}
		for _, idx := range indexes {
			if idx.Options != nil && idx.Options.Name != nil {
				if _, ok := names[*idx.Options.Name]; ok {
					continue
				}
			}
			if _, err := coll.Indexes().CreateOne(ctx, idx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *mongoDB) EnsureBucket(ctx context.Context, bucketKey string) error {
	now := time.Now()
	_, err := d.wmColl.UpdateOne(ctx,
		bson.M{model.SeqBucketFieldBucketKey: bucketKey},
		bson.M{
			"$setOnInsert": bson.M{
				model.SeqBucketFieldMaxSeq:     int64(0),
				model.SeqBucketFieldMinSeq:     int64(0),
				model.SeqBucketFieldCreateTime: now,
			},
			"$set": bson.M{model.SeqBucketFieldUpdateTime: now},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (d *mongoDB) InsertRecord(ctx context.Context, rec *model.UpdateRecord) error {
	_, err := d.recColl.InsertOne(ctx, rec)
	return err
}

func (d *mongoDB) QueryMaxSeq(ctx context.Context, bucketKey string) (int64, error) {
	var wm model.SeqBucket
	err := d.wmColl.FindOne(ctx, bson.M{model.SeqBucketFieldBucketKey: bucketKey}).Decode(&wm)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return wm.MaxSeq, nil
}

func (d *mongoDB) QueryMinSeq(ctx context.Context, bucketKey string) (int64, error) {
	var wm model.SeqBucket
	err := d.wmColl.FindOne(ctx, bson.M{model.SeqBucketFieldBucketKey: bucketKey}).Decode(&wm)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return wm.MinSeq, nil
}

func (d *mongoDB) BumpMaxSeq(ctx context.Context, bucketKey string, seq int64) error {
	_, err := d.wmColl.UpdateOne(ctx,
		bson.M{model.SeqBucketFieldBucketKey: bucketKey},
		bson.M{
			"$max": bson.M{model.SeqBucketFieldMaxSeq: seq},
			"$set": bson.M{model.SeqBucketFieldUpdateTime: time.Now()},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (d *mongoDB) ListRange(ctx context.Context, bucketKey string, afterSeq, endSeq int64, limit int) ([]*model.UpdateRecord, error) {
	seqCond := bson.M{"$gt": afterSeq}
	if endSeq > 0 {
		seqCond["$lte"] = endSeq
	}
	opts := options.Find().SetSort(bson.D{{Key: model.RecordFieldSeq, Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := d.recColl.Find(ctx, bson.M{
		model.RecordFieldBucketKey: bucketKey,
		model.RecordFieldSeq:       seqCond,
	}, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []*model.UpdateRecord
	for cur.Next(ctx) {
		var rec model.UpdateRecord
		if err := cur.Decode(&rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, cur.Err()
}

func (d *mongoDB) IsUniqueSeqErr(err error) bool { return mongo.IsDuplicateKeyError(err) }
func (d *mongoDB) IsTransientErr(err error) bool {
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}
