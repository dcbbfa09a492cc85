package store

import (
	"context"
	"errors"
	"time"

	"PPFeed/module/chat/model"
	"PPFeed/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoMessages struct {
	coll *mongo.Collection
}

func NewMongoMessages(db *mongo.Database) *MongoMessages {
	return &MongoMessages{coll: db.Collection(model.MessageTableName)}
}

func (s *MongoMessages) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetSparse(true)},
	})
	return errs.Transient(err, "messages.indexes")
}

func (s *MongoMessages) Insert(ctx context.Context, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = primitive.NewObjectID().Hex()
	}
	if msg.DeliveredTo == nil {
		msg.DeliveredTo = []model.Receipt{}
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []model.Receipt{}
	}
	if msg.Reactions == nil {
		msg.Reactions = []model.Reaction{}
	}
	if msg.EditHistory == nil {
		msg.EditHistory = []model.EditEntry{}
	}
	if _, err := s.coll.InsertOne(ctx, msg); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errs.ErrInvalidArgument.WrapMsg("duplicate message id", "id", msg.ID)
		}
		return errs.Transient(err, "messages.insert")
	}
	return nil
}

func (s *MongoMessages) Get(ctx context.Context, msgID string) (*model.Message, error) {
	var out model.Message
	if err := s.coll.FindOne(ctx, bson.M{"_id": msgID}).Decode(&out); err != nil {
		return nil, s.mapErr(err, msgID)
	}
	return &out, nil
}

func (s *MongoMessages) ListByConversation(ctx context.Context, convID string, page Page) ([]*model.Message, error) {
	page = page.Normalize(DefaultMessageLimit, MaxMessageLimit)
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(page.Skip()).
		SetLimit(int64(page.Limit))
	cur, err := s.coll.Find(ctx, bson.M{"conversation_id": convID}, opts)
	if err != nil {
		return nil, errs.Transient(err, "messages.list")
	}
	defer cur.Close(ctx)
	out := make([]*model.Message, 0, page.Limit)
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.Transient(err, "messages.list.decode")
	}
	// 查询按新到旧，返回旧到新
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// lit 管道阶段里以 '$' 开头的字符串会被当成字段路径，外部输入一律包成字面量
func lit(v any) bson.M { return bson.M{"$literal": v} }

// receiptStage 追加回执（同一用户只记一次）并把状态推进到 to（不回退）。
func receiptStage(field, userID string, to model.MessageStatus, at time.Time) mongo.Pipeline {
	list := bson.M{"$ifNull": bson.A{"$" + field, bson.A{}}}
	return mongo.Pipeline{{{Key: "$set", Value: bson.M{
		field: bson.M{"$cond": bson.M{
			"if":   bson.M{"$in": bson.A{lit(userID), bson.M{"$ifNull": bson.A{"$" + field + ".user_id", bson.A{}}}}},
			"then": list,
			"else": bson.M{"$concatArrays": bson.A{list, bson.A{bson.M{"user_id": lit(userID), "at": at}}}},
		}},
		"status": bson.M{"$cond": bson.M{
			"if":   bson.M{"$in": bson.A{"$status", to.Below()}},
			"then": lit(to),
			"else": "$status",
		}},
		"updated_at": at,
	}}}}
}

func (s *MongoMessages) MarkDelivered(ctx context.Context, msgID, userID string, at time.Time) (*model.Message, error) {
	return s.findAndUpdate(ctx, bson.M{"_id": msgID}, receiptStage("delivered_to", userID, model.StatusDelivered, at))
}

func (s *MongoMessages) MarkRead(ctx context.Context, msgID, userID string, at time.Time) (*model.Message, error) {
	return s.findAndUpdate(ctx, bson.M{"_id": msgID}, receiptStage("read_by", userID, model.StatusRead, at))
}

func withoutUser(field, userID string) bson.M {
	return bson.M{"$filter": bson.M{
		"input": bson.M{"$ifNull": bson.A{"$" + field, bson.A{}}},
		"as":    "r",
		"cond":  bson.M{"$ne": bson.A{"$$r.user_id", lit(userID)}},
	}}
}

func (s *MongoMessages) SetReaction(ctx context.Context, msgID, userID, emoji string, at time.Time) (*model.Message, error) {
	pipeline := mongo.Pipeline{{{Key: "$set", Value: bson.M{
		"reactions": bson.M{"$concatArrays": bson.A{
			withoutUser("reactions", userID),
			bson.A{bson.M{"user_id": lit(userID), "emoji": lit(emoji), "created_at": at}},
		}},
		"updated_at": at,
	}}}}
	out, err := s.findAndUpdate(ctx, bson.M{"_id": msgID, "is_deleted": false}, pipeline)
	if errors.Is(err, errs.ErrNotFound) {
		if _, gerr := s.Get(ctx, msgID); gerr == nil {
			return nil, errs.ErrImmutable.WrapMsg("message recalled", "id", msgID)
		}
	}
	return out, err
}

func (s *MongoMessages) RemoveReaction(ctx context.Context, msgID, userID string, at time.Time) (*model.Message, error) {
	pipeline := mongo.Pipeline{{{Key: "$set", Value: bson.M{
		"reactions":  withoutUser("reactions", userID),
		"updated_at": at,
	}}}}
	return s.findAndUpdate(ctx, bson.M{"_id": msgID}, pipeline)
}

func (s *MongoMessages) Recall(ctx context.Context, msgID, by string, at time.Time) (*model.Message, error) {
	update := bson.M{"$set": bson.M{
		"is_deleted": true,
		"deleted_at": at,
		"deleted_by": by,
		"expires_at": at.Add(model.RecallRetention),
		"updated_at": at,
	}}
	out, err := s.findAndUpdate(ctx, bson.M{"_id": msgID, "is_deleted": false}, update)
	if errors.Is(err, errs.ErrNotFound) {
		if _, gerr := s.Get(ctx, msgID); gerr == nil {
			return nil, errs.ErrAlreadyRecalled.WrapMsg("message", "id", msgID)
		}
	}
	return out, err
}

func (s *MongoMessages) Edit(ctx context.Context, msgID, text string, at time.Time) (*model.Message, error) {
	filter := bson.M{"_id": msgID, "is_deleted": false, "content.type": model.ContentText}
	pipeline := mongo.Pipeline{{{Key: "$set", Value: bson.M{
		"edit_history": bson.M{"$concatArrays": bson.A{
			bson.M{"$ifNull": bson.A{"$edit_history", bson.A{}}},
			bson.A{bson.M{"content": "$content.text.text", "edited_at": at}},
		}},
		"content.text.text": lit(text),
		"is_edited":         true,
		"updated_at":        at,
	}}}}
	out, err := s.findAndUpdate(ctx, filter, pipeline)
	if errors.Is(err, errs.ErrNotFound) {
		if _, gerr := s.Get(ctx, msgID); gerr == nil {
			return nil, errs.ErrImmutable.WrapMsg("only live text messages can be edited", "id", msgID)
		}
	}
	return out, err
}

func (s *MongoMessages) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": now}})
	if err != nil {
		return 0, errs.Transient(err, "messages.purge")
	}
	return res.DeletedCount, nil
}

func (s *MongoMessages) findAndUpdate(ctx context.Context, filter bson.M, update any) (*model.Message, error) {
	var out model.Message
	err := s.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&out)
	if err != nil {
		return nil, s.mapErr(err, filter["_id"])
	}
	return &out, nil
}

func (s *MongoMessages) mapErr(err error, id any) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return errs.ErrNotFound.WrapMsg("message", "id", id)
	}
	return errs.Transient(err, "messages")
}
