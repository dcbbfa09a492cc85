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

type MongoConversations struct {
	coll *mongo.Collection
}

func NewMongoConversations(db *mongo.Database) *MongoConversations {
	return &MongoConversations{coll: db.Collection(model.ConversationTableName)}
}

// EnsureIndexes pair_key 唯一索引保证并发 GetOrCreateDirect 只会落一条
func (s *MongoConversations) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "pair_key", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"pair_key": bson.M{"$type": "string"}}),
		},
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "last_activity", Value: -1}}},
	})
	return errs.Transient(err, "conversations.indexes")
}

func (s *MongoConversations) GetOrCreateDirect(ctx context.Context, a, b string, now time.Time) (*model.Conversation, bool, error) {
	if err := checkDirectPair(a, b); err != nil {
		return nil, false, err
	}
	doc := newDirect(primitive.NewObjectID().Hex(), a, b, now)
	filter := bson.M{"pair_key": doc.PairKey}

	res, err := s.coll.UpdateOne(ctx, filter, bson.M{"$setOnInsert": doc}, options.Update().SetUpsert(true))
	created := err == nil && res.UpsertedCount == 1
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		// 并发 upsert 撞唯一索引时另一方已经插入，直接读即可
		return nil, false, errs.Transient(err, "conversations.upsert")
	}
	var out model.Conversation
	if err := s.coll.FindOne(ctx, filter).Decode(&out); err != nil {
		return nil, false, s.mapErr(err, doc.PairKey)
	}
	return &out, created, nil
}

func (s *MongoConversations) CreateGroup(ctx context.Context, creator string, participants []string, name string, now time.Time) (*model.Conversation, error) {
	c, err := newGroup(primitive.NewObjectID().Hex(), creator, participants, name, now)
	if err != nil {
		return nil, err
	}
	if _, err := s.coll.InsertOne(ctx, c); err != nil {
		return nil, errs.Transient(err, "conversations.insert")
	}
	return c, nil
}

func (s *MongoConversations) AddParticipant(ctx context.Context, convID, userID string, now time.Time) (*model.Conversation, error) {
	if err := validUserID(userID); err != nil {
		return nil, err
	}
	filter := bson.M{"_id": convID, "type": model.ConversationGroup, "participants": bson.M{"$ne": userID}}
	update := bson.M{
		"$push": bson.M{"participants": userID},
		"$set":  bson.M{"unread_count." + userID: int64(0), "updated_at": now},
	}
	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, errs.Transient(err, "conversations.add_participant")
	}
	c, err := s.Get(ctx, convID)
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 && c.Type != model.ConversationGroup {
		return nil, errs.ErrInvalidParticipant.WrapMsg("direct conversations have fixed participants")
	}
	return c, nil
}

func (s *MongoConversations) Get(ctx context.Context, convID string) (*model.Conversation, error) {
	var out model.Conversation
	if err := s.coll.FindOne(ctx, bson.M{"_id": convID}).Decode(&out); err != nil {
		return nil, s.mapErr(err, convID)
	}
	return &out, nil
}

func (s *MongoConversations) AppendMessage(ctx context.Context, convID string, msg *model.Message) (*model.Conversation, error) {
	cur, err := s.Get(ctx, convID)
	if err != nil {
		return nil, err
	}
	inc := bson.M{}
	for _, p := range cur.Participants {
		if p != msg.SenderID {
			inc["unread_count."+p] = int64(1)
		}
	}
	update := bson.M{
		"$set": bson.M{
			"last_message_id": msg.ID,
			"last_preview":    msg.Content.Preview(),
			"last_activity":   msg.CreatedAt,
			"updated_at":      msg.CreatedAt,
			"is_active":       true,
		},
	}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	var out model.Conversation
	err = s.coll.FindOneAndUpdate(ctx, bson.M{"_id": convID}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&out)
	if err != nil {
		return nil, s.mapErr(err, convID)
	}
	return &out, nil
}

func (s *MongoConversations) MarkRead(ctx context.Context, convID, userID string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": convID, "participants": userID},
		bson.M{"$set": bson.M{"unread_count." + userID: int64(0)}})
	if err != nil {
		return errs.Transient(err, "conversations.mark_read")
	}
	if res.MatchedCount == 0 {
		return s.missOrForbidden(ctx, convID, userID)
	}
	return nil
}

func (s *MongoConversations) ListForUser(ctx context.Context, userID string, page Page) ([]*model.Conversation, error) {
	page = page.Normalize(DefaultConversationLimit, MaxConversationLimit)
	opts := options.Find().
		SetSort(bson.D{{Key: "last_activity", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(page.Skip()).
		SetLimit(int64(page.Limit))
	cur, err := s.coll.Find(ctx, bson.M{"participants": userID, "is_active": true}, opts)
	if err != nil {
		return nil, errs.Transient(err, "conversations.list")
	}
	defer cur.Close(ctx)
	out := make([]*model.Conversation, 0, page.Limit)
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.Transient(err, "conversations.list.decode")
	}
	return out, nil
}

func (s *MongoConversations) SetArchived(ctx context.Context, convID string, archived bool, now time.Time) error {
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": convID},
		bson.M{"$set": bson.M{"metadata.is_archived": archived, "updated_at": now}})
	if err != nil {
		return errs.Transient(err, "conversations.archive")
	}
	if res.MatchedCount == 0 {
		return errs.ErrNotFound.WrapMsg("conversation", "id", convID)
	}
	return nil
}

func (s *MongoConversations) SetMuted(ctx context.Context, convID, userID string, muted bool, now time.Time) error {
	filter := bson.M{"_id": convID, "participants": userID}
	// 先 pull 再 push，单条 pipeline 更新保证原子
	entries := bson.M{"$filter": bson.M{
		"input": bson.M{"$ifNull": bson.A{"$metadata.muted_by", bson.A{}}},
		"as":    "m",
		"cond":  bson.M{"$ne": bson.A{"$$m.user_id", lit(userID)}},
	}}
	if muted {
		entries = bson.M{"$concatArrays": bson.A{entries, bson.A{bson.M{"user_id": lit(userID), "muted_at": now}}}}
	}
	pipeline := mongo.Pipeline{{{Key: "$set", Value: bson.M{"metadata.muted_by": entries, "updated_at": now}}}}
	res, err := s.coll.UpdateOne(ctx, filter, pipeline)
	if err != nil {
		return errs.Transient(err, "conversations.mute")
	}
	if res.MatchedCount == 0 {
		return s.missOrForbidden(ctx, convID, userID)
	}
	return nil
}

func (s *MongoConversations) missOrForbidden(ctx context.Context, convID, userID string) error {
	if _, err := s.Get(ctx, convID); err != nil {
		return err
	}
	return errs.ErrForbidden.WrapMsg("not a participant", "user", userID)
}

func (s *MongoConversations) mapErr(err error, key string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return errs.ErrNotFound.WrapMsg("conversation", "key", key)
	}
	return errs.Transient(err, "conversations")
}
