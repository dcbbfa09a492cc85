package feed

import (
	"time"

	"PPFeed/service/chat"
	"PPFeed/tools/errs"
)

// Event 已算好房间和负载的下行事件，广播时只序列化一次
type Event struct {
	Type    chat.EventType
	Rooms   []string
	Payload any
}

// Actor 事件发起人和时间，所有负载都带
type Actor struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

func actor(userID string, at time.Time) Actor { return Actor{UserID: userID, Timestamp: at.UTC()} }

// ===== 评论 =====

type CommentLike struct {
	CommentID string `json:"commentId"`
	PostID    string `json:"postId"`
	IsLiked   bool   `json:"isLiked"`
	LikeCount int    `json:"likeCount"`
}

type CommentCreate struct {
	PostID  string `json:"postId"`
	Comment any    `json:"comment"`
}

type CommentDelete struct {
	CommentID string `json:"commentId"`
	PostID    string `json:"postId"`
}

type CommentEdit struct {
	CommentID string `json:"commentId"`
	PostID    string `json:"postId"`
	Content   any    `json:"content"`
}

type ReplyCreate struct {
	PostID          string `json:"postId"`
	ParentCommentID string `json:"parentCommentId"`
	Reply           any    `json:"reply"`
}

type CommentTyping struct {
	PostID   string `json:"postId"`
	IsTyping bool   `json:"isTyping"`
}

func CommentLiked(userID string, in CommentLike, at time.Time) (Event, error) {
	if err := require("postId", in.PostID, "commentId", in.CommentID); err != nil {
		return Event{}, err
	}
	return Event{
		Type:  chat.EvCommentLiked,
		Rooms: []string{chat.PostRoom(in.PostID)},
		Payload: struct {
			CommentLike
			Actor
		}{in, actor(userID, at)},
	}, nil
}

func CommentCreated(userID string, in CommentCreate, at time.Time) (Event, error) {
	if err := require("postId", in.PostID); err != nil {
		return Event{}, err
	}
	return Event{
		Type:  chat.EvCommentCreated,
		Rooms: []string{chat.PostRoom(in.PostID)},
		Payload: struct {
			CommentCreate
			Actor
		}{in, actor(userID, at)},
	}, nil
}

func CommentDeleted(userID string, in CommentDelete, at time.Time) (Event, error) {
	if err := require("postId", in.PostID, "commentId", in.CommentID); err != nil {
		return Event{}, err
	}
	return Event{
		Type:  chat.EvCommentDeleted,
		Rooms: []string{chat.PostRoom(in.PostID)},
		Payload: struct {
			CommentDelete
			Actor
		}{in, actor(userID, at)},
	}, nil
}

func CommentEdited(userID string, in CommentEdit, at time.Time) (Event, error) {
	if err := require("postId", in.PostID, "commentId", in.CommentID); err != nil {
		return Event{}, err
	}
	return Event{
		Type:  chat.EvCommentEdited,
		Rooms: []string{chat.PostRoom(in.PostID)},
		Payload: struct {
			CommentEdit
			Actor
		}{in, actor(userID, at)},
	}, nil
}

func ReplyCreated(userID string, in ReplyCreate, at time.Time) (Event, error) {
	if err := require("postId", in.PostID, "parentCommentId", in.ParentCommentID); err != nil {
		return Event{}, err
	}
	return Event{
		Type:  chat.EvReplyCreated,
		Rooms: []string{chat.PostRoom(in.PostID)},
		Payload: struct {
			ReplyCreate
			Actor
		}{in, actor(userID, at)},
	}, nil
}

func CommentTypingChanged(userID string, in CommentTyping, at time.Time) (Event, error) {
	if err := require("postId", in.PostID); err != nil {
		return Event{}, err
	}
	return Event{
		Type:  chat.EvCommentTypingUpdate,
		Rooms: []string{chat.PostRoom(in.PostID)},
		Payload: struct {
			CommentTyping
			Actor
		}{in, actor(userID, at)},
	}, nil
}

// ===== 帖子 =====

type PostLike struct {
	PostID    string `json:"postId"`
	IsLiked   bool   `json:"isLiked"`
	LikeCount int    `json:"likeCount"`
}

type PostCreate struct {
	PostID string `json:"postId,omitempty"`
	Post   any    `json:"post"`
}

type PostDelete struct {
	PostID string `json:"postId"`
}

type PostShare struct {
	PostID     string `json:"postId"`
	ShareCount int    `json:"shareCount"`
}

func PostLiked(userID string, in PostLike, at time.Time) (Event, error) {
	if err := require("postId", in.PostID); err != nil {
		return Event{}, err
	}
	return Event{
		Type:  chat.EvPostLiked,
		Rooms: []string{chat.PostRoom(in.PostID), chat.FeedGlobal},
		Payload: struct {
			PostLike
			Actor
		}{in, actor(userID, at)},
	}, nil
}

// PostCreated 发到全站 feed 和作者的 posts 房间（关注者订阅）
func PostCreated(userID string, in PostCreate, at time.Time) (Event, error) {
	if in.Post == nil && in.PostID == "" {
		return Event{}, errs.ErrInvalidArgument.WrapMsg("post or postId required")
	}
	rooms := []string{chat.FeedGlobal, chat.UserPostsRoom(userID)}
	if in.PostID != "" {
		rooms = append(rooms, chat.PostRoom(in.PostID))
	}
	return Event{
		Type:  chat.EvPostCreated,
		Rooms: rooms,
		Payload: struct {
			PostCreate
			Actor
		}{in, actor(userID, at)},
	}, nil
}

func PostDeleted(userID string, in PostDelete, at time.Time) (Event, error) {
	if err := require("postId", in.PostID); err != nil {
		return Event{}, err
	}
	return Event{
		Type:  chat.EvPostDeleted,
		Rooms: []string{chat.PostRoom(in.PostID), chat.FeedGlobal, chat.UserPostsRoom(userID)},
		Payload: struct {
			PostDelete
			Actor
		}{in, actor(userID, at)},
	}, nil
}

func PostShared(userID string, in PostShare, at time.Time) (Event, error) {
	if err := require("postId", in.PostID); err != nil {
		return Event{}, err
	}
	return Event{
		Type:  chat.EvPostShared,
		Rooms: []string{chat.PostRoom(in.PostID), chat.FeedGlobal},
		Payload: struct {
			PostShare
			Actor
		}{in, actor(userID, at)},
	}, nil
}

// ===== 用户 =====

type UserFollow struct {
	TargetUserID  string `json:"targetUserId"`
	IsFollowing   bool   `json:"isFollowing"`
	FollowerCount int    `json:"followerCount"`
}

type FollowPayload struct {
	UserFollow
	FollowerID string    `json:"followerId"`
	Timestamp  time.Time `json:"timestamp"`
}

type UserActivityIn struct {
	Activity string `json:"activity"`
}

// FollowChanged 发给被关注者、关注者本人以及全站
func FollowChanged(userID string, in UserFollow, at time.Time) (Event, error) {
	if err := require("targetUserId", in.TargetUserID); err != nil {
		return Event{}, err
	}
	if in.TargetUserID == userID {
		return Event{}, errs.ErrInvalidParticipant.WrapMsg("cannot follow yourself")
	}
	return Event{
		Type:    chat.EvUserFollowUpdate,
		Rooms:   []string{chat.UserRoom(in.TargetUserID), chat.UserRoom(userID), chat.FeedGlobal},
		Payload: FollowPayload{UserFollow: in, FollowerID: userID, Timestamp: at.UTC()},
	}, nil
}

func UserActivity(userID string, in UserActivityIn, at time.Time) (Event, error) {
	if err := require("activity", in.Activity); err != nil {
		return Event{}, err
	}
	return Event{
		Type:  chat.EvUserActivityUpdate,
		Rooms: []string{chat.UserActivityRoom(userID)},
		Payload: struct {
			UserActivityIn
			Actor
		}{in, actor(userID, at)},
	}, nil
}

// require 成对传入 字段名, 值
func require(kv ...string) error {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			return errs.ErrInvalidArgument.WrapMsg("missing field", "field", kv[i])
		}
	}
	return nil
}
