package handlers

import (
	"encoding/json"
	"strings"

	"PPFeed/service/chat"
	"PPFeed/tools/decode"
	"PPFeed/tools/errs"
)

type postRef struct {
	PostID string `json:"postId"`
}

type userFeedRef struct {
	FollowedUserID string `json:"followedUserId"`
}

// decodeRef 兼容 {"postId": "42"} 和直接发 "42" 两种写法
func decodeRef[T any](raw json.RawMessage, key string) (*T, error) {
	in, err := decode.RawOrScalar[T](raw, key)
	if err != nil {
		return nil, errs.ErrInvalidArgument.WrapMsg("bad payload", "err", err)
	}
	return in, nil
}

func required(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", errs.ErrInvalidArgument.WrapMsg("missing field", "field", field)
	}
	return v, nil
}

// RoomHandler 帖子/信息流订阅
type RoomHandler struct{}

func (RoomHandler) joinPost(c *chat.Context, raw json.RawMessage) error {
	in, err := decodeRef[postRef](raw, "postId")
	if err != nil {
		return err
	}
	id, err := required("postId", in.PostID)
	if err != nil {
		return err
	}
	return c.Join(chat.PostRoom(id))
}

func (RoomHandler) leavePost(c *chat.Context, raw json.RawMessage) error {
	in, err := decodeRef[postRef](raw, "postId")
	if err != nil {
		return err
	}
	id, err := required("postId", in.PostID)
	if err != nil {
		return err
	}
	c.Leave(chat.PostRoom(id))
	return nil
}

func (RoomHandler) joinFeed(c *chat.Context, _ json.RawMessage) error {
	return c.Join(chat.FeedGlobal)
}

func (RoomHandler) leaveFeed(c *chat.Context, _ json.RawMessage) error {
	c.Leave(chat.FeedGlobal)
	return nil
}

func (RoomHandler) joinUserFeed(c *chat.Context, raw json.RawMessage) error {
	in, err := decodeRef[userFeedRef](raw, "followedUserId")
	if err != nil {
		return err
	}
	id, err := required("followedUserId", in.FollowedUserID)
	if err != nil {
		return err
	}
	return c.Join(chat.UserPostsRoom(id))
}

func (h RoomHandler) Handlers() []chat.Handler {
	return []chat.Handler{
		chat.HandlerFunc{Name: chat.InJoinPost, Fn: h.joinPost},
		chat.HandlerFunc{Name: chat.InLeavePost, Fn: h.leavePost},
		chat.HandlerFunc{Name: chat.InJoinFeed, Fn: h.joinFeed},
		chat.HandlerFunc{Name: chat.InLeaveFeed, Fn: h.leaveFeed},
		chat.HandlerFunc{Name: chat.InJoinUserFeed, Fn: h.joinUserFeed},
	}
}
