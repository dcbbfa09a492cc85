package feed

import (
	"encoding/json"
	"time"

	"PPFeed/service/chat"
	"PPFeed/tools/decode"
	"PPFeed/tools/errs"
)

type Broadcaster interface {
	BroadcastToMany(rooms []string, t chat.EventType, payload any, opts ...chat.BroadcastOption)
}

// Publisher 由帖子/评论/关注等外部服务在持久化成功后调用
type Publisher interface {
	Publish(ev Event, opts ...chat.BroadcastOption)
}

// Relay 把领域事件投递到房间；socket 上行、REST、NATS 入口共用
type Relay struct {
	b     Broadcaster
	clock func() time.Time
}

func NewRelay(b Broadcaster) *Relay {
	return &Relay{b: b, clock: time.Now}
}

func (r *Relay) SetClock(clock func() time.Time) { r.clock = clock }

func (r *Relay) Publish(ev Event, opts ...chat.BroadcastOption) {
	r.b.BroadcastToMany(ev.Rooms, ev.Type, ev.Payload, opts...)
}

// Relay 解码上行事件并广播
func (r *Relay) Relay(name, userID string, raw json.RawMessage, opts ...chat.BroadcastOption) error {
	ev, err := Decode(name, userID, raw, r.clock())
	if err != nil {
		return err
	}
	r.Publish(ev, opts...)
	return nil
}

type decoder func(userID string, raw json.RawMessage, at time.Time) (Event, error)

func with[T any](build func(string, T, time.Time) (Event, error)) decoder {
	return func(userID string, raw json.RawMessage, at time.Time) (Event, error) {
		in, err := decode.Raw[T](raw)
		if err != nil {
			return Event{}, errs.ErrInvalidArgument.WrapMsg("bad payload", "err", err)
		}
		return build(userID, *in, at)
	}
}

var decoders = map[string]decoder{
	chat.InCommentLike:   with(CommentLiked),
	chat.InCommentCreate: with(CommentCreated),
	chat.InCommentDelete: with(CommentDeleted),
	chat.InCommentEdit:   with(CommentEdited),
	chat.InReplyCreate:   with(ReplyCreated),
	chat.InCommentTyping: with(CommentTypingChanged),
	chat.InPostLike:      with(PostLiked),
	chat.InPostCreate:    with(PostCreated),
	chat.InPostDelete:    with(PostDeleted),
	chat.InPostShare:     with(PostShared),
	chat.InUserFollow:    with(FollowChanged),
	chat.InUserActivity:  with(UserActivity),
}

// Decode 按上行事件名构造下行事件
func Decode(name, userID string, raw json.RawMessage, at time.Time) (Event, error) {
	d, ok := decoders[name]
	if !ok {
		return Event{}, errs.ErrInvalidArgument.WrapMsg("not a feed event", "event", name)
	}
	if userID == "" {
		return Event{}, errs.ErrInvalidArgument.WrapMsg("event has no actor", "event", name)
	}
	return d(userID, raw, at)
}

// Events 所有可转发的上行事件名
func Events() []string {
	out := make([]string, 0, len(decoders))
	for name := range decoders {
		out = append(out, name)
	}
	return out
}
