package handlers

import (
	"context"
	"encoding/json"

	"PPFeed/module/chat/model"
	"PPFeed/service/chat"
	"PPFeed/tools/decode"
	"PPFeed/tools/errs"
)

// Conversations 会话侧依赖，由 module/chat/service.Messaging 实现
type Conversations interface {
	CanJoin(ctx context.Context, convID, userID string) error
	MarkDelivered(ctx context.Context, msgID, userID string, opts ...chat.BroadcastOption) (*model.Message, error)
	MarkRead(ctx context.Context, msgID, userID string, opts ...chat.BroadcastOption) (*model.Message, error)
}

type convRef struct {
	ConversationID string `json:"conversationId"`
}

type typingIn struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type receiptIn struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type MemberChange struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type TypingUpdate struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// ConversationHandler chat:* 上行事件
type ConversationHandler struct {
	convs Conversations
}

func NewConversationHandler(convs Conversations) *ConversationHandler {
	return &ConversationHandler{convs: convs}
}

func (h *ConversationHandler) join(c *chat.Context, raw json.RawMessage) error {
	in, err := decodeRef[convRef](raw, "conversationId")
	if err != nil {
		return err
	}
	id, err := required("conversationId", in.ConversationID)
	if err != nil {
		return err
	}
	// 房间本身不鉴权，必须先确认是参与者
	if err := h.convs.CanJoin(c, id, c.UserID()); err != nil {
		return err
	}
	room := chat.ConversationRoom(id)
	if err := c.Join(room); err != nil {
		return err
	}
	c.ToRoom(room, chat.EvChatUserJoined, MemberChange{ConversationID: id, UserID: c.UserID()})
	return nil
}

func (h *ConversationHandler) leave(c *chat.Context, raw json.RawMessage) error {
	in, err := decodeRef[convRef](raw, "conversationId")
	if err != nil {
		return err
	}
	id, err := required("conversationId", in.ConversationID)
	if err != nil {
		return err
	}
	room := chat.ConversationRoom(id)
	if !c.S.Rooms().InRoom(c.Client, room) {
		return nil
	}
	c.Leave(room)
	c.ToRoom(room, chat.EvChatUserLeft, MemberChange{ConversationID: id, UserID: c.UserID()})
	return nil
}

func (h *ConversationHandler) typing(c *chat.Context, raw json.RawMessage) error {
	in, err := decode.Raw[typingIn](raw)
	if err != nil {
		return errs.ErrInvalidArgument.WrapMsg("bad payload", "err", err)
	}
	id, err := required("conversationId", in.ConversationID)
	if err != nil {
		return err
	}
	room := chat.ConversationRoom(id)
	if !c.S.Rooms().InRoom(c.Client, room) {
		if err := h.convs.CanJoin(c, id, c.UserID()); err != nil {
			return err
		}
	}
	c.ToRoom(room, chat.EvChatTypingUpdate, TypingUpdate{ConversationID: id, UserID: c.UserID(), IsTyping: in.IsTyping})
	return nil
}

func (h *ConversationHandler) receipt(read bool) func(*chat.Context, json.RawMessage) error {
	return func(c *chat.Context, raw json.RawMessage) error {
		in, err := decodeRef[receiptIn](raw, "messageId")
		if err != nil {
			return err
		}
		id, err := required("messageId", in.MessageID)
		if err != nil {
			return err
		}
		mark := h.convs.MarkDelivered
		if read {
			mark = h.convs.MarkRead
		}
		// conversationId 只作参考，以消息自身所属会话为准
		_, err = mark(c, id, c.UserID(), chat.Except(c.Client))
		return err
	}
}

func (h *ConversationHandler) Handlers() []chat.Handler {
	return []chat.Handler{
		chat.HandlerFunc{Name: chat.InChatJoin, Fn: h.join},
		chat.HandlerFunc{Name: chat.InChatLeave, Fn: h.leave},
		chat.HandlerFunc{Name: chat.InChatTyping, Fn: h.typing},
		chat.HandlerFunc{Name: chat.InChatMessageDelivered, Fn: h.receipt(false)},
		chat.HandlerFunc{Name: chat.InChatMessageRead, Fn: h.receipt(true)},
	}
}
