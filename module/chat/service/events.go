package service

import (
	"context"
	"time"

	"PPFeed/module/chat/model"
	"PPFeed/service/chat"
)

// Broadcaster 下行分发，由 chat.EventDispatcher 实现
type Broadcaster interface {
	BroadcastToMany(rooms []string, t chat.EventType, payload any, opts ...chat.BroadcastOption)
}

// LifecycleKind 消息生命周期事件，写入 Kafka 供离线消费
type LifecycleKind string

const (
	LifecycleSent     LifecycleKind = "sent"
	LifecycleEdited   LifecycleKind = "edited"
	LifecycleRecalled LifecycleKind = "recalled"
	LifecyclePurged   LifecycleKind = "purged"
)

type Lifecycle struct {
	Kind           LifecycleKind `json:"kind"`
	MessageID      string        `json:"messageId,omitempty"`
	ConversationID string        `json:"conversationId,omitempty"`
	ActorID        string        `json:"actorId,omitempty"`
	Count          int64         `json:"count,omitempty"`
	At             time.Time     `json:"at"`
}

// LifecycleSink 失败只记日志，不影响主流程
type LifecycleSink interface {
	Emit(ctx context.Context, ev Lifecycle)
}

type nopSink struct{}

func (nopSink) Emit(context.Context, Lifecycle) {}

// ===== 下行负载 =====

type ConversationUpdated struct {
	ConversationID string         `json:"conversationId"`
	LastMessage    *model.Message `json:"lastMessage,omitempty"`
	LastActivity   time.Time      `json:"lastActivity"`
	UnreadCount    int64          `json:"unreadCount"`
}

type MessageStatusChanged struct {
	MessageID      string              `json:"messageId"`
	ConversationID string              `json:"conversationId"`
	UserID         string              `json:"userId"`
	Status         model.MessageStatus `json:"status"`
	At             time.Time           `json:"at"`
}

type MessagesRead struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	MessageIDs     []string  `json:"messageIds"`
	ReadAt         time.Time `json:"readAt"`
}

type ReactionChanged struct {
	MessageID      string           `json:"messageId"`
	ConversationID string           `json:"conversationId"`
	UserID         string           `json:"userId"`
	Emoji          string           `json:"emoji,omitempty"`
	Action         string           `json:"action"` // add | remove
	Reactions      []model.Reaction `json:"reactions"`
}

type MessageDeleted struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	DeletedBy      string    `json:"deletedBy"`
	DeletedAt      time.Time `json:"deletedAt"`
}
