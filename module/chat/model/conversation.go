package model

import (
	"sort"
	"time"
)

const ConversationTableName = "conversations"

type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

type MuteEntry struct {
	UserID  string    `bson:"user_id" json:"userId"`
	MutedAt time.Time `bson:"muted_at" json:"mutedAt"`
}

type ConversationMeta struct {
	CreatedBy  string      `bson:"created_by" json:"createdBy"`
	IsArchived bool        `bson:"is_archived" json:"isArchived"`
	MutedBy    []MuteEntry `bson:"muted_by" json:"mutedBy"`
}

// Conversation 单聊/群聊会话。UnreadCount 的 key 集合始终等于 Participants。
type Conversation struct {
	ID            string           `bson:"_id" json:"id"`
	Type          ConversationType `bson:"type" json:"type"`
	Participants  []string         `bson:"participants" json:"participants"`
	PairKey       string           `bson:"pair_key,omitempty" json:"-"` // 单聊唯一键：排序后的 a:b
	Name          string           `bson:"name,omitempty" json:"name,omitempty"`
	Avatar        string           `bson:"avatar,omitempty" json:"avatar,omitempty"`
	LastMessageID string           `bson:"last_message_id,omitempty" json:"lastMessageId,omitempty"`
	LastPreview   string           `bson:"last_preview,omitempty" json:"lastPreview,omitempty"`
	LastActivity  time.Time        `bson:"last_activity" json:"lastActivity"`
	UnreadCount   map[string]int64 `bson:"unread_count" json:"unreadCount"`
	Metadata      ConversationMeta `bson:"metadata" json:"metadata"`
	IsActive      bool             `bson:"is_active" json:"isActive"`
	CreatedAt     time.Time        `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time        `bson:"updated_at" json:"updatedAt"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Others 除 userID 之外的参与者
func (c *Conversation) Others(userID string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != userID {
			out = append(out, p)
		}
	}
	return out
}

func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	cp.UnreadCount = make(map[string]int64, len(c.UnreadCount))
	for k, v := range c.UnreadCount {
		cp.UnreadCount[k] = v
	}
	cp.Metadata.MutedBy = append([]MuteEntry(nil), c.Metadata.MutedBy...)
	return &cp
}

// DMKey 单聊唯一键，与参与者顺序无关
func DMKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + ":" + pair[1]
}
