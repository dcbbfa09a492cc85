package store

import (
	"context"
	"strings"
	"time"

	"PPFeed/module/chat/model"
	"PPFeed/tools/errs"
)

// ConversationStore 会话持久化。所有实现必须保证：
// unread 的 key 集合 == 参与者集合，且计数永不为负。
type ConversationStore interface {
	// GetOrCreateDirect is idempotent and ignores argument order. created reports whether this call inserted.
	GetOrCreateDirect(ctx context.Context, a, b string, now time.Time) (conv *model.Conversation, created bool, err error)
	CreateGroup(ctx context.Context, creator string, participants []string, name string, now time.Time) (*model.Conversation, error)
	AddParticipant(ctx context.Context, convID, userID string, now time.Time) (*model.Conversation, error)
	Get(ctx context.Context, convID string) (*model.Conversation, error)
	// AppendMessage bumps lastMessage/lastActivity and increments unread for everyone but the sender.
	AppendMessage(ctx context.Context, convID string, msg *model.Message) (*model.Conversation, error)
	MarkRead(ctx context.Context, convID, userID string) error
	ListForUser(ctx context.Context, userID string, page Page) ([]*model.Conversation, error)
	SetArchived(ctx context.Context, convID string, archived bool, now time.Time) error
	SetMuted(ctx context.Context, convID, userID string, muted bool, now time.Time) error
}

// MessageStore 消息持久化。状态只前进 sent < delivered < read，readBy 每个用户至多一条。
type MessageStore interface {
	Insert(ctx context.Context, msg *model.Message) error
	Get(ctx context.Context, msgID string) (*model.Message, error)
	// ListByConversation returns one page, newest page first, messages inside the page oldest-first.
	ListByConversation(ctx context.Context, convID string, page Page) ([]*model.Message, error)
	MarkDelivered(ctx context.Context, msgID, userID string, at time.Time) (*model.Message, error)
	MarkRead(ctx context.Context, msgID, userID string, at time.Time) (*model.Message, error)
	SetReaction(ctx context.Context, msgID, userID, emoji string, at time.Time) (*model.Message, error)
	RemoveReaction(ctx context.Context, msgID, userID string, at time.Time) (*model.Message, error)
	// Recall fails with AlreadyRecalled when the message is already deleted.
	Recall(ctx context.Context, msgID, by string, at time.Time) (*model.Message, error)
	// Edit fails with Immutable for deleted or non-text messages.
	Edit(ctx context.Context, msgID, text string, at time.Time) (*model.Message, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Page 1-based 分页
type Page struct {
	Page  int
	Limit int
}

const (
	DefaultConversationLimit = 20
	MaxConversationLimit     = 50
	DefaultMessageLimit      = 50
	MaxMessageLimit          = 100
)

// Normalize clamps the page into [1, max] and fills defaults.
func (p Page) Normalize(def, max int) Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = def
	}
	if p.Limit > max {
		p.Limit = max
	}
	return p
}

func (p Page) Skip() int64 { return int64((p.Page - 1) * p.Limit) }

// validUserID 用户ID会作为 unread_count 的字段名，不能含 '.' 或以 '$' 开头
func validUserID(id string) error {
	if strings.TrimSpace(id) == "" || strings.Contains(id, ".") || strings.HasPrefix(id, "$") {
		return errs.ErrInvalidParticipant.WrapMsg("malformed user id", "user", id)
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func newDirect(id, a, b string, now time.Time) *model.Conversation {
	return &model.Conversation{
		ID:           id,
		Type:         model.ConversationDirect,
		Participants: []string{a, b},
		PairKey:      model.DMKey(a, b),
		LastActivity: now,
		UnreadCount:  map[string]int64{a: 0, b: 0},
		Metadata:     model.ConversationMeta{CreatedBy: a, MutedBy: []model.MuteEntry{}},
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func newGroup(id, creator string, participants []string, name string, now time.Time) (*model.Conversation, error) {
	members := dedupe(append([]string{creator}, participants...))
	if len(members) < 2 {
		return nil, errs.ErrInvalidParticipant.WrapMsg("group needs at least one other member")
	}
	unread := make(map[string]int64, len(members))
	for _, m := range members {
		if err := validUserID(m); err != nil {
			return nil, err
		}
		unread[m] = 0
	}
	return &model.Conversation{
		ID:           id,
		Type:         model.ConversationGroup,
		Participants: members,
		Name:         strings.TrimSpace(name),
		LastActivity: now,
		UnreadCount:  unread,
		Metadata:     model.ConversationMeta{CreatedBy: creator, MutedBy: []model.MuteEntry{}},
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func checkDirectPair(a, b string) error {
	if err := validUserID(a); err != nil {
		return err
	}
	if err := validUserID(b); err != nil {
		return err
	}
	if a == b {
		return errs.ErrInvalidParticipant.WrapMsg("cannot open a conversation with yourself", "user", a)
	}
	return nil
}
