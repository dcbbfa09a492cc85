package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"PPFeed/module/chat/model"
	"PPFeed/tools/errs"

	"github.com/google/uuid"
)

// MemoryConversations 单进程实现，用于测试和 store.driver=memory
type MemoryConversations struct {
	mu     sync.RWMutex
	byID   map[string]*model.Conversation
	byPair map[string]string // pair_key -> id
}

func NewMemoryConversations() *MemoryConversations {
	return &MemoryConversations{
		byID:   make(map[string]*model.Conversation),
		byPair: make(map[string]string),
	}
}

func (s *MemoryConversations) GetOrCreateDirect(_ context.Context, a, b string, now time.Time) (*model.Conversation, bool, error) {
	if err := checkDirectPair(a, b); err != nil {
		return nil, false, err
	}
	key := model.DMKey(a, b)
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byPair[key]; ok {
		return s.byID[id].Clone(), false, nil
	}
	c := newDirect(uuid.NewString(), a, b, now)
	s.byID[c.ID] = c
	s.byPair[key] = c.ID
	return c.Clone(), true, nil
}

func (s *MemoryConversations) CreateGroup(_ context.Context, creator string, participants []string, name string, now time.Time) (*model.Conversation, error) {
	c, err := newGroup(uuid.NewString(), creator, participants, name, now)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.byID[c.ID] = c
	s.mu.Unlock()
	return c.Clone(), nil
}

func (s *MemoryConversations) AddParticipant(_ context.Context, convID, userID string, now time.Time) (*model.Conversation, error) {
	if err := validUserID(userID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[convID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("conversation", "id", convID)
	}
	if c.Type != model.ConversationGroup {
		return nil, errs.ErrInvalidParticipant.WrapMsg("direct conversations have fixed participants")
	}
	if !c.HasParticipant(userID) {
		c.Participants = append(c.Participants, userID)
		c.UnreadCount[userID] = 0
		c.UpdatedAt = now
	}
	return c.Clone(), nil
}

func (s *MemoryConversations) Get(_ context.Context, convID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[convID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("conversation", "id", convID)
	}
	return c.Clone(), nil
}

func (s *MemoryConversations) AppendMessage(_ context.Context, convID string, msg *model.Message) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[convID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("conversation", "id", convID)
	}
	c.LastMessageID = msg.ID
	c.LastPreview = msg.Content.Preview()
	c.LastActivity = msg.CreatedAt
	c.UpdatedAt = msg.CreatedAt
	c.IsActive = true
	for _, p := range c.Participants {
		if p != msg.SenderID {
			c.UnreadCount[p]++
		}
	}
	return c.Clone(), nil
}

func (s *MemoryConversations) MarkRead(_ context.Context, convID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[convID]
	if !ok {
		return errs.ErrNotFound.WrapMsg("conversation", "id", convID)
	}
	if !c.HasParticipant(userID) {
		return errs.ErrForbidden.WrapMsg("not a participant", "user", userID)
	}
	c.UnreadCount[userID] = 0
	return nil
}

func (s *MemoryConversations) ListForUser(_ context.Context, userID string, page Page) ([]*model.Conversation, error) {
	page = page.Normalize(DefaultConversationLimit, MaxConversationLimit)
	s.mu.RLock()
	var all []*model.Conversation
	for _, c := range s.byID {
		if c.IsActive && c.HasParticipant(userID) {
			all = append(all, c.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].LastActivity.Equal(all[j].LastActivity) {
			return all[i].ID > all[j].ID
		}
		return all[i].LastActivity.After(all[j].LastActivity)
	})
	start := int(page.Skip())
	if start >= len(all) {
		return []*model.Conversation{}, nil
	}
	end := start + page.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (s *MemoryConversations) SetArchived(_ context.Context, convID string, archived bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[convID]
	if !ok {
		return errs.ErrNotFound.WrapMsg("conversation", "id", convID)
	}
	c.Metadata.IsArchived = archived
	c.UpdatedAt = now
	return nil
}

func (s *MemoryConversations) SetMuted(_ context.Context, convID, userID string, muted bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[convID]
	if !ok {
		return errs.ErrNotFound.WrapMsg("conversation", "id", convID)
	}
	if !c.HasParticipant(userID) {
		return errs.ErrForbidden.WrapMsg("not a participant", "user", userID)
	}
	kept := c.Metadata.MutedBy[:0]
	for _, m := range c.Metadata.MutedBy {
		if m.UserID != userID {
			kept = append(kept, m)
		}
	}
	if muted {
		kept = append(kept, model.MuteEntry{UserID: userID, MutedAt: now})
	}
	c.Metadata.MutedBy = kept
	c.UpdatedAt = now
	return nil
}

// MemoryMessages 单进程消息存储
type MemoryMessages struct {
	mu     sync.RWMutex
	byID   map[string]*model.Message
	byConv map[string][]string // conversation -> ids 按插入顺序
}

func NewMemoryMessages() *MemoryMessages {
	return &MemoryMessages{
		byID:   make(map[string]*model.Message),
		byConv: make(map[string][]string),
	}
}

func (s *MemoryMessages) Insert(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, dup := s.byID[msg.ID]; dup {
		return errs.ErrInvalidArgument.WrapMsg("duplicate message id", "id", msg.ID)
	}
	s.byID[msg.ID] = msg.Clone()
	s.byConv[msg.ConversationID] = append(s.byConv[msg.ConversationID], msg.ID)
	return nil
}

func (s *MemoryMessages) Get(_ context.Context, msgID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[msgID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("message", "id", msgID)
	}
	return m.Clone(), nil
}

func (s *MemoryMessages) ListByConversation(_ context.Context, convID string, page Page) ([]*model.Message, error) {
	page = page.Normalize(DefaultMessageLimit, MaxMessageLimit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byConv[convID]
	// 从最新往回数 skip 条，再取 limit 条
	end := len(ids) - int(page.Skip())
	if end <= 0 {
		return []*model.Message{}, nil
	}
	start := end - page.Limit
	if start < 0 {
		start = 0
	}
	out := make([]*model.Message, 0, end-start)
	for _, id := range ids[start:end] {
		out = append(out, s.byID[id].Clone())
	}
	return out, nil
}

// mutate 在锁内修改消息；fn 返回 error 时不落盘
func (s *MemoryMessages) mutate(msgID string, fn func(m *model.Message) error) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[msgID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("message", "id", msgID)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.byID[msgID] = next
	return next.Clone(), nil
}

func advance(m *model.Message, to model.MessageStatus) {
	if m.Status.Rank() < to.Rank() {
		m.Status = to
	}
}

func (s *MemoryMessages) MarkDelivered(_ context.Context, msgID, userID string, at time.Time) (*model.Message, error) {
	return s.mutate(msgID, func(m *model.Message) error {
		for _, r := range m.DeliveredTo {
			if r.UserID == userID {
				advance(m, model.StatusDelivered)
				return nil
			}
		}
		m.DeliveredTo = append(m.DeliveredTo, model.Receipt{UserID: userID, At: at})
		advance(m, model.StatusDelivered)
		m.UpdatedAt = at
		return nil
	})
}

func (s *MemoryMessages) MarkRead(_ context.Context, msgID, userID string, at time.Time) (*model.Message, error) {
	return s.mutate(msgID, func(m *model.Message) error {
		if !m.ReadByUser(userID) {
			m.ReadBy = append(m.ReadBy, model.Receipt{UserID: userID, At: at})
			m.UpdatedAt = at
		}
		advance(m, model.StatusRead)
		return nil
	})
}

func (s *MemoryMessages) SetReaction(_ context.Context, msgID, userID, emoji string, at time.Time) (*model.Message, error) {
	return s.mutate(msgID, func(m *model.Message) error {
		if m.IsDeleted {
			return errs.ErrImmutable.WrapMsg("message recalled", "id", msgID)
		}
		kept := m.Reactions[:0]
		for _, r := range m.Reactions {
			if r.UserID != userID {
				kept = append(kept, r)
			}
		}
		m.Reactions = append(kept, model.Reaction{UserID: userID, Emoji: emoji, CreatedAt: at})
		m.UpdatedAt = at
		return nil
	})
}

func (s *MemoryMessages) RemoveReaction(_ context.Context, msgID, userID string, at time.Time) (*model.Message, error) {
	return s.mutate(msgID, func(m *model.Message) error {
		kept := m.Reactions[:0]
		for _, r := range m.Reactions {
			if r.UserID != userID {
				kept = append(kept, r)
			}
		}
		m.Reactions = kept
		m.UpdatedAt = at
		return nil
	})
}

func (s *MemoryMessages) Recall(_ context.Context, msgID, by string, at time.Time) (*model.Message, error) {
	return s.mutate(msgID, func(m *model.Message) error {
		if m.IsDeleted {
			return errs.ErrAlreadyRecalled.WrapMsg("message", "id", msgID)
		}
		exp := at.Add(model.RecallRetention)
		deletedAt := at
		m.IsDeleted = true
		m.DeletedAt = &deletedAt
		m.DeletedBy = by
		m.ExpiresAt = &exp
		m.UpdatedAt = at
		return nil
	})
}

func (s *MemoryMessages) Edit(_ context.Context, msgID, text string, at time.Time) (*model.Message, error) {
	return s.mutate(msgID, func(m *model.Message) error {
		old, ok := m.Content.TextValue()
		if m.IsDeleted || !ok {
			return errs.ErrImmutable.WrapMsg("only live text messages can be edited", "id", msgID)
		}
		m.EditHistory = append(m.EditHistory, model.EditEntry{Content: old, EditedAt: at})
		m.Content = model.Text(text)
		m.IsEdited = true
		m.UpdatedAt = at
		return nil
	})
}

func (s *MemoryMessages) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.byID {
		if m.ExpiresAt != nil && !m.ExpiresAt.After(now) {
			delete(s.byID, id)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	for conv, ids := range s.byConv {
		kept := ids[:0]
		for _, id := range ids {
			if _, ok := s.byID[id]; ok {
				kept = append(kept, id)
			}
		}
		s.byConv[conv] = kept
	}
	return n, nil
}
