package model

import "time"

const (
	MessageTableName = "messages"

	// RecallRetention 撤回后保留 30 天再物理删除
	RecallRetention = 30 * 24 * time.Hour
)

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank 状态优先级 sent < delivered < read，只允许前进
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Below lists the statuses a transition to s may overwrite.
func (s MessageStatus) Below() []MessageStatus {
	var out []MessageStatus
	for _, st := range []MessageStatus{StatusSent, StatusDelivered, StatusRead} {
		if st.Rank() < s.Rank() {
			out = append(out, st)
		}
	}
	return out
}

type Receipt struct {
	UserID string    `bson:"user_id" json:"userId"`
	At     time.Time `bson:"at" json:"at"`
}

type Reaction struct {
	UserID    string    `bson:"user_id" json:"userId"`
	Emoji     string    `bson:"emoji" json:"emoji"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

type EditEntry struct {
	Content  string    `bson:"content" json:"content"`
	EditedAt time.Time `bson:"edited_at" json:"editedAt"`
}

type Message struct {
	ID             string        `bson:"_id" json:"id"`
	ConversationID string        `bson:"conversation_id" json:"conversationId"`
	SenderID       string        `bson:"sender_id" json:"senderId"`
	Content        Content       `bson:"content" json:"content"`
	ReplyTo        string        `bson:"reply_to,omitempty" json:"replyTo,omitempty"`
	Status         MessageStatus `bson:"status" json:"status"`
	DeliveredTo    []Receipt     `bson:"delivered_to" json:"deliveredTo"`
	ReadBy         []Receipt     `bson:"read_by" json:"readBy"`
	Reactions      []Reaction    `bson:"reactions" json:"reactions"`
	IsDeleted      bool          `bson:"is_deleted" json:"isDeleted"`
	DeletedAt      *time.Time    `bson:"deleted_at,omitempty" json:"deletedAt,omitempty"`
	DeletedBy      string        `bson:"deleted_by,omitempty" json:"deletedBy,omitempty"`
	ExpiresAt      *time.Time    `bson:"expires_at,omitempty" json:"expiresAt,omitempty"`
	EditHistory    []EditEntry   `bson:"edit_history" json:"editHistory"`
	IsEdited       bool          `bson:"is_edited" json:"isEdited"`
	CreatedAt      time.Time     `bson:"created_at" json:"createdAt"`
	UpdatedAt      time.Time     `bson:"updated_at" json:"updatedAt"`
}

// Rendered 对外视图：撤回消息的内容替换为占位文本，编辑历史不外泄
func (m *Message) Rendered() *Message {
	if m == nil {
		return nil
	}
	out := m.Clone()
	if out.IsDeleted {
		out.Content = Text(RecalledText)
		out.EditHistory = nil
		out.Reactions = nil
	}
	return out
}

func (m *Message) ReadByUser(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

func (m *Message) DeliveredToUser(userID string) bool {
	for _, r := range m.DeliveredTo {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.DeliveredTo = append([]Receipt(nil), m.DeliveredTo...)
	cp.ReadBy = append([]Receipt(nil), m.ReadBy...)
	cp.Reactions = append([]Reaction(nil), m.Reactions...)
	cp.EditHistory = append([]EditEntry(nil), m.EditHistory...)
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		cp.DeletedAt = &t
	}
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}
