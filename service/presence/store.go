package presence

import (
	"context"
	"sync"
	"time"
)

// Record 用户在线状态
type Record struct {
	UserID   string    `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// Store 在线状态持久化
type Store interface {
	Save(ctx context.Context, r Record) error
	Load(ctx context.Context, userID string) (Record, bool, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Save(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.records[r.UserID]; ok && old.IsOnline == r.IsOnline && old.LastSeen.After(r.LastSeen) {
		return nil
	}
	m.records[r.UserID] = r
	return nil
}

func (m *MemoryStore) Load(_ context.Context, userID string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[userID]
	return r, ok, nil
}
