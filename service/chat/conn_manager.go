package chat

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ===== 配置 =====

type ManagerConf struct {
	Shards      int              // 分片数（默认 32）
	MaxPerUser  int              // 每用户最大连接数（<=0 不限制）
	EvictOldest bool             // 超限时淘汰最老连接；否则拒绝新连接
	Clock       func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Shards <= 0 {
		c.Shards = 32
	}
}

// shard 按用户分片；同一用户的所有状态在同一分片内，admit/remove 在分片锁内原子完成
type shard struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*Client // userID -> connID -> client
	byConn map[string]*Client            // connID -> client
}

// ConnManager 连接注册表：isOnline(U) == len(connectionsFor(U)) > 0
type ConnManager struct {
	shards []*shard
	conf   ManagerConf
}

func NewConnManager(conf ManagerConf) *ConnManager {
	conf.norm()
	m := &ConnManager{conf: conf, shards: make([]*shard, conf.Shards)}
	for i := range m.shards {
		m.shards[i] = &shard{
			byUser: make(map[string]map[string]*Client),
			byConn: make(map[string]*Client),
		}
	}
	return m
}

func (m *ConnManager) shardFor(userID string) *shard {
	return m.shards[xxhash.Sum64String(userID)%uint64(len(m.shards))]
}

// Admit 登记连接。first 表示这是该用户的第一条在线连接；
// evicted 是因 MaxPerUser 被挤下线的旧连接，调用方负责关闭。
func (m *ConnManager) Admit(c *Client) (first bool, evicted []*Client, err error) {
	if c == nil || c.UserID == "" || c.ConnID == "" {
		return false, nil, errConnInvalid
	}
	s := m.shardFor(c.UserID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byConn[c.ConnID]; exists {
		return false, nil, errConnExists
	}
	conns := s.byUser[c.UserID]
	if m.conf.MaxPerUser > 0 {
		for len(conns) >= m.conf.MaxPerUser {
			if !m.conf.EvictOldest {
				return false, nil, errTooManyConns
			}
			oldest := oldestOf(conns)
			delete(conns, oldest.ConnID)
			delete(s.byConn, oldest.ConnID)
			evicted = append(evicted, oldest)
		}
	}
	if conns == nil {
		conns = make(map[string]*Client)
		s.byUser[c.UserID] = conns
	}
	first = len(conns) == 0
	conns[c.ConnID] = c
	s.byConn[c.ConnID] = c
	return first, evicted, nil
}

// Remove 移除连接；last 表示移除后该用户已无在线连接。重复移除返回 removed=false。
func (m *ConnManager) Remove(c *Client) (removed, last bool) {
	if c == nil {
		return false, false
	}
	s := m.shardFor(c.UserID)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byConn[c.ConnID]
	if !ok || cur != c {
		return false, false
	}
	delete(s.byConn, c.ConnID)
	conns := s.byUser[c.UserID]
	delete(conns, c.ConnID)
	if len(conns) == 0 {
		delete(s.byUser, c.UserID)
		return true, true
	}
	return true, false
}

func (m *ConnManager) IsOnline(userID string) bool {
	s := m.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUser[userID]) > 0
}

// ConnectionsFor 快照，不持有锁
func (m *ConnManager) ConnectionsFor(userID string) []*Client {
	s := m.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Client, 0, len(s.byUser[userID]))
	for _, c := range s.byUser[userID] {
		out = append(out, c)
	}
	return out
}

func (m *ConnManager) Get(userID, connID string) (*Client, bool) {
	s := m.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byConn[connID]
	return c, ok
}

// Count 在线连接总数
func (m *ConnManager) Count() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.byConn)
		s.mu.RUnlock()
	}
	return n
}

// Users 在线用户数
func (m *ConnManager) Users() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.byUser)
		s.mu.RUnlock()
	}
	return n
}

// All 所有连接快照（关停时使用）
func (m *ConnManager) All() []*Client {
	var out []*Client
	for _, s := range m.shards {
		s.mu.RLock()
		for _, c := range s.byConn {
			out = append(out, c)
		}
		s.mu.RUnlock()
	}
	return out
}

func oldestOf(conns map[string]*Client) *Client {
	var oldest *Client
	for _, c := range conns {
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	return oldest
}
