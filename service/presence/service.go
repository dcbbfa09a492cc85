package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"PPFeed/logger"
	"PPFeed/service/chat"

	"go.uber.org/zap"
)

// OnlineChecker 连接注册表，在线状态的唯一事实来源
type OnlineChecker interface {
	IsOnline(userID string) bool
}

type Broadcaster interface {
	BroadcastToMany(rooms []string, t chat.EventType, payload any, opts ...chat.BroadcastOption)
}

// Listener 状态变更的旁路订阅者（NATS 等）
type Listener interface {
	PresenceChanged(ctx context.Context, r Record)
}

type ListenerFunc func(ctx context.Context, r Record)

func (f ListenerFunc) PresenceChanged(ctx context.Context, r Record) { f(ctx, r) }

type Options struct {
	GracePeriod time.Duration // 0 = 立即下线
	IOTimeout   time.Duration
	Clock       func() time.Time
}

type userState struct {
	online   bool
	lastSeen time.Time
	rooms    map[string]struct{}
	timer    *time.Timer
	gen      uint64
}

// Service 在线状态服务。
// 每次上下线都只是触发一次对账：读注册表的真实在线状态，与已提交状态不同才提交并广播。
type Service struct {
	mu     sync.Mutex
	emitMu sync.Mutex
	users  map[string]*userState

	registry  OnlineChecker
	disp      Broadcaster
	store     Store
	listeners []Listener
	opts      Options
}

func NewService(registry OnlineChecker, disp Broadcaster, store Store, opts Options) *Service {
	if store == nil {
		store = NewMemoryStore()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = 2 * time.Second
	}
	return &Service{
		users:    make(map[string]*userState),
		registry: registry,
		disp:     disp,
		store:    store,
		opts:     opts,
	}
}

// AddListener 需在开始服务前注册
func (s *Service) AddListener(l Listener) { s.listeners = append(s.listeners, l) }

func (s *Service) state(userID string) *userState {
	st := s.users[userID]
	if st == nil {
		st = &userState{}
		s.users[userID] = st
	}
	return st
}

// SetOnline 首条连接建立后调用；取消未到期的下线
func (s *Service) SetOnline(userID string) {
	s.mu.Lock()
	st := s.state(userID)
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.gen++
	s.mu.Unlock()
	s.reconcile(userID)
}

// SetOffline 最后一条连接断开后调用；宽限期内重连则不会产生下线事件
func (s *Service) SetOffline(userID string, lastSeen time.Time, rooms []string) {
	s.mu.Lock()
	st := s.state(userID)
	st.lastSeen = lastSeen
	if st.rooms == nil {
		st.rooms = make(map[string]struct{}, len(rooms))
	}
	for _, r := range rooms {
		st.rooms[r] = struct{}{}
	}
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.gen++
	if s.opts.GracePeriod <= 0 {
		s.mu.Unlock()
		s.reconcile(userID)
		return
	}
	gen := st.gen
	st.timer = time.AfterFunc(s.opts.GracePeriod, func() { s.fire(userID, gen) })
	s.mu.Unlock()
}

func (s *Service) fire(userID string, gen uint64) {
	s.mu.Lock()
	st := s.users[userID]
	if st == nil || st.gen != gen {
		s.mu.Unlock()
		return
	}
	st.timer = nil
	s.mu.Unlock()
	s.reconcile(userID)
}

func (s *Service) reconcile(userID string) {
	s.mu.Lock()
	st := s.state(userID)
	online := s.registry.IsOnline(userID)
	if st.online == online {
		if online {
			st.rooms = nil
		}
		s.mu.Unlock()
		return
	}
	st.online = online
	rec := Record{UserID: userID, IsOnline: online, LastSeen: st.lastSeen}
	if online || rec.LastSeen.IsZero() {
		rec.LastSeen = s.opts.Clock()
	}
	st.lastSeen = rec.LastSeen
	rooms := roomList(userID, st.rooms)
	st.rooms = nil
	// 先拿 emitMu 再放 mu，保证同一用户的事件按提交顺序发出
	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()

	s.commit(rec, rooms)
}

func (s *Service) commit(rec Record, rooms []string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.IOTimeout)
	defer cancel()
	if err := s.store.Save(ctx, rec); err != nil {
		logger.Warn("[Presence] persist failed", zap.String("user", rec.UserID), zap.Error(err))
	}
	if s.disp != nil {
		s.disp.BroadcastToMany(rooms, chat.EvStatusUpdate, rec)
	}
	for _, l := range s.listeners {
		l.PresenceChanged(ctx, rec)
	}
	logger.Debug("[Presence] transition", zap.String("user", rec.UserID), zap.Bool("online", rec.IsOnline))
}

// StatusOf 优先内存中的已提交状态，其次持久化记录
func (s *Service) StatusOf(ctx context.Context, userID string) (Record, error) {
	s.mu.Lock()
	st, ok := s.users[userID]
	if ok && (st.online || !st.lastSeen.IsZero()) {
		rec := Record{UserID: userID, IsOnline: st.online, LastSeen: st.lastSeen}
		s.mu.Unlock()
		return rec, nil
	}
	s.mu.Unlock()

	rec, found, err := s.store.Load(ctx, userID)
	if err != nil {
		return Record{}, err
	}
	if !found {
		return Record{UserID: userID}, nil
	}
	return rec, nil
}

// Stop 取消所有待定的下线
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.users {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.gen++
	}
}

func roomList(userID string, rooms map[string]struct{}) []string {
	out := make([]string, 0, len(rooms)+1)
	self := chat.UserRoom(userID)
	out = append(out, self)
	for r := range rooms {
		if r != self {
			out = append(out, r)
		}
	}
	sort.Strings(out[1:])
	return out
}
