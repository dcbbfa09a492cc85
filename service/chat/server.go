package chat

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"PPFeed/logger"
	"PPFeed/tools/security"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// PresenceTracker 由 presence 服务实现；注册表只在首条连接上线、最后一条连接下线时调用
type PresenceTracker interface {
	SetOnline(userID string)
	SetOffline(userID string, lastSeen time.Time, rooms []string)
}

type Options struct {
	Auth            security.Options
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteWait       time.Duration
	MaxMessageBytes int64
	SendQueue       int
	MaxPerUser      int
	EvictOldest     bool
	EventsPerSec    float64 // 每连接上行限流，<=0 不限
	EventBurst      int
	AllowedOrigins  []string // 空 = 不校验
}

func (o *Options) norm() {
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.PongTimeout <= o.PingInterval {
		o.PongTimeout = 2 * o.PingInterval
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 * 1024
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 256
	}
}

// Server 实时同步核心：连接注册表 + 房间 + 下行分发 + 上行事件处理
type Server struct {
	opts     Options
	gate     *AuthGate
	conns    *ConnManager
	rooms    *RoomRouter
	disp     *EventDispatcher
	handlers *HandlerRegistry
	presence PresenceTracker
	upgrader websocket.Upgrader

	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

func NewServer(opts Options) *Server {
	opts.norm()
	rooms := NewRoomRouter()
	s := &Server{
		opts:  opts,
		gate:  NewAuthGate(opts.Auth),
		rooms: rooms,
		conns: NewConnManager(ManagerConf{
			MaxPerUser:  opts.MaxPerUser,
			EvictOldest: opts.EvictOldest,
		}),
		disp:     NewEventDispatcher(rooms),
		handlers: NewHandlerRegistry(),
		closed:   make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) ConnMgr() *ConnManager               { return s.conns }
func (s *Server) Rooms() *RoomRouter                  { return s.rooms }
func (s *Server) Dispatcher() *EventDispatcher        { return s.disp }
func (s *Server) Handlers() *HandlerRegistry          { return s.handlers }
func (s *Server) Gate() *AuthGate                     { return s.gate }
func (s *Server) SetPresence(p PresenceTracker)       { s.presence = p }
func (s *Server) Register(hs ...Handler)              { s.handlers.Register(hs...) }
func (s *Server) IsOnline(userID string) bool         { return s.conns.IsOnline(userID) }
func (s *Server) Connections(userID string) []*Client { return s.conns.ConnectionsFor(userID) }

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.opts.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Shutdown 关闭所有连接并等待读写协程退出
func (s *Server) Shutdown(ctx context.Context) error {
	s.once.Do(func() { close(s.closed) })
	for _, c := range s.conns.All() {
		c.Close()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("websocket server drained")
		return nil
	case <-ctx.Done():
		logger.Warn("websocket server drain timed out", zap.Int("remaining", s.conns.Count()))
		return ctx.Err()
	}
}
