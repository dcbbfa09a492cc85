package chat

import (
	"sync"
	"time"

	"PPFeed/logger"

	"go.uber.org/zap"
)

// BroadcastOption 广播选项
type BroadcastOption func(*broadcastOpts)

type broadcastOpts struct {
	except *Client
}

// Except 排除某条连接（一般是发送方自己）
func Except(c *Client) BroadcastOption {
	return func(o *broadcastOpts) { o.except = c }
}

// EventDispatcher 下行事件分发。
// 所有广播走同一把锁，保证同一房间内事件按调用顺序入队；入队非阻塞，队列满直接丢弃。
type EventDispatcher struct {
	mu     sync.Mutex
	rooms  *RoomRouter
	clock  func() time.Time
	onDrop func(*Client)
}

func NewEventDispatcher(rooms *RoomRouter) *EventDispatcher {
	return &EventDispatcher{rooms: rooms, clock: time.Now}
}

// SetClock 单测用
func (d *EventDispatcher) SetClock(clock func() time.Time) { d.clock = clock }

// OnDrop 队列满时回调（日志/断开慢连接由调用方决定）
func (d *EventDispatcher) OnDrop(fn func(*Client)) { d.onDrop = fn }

func (d *EventDispatcher) Broadcast(room string, t EventType, payload any, opts ...BroadcastOption) {
	d.BroadcastToMany([]string{room}, t, payload, opts...)
}

func (d *EventDispatcher) BroadcastToUser(userID string, t EventType, payload any, opts ...BroadcastOption) {
	d.BroadcastToMany([]string{UserRoom(userID)}, t, payload, opts...)
}

// BroadcastToMany 多个房间取并集，同一连接只收到一次
func (d *EventDispatcher) BroadcastToMany(rooms []string, t EventType, payload any, opts ...BroadcastOption) {
	var o broadcastOpts
	for _, opt := range opts {
		opt(&o)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	frame, err := encodeEnvelope(t, payload, d.clock())
	if err != nil {
		logger.Error("encode envelope failed", zap.String("type", string(t)), zap.Error(err))
		return
	}
	seen := make(map[*Client]struct{})
	var targets []*Client
	for _, room := range rooms {
		for _, c := range d.rooms.MembersOf(room) {
			if c == o.except {
				continue
			}
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			targets = append(targets, c)
		}
	}
	d.deliver(targets, t, frame)
}

// SendTo 直接发给单条连接（error/connected 这类只回发送方的事件）
func (d *EventDispatcher) SendTo(c *Client, t EventType, payload any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	frame, err := encodeEnvelope(t, payload, d.clock())
	if err != nil {
		logger.Error("encode envelope failed", zap.String("type", string(t)), zap.Error(err))
		return
	}
	d.deliver([]*Client{c}, t, frame)
}

func (d *EventDispatcher) deliver(targets []*Client, t EventType, frame []byte) {
	for _, c := range targets {
		if c.Enqueue(frame) {
			OutboundFrames.WithLabelValues(string(t)).Inc()
			continue
		}
		DroppedFrames.Inc()
		logger.Debug("send queue full, frame dropped",
			zap.String("user", c.UserID), zap.String("conn", c.ConnID), zap.String("type", string(t)))
		if d.onDrop != nil {
			d.onDrop(c)
		}
	}
}
