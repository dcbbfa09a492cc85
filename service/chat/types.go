package chat

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/golang/glog"
)

// Handler 上行事件处理器，一个事件名对应一个
type Handler interface {
	Event() string
	Handle(*Context, json.RawMessage) error
}

// HandlerFunc 适配普通函数
type HandlerFunc struct {
	Name string
	Fn   func(*Context, json.RawMessage) error
}

func (h HandlerFunc) Event() string                              { return h.Name }
func (h HandlerFunc) Handle(c *Context, d json.RawMessage) error { return h.Fn(c, d) }

// Context 单次上行事件的处理上下文
type Context struct {
	context.Context
	S      *Server
	Client *Client
	Frame  *InboundFrame
}

func (c *Context) UserID() string { return c.Client.UserID }

// Join 房间名不合约定（比如 id 里带 ':'）直接拒绝，不入房
func (c *Context) Join(room string) error {
	if _, _, err := ParseRoom(room); err != nil {
		return err
	}
	c.S.rooms.Join(c.Client, room)
	return nil
}

func (c *Context) Leave(room string) { c.S.rooms.Leave(c.Client, room) }

// Reply 只发给当前连接
func (c *Context) Reply(t EventType, payload any) { c.S.disp.SendTo(c.Client, t, payload) }

// ToRoom 广播到房间，排除当前连接
func (c *Context) ToRoom(room string, t EventType, payload any) {
	c.S.disp.Broadcast(room, t, payload, Except(c.Client))
}

// HandlerRegistry 事件名 -> Handler
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register 同名后注册覆盖先注册
func (d *HandlerRegistry) Register(hs ...Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range hs {
		if _, dup := d.handlers[h.Event()]; dup {
			glog.Warningf("handler for %q replaced", h.Event())
		}
		d.handlers[h.Event()] = h
	}
}

func (d *HandlerRegistry) GetHandler(event string) Handler {
	d.mu.RLock()
	h, ok := d.handlers[event]
	d.mu.RUnlock()
	if !ok {
		glog.V(1).Infof("no handler for event=%s", event)
		return nil
	}
	return h
}

func (d *HandlerRegistry) Events() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		out = append(out, name)
	}
	return out
}
