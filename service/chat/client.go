package chat

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Client 一条已认证的连接。同一用户多端时每条连接各自一个 Client。
// Send 只由单个写协程消费；关闭用 done，不关闭 Send，避免并发写已关闭 channel。
type Client struct {
	ConnID    string
	UserID    string
	WS        *websocket.Conn
	Remote    net.Addr
	CreatedAt time.Time

	Send chan []byte

	limiter   *rate.Limiter
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient ws may be nil in tests; frames then stay in Send.
func NewClient(connID, userID string, ws *websocket.Conn, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 256
	}
	c := &Client{
		ConnID:    connID,
		UserID:    userID,
		WS:        ws,
		CreatedAt: time.Now(),
		Send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
	}
	if ws != nil {
		c.Remote = ws.RemoteAddr()
	}
	return c
}

// Enqueue 非阻塞入队；队列满或连接已关闭返回 false
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) Done() <-chan struct{} { return c.done }

// Allow 上行事件限流；未配置时放行
func (c *Client) Allow() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}

func (c *Client) SetLimit(perSec float64, burst int) {
	if perSec <= 0 {
		c.limiter = nil
		return
	}
	if burst <= 0 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
}
