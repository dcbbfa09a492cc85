package natsx

import (
	"context"
	"strings"
	"sync"
	"time"

	"PPFeed/logger"
	"PPFeed/tools/errs"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type Config struct {
	Servers       []string
	Name          string
	User          string
	Password      string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// Route 业务名 -> subject。JetStream 为 true 时走持久化流，handler 返回 nil 才 ACK
type Route struct {
	Biz           string
	Subject       string
	Queue         string // 多实例分摊；空 = 每个实例都收
	JetStream     bool
	Durable       string
	AckWait       time.Duration
	MaxAckPending int
}

// Bus 同步层与其他服务之间的 NATS 通道：上下线外发、领域事件入口
type Bus struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	mws []Middleware

	mu     sync.RWMutex
	routes map[string]Route
	subs   map[string]*nats.Subscription
}

func Dial(cfg Config, mws ...Middleware) (*Bus, error) {
	if len(cfg.Servers) == 0 {
		return nil, errs.ErrInvalidArgument.WrapMsg("nats servers missing")
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("[NATS] disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("[NATS] reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errs.Transient(err, "nats.Connect")
	}
	return &Bus{
		nc:     nc,
		mws:    mws,
		routes: make(map[string]Route),
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

func (b *Bus) Route(r Route) error {
	if r.Biz == "" || r.Subject == "" {
		return errs.ErrInvalidArgument.WrapMsg("invalid nats route", "biz", r.Biz, "subject", r.Subject)
	}
	if r.AckWait <= 0 {
		r.AckWait = 30 * time.Second
	}
	if r.MaxAckPending <= 0 {
		r.MaxAckPending = 1024
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.JetStream && b.js == nil {
		js, err := b.nc.JetStream()
		if err != nil {
			return errs.Transient(err, "nats.JetStream")
		}
		b.js = js
	}
	b.routes[r.Biz] = r
	return nil
}

func (b *Bus) route(biz string) (Route, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.routes[biz]
	if !ok {
		return Route{}, errs.ErrNotFound.WrapMsg("nats route not registered", "biz", biz)
	}
	return r, nil
}

// Publish 实现 Publisher
func (b *Bus) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	r, err := b.route(biz)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(r.Subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Set(k, v)
	}
	if !r.JetStream {
		if err := b.nc.PublishMsg(msg); err != nil {
			return errs.Transient(err, "nats.Publish")
		}
		return nil
	}
	ack, err := b.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return errs.Transient(err, "jetstream.Publish")
	}
	logger.Debug("[NATS] published", zap.String("stream", ack.Stream), zap.Uint64("seq", ack.Sequence))
	return nil
}

// PublishOnce 带 Nats-Msg-Id，JetStream 按窗口去重；msgID 为空时生成
func (b *Bus) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	out := make(map[string]string, len(hdr)+1)
	for k, v := range hdr {
		out[k] = v
	}
	if msgID == "" {
		msgID = uuid.NewString()
	}
	out[HeaderMsgID] = msgID
	return b.Publish(ctx, biz, data, out)
}

// Subscribe handler 外层套上 Dial 时给的中间件
func (b *Bus) Subscribe(biz string, h Handler) error {
	r, err := b.route(biz)
	if err != nil {
		return err
	}
	h = Chain(h, b.mws...)

	var sub *nats.Subscription
	if !r.JetStream {
		cb := func(m *nats.Msg) { _ = h(context.Background(), fromNats(m)) }
		if r.Queue == "" {
			sub, err = b.nc.Subscribe(r.Subject, cb)
		} else {
			sub, err = b.nc.QueueSubscribe(r.Subject, r.Queue, cb)
		}
		if err == nil {
			_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)
		}
	} else {
		opts := []nats.SubOpt{nats.ManualAck(), nats.AckWait(r.AckWait), nats.MaxAckPending(r.MaxAckPending)}
		if r.Durable != "" {
			opts = append(opts, nats.Durable(r.Durable))
		}
		cb := func(m *nats.Msg) {
			if h(context.Background(), fromNats(m)) == nil {
				_ = m.Ack()
			} else {
				_ = m.Nak()
			}
		}
		if r.Queue == "" {
			sub, err = b.js.Subscribe(r.Subject, cb, opts...)
		} else {
			sub, err = b.js.QueueSubscribe(r.Subject, r.Queue, cb, opts...)
		}
	}
	if err != nil {
		return errs.Transient(err, "nats.Subscribe")
	}
	b.mu.Lock()
	b.subs[biz] = sub
	b.mu.Unlock()
	return nil
}

// Close 先 drain 订阅再 drain 连接
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for biz, sub := range b.subs {
		_ = sub.Drain()
		delete(b.subs, biz)
	}
	return b.nc.Drain()
}

func fromNats(m *nats.Msg) Msg {
	var hdr map[string]string
	if len(m.Header) > 0 {
		hdr = make(map[string]string, len(m.Header))
		for k, v := range m.Header {
			if len(v) > 0 {
				hdr[k] = v[0]
			}
		}
	}
	return Msg{Subject: m.Subject, Data: append([]byte(nil), m.Data...), Header: hdr}
}
