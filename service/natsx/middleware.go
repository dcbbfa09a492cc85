package natsx

import (
	"context"
	"strconv"
	"sync"
	"time"

	"PPFeed/logger"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const HeaderMsgID = "Nats-Msg-Id"

type Msg struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

type Handler func(ctx context.Context, msg Msg) error

type Middleware func(Handler) Handler

// Chain mws[0] 在最外层
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Logged 处理失败只记日志，返回值原样透传（JetStream 据此 NAK）
func Logged() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Msg) error {
			err := next(ctx, msg)
			if err != nil {
				logger.Warn("[NATS] handle failed", zap.String("subject", msg.Subject), zap.Error(err))
			}
			return err
		}
	}
}

// SeenStore 记录已处理过的消息 id
type SeenStore interface {
	// SeenOnce 第一次见到 key 返回 false 并记下
	SeenOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Dedup 按 Nats-Msg-Id 去重；没有 id 时退化为 subject+内容哈希。
// 存储出错时放行，宁可重复广播也不丢事件
func Dedup(store SeenStore, ttl time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Msg) error {
			seen, err := store.SeenOnce(ctx, dedupKey(msg), ttl)
			if err != nil {
				logger.Warn("[NATS] dedup store failed", zap.Error(err))
			}
			if seen {
				return nil
			}
			return next(ctx, msg)
		}
	}
}

func dedupKey(msg Msg) string {
	if id := msg.Header[HeaderMsgID]; id != "" {
		return id
	}
	return msg.Subject + "|" + strconv.FormatUint(xxhash.Sum64(msg.Data), 16)
}

type MemorySeen struct {
	mu    sync.Mutex
	m     map[string]time.Time
	clock func() time.Time
}

func NewMemorySeen() *MemorySeen {
	return &MemorySeen{m: make(map[string]time.Time), clock: time.Now}
}

func (s *MemorySeen) SeenOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.m[key]; ok && now.Before(exp) {
		return true, nil
	}
	s.m[key] = now.Add(ttl)
	return false, nil
}

// Sweep 删除过期 key，由调用方定期执行
func (s *MemorySeen) Sweep() int {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, exp := range s.m {
		if !now.Before(exp) {
			delete(s.m, k)
			n++
		}
	}
	return n
}

// RedisSeen 多实例共享去重窗口
type RedisSeen struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisSeen(rdb *redis.Client, prefix string) *RedisSeen {
	if prefix == "" {
		prefix = "ppfeed:nats:seen:"
	}
	return &RedisSeen{rdb: rdb, prefix: prefix}
}

func (s *RedisSeen) SeenOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	set, err := s.rdb.SetNX(ctx, s.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}
