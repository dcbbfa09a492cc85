package mgo

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	mgo "PPFeed/data/database/mgo/mongoutil"
	"PPFeed/logger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type MongoManager struct {
	mu        sync.RWMutex
	client    *mgo.Client
	readyCh   chan struct{} // 首次就绪通知；只会被 close 一次
	readyOnce sync.Once

	lastErr atomic.Value // error
}

func NewManager() *MongoManager {
	return &MongoManager{readyCh: make(chan struct{})}
}

// StartAsync 一直运行到 ctx.Done()；首次连上时 close readyCh，后续掉线会自动重连
func (m *MongoManager) StartAsync(ctx context.Context, cfg *mgo.Config) {
	go func() {
		const (
			baseBackoff = 200 * time.Millisecond
			maxBackoff  = 5 * time.Second
			healthEvery = 10 * time.Second
			failThresh  = 3 // 连续失败阈值
		)

		for {
			// ===== 连接阶段（带退避重试） =====
			attempt := 0
			for {
				if ctx.Err() != nil {
					return
				}
				cli, err := mgo.NewMongoDB(ctx, cfg)
				if err == nil {
					m.mu.Lock()
					m.client = cli
					m.mu.Unlock()
					m.readyOnce.Do(func() { close(m.readyCh) })
					logger.Info("mongo connected", zap.String("database", cfg.Database))
					break
				}
				m.lastErr.Store(err)
				logger.Warn("mongo connect failed", zap.Int("attempt", attempt), zap.Error(err))

				backoff := baseBackoff << attempt
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				jitter := time.Duration(rand.Int63n(int64(backoff/5) + 1)) // 0~20%
				timer := time.NewTimer(backoff - jitter/2)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
				if attempt < 6 {
					attempt++
				}
			}

			// ===== 健康检查阶段（掉线→重连）=====
			if !m.watch(ctx, healthEvery, failThresh) {
				return
			}
		}
	}()
}

// watch pings until the connection is lost (returns true) or ctx ends (returns false).
func (m *MongoManager) watch(ctx context.Context, every time.Duration, failThresh int) bool {
	fail := 0
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.drop()
			return false
		case <-ticker.C:
			m.mu.RLock()
			c := m.client
			m.mu.RUnlock()
			if c == nil {
				return true
			}
			if err := c.GetDB().Client().Ping(ctx, nil); err != nil {
				fail++
				m.lastErr.Store(err)
				if fail >= failThresh {
					logger.Warn("mongo connection lost, reconnecting", zap.Error(err))
					m.drop()
					return true
				}
			} else {
				fail = 0
			}
		}
	}
}

func (m *MongoManager) drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		_ = m.client.Close(context.Background())
		m.client = nil
	}
}

// Ready 首次连接成功时会 close
func (m *MongoManager) Ready() <-chan struct{} {
	return m.readyCh
}

// Err 最近一次错误
func (m *MongoManager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// WaitReady blocks until the first successful connect and returns the database handle.
func (m *MongoManager) WaitReady(ctx context.Context) (*mongo.Database, error) {
	select {
	case <-m.readyCh:
	case <-ctx.Done():
		if err := m.Err(); err != nil {
			return nil, err
		}
		return nil, ctx.Err()
	}
	db, ok := m.TryGetDB()
	if !ok {
		return nil, m.Err()
	}
	return db, nil
}

func (m *MongoManager) TryGetDB() (*mongo.Database, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, false
	}
	return m.client.GetDB(), true
}
