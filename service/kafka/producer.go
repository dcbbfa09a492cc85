package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"PPFeed/global"
	"PPFeed/logger"
	"PPFeed/module/chat/service"
	"PPFeed/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// LifecycleProducer 把消息生命周期事件异步写入 kafka，供下游审计/搜索消费
type LifecycleProducer struct {
	prod  sarama.AsyncProducer
	topic string

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewLifecycleProducer(conf global.KafkaConf) (*LifecycleProducer, error) {
	if len(conf.Brokers) == 0 || conf.Topic == "" {
		return nil, errs.ErrInvalidArgument.WrapMsg("kafka brokers and topic required")
	}
	p, err := sarama.NewAsyncProducer(conf.Brokers, BuildBaseConfig(conf))
	if err != nil {
		return nil, errs.Transient(err, "kafka.NewAsyncProducer")
	}
	return NewLifecycleProducerWith(p, conf.Topic), nil
}

// NewLifecycleProducerWith 接管已有的 producer，Close 时一并关闭
func NewLifecycleProducerWith(p sarama.AsyncProducer, topic string) *LifecycleProducer {
	lp := &LifecycleProducer{prod: p, topic: topic, done: make(chan struct{})}
	go lp.drain()
	return lp
}

func (p *LifecycleProducer) drain() {
	defer close(p.done)
	succ, errc := p.prod.Successes(), p.prod.Errors()
	for succ != nil || errc != nil {
		select {
		case msg, ok := <-succ:
			if !ok {
				succ = nil
				continue
			}
			logger.Debug("lifecycle event sent",
				zap.String("topic", msg.Topic), zap.Int32("partition", msg.Partition), zap.Int64("offset", msg.Offset))
		case perr, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			logger.Warn("lifecycle event failed", zap.String("topic", perr.Msg.Topic), zap.Error(perr.Err))
		}
	}
}

func key(ev service.Lifecycle) string {
	if ev.ConversationID != "" {
		return ev.ConversationID
	}
	return string(ev.Kind)
}

const enqueueTimeout = 200 * time.Millisecond

// Emit 实现 service.LifecycleSink；producer 忙时丢弃，不阻塞发消息主流程
func (p *LifecycleProducer) Emit(ctx context.Context, ev service.Lifecycle) {
	b, err := json.Marshal(ev)
	if err != nil {
		logger.Error("lifecycle encode", zap.Error(err))
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key(ev)),
		Value: sarama.ByteEncoder(b),
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.prod.Input() <- msg:
	case <-ctx.Done():
		logger.Warn("lifecycle event dropped", zap.String("kind", string(ev.Kind)), zap.Error(ctx.Err()))
	case <-time.After(enqueueTimeout):
		logger.Warn("lifecycle event dropped: producer busy", zap.String("kind", string(ev.Kind)))
	}
}

// Close 等待在途消息回执后返回
func (p *LifecycleProducer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.prod.AsyncClose()
	<-p.done
	return nil
}
