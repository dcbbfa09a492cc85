package natsx

import (
	"context"
	"encoding/json"

	"PPFeed/logger"
	"PPFeed/tools/errs"

	"go.uber.org/zap"
)

// IngressEvent 其他服务（帖子/评论/关注）持久化成功后投递过来的领域事件
// {"event": "post:like", "userId": "u1", "data": {...}}
type IngressEvent struct {
	Event  string          `json:"event"`
	UserID string          `json:"userId"`
	Data   json.RawMessage `json:"data"`
}

// Relayer 由 feed.Relay 实现
type Relayer interface {
	Relay(name, userID string, raw json.RawMessage) error
}

// RelayFunc 适配 feed.Relay.Relay（带可变参数，不能直接满足接口）
type RelayFunc func(name, userID string, raw json.RawMessage) error

func (f RelayFunc) Relay(name, userID string, raw json.RawMessage) error { return f(name, userID, raw) }

// IngressHandler 解码后交给 Relayer 广播；坏消息直接丢弃不重投
func IngressHandler(r Relayer) Handler {
	return func(_ context.Context, msg Msg) error {
		var ev IngressEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			logger.Warn("[NATS] bad ingress payload", zap.String("subject", msg.Subject), zap.Error(err))
			return nil
		}
		if err := r.Relay(ev.Event, ev.UserID, ev.Data); err != nil {
			if errs.Code(err) == errs.InvalidArgumentError || errs.Code(err) == errs.InvalidParticipantError {
				logger.Warn("[NATS] ingress rejected", zap.String("event", ev.Event), zap.Error(err))
				return nil
			}
			return err
		}
		return nil
	}
}
