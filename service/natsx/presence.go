package natsx

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"PPFeed/logger"
	"PPFeed/service/presence"

	"go.uber.org/zap"
)

const (
	BizPresence = "presence"
	BizIngress  = "ingress"
)

// PresencePublisher 把已提交的上下线变化发到 NATS，供推送/推荐等下游服务订阅
type PresencePublisher struct {
	pub *Retrying
}

func NewPresencePublisher(p Publisher) *PresencePublisher {
	return &PresencePublisher{pub: &Retrying{P: p, Retries: 2, Backoff: 100 * time.Millisecond}}
}

// PresenceChanged 实现 presence.Listener；失败只记日志
func (p *PresencePublisher) PresenceChanged(ctx context.Context, rec presence.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		logger.Error("[NATS] marshal presence", zap.Error(err))
		return
	}
	// 同一次变化重试时 msgID 不变，JetStream 侧去重
	hdr := map[string]string{
		HeaderMsgID: rec.UserID + ":" + strconv.FormatBool(rec.IsOnline) + ":" + strconv.FormatInt(rec.LastSeen.UnixMilli(), 10),
	}
	if err := p.pub.Publish(ctx, BizPresence, data, hdr); err != nil {
		logger.Warn("[NATS] publish presence failed", zap.String("user", rec.UserID), zap.Error(err))
	}
}
