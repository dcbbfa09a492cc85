package natsx

import (
	"context"
	"time"
)

// Publisher Bus 满足；测试里用假实现
type Publisher interface {
	Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error
}

// Retrying 失败按固定间隔重试 Retries 次
type Retrying struct {
	P       Publisher
	Retries int
	Backoff time.Duration
}

func (r *Retrying) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	var err error
	for i := 0; ; i++ {
		if err = r.P.Publish(ctx, biz, data, hdr); err == nil || i >= r.Retries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.Backoff):
		}
	}
}
