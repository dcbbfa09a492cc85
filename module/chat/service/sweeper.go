package service

import (
	"context"
	"time"

	"PPFeed/logger"
	"PPFeed/tools/errs"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"
)

type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Sweeper 按 cron 表达式定期物理删除过期的撤回消息
type Sweeper struct {
	purger Purger
	cron   string
	clock  func() time.Time
}

func NewSweeper(p Purger, cronExpr string) (*Sweeper, error) {
	if cronExpr == "" {
		cronExpr = "* * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		return nil, errs.ErrInvalidArgument.WrapMsg("invalid purge cron", "cron", cronExpr)
	}
	return &Sweeper{purger: p, cron: cronExpr, clock: time.Now}, nil
}

// Next 下一次触发时间
func (s *Sweeper) Next(after time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.cron, after, false)
}

// RunOnce 执行一轮清理
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	n, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		logger.Warn("[Sweeper] purge failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("[Sweeper] purged recalled messages", zap.Int64("count", n))
	}
	return n, err
}

// Run 阻塞直到 ctx 结束
func (s *Sweeper) Run(ctx context.Context) {
	logger.Info("[Sweeper] started", zap.String("cron", s.cron))
	for {
		next, err := s.Next(s.clock().UTC())
		if err != nil {
			logger.Error("[Sweeper] next tick failed", zap.String("cron", s.cron), zap.Error(err))
			next = s.clock().Add(30 * time.Second)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("[Sweeper] stopping")
			return
		case <-timer.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			_, _ = s.RunOnce(runCtx)
			cancel()
		}
	}
}
