package global

import (
	"context"
	"flag"
	"strconv"
	"time"

	"PPFeed/logger"
	mgoSrv "PPFeed/service/mgo"
	redis "PPFeed/service/storage/redis"
	"PPFeed/tools/ids"

	"github.com/golang/glog"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

func ConfigIds(cfg *Config) {
	ids.SetNodeID(cfg.App.NodeID)
}

func ConfigLog(cfg *Config) {
	logger.SetLevel(cfg.Log.Level)
	// glog 只读 flag
	if f := flag.Lookup("v"); f != nil {
		_ = f.Value.Set(strconv.Itoa(cfg.Log.GlogV))
	}
	if f := flag.Lookup("logtostderr"); f != nil {
		_ = f.Value.Set("true")
	}
	glog.V(1).Infof("[Config] glog verbosity=%d", cfg.Log.GlogV)
}

// ConfigRedis 初始化 Redis；失败时返回 nil，调用方退回内存实现
func ConfigRedis(cfg *Config) *goredis.Client {
	if err := redis.InitRedis(cfg.Redis); err != nil {
		logger.Errorf("[Redis] init %s failed: %v", cfg.Redis.Addr, err)
		return nil
	}
	return redis.GetRedis()
}

// ConfigMgo 异步连接 Mongo（随 ctx 存活并自动重连），最多等 wait 到首次就绪
func ConfigMgo(ctx context.Context, cfg *Config, wait time.Duration) (*mongo.Database, *mgoSrv.MongoManager, error) {
	mgr := mgoSrv.NewManager()
	mcfg := cfg.Mongo
	mgr.StartAsync(ctx, &mcfg)
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	db, err := mgr.WaitReady(wctx)
	if err != nil {
		return nil, nil, err
	}
	return db, mgr, nil
}
