package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PPFeed/global"
	"PPFeed/logger"
	mid "PPFeed/middleware"
	midsec "PPFeed/middleware/security"
	chatapi "PPFeed/module/chat"
	"PPFeed/module/chat/service"
	"PPFeed/module/chat/store"
	"PPFeed/module/feed"
	"PPFeed/service/chat"
	"PPFeed/service/chat/handlers"
	"PPFeed/service/kafka"
	"PPFeed/service/natsx"
	"PPFeed/service/presence"
	redis "PPFeed/service/storage/redis"
	"PPFeed/tools/safe"
	"PPFeed/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	path := flag.String("config", os.Getenv(global.EnvPrefix+"_CONFIG"), "config file (yaml)")
	flag.Parse()

	cfg, err := global.Load(*path)
	if err != nil {
		logger.Fatalf("[Config] load %q: %v", *path, err)
	}
	global.ConfigLog(cfg)
	global.ConfigIds(cfg)
	chat.InitMetrics()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1) 存储
	convs, msgs, err := openStores(ctx, cfg)
	if err != nil {
		logger.Fatalf("[Store] %v", err)
	}

	// 2) 实时层
	authOpts := security.Options{Secret: []byte(cfg.JWT.Secret), Alg: cfg.JWT.Alg, TTL: cfg.JWT.TTL}
	srv := chat.NewServer(chat.Options{
		Auth:            authOpts,
		PingInterval:    cfg.WS.PingInterval,
		PongTimeout:     cfg.WS.PongTimeout,
		WriteWait:       cfg.WS.WriteWait,
		MaxMessageBytes: cfg.WS.MaxMessageBytes,
		SendQueue:       cfg.WS.SendQueue,
		MaxPerUser:      cfg.WS.MaxPerUser,
		EvictOldest:     cfg.WS.EvictOldest,
		EventsPerSec:    cfg.RateLimit.SocketEventsPerSec,
		EventBurst:      cfg.RateLimit.SocketBurst,
		AllowedOrigins:  cfg.WS.AllowedOrigins,
	})

	svc := service.NewMessaging(convs, msgs, srv.Dispatcher(), service.Options{
		MessagesPerMinute: cfg.RateLimit.MessagesPerMinute,
	})
	if cfg.Kafka.Enabled {
		if cfg.Kafka.EnsureTopic {
			if err := kafka.EnsureTopicOnBrokers(cfg.Kafka); err != nil {
				logger.Warn("[Kafka] ensure topic failed", zap.Error(err))
			}
		}
		lp, err := kafka.NewLifecycleProducer(cfg.Kafka)
		if err != nil {
			logger.Warn("[Kafka] lifecycle producer disabled", zap.Error(err))
		} else {
			svc.SetSink(lp)
			defer lp.Close()
		}
	}

	sweeper, err := service.NewSweeper(svc, cfg.Purge.Cron)
	if err != nil {
		logger.Fatalf("[Sweeper] %v", err)
	}
	safe.SafeGo("purge-sweeper", func() { sweeper.Run(ctx) })

	pres := presence.NewService(srv.ConnMgr(), srv.Dispatcher(), presenceStore(cfg), presence.Options{
		GracePeriod: cfg.Presence.GracePeriod,
	})
	defer pres.Stop()
	srv.SetPresence(pres)

	relay := feed.NewRelay(srv.Dispatcher())
	handlers.RegisterAll(srv, svc, relay)

	// 3) NATS：上下线外发 + 领域事件入口
	if cfg.Nats.Enabled {
		bus, err := startNats(ctx, cfg.Nats, relay)
		if err != nil {
			logger.Warn("[NATS] disabled", zap.Error(err))
		} else {
			pres.AddListener(natsx.NewPresencePublisher(bus))
			defer bus.Close()
		}
	}

	// 4) HTTP + WebSocket
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), mid.AccessLog())
	mid.Manager().Add(mid.Origin(cfg.WS.AllowedOrigins))
	r.Use(mid.Manager().Use())

	r.GET("/ws", srv.HandleWS)
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(chat.MetricsHandler()))

	auth := midsec.Middleware(midsec.DefaultOptions(authOpts))
	// HTTP 层只挡突发，精确配额在 Messaging 里
	sendLimiter := mid.NewUserRateLimiter(cfg.RateLimit.MessagesPerMinute, cfg.RateLimit.MessagesPerMinute, midsec.UserID)
	safe.SafeGo("ratelimit-sweep", func() { sweepLimiter(ctx, sendLimiter) })

	api := r.Group("/api/chat")
	chatapi.NewHandler(svc, pres).Register(api,
		mid.RouteOpt{IsAuth: true, Auth: auth},
		mid.RouteOpt{IsAuth: true, Auth: auth, Extra: []gin.HandlerFunc{sendLimiter.Handler()}},
	)

	hs := &http.Server{Addr: cfg.App.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("[HTTP] listening", zap.String("addr", cfg.App.HTTPAddr))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("[HTTP] serve: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("[Main] shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := hs.Shutdown(sctx); err != nil {
		logger.Warn("[HTTP] shutdown", zap.Error(err))
	}
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("[WS] shutdown", zap.Error(err))
	}
	_ = redis.CloseRedis()
}

func openStores(ctx context.Context, cfg *global.Config) (store.ConversationStore, store.MessageStore, error) {
	if cfg.Store.Driver != "mongo" {
		logger.Info("[Store] using in-memory store")
		return store.NewMemoryConversations(), store.NewMemoryMessages(), nil
	}
	db, _, err := global.ConfigMgo(ctx, cfg, 30*time.Second)
	if err != nil {
		return nil, nil, err
	}
	wctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	convs, msgs := store.NewMongoConversations(db), store.NewMongoMessages(db)
	if err := convs.EnsureIndexes(wctx); err != nil {
		return nil, nil, err
	}
	if err := msgs.EnsureIndexes(wctx); err != nil {
		return nil, nil, err
	}
	logger.Info("[Store] mongo ready", zap.String("database", cfg.Mongo.Database))
	return convs, msgs, nil
}

func presenceStore(cfg *global.Config) presence.Store {
	if cfg.Presence.Store == "redis" {
		if rdb := global.ConfigRedis(cfg); rdb != nil {
			return presence.NewRedisStore(rdb, cfg.Presence.KeyTTL)
		}
		logger.Warn("[Presence] redis unavailable, falling back to memory")
	}
	return presence.NewMemoryStore()
}

func startNats(ctx context.Context, conf global.NatsConf, relay *feed.Relay) (*natsx.Bus, error) {
	var seen natsx.SeenStore
	if rdb := redis.GetRedis(); rdb != nil {
		seen = natsx.NewRedisSeen(rdb, "")
	} else {
		mem := natsx.NewMemorySeen()
		safe.SafeGo("nats-seen-sweep", func() {
			t := time.NewTicker(time.Minute)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					mem.Sweep()
				}
			}
		})
		seen = mem
	}

	bus, err := natsx.Dial(natsx.Config{
		Servers:  conf.Servers,
		Name:     "ppfeed-sync",
		User:     conf.User,
		Password: conf.Password,
	}, natsx.Logged(), natsx.Dedup(seen, 10*time.Minute))
	if err != nil {
		return nil, err
	}
	routes := []natsx.Route{
		{Biz: natsx.BizPresence, Subject: conf.PresenceSubject},
		{Biz: natsx.BizIngress, Subject: conf.IngressSubject, Queue: conf.IngressQueue},
	}
	for _, rt := range routes {
		if err := bus.Route(rt); err != nil {
			_ = bus.Close()
			return nil, err
		}
	}
	in := natsx.RelayFunc(func(name, userID string, raw json.RawMessage) error {
		return relay.Relay(name, userID, raw)
	})
	if err := bus.Subscribe(natsx.BizIngress, natsx.IngressHandler(in)); err != nil {
		_ = bus.Close()
		return nil, err
	}
	return bus, nil
}

func sweepLimiter(ctx context.Context, l *mid.UserRateLimiter) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep(10 * time.Minute)
		}
	}
}
