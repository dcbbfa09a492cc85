package global

import (
	"strings"
	"time"

	"PPFeed/data/database/mgo/mongoutil"
	redis "PPFeed/service/storage/redis"

	"github.com/spf13/viper"
)

const EnvPrefix = "PPFEED"

type AppConf struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	HTTPAddr string `mapstructure:"http_addr"`
	NodeID   int64  `mapstructure:"node_id"` // 雪花ID节点 0~1023
}

type LogConf struct {
	Level string `mapstructure:"level"`
	GlogV int    `mapstructure:"glog_v"` // glog 的 -v 级别，给入站事件分发器用
}

type JWTConf struct {
	Secret string        `mapstructure:"secret"`
	Alg    string        `mapstructure:"alg"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type WSConf struct {
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
	SendQueue       int           `mapstructure:"send_queue"`
	MaxPerUser      int           `mapstructure:"max_per_user"` // 0 = 不限
	EvictOldest     bool          `mapstructure:"evict_oldest"` // 超限时挤掉最旧连接，否则拒绝新连接
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type PresenceConf struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
	Store       string        `mapstructure:"store"` // redis | memory
	KeyTTL      time.Duration `mapstructure:"key_ttl"`
}

type StoreConf struct {
	Driver string `mapstructure:"driver"` // mongo | memory
}

type NatsConf struct {
	Enabled         bool     `mapstructure:"enabled"`
	Servers         []string `mapstructure:"servers"`
	User            string   `mapstructure:"user"`
	Password        string   `mapstructure:"password"`
	PresenceSubject string   `mapstructure:"presence_subject"`
	IngressSubject  string   `mapstructure:"ingress_subject"`
	IngressQueue    string   `mapstructure:"ingress_queue"`
}

type KafkaConf struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	Topic       string   `mapstructure:"topic"`
	Compression string   `mapstructure:"compression"`
	Retries     int      `mapstructure:"retries"`
	EnsureTopic bool     `mapstructure:"ensure_topic"`
	Partitions  int32    `mapstructure:"partitions"`
	Replication int16    `mapstructure:"replication"`
}

// PurgeConf 撤回消息固定保留 30 天，这里只配清理频率
type PurgeConf struct {
	Cron string `mapstructure:"cron"`
}

type RateLimitConf struct {
	MessagesPerMinute  int     `mapstructure:"messages_per_minute"`
	SocketEventsPerSec float64 `mapstructure:"socket_events_per_sec"`
	SocketBurst        int     `mapstructure:"socket_burst"`
}

type Config struct {
	App       AppConf          `mapstructure:"app"`
	Log       LogConf          `mapstructure:"log"`
	JWT       JWTConf          `mapstructure:"jwt"`
	WS        WSConf           `mapstructure:"ws"`
	Presence  PresenceConf     `mapstructure:"presence"`
	Store     StoreConf        `mapstructure:"store"`
	Mongo     mongoutil.Config `mapstructure:"mongo"`
	Redis     redis.Config     `mapstructure:"redis"`
	Nats      NatsConf         `mapstructure:"nats"`
	Kafka     KafkaConf        `mapstructure:"kafka"`
	Purge     PurgeConf        `mapstructure:"purge"`
	RateLimit RateLimitConf    `mapstructure:"ratelimit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ppfeed-sync")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.http_addr", ":8080")
	v.SetDefault("app.node_id", 1)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.glog_v", 0)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.alg", "HS256")
	v.SetDefault("jwt.ttl", 2*time.Hour)

	v.SetDefault("ws.ping_interval", 25*time.Second)
	v.SetDefault("ws.pong_timeout", 60*time.Second)
	v.SetDefault("ws.write_wait", 10*time.Second)
	v.SetDefault("ws.max_message_bytes", 64*1024)
	v.SetDefault("ws.send_queue", 256)
	v.SetDefault("ws.max_per_user", 0)
	v.SetDefault("ws.evict_oldest", true)
	v.SetDefault("ws.allowed_origins", []string{})

	v.SetDefault("presence.grace_period", 5*time.Second)
	v.SetDefault("presence.store", "memory")
	v.SetDefault("presence.key_ttl", 7*24*time.Hour)

	v.SetDefault("store.driver", "memory")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "ppfeed")
	v.SetDefault("mongo.username", "")
	v.SetDefault("mongo.password", "")
	v.SetDefault("mongo.max_pool_size", 20)
	v.SetDefault("mongo.max_retry", 3)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.servers", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.user", "")
	v.SetDefault("nats.password", "")
	v.SetDefault("nats.presence_subject", "ppfeed.presence.status")
	v.SetDefault("nats.ingress_subject", "ppfeed.events")
	v.SetDefault("nats.ingress_queue", "ppfeed-sync")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic", "ppfeed.messages")
	v.SetDefault("kafka.compression", "snappy")
	v.SetDefault("kafka.retries", 5)
	v.SetDefault("kafka.ensure_topic", true)
	v.SetDefault("kafka.partitions", 8)
	v.SetDefault("kafka.replication", 1)

	v.SetDefault("purge.cron", "* * * * *")

	v.SetDefault("ratelimit.messages_per_minute", 60)
	v.SetDefault("ratelimit.socket_events_per_sec", 20)
	v.SetDefault("ratelimit.socket_burst", 40)
}

// Load reads the optional YAML file at path, then PPFEED_* env overrides
// (PPFEED_JWT_SECRET, PPFEED_WS_PING_INTERVAL, ...).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.WS.PongTimeout <= cfg.WS.PingInterval {
		// 读超时必须大于 ping 周期，否则健康连接也会被断开
		cfg.WS.PongTimeout = cfg.WS.PingInterval * 2
	}
	return &cfg, nil
}
