package presence

import (
	"context"
	"strconv"
	"time"

	"PPFeed/tools/errs"

	"github.com/redis/go-redis/v9"
)

// 状态翻转一律写入；状态相同时只接受更新的 last_seen
// KEYS[1]=key ARGV: online, lastSeenMs, ttlMs
const luaSavePresence = `
local cur = redis.call('HMGET', KEYS[1], 'online', 'last_seen')
if cur[1] == ARGV[1] and cur[2] and tonumber(cur[2]) > tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], 'online', ARGV[1], 'last_seen', ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`

// RedisStore presence key: ppfeed:presence:<user>，hash {online, last_seen}
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	save   *redis.Script
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		prefix: "ppfeed:presence:",
		ttl:    ttl,
		save:   redis.NewScript(luaSavePresence),
	}
}

func (s *RedisStore) key(user string) string { return s.prefix + user }

func (s *RedisStore) Save(ctx context.Context, r Record) error {
	online := "0"
	if r.IsOnline {
		online = "1"
	}
	err := s.save.Run(ctx, s.rdb, []string{s.key(r.UserID)},
		online, r.LastSeen.UnixMilli(), s.ttl.Milliseconds()).Err()
	if err != nil && err != redis.Nil {
		return errs.Transient(err, "presence save")
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, userID string) (Record, bool, error) {
	vals, err := s.rdb.HGetAll(ctx, s.key(userID)).Result()
	if err != nil {
		return Record{}, false, errs.Transient(err, "presence load")
	}
	if len(vals) == 0 {
		return Record{}, false, nil
	}
	ms, _ := strconv.ParseInt(vals["last_seen"], 10, 64)
	return Record{
		UserID:   userID,
		IsOnline: vals["online"] == "1",
		LastSeen: time.UnixMilli(ms).UTC(),
	}, true, nil
}
