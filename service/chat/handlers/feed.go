package handlers

import (
	"encoding/json"

	"PPFeed/module/feed"
	"PPFeed/service/chat"
)

// FeedRelays 帖子/评论/关注类事件直接转发，不落库（持久化由外部服务负责）
func FeedRelays(relay *feed.Relay) []chat.Handler {
	out := make([]chat.Handler, 0, len(feed.Events()))
	for _, name := range feed.Events() {
		name := name
		out = append(out, chat.HandlerFunc{
			Name: name,
			Fn: func(c *chat.Context, raw json.RawMessage) error {
				return relay.Relay(name, c.UserID(), raw, chat.Except(c.Client))
			},
		})
	}
	return out
}
