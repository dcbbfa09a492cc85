package handlers

import (
	"encoding/json"

	"PPFeed/module/feed"
	"PPFeed/service/chat"
)

// 应用层心跳，websocket ping/pong 之外给浏览器端用
func ping(c *chat.Context, _ json.RawMessage) error {
	c.Reply(chat.EvPong, map[string]string{"connId": c.Client.ConnID})
	return nil
}

// RegisterAll 注册全部上行事件
func RegisterAll(s *chat.Server, convs Conversations, relay *feed.Relay) {
	s.Register(RoomHandler{}.Handlers()...)
	s.Register(NewConversationHandler(convs).Handlers()...)
	s.Register(FeedRelays(relay)...)
	s.Register(chat.HandlerFunc{Name: chat.InPing, Fn: ping})
}
