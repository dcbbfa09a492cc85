package chat

// EventType 下行事件类型
type EventType string

const (
	EvStatusUpdate EventType = "status:update"
	EvError        EventType = "error"
	EvConnected    EventType = "connected"
	EvPong         EventType = "pong"

	EvMessageNew          EventType = "message:new"
	EvMessageEdited       EventType = "message:edited"
	EvMessageDeleted      EventType = "message:deleted"
	EvMessageReaction     EventType = "message:reaction"
	EvMessagesRead        EventType = "messages:read"
	EvConversationUpdated EventType = "conversation:updated"

	EvChatUserJoined    EventType = "chat:user:joined"
	EvChatUserLeft      EventType = "chat:user:left"
	EvChatTypingUpdate  EventType = "chat:typing:update"
	EvChatMessageStatus EventType = "chat:message:status"

	EvCommentLiked        EventType = "comment:liked"
	EvCommentCreated      EventType = "comment:created"
	EvCommentDeleted      EventType = "comment:deleted"
	EvCommentEdited       EventType = "comment:edited"
	EvReplyCreated        EventType = "reply:created"
	EvCommentTypingUpdate EventType = "comment:typing:update"

	EvPostLiked   EventType = "post:liked"
	EvPostCreated EventType = "post:created"
	EvPostDeleted EventType = "post:deleted"
	EvPostShared  EventType = "post:shared"

	EvUserFollowUpdate   EventType = "user:follow:update"
	EvUserActivityUpdate EventType = "user:activity:update"
)

// 上行事件名
const (
	InJoinPost     = "join:post"
	InLeavePost    = "leave:post"
	InJoinFeed     = "join:feed"
	InLeaveFeed    = "leave:feed"
	InJoinUserFeed = "join:user:feed"

	InChatJoin             = "chat:join"
	InChatLeave            = "chat:leave"
	InChatTyping           = "chat:typing"
	InChatMessageDelivered = "chat:message:delivered"
	InChatMessageRead      = "chat:message:read"

	InCommentLike   = "comment:like"
	InCommentCreate = "comment:create"
	InCommentDelete = "comment:delete"
	InCommentEdit   = "comment:edit"
	InReplyCreate   = "reply:create"
	InCommentTyping = "comment:typing"

	InPostLike   = "post:like"
	InPostCreate = "post:create"
	InPostDelete = "post:delete"
	InPostShare  = "post:share"

	InUserFollow   = "user:follow"
	InUserActivity = "user:activity"

	InPing = "ping"
)
