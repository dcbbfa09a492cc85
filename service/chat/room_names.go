package chat

import (
	"strings"

	"PPFeed/tools/errs"
)

// RoomKind 房间类型，房间名是封闭集合
type RoomKind int

const (
	RoomPost RoomKind = iota + 1
	RoomConversation
	RoomFeedGlobal
	RoomUser
	RoomUserPosts
	RoomUserActivity
)

const FeedGlobal = "feed:global"

func PostRoom(postID string) string         { return "post:" + postID }
func ConversationRoom(convID string) string { return "conversation:" + convID }
func UserRoom(userID string) string         { return "user:" + userID }
func UserPostsRoom(userID string) string    { return "user:" + userID + ":posts" }
func UserActivityRoom(userID string) string { return "user:" + userID + ":activity" }

// ParseRoom validates name against the room conventions and returns its kind and subject id.
func ParseRoom(name string) (RoomKind, string, error) {
	if name == FeedGlobal {
		return RoomFeedGlobal, "", nil
	}
	parts := strings.Split(name, ":")
	bad := errs.ErrInvalidArgument.WrapMsg("unknown room", "room", name)
	for _, p := range parts[1:] {
		if p == "" {
			return 0, "", bad
		}
	}
	switch {
	case len(parts) == 2 && parts[0] == "post":
		return RoomPost, parts[1], nil
	case len(parts) == 2 && parts[0] == "conversation":
		return RoomConversation, parts[1], nil
	case len(parts) == 2 && parts[0] == "user":
		return RoomUser, parts[1], nil
	case len(parts) == 3 && parts[0] == "user" && parts[2] == "posts":
		return RoomUserPosts, parts[1], nil
	case len(parts) == 3 && parts[0] == "user" && parts[2] == "activity":
		return RoomUserActivity, parts[1], nil
	}
	return 0, "", bad
}
