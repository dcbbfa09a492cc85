package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"PPFeed/logger"
	"PPFeed/module/chat/model"
	"PPFeed/module/chat/store"
	"PPFeed/service/chat"
	"PPFeed/tools/errs"

	"go.uber.org/zap"
)

const (
	maxTextRunes  = 5000
	maxEmojiRunes = 16
)

type Options struct {
	MessagesPerMinute int // 每用户发送限流，<=0 不限
	Clock             func() time.Time
}

// Messaging 会话/消息业务：校验权限 -> 落库 -> 广播。
// 广播只在持久化成功后发生；校验失败只返回给调用方。
type Messaging struct {
	convs   store.ConversationStore
	msgs    store.MessageStore
	events  Broadcaster
	sink    LifecycleSink
	limiter *userLimiter
	clock   func() time.Time
}

func NewMessaging(convs store.ConversationStore, msgs store.MessageStore, events Broadcaster, opts Options) *Messaging {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Messaging{
		convs:   convs,
		msgs:    msgs,
		events:  events,
		sink:    nopSink{},
		limiter: newUserLimiter(opts.MessagesPerMinute),
		clock:   opts.Clock,
	}
}

func (s *Messaging) SetSink(sink LifecycleSink) {
	if sink != nil {
		s.sink = sink
	}
}

func (s *Messaging) now() time.Time { return s.clock().UTC() }

func (s *Messaging) emit(rooms []string, t chat.EventType, payload any, opts ...chat.BroadcastOption) {
	if s.events != nil && len(rooms) > 0 {
		s.events.BroadcastToMany(rooms, t, payload, opts...)
	}
}

// member 读会话并校验参与者
func (s *Messaging) member(ctx context.Context, convID, userID string) (*model.Conversation, error) {
	conv, err := s.convs.Get(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.IsActive {
		return nil, errs.ErrNotFound.WrapMsg("conversation", "id", convID)
	}
	if !conv.HasParticipant(userID) {
		return nil, errs.ErrForbidden.WrapMsg("not a participant", "conversation", convID, "user", userID)
	}
	return conv, nil
}

// messageFor 读消息并校验 userID 属于其会话
func (s *Messaging) messageFor(ctx context.Context, msgID, userID string) (*model.Message, *model.Conversation, error) {
	msg, err := s.msgs.Get(ctx, msgID)
	if err != nil {
		return nil, nil, err
	}
	conv, err := s.member(ctx, msg.ConversationID, userID)
	if err != nil {
		return nil, nil, err
	}
	return msg, conv, nil
}

// ===== 会话 =====

func (s *Messaging) GetOrCreateDirect(ctx context.Context, userID, peerID string) (*model.Conversation, error) {
	conv, created, err := s.convs.GetOrCreateDirect(ctx, userID, peerID, s.now())
	if err != nil {
		return nil, err
	}
	if created {
		logger.Debug("direct conversation created", zap.String("conversation", conv.ID), zap.String("a", userID), zap.String("b", peerID))
	}
	return conv, nil
}

func (s *Messaging) CreateGroup(ctx context.Context, creator string, participants []string, name string) (*model.Conversation, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errs.ErrInvalidArgument.WrapMsg("group name required")
	}
	conv, err := s.convs.CreateGroup(ctx, creator, participants, name, s.now())
	if err != nil {
		return nil, err
	}
	for _, p := range conv.Participants {
		s.emit([]string{chat.UserRoom(p)}, chat.EvConversationUpdated, ConversationUpdated{
			ConversationID: conv.ID,
			LastActivity:   conv.LastActivity,
		})
	}
	return conv, nil
}

func (s *Messaging) AddParticipant(ctx context.Context, convID, requester, userID string) (*model.Conversation, error) {
	if _, err := s.member(ctx, convID, requester); err != nil {
		return nil, err
	}
	conv, err := s.convs.AddParticipant(ctx, convID, userID, s.now())
	if err != nil {
		return nil, err
	}
	s.emit([]string{chat.UserRoom(userID)}, chat.EvConversationUpdated, ConversationUpdated{
		ConversationID: conv.ID,
		LastActivity:   conv.LastActivity,
	})
	return conv, nil
}

func (s *Messaging) GetConversation(ctx context.Context, convID, userID string) (*model.Conversation, error) {
	return s.member(ctx, convID, userID)
}

func (s *Messaging) ListConversations(ctx context.Context, userID string, page store.Page) ([]*model.Conversation, error) {
	return s.convs.ListForUser(ctx, userID, page)
}

// CanJoin chat:join 前的成员校验；非成员返回 InvalidParticipant
func (s *Messaging) CanJoin(ctx context.Context, convID, userID string) error {
	conv, err := s.convs.Get(ctx, convID)
	if err != nil {
		return err
	}
	if !conv.IsActive || !conv.HasParticipant(userID) {
		return errs.ErrInvalidParticipant.WrapMsg("not a participant", "conversation", convID, "user", userID)
	}
	return nil
}

func (s *Messaging) SetArchived(ctx context.Context, convID, userID string, archived bool) error {
	if _, err := s.member(ctx, convID, userID); err != nil {
		return err
	}
	return s.convs.SetArchived(ctx, convID, archived, s.now())
}

func (s *Messaging) SetMuted(ctx context.Context, convID, userID string, muted bool) error {
	if _, err := s.member(ctx, convID, userID); err != nil {
		return err
	}
	return s.convs.SetMuted(ctx, convID, userID, muted, s.now())
}

// ===== 消息 =====

// Send 落库成功后才广播 message:new 与 conversation:updated
func (s *Messaging) Send(ctx context.Context, convID, senderID string, content model.Content, replyTo string) (*model.Message, error) {
	now := s.now()
	if !s.limiter.Allow(senderID, now) {
		return nil, errs.ErrRateLimited.WrapMsg("too many messages", "user", senderID)
	}
	if err := content.Validate(); err != nil {
		return nil, err
	}
	if text, ok := content.TextValue(); ok && utf8.RuneCountInString(text) > maxTextRunes {
		return nil, errs.ErrInvalidArgument.WrapMsg("text too long", "max", maxTextRunes)
	}
	if _, err := s.member(ctx, convID, senderID); err != nil {
		return nil, err
	}
	if replyTo != "" {
		parent, err := s.msgs.Get(ctx, replyTo)
		if err != nil {
			return nil, err
		}
		if parent.ConversationID != convID {
			return nil, errs.ErrInvalidArgument.WrapMsg("reply target belongs to another conversation", "replyTo", replyTo)
		}
	}

	msg := &model.Message{
		ConversationID: convID,
		SenderID:       senderID,
		Content:        content,
		ReplyTo:        replyTo,
		Status:         model.StatusSent,
		DeliveredTo:    []model.Receipt{},
		ReadBy:         []model.Receipt{},
		Reactions:      []model.Reaction{},
		EditHistory:    []model.EditEntry{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.msgs.Insert(ctx, msg); err != nil {
		return nil, err
	}
	conv, err := s.convs.AppendMessage(ctx, convID, msg)
	if err != nil {
		// 消息已落库，会话摘要下次发送时会被覆盖
		logger.Warn("append message to conversation failed", zap.String("conversation", convID), zap.String("message", msg.ID), zap.Error(err))
		return nil, err
	}

	out := msg.Rendered()
	s.emit([]string{chat.ConversationRoom(convID)}, chat.EvMessageNew, out)
	for _, p := range conv.Others(senderID) {
		s.emit([]string{chat.UserRoom(p)}, chat.EvConversationUpdated, ConversationUpdated{
			ConversationID: convID,
			LastMessage:    out,
			LastActivity:   conv.LastActivity,
			UnreadCount:    conv.UnreadCount[p],
		})
	}
	s.sink.Emit(ctx, Lifecycle{Kind: LifecycleSent, MessageID: msg.ID, ConversationID: convID, ActorID: senderID, At: now})
	return out, nil
}

func (s *Messaging) ListMessages(ctx context.Context, convID, userID string, page store.Page) ([]*model.Message, error) {
	if _, err := s.member(ctx, convID, userID); err != nil {
		return nil, err
	}
	list, err := s.msgs.ListByConversation(ctx, convID, page)
	if err != nil {
		return nil, err
	}
	for i, m := range list {
		list[i] = m.Rendered()
	}
	return list, nil
}

// MarkDelivered 幂等，状态只前进；发送者本人调用不改变状态
func (s *Messaging) MarkDelivered(ctx context.Context, msgID, userID string, opts ...chat.BroadcastOption) (*model.Message, error) {
	return s.markStatus(ctx, msgID, userID, model.StatusDelivered, opts...)
}

func (s *Messaging) MarkRead(ctx context.Context, msgID, userID string, opts ...chat.BroadcastOption) (*model.Message, error) {
	return s.markStatus(ctx, msgID, userID, model.StatusRead, opts...)
}

func (s *Messaging) markStatus(ctx context.Context, msgID, userID string, to model.MessageStatus, opts ...chat.BroadcastOption) (*model.Message, error) {
	msg, _, err := s.messageFor(ctx, msgID, userID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID == userID {
		return msg.Rendered(), nil
	}
	// 已读隐含已送达
	seen := msg.ReadByUser(userID)
	if to == model.StatusDelivered {
		seen = seen || msg.DeliveredToUser(userID)
	}
	now := s.now()
	var updated *model.Message
	if to == model.StatusRead {
		updated, err = s.msgs.MarkRead(ctx, msgID, userID, now)
		if err == nil {
			// 读到一条即视为会话已打开，未读清零
			err = s.convs.MarkRead(ctx, updated.ConversationID, userID)
		}
	} else {
		updated, err = s.msgs.MarkDelivered(ctx, msgID, userID, now)
	}
	if err != nil {
		return nil, err
	}
	// 回执已存在且状态没动就不再广播
	if seen && updated.Status == msg.Status {
		return updated.Rendered(), nil
	}
	// 会话房间 + 发送者个人房间，同一连接只收一次
	s.emit([]string{chat.ConversationRoom(updated.ConversationID), chat.UserRoom(updated.SenderID)},
		chat.EvChatMessageStatus, MessageStatusChanged{
			MessageID:      updated.ID,
			ConversationID: updated.ConversationID,
			UserID:         userID,
			Status:         updated.Status,
			At:             now,
		}, opts...)
	return updated.Rendered(), nil
}

// MarkConversationRead 清零未读并把给定消息标记已读，通知其他参与者
func (s *Messaging) MarkConversationRead(ctx context.Context, convID, userID string, messageIDs []string) ([]string, error) {
	conv, err := s.member(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.convs.MarkRead(ctx, convID, userID); err != nil {
		return nil, err
	}
	now := s.now()
	marked := make([]string, 0, len(messageIDs))
	for _, id := range messageIDs {
		msg, err := s.msgs.Get(ctx, id)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if msg.ConversationID != convID || msg.SenderID == userID {
			continue
		}
		if _, err := s.msgs.MarkRead(ctx, id, userID, now); err != nil {
			return nil, err
		}
		marked = append(marked, id)
	}
	rooms := make([]string, 0, len(conv.Participants))
	for _, p := range conv.Others(userID) {
		rooms = append(rooms, chat.UserRoom(p))
	}
	s.emit(rooms, chat.EvMessagesRead, MessagesRead{
		ConversationID: convID,
		UserID:         userID,
		MessageIDs:     marked,
		ReadAt:         now,
	})
	return marked, nil
}

// React 同一用户只保留最新一个表情
func (s *Messaging) React(ctx context.Context, msgID, userID, emoji string) (*model.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiRunes {
		return nil, errs.ErrInvalidArgument.WrapMsg("invalid emoji")
	}
	if _, _, err := s.messageFor(ctx, msgID, userID); err != nil {
		return nil, err
	}
	updated, err := s.msgs.SetReaction(ctx, msgID, userID, emoji, s.now())
	if err != nil {
		return nil, err
	}
	s.emit([]string{chat.ConversationRoom(updated.ConversationID)}, chat.EvMessageReaction, ReactionChanged{
		MessageID:      updated.ID,
		ConversationID: updated.ConversationID,
		UserID:         userID,
		Emoji:          emoji,
		Action:         "add",
		Reactions:      updated.Reactions,
	})
	return updated.Rendered(), nil
}

func (s *Messaging) Unreact(ctx context.Context, msgID, userID string) (*model.Message, error) {
	if _, _, err := s.messageFor(ctx, msgID, userID); err != nil {
		return nil, err
	}
	updated, err := s.msgs.RemoveReaction(ctx, msgID, userID, s.now())
	if err != nil {
		return nil, err
	}
	s.emit([]string{chat.ConversationRoom(updated.ConversationID)}, chat.EvMessageReaction, ReactionChanged{
		MessageID:      updated.ID,
		ConversationID: updated.ConversationID,
		UserID:         userID,
		Action:         "remove",
		Reactions:      updated.Reactions,
	})
	return updated.Rendered(), nil
}

// Recall 只有发送者可撤回；撤回后 30 天物理删除
func (s *Messaging) Recall(ctx context.Context, msgID, requester string) (*model.Message, error) {
	msg, err := s.msgs.Get(ctx, msgID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != requester {
		return nil, errs.ErrForbidden.WrapMsg("only the sender can recall", "message", msgID)
	}
	now := s.now()
	updated, err := s.msgs.Recall(ctx, msgID, requester, now)
	if err != nil {
		return nil, err
	}
	s.emit([]string{chat.ConversationRoom(updated.ConversationID)}, chat.EvMessageDeleted, MessageDeleted{
		MessageID:      updated.ID,
		ConversationID: updated.ConversationID,
		DeletedBy:      requester,
		DeletedAt:      now,
	})
	s.sink.Emit(ctx, Lifecycle{Kind: LifecycleRecalled, MessageID: msgID, ConversationID: updated.ConversationID, ActorID: requester, At: now})
	return updated.Rendered(), nil
}

// Edit 只有发送者可编辑未撤回的文本消息
func (s *Messaging) Edit(ctx context.Context, msgID, requester, text string) (*model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errs.ErrInvalidArgument.WrapMsg("text required")
	}
	if utf8.RuneCountInString(text) > maxTextRunes {
		return nil, errs.ErrInvalidArgument.WrapMsg("text too long", "max", maxTextRunes)
	}
	msg, err := s.msgs.Get(ctx, msgID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != requester {
		return nil, errs.ErrForbidden.WrapMsg("only the sender can edit", "message", msgID)
	}
	now := s.now()
	updated, err := s.msgs.Edit(ctx, msgID, text, now)
	if err != nil {
		return nil, err
	}
	out := updated.Rendered()
	s.emit([]string{chat.ConversationRoom(updated.ConversationID)}, chat.EvMessageEdited, out)
	s.sink.Emit(ctx, Lifecycle{Kind: LifecycleEdited, MessageID: msgID, ConversationID: updated.ConversationID, ActorID: requester, At: now})
	return out, nil
}

// PurgeExpired 清理过期的撤回消息
func (s *Messaging) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now()
	n, err := s.msgs.PurgeExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.sink.Emit(ctx, Lifecycle{Kind: LifecyclePurged, Count: n, At: now})
	}
	return n, nil
}
