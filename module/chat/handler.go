package chat

import (
	"context"
	"encoding/json"
	"strconv"

	"PPFeed/middleware"
	midsec "PPFeed/middleware/security"
	"PPFeed/module/chat/model"
	"PPFeed/module/chat/service"
	"PPFeed/module/chat/store"
	"PPFeed/service/presence"
	"PPFeed/tools/errs"

	"github.com/gin-gonic/gin"
)

// Presence 在线状态查询，由 presence.Service 实现
type Presence interface {
	StatusOf(ctx context.Context, userID string) (presence.Record, error)
}

// Handler 会话/消息 REST 接口，全部需要登录
type Handler struct {
	svc      *service.Messaging
	presence Presence
}

func NewHandler(svc *service.Messaging, p Presence) *Handler {
	return &Handler{svc: svc, presence: p}
}

// Register 挂到 /api/chat；opt.Auth 必须是 midsec.Middleware，sendOpt 额外带发送限流
func (h *Handler) Register(r gin.IRouter, opt middleware.RouteOpt, sendOpt middleware.RouteOpt) {
	opt.IsAuth = true
	sendOpt.IsAuth = true
	middleware.GET(r, "/conversations", h.listConversations, opt)
	middleware.GET(r, "/conversations/direct/:userId", h.direct, opt)
	middleware.POST(r, "/conversations/group", h.createGroup, opt)
	middleware.GET(r, "/conversations/:id", h.getConversation, opt)
	middleware.POST(r, "/conversations/:id/participants", h.addParticipant, opt)
	middleware.PUT(r, "/conversations/:id/archive", h.archive, opt)
	middleware.PUT(r, "/conversations/:id/mute", h.mute, opt)
	middleware.GET(r, "/conversations/:id/messages", h.listMessages, opt)
	middleware.POST(r, "/conversations/:id/messages", h.send, sendOpt)
	middleware.PUT(r, "/conversations/:id/read", h.markConversationRead, opt)

	middleware.DELETE(r, "/messages/:id", h.recall, opt)
	middleware.PUT(r, "/messages/:id", h.edit, opt)
	middleware.PUT(r, "/messages/:id/delivered", h.markDelivered, opt)
	middleware.PUT(r, "/messages/:id/read", h.markRead, opt)
	middleware.POST(r, "/messages/:id/reactions", h.react, opt)
	middleware.DELETE(r, "/messages/:id/reactions", h.unreact, opt)

	middleware.GET(r, "/users/:userId/status", h.userStatus, opt)
}

func page(c *gin.Context) store.Page {
	p, _ := strconv.Atoi(c.Query("page"))
	l, _ := strconv.Atoi(c.Query("limit"))
	return store.Page{Page: p, Limit: l}
}

func bind(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		fail(c, errs.ErrInvalidArgument.WrapMsg("bad request body", "err", err))
		return false
	}
	return true
}

// ===== 会话 =====

func (h *Handler) listConversations(c *gin.Context) {
	list, err := h.svc.ListConversations(c.Request.Context(), midsec.UserID(c), page(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Conversations retrieved successfully", list)
}

func (h *Handler) direct(c *gin.Context) {
	conv, err := h.svc.GetOrCreateDirect(c.Request.Context(), midsec.UserID(c), c.Param("userId"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Conversation retrieved successfully", conv)
}

type groupReq struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

func (h *Handler) createGroup(c *gin.Context) {
	var req groupReq
	if !bind(c, &req) {
		return
	}
	conv, err := h.svc.CreateGroup(c.Request.Context(), midsec.UserID(c), req.Participants, req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Group created successfully", conv)
}

func (h *Handler) getConversation(c *gin.Context) {
	conv, err := h.svc.GetConversation(c.Request.Context(), c.Param("id"), midsec.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Conversation retrieved successfully", conv)
}

func (h *Handler) addParticipant(c *gin.Context) {
	var req struct {
		UserID string `json:"userId"`
	}
	if !bind(c, &req) {
		return
	}
	conv, err := h.svc.AddParticipant(c.Request.Context(), c.Param("id"), midsec.UserID(c), req.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Participant added successfully", conv)
}

func (h *Handler) archive(c *gin.Context) {
	var req struct {
		Archived bool `json:"archived"`
	}
	if !bind(c, &req) {
		return
	}
	if err := h.svc.SetArchived(c.Request.Context(), c.Param("id"), midsec.UserID(c), req.Archived); err != nil {
		fail(c, err)
		return
	}
	ok(c, "Conversation updated", nil)
}

func (h *Handler) mute(c *gin.Context) {
	var req struct {
		Muted bool `json:"muted"`
	}
	if !bind(c, &req) {
		return
	}
	if err := h.svc.SetMuted(c.Request.Context(), c.Param("id"), midsec.UserID(c), req.Muted); err != nil {
		fail(c, err)
		return
	}
	ok(c, "Conversation updated", nil)
}

// ===== 消息 =====

func (h *Handler) listMessages(c *gin.Context) {
	list, err := h.svc.ListMessages(c.Request.Context(), c.Param("id"), midsec.UserID(c), page(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Messages retrieved successfully", list)
}

// sendReq 支持 {"content": {...}, "replyTo"} 以及老客户端的扁平写法 {"text": "hi", "replyTo"}
type sendReq struct {
	Content json.RawMessage `json:"content"`
	ReplyTo string          `json:"replyTo"`
}

func (h *Handler) send(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		fail(c, errs.ErrInvalidArgument.WrapMsg("bad request body", "err", err))
		return
	}
	var req sendReq
	if err := json.Unmarshal(raw, &req); err != nil {
		fail(c, errs.ErrInvalidArgument.WrapMsg("bad request body", "err", err))
		return
	}
	body := req.Content
	if len(body) == 0 {
		body = raw
	}
	var content model.Content
	if err := json.Unmarshal(body, &content); err != nil {
		fail(c, errs.ErrInvalidArgument.WrapMsg("message content is required", "err", err))
		return
	}
	msg, err := h.svc.Send(c.Request.Context(), c.Param("id"), midsec.UserID(c), content, req.ReplyTo)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Message sent successfully", msg)
}

func (h *Handler) markConversationRead(c *gin.Context) {
	var req struct {
		MessageIDs []string `json:"messageIds"`
	}
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}
	marked, err := h.svc.MarkConversationRead(c.Request.Context(), c.Param("id"), midsec.UserID(c), req.MessageIDs)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Messages marked as read", gin.H{"messageIds": marked})
}

func (h *Handler) recall(c *gin.Context) {
	msg, err := h.svc.Recall(c.Request.Context(), c.Param("id"), midsec.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Message deleted successfully", msg)
}

func (h *Handler) edit(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if !bind(c, &req) {
		return
	}
	msg, err := h.svc.Edit(c.Request.Context(), c.Param("id"), midsec.UserID(c), req.Text)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Message edited successfully", msg)
}

func (h *Handler) markDelivered(c *gin.Context) {
	msg, err := h.svc.MarkDelivered(c.Request.Context(), c.Param("id"), midsec.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Message marked as delivered", msg)
}

func (h *Handler) markRead(c *gin.Context) {
	msg, err := h.svc.MarkRead(c.Request.Context(), c.Param("id"), midsec.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Message marked as read", msg)
}

func (h *Handler) react(c *gin.Context) {
	var req struct {
		Emoji string `json:"emoji"`
	}
	if !bind(c, &req) {
		return
	}
	msg, err := h.svc.React(c.Request.Context(), c.Param("id"), midsec.UserID(c), req.Emoji)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Reaction added successfully", msg)
}

func (h *Handler) unreact(c *gin.Context) {
	msg, err := h.svc.Unreact(c.Request.Context(), c.Param("id"), midsec.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Reaction removed successfully", msg)
}

func (h *Handler) userStatus(c *gin.Context) {
	rec, err := h.presence.StatusOf(c.Request.Context(), c.Param("userId"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "User status retrieved successfully", rec)
}
