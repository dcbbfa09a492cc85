package chat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"PPFeed/logger"
	"PPFeed/tools/errs"
	"PPFeed/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HandleWS 握手 -> 鉴权 -> 升级 -> 登记 -> 读循环；写协程负责 ping 和关闭底层连接
func (s *Server) HandleWS(c *gin.Context) {
	select {
	case <-s.closed:
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	default:
	}

	userID, err := s.gate.Authenticate(c.Request)
	if err != nil {
		AuthFailures.Inc()
		logger.Info("[HandleWS] handshake rejected", zap.String("remote", c.ClientIP()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"message": "authentication failed",
			"code":    errs.AuthRejectedError,
		})
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 非 WebSocket 请求/握手失败，Upgrade 已经写了响应
		logger.Info("[HandleWS] upgrade failed", zap.String("user", userID), zap.Error(err))
		return
	}
	s.serve(ws, userID)
}

func (s *Server) serve(ws *websocket.Conn, userID string) {
	s.wg.Add(1)
	defer s.wg.Done()

	client := NewClient(ids.GenerateString(), userID, ws, s.opts.SendQueue)
	client.SetLimit(s.opts.EventsPerSec, s.opts.EventBurst)

	first, evicted, err := s.conns.Admit(client)
	if err != nil {
		logger.Warn("[HandleWS] admit failed", zap.String("user", userID), zap.Error(err))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections"),
			time.Now().Add(s.opts.WriteWait))
		_ = ws.Close()
		return
	}
	for _, old := range evicted {
		logger.Info("[HandleWS] evict oldest connection", zap.String("user", userID), zap.String("conn", old.ConnID))
		old.Close()
		// 已被 Admit 摘出注册表，退出阶段不会再走 Dec
		Connections.Dec()
	}
	s.rooms.Join(client, UserRoom(userID))
	Connections.Inc()
	OnlineUsers.Set(float64(s.conns.Users()))
	if first && s.presence != nil {
		s.presence.SetOnline(userID)
	}
	logger.Info("[WS] connected", zap.String("user", userID), zap.String("conn", client.ConnID), zap.Bool("first", first))

	writerDone := make(chan struct{})
	go s.writePump(client, writerDone)

	s.disp.SendTo(client, EvConnected, gin.H{"userId": userID, "connId": client.ConnID})

	s.readPump(client)

	// ---- 退出阶段：停写协程、离开房间、注销、必要时下线 ----
	client.Close()
	rooms := s.rooms.LeaveAll(client)
	removed, last := s.conns.Remove(client)
	<-writerDone
	if !removed {
		return
	}
	Connections.Dec()
	OnlineUsers.Set(float64(s.conns.Users()))
	if last && s.presence != nil {
		s.presence.SetOffline(userID, time.Now(), rooms)
	}
	logger.Info("[WS] closed", zap.String("user", userID), zap.String("conn", client.ConnID), zap.Bool("last", last))
}

// readPump 只读不写，出错即退出；事件按到达顺序同步处理
func (s *Server) readPump(client *Client) {
	ws := client.WS
	ws.SetReadLimit(s.opts.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	})

	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			logReadErr(client, rerr)
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		s.handleFrame(client, data)
	}
}

func (s *Server) handleFrame(client *Client, data []byte) {
	frame, err := ParseFrameJSON(data)
	if err != nil {
		sample := data
		if len(sample) > 256 {
			sample = sample[:256]
		}
		logger.Debug("[WS] bad frame", zap.String("conn", client.ConnID), zap.ByteString("sample", sample), zap.Error(err))
		InboundEvents.WithLabelValues("invalid", "error").Inc()
		s.disp.SendTo(client, EvError, errorPayload(err, nil))
		return
	}
	h := s.handlers.GetHandler(frame.Event)
	if !client.Allow() {
		InboundEvents.WithLabelValues(eventLabel(h, frame.Event), "limited").Inc()
		s.disp.SendTo(client, EvError, errorPayload(errs.ErrRateLimited.Wrap(), frame))
		return
	}
	if h == nil {
		InboundEvents.WithLabelValues("unknown", "error").Inc()
		s.disp.SendTo(client, EvError, errorPayload(errs.ErrInvalidArgument.WrapMsg("unknown event", "event", frame.Event), frame))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hctx := &Context{Context: ctx, S: s, Client: client, Frame: frame}

	if err := s.runHandler(h, hctx, frame); err != nil {
		InboundEvents.WithLabelValues(frame.Event, "error").Inc()
		if errors.Is(err, errs.ErrTransientIO) || errs.Code(err) == errs.ServerInternalError {
			logger.Warn("[WS] handler failed", zap.String("event", frame.Event), zap.String("user", client.UserID), zap.Error(err))
		}
		s.disp.SendTo(client, EvError, errorPayload(err, frame))
		return
	}
	InboundEvents.WithLabelValues(frame.Event, "ok").Inc()
}

// eventLabel 指标标签只用已注册的事件名，客户端乱发的名字归到 unknown
func eventLabel(h Handler, name string) string {
	if h == nil {
		return "unknown"
	}
	return name
}

// runHandler 单个 handler panic 不拖垮连接
func (s *Server) runHandler(h Handler, ctx *Context, frame *InboundFrame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[WS] handler panic", zap.String("event", frame.Event), zap.Any("panic", r), zap.Stack("stack"))
			err = errs.ErrPanic(r)
		}
	}()
	return h.Handle(ctx, frame.Data)
}

// writePump 唯一的写协程：业务帧优先，其次定时 ping；退出时发 Close 并关闭底层连接
func (s *Server) writePump(client *Client, done chan struct{}) {
	ws := client.WS
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = ws.Close()
		close(done)
	}()

	for {
		select {
		case <-client.Done():
			return
		case payload := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Info("[WS] write payload failed", zap.String("conn", client.ConnID), zap.Error(err))
				client.Close()
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(s.opts.WriteWait)); err != nil {
				logger.Info("[WS] ping failed", zap.String("conn", client.ConnID), zap.Error(err))
				client.Close()
				return
			}
		}
	}
}

func logReadErr(client *Client, rerr error) {
	var ne net.Error
	switch {
	case websocket.IsCloseError(rerr, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		logger.Debug("[WS] peer closed", zap.String("conn", client.ConnID), zap.Error(rerr))
	case errors.As(rerr, &ne) && ne.Timeout():
		logger.Info("[WS] read timeout", zap.String("conn", client.ConnID), zap.Error(rerr))
	default:
		logger.Debug("[WS] read err", zap.String("conn", client.ConnID), zap.Error(rerr))
	}
}
