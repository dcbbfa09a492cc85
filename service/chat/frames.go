package chat

import (
	"encoding/json"
	"time"

	"PPFeed/tools/errs"
)

// Envelope 所有下行事件统一信封
type Envelope struct {
	Type      EventType `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// InboundFrame 客户端上行帧 {"event": "...", "data": {...}, "ackId": "..."}
type InboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID string          `json:"ackId,omitempty"`
}

type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
	AckID   string `json:"ackId,omitempty"`
}

func ParseFrameJSON(raw []byte) (*InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errs.ErrInvalidArgument.WrapMsg("malformed frame", "err", err)
	}
	if f.Event == "" {
		return nil, errs.ErrInvalidArgument.WrapMsg("frame has no event")
	}
	return &f, nil
}

func encodeEnvelope(t EventType, payload any, at time.Time) ([]byte, error) {
	return json.Marshal(Envelope{Type: t, Payload: payload, Timestamp: at.UTC()})
}

// errorPayload 只把错误码和简短信息发给客户端，不带堆栈
func errorPayload(err error, frame *InboundFrame) ErrorPayload {
	out := ErrorPayload{Code: errs.ServerInternalError, Message: "internal error"}
	if ce, ok := errs.AsCode(err); ok {
		out.Code = ce.Code
		out.Message = ce.Msg
		if ce.Detail != "" {
			out.Message += ": " + ce.Detail
		}
	}
	if frame != nil {
		out.Event = frame.Event
		out.AckID = frame.AckID
	}
	return out
}
