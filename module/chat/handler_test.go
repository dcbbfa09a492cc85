package chat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"PPFeed/middleware"
	midsec "PPFeed/middleware/security"
	"PPFeed/module/chat/model"
	"PPFeed/module/chat/service"
	"PPFeed/module/chat/store"
	"PPFeed/service/presence"
	"PPFeed/tools/errs"
	"PPFeed/tools/security"

	"github.com/gin-gonic/gin"
)

type nobodyOnline struct{}

func (nobodyOnline) IsOnline(string) bool { return false }

type api struct {
	r    *gin.Engine
	auth security.Options
	svc  *service.Messaging
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	auth := security.DefaultOptions([]byte("rest-secret"))
	svc := service.NewMessaging(store.NewMemoryConversations(), store.NewMemoryMessages(), nil, service.Options{})
	pres := presence.NewService(nobodyOnline{}, nil, nil, presence.Options{})
	t.Cleanup(pres.Stop)

	r := gin.New()
	opt := middleware.RouteOpt{Auth: midsec.Middleware(midsec.DefaultOptions(auth))}
	NewHandler(svc, pres).Register(r.Group("/api/chat"), opt, opt)
	return &api{r: r, auth: auth, svc: svc}
}

func (a *api) call(t *testing.T, user, method, path string, body any) (int, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		tok, _, _, err := security.Generate(a.auth, user, nil)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	var resp Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w.Code, resp
}

// dataAs 把 Response.Data 重新解码成具体类型
func dataAs[T any](t *testing.T, resp Response) T {
	t.Helper()
	var out T
	raw, _ := json.Marshal(resp.Data)
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	return out
}

func TestRequiresAuth(t *testing.T) {
	a := newAPI(t)
	code, resp := a.call(t, "", http.MethodGet, "/api/chat/conversations", nil)
	if code != http.StatusUnauthorized || resp.Success || resp.Code != errs.AuthRejectedError {
		t.Fatalf("code=%d resp=%+v", code, resp)
	}
}

func TestConversationFlow(t *testing.T) {
	a := newAPI(t)

	code, resp := a.call(t, "alice", http.MethodGet, "/api/chat/conversations/direct/alice", nil)
	if code != http.StatusBadRequest || resp.Code != errs.InvalidParticipantError {
		t.Fatalf("self conversation: %d %+v", code, resp)
	}

	code, resp = a.call(t, "alice", http.MethodGet, "/api/chat/conversations/direct/bob", nil)
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("direct: %d %+v", code, resp)
	}
	conv := dataAs[model.Conversation](t, resp)
	base := "/api/chat/conversations/" + conv.ID

	// 扁平写法和标准写法都能发
	code, resp = a.call(t, "alice", http.MethodPost, base+"/messages", map[string]any{"text": "hi"})
	if code != http.StatusOK {
		t.Fatalf("send legacy: %d %+v", code, resp)
	}
	first := dataAs[model.Message](t, resp)
	code, resp = a.call(t, "alice", http.MethodPost, base+"/messages", map[string]any{
		"content": map[string]any{"type": "text", "text": map[string]string{"text": "again"}},
		"replyTo": first.ID,
	})
	if code != http.StatusOK || dataAs[model.Message](t, resp).ReplyTo != first.ID {
		t.Fatalf("send canonical: %d %+v", code, resp)
	}

	if code, _ := a.call(t, "mallory", http.MethodGet, base+"/messages", nil); code != http.StatusForbidden {
		t.Fatalf("outsider list = %d", code)
	}
	if code, _ := a.call(t, "bob", http.MethodPost, base+"/messages", map[string]any{"text": " "}); code != http.StatusBadRequest {
		t.Fatalf("blank send = %d", code)
	}

	code, resp = a.call(t, "bob", http.MethodGet, "/api/chat/conversations", nil)
	list := dataAs[[]model.Conversation](t, resp)
	if code != http.StatusOK || len(list) != 1 || list[0].UnreadCount["bob"] != 2 {
		t.Fatalf("list: %d %+v", code, list)
	}

	code, _ = a.call(t, "bob", http.MethodPut, base+"/read", map[string]any{"messageIds": []string{first.ID}})
	if code != http.StatusOK {
		t.Fatalf("read = %d", code)
	}
	_, resp = a.call(t, "bob", http.MethodGet, base, nil)
	if got := dataAs[model.Conversation](t, resp); got.UnreadCount["bob"] != 0 {
		t.Fatalf("unread after read = %d", got.UnreadCount["bob"])
	}

	if code, _ := a.call(t, "missing", http.MethodGet, "/api/chat/conversations/nope", nil); code != http.StatusNotFound {
		t.Fatalf("missing conversation = %d", code)
	}
}

func TestMessageActions(t *testing.T) {
	a := newAPI(t)
	_, resp := a.call(t, "alice", http.MethodGet, "/api/chat/conversations/direct/bob", nil)
	conv := dataAs[model.Conversation](t, resp)
	_, resp = a.call(t, "alice", http.MethodPost, "/api/chat/conversations/"+conv.ID+"/messages", map[string]any{"text": "v1"})
	msg := dataAs[model.Message](t, resp)
	path := "/api/chat/messages/" + msg.ID

	if code, _ := a.call(t, "bob", http.MethodPut, path, map[string]string{"text": "hack"}); code != http.StatusForbidden {
		t.Fatalf("edit by other = %d", code)
	}
	code, resp := a.call(t, "alice", http.MethodPut, path, map[string]string{"text": "v2"})
	if edited := dataAs[model.Message](t, resp); code != http.StatusOK || !edited.IsEdited {
		t.Fatalf("edit: %d %+v", code, resp)
	}

	code, resp = a.call(t, "bob", http.MethodPost, path+"/reactions", map[string]string{"emoji": "🔥"})
	if got := dataAs[model.Message](t, resp); code != http.StatusOK || len(got.Reactions) != 1 {
		t.Fatalf("react: %d %+v", code, resp)
	}

	if code, _ := a.call(t, "bob", http.MethodDelete, path, nil); code != http.StatusForbidden {
		t.Fatalf("recall by other = %d", code)
	}
	if code, _ := a.call(t, "alice", http.MethodDelete, path, nil); code != http.StatusOK {
		t.Fatalf("recall = %d", code)
	}
	code, resp = a.call(t, "alice", http.MethodDelete, path, nil)
	if code != http.StatusConflict || resp.Code != errs.AlreadyRecalledError {
		t.Fatalf("second recall: %d %+v", code, resp)
	}
	if code, _ := a.call(t, "alice", http.MethodPut, path, map[string]string{"text": "v3"}); code != http.StatusConflict {
		t.Fatalf("edit recalled = %d", code)
	}
}

func TestUserStatus(t *testing.T) {
	a := newAPI(t)
	code, resp := a.call(t, "alice", http.MethodGet, "/api/chat/users/bob/status", nil)
	rec := dataAs[presence.Record](t, resp)
	if code != http.StatusOK || rec.UserID != "bob" || rec.IsOnline {
		t.Fatalf("status: %d %+v", code, rec)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		errs.ErrAuthRejected.Wrap():       http.StatusUnauthorized,
		errs.ErrForbidden.Wrap():          http.StatusForbidden,
		errs.ErrNotFound.Wrap():           http.StatusNotFound,
		errs.ErrInvalidParticipant.Wrap(): http.StatusBadRequest,
		errs.ErrImmutable.Wrap():          http.StatusConflict,
		errs.ErrRateLimited.Wrap():        http.StatusTooManyRequests,
		errs.ErrTransientIO.Wrap():        http.StatusServiceUnavailable,
	}
	for err, want := range cases {
		if got := HTTPStatus(err); got != want {
			t.Errorf("%v -> %d, want %d", err, got, want)
		}
	}
}
