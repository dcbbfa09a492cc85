package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() { gin.SetMode(gin.TestMode) }

func do(r http.Handler, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestManagerStopsOnAbort(t *testing.T) {
	m := NewManager()
	var order []string
	m.Add(func(c *gin.Context) { order = append(order, "a") })
	m.Add(func(c *gin.Context) {
		order = append(order, "b")
		if c.Query("block") != "" {
			c.AbortWithStatus(http.StatusTeapot)
		}
	})
	r := gin.New()
	r.Use(m.Use())
	r.GET("/x", func(c *gin.Context) {
		order = append(order, "handler")
		c.Status(http.StatusOK)
	})

	if w := do(r, http.MethodGet, "/x", nil); w.Code != http.StatusOK || len(order) != 3 {
		t.Fatalf("code=%d order=%v", w.Code, order)
	}
	order = nil
	if w := do(r, http.MethodGet, "/x?block=1", nil); w.Code != http.StatusTeapot || len(order) != 2 {
		t.Fatalf("code=%d order=%v", w.Code, order)
	}
}

func TestRouteAuthChain(t *testing.T) {
	r := gin.New()
	deny := func(c *gin.Context) { c.AbortWithStatus(http.StatusUnauthorized) }
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	GET(r, "/open", ok, RouteOpt{Auth: deny})
	PUT(r, "/closed", ok, RouteOpt{IsAuth: true, Auth: deny})

	if w := do(r, http.MethodGet, "/open", nil); w.Code != http.StatusOK {
		t.Fatalf("open = %d", w.Code)
	}
	if w := do(r, http.MethodPut, "/closed", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("closed = %d", w.Code)
	}
}

func TestOrigin(t *testing.T) {
	r := gin.New()
	r.Use(Origin([]string{"https://app.example.com"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := do(r, http.MethodGet, "/x", map[string]string{"Origin": "https://app.example.com"})
	if w.Code != http.StatusOK || w.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("allowed origin: %d %v", w.Code, w.Header())
	}
	if w := do(r, http.MethodGet, "/x", map[string]string{"Origin": "https://evil.example.com"}); w.Code != http.StatusForbidden {
		t.Fatalf("foreign origin = %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/x", nil); w.Code != http.StatusOK {
		t.Fatalf("no origin = %d", w.Code)
	}
}

func TestUserRateLimiter(t *testing.T) {
	l := NewUserRateLimiter(60, 2, func(c *gin.Context) string { return c.GetHeader("X-User") })
	r := gin.New()
	r.Use(l.Handler())
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	alice := map[string]string{"X-User": "alice"}
	for i := 0; i < 2; i++ {
		if w := do(r, http.MethodPost, "/x", alice); w.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, w.Code)
		}
	}
	if w := do(r, http.MethodPost, "/x", alice); w.Code != http.StatusTooManyRequests {
		t.Fatalf("third = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/x", map[string]string{"X-User": "bob"}); w.Code != http.StatusOK {
		t.Fatalf("other user limited: %d", w.Code)
	}
	l.Sweep(0)
	if w := do(r, http.MethodPost, "/x", alice); w.Code != http.StatusOK {
		t.Fatalf("after sweep = %d", w.Code)
	}
}
