package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	toksec "PPFeed/tools/security"

	"github.com/gin-gonic/gin"
)

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := toksec.DefaultOptions([]byte("mw-secret"))
	r := gin.New()
	r.GET("/me", Middleware(DefaultOptions(auth)), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})
	tok, _, _, err := toksec.Generate(auth, "u-1", nil)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		hdr  map[string]string
		code int
		body string
	}{
		{"bearer", map[string]string{"Authorization": "Bearer " + tok}, http.StatusOK, "u-1"},
		{"custom header", map[string]string{HeaderAuthToken: tok}, http.StatusOK, "u-1"},
		{"missing", nil, http.StatusUnauthorized, ""},
		{"garbage", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, ""},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		for k, v := range c.hdr {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != c.code {
			t.Errorf("%s: code = %d", c.name, w.Code)
		}
		if c.body != "" && w.Body.String() != c.body {
			t.Errorf("%s: body = %q", c.name, w.Body.String())
		}
	}
}
