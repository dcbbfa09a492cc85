package chat

import (
	"net/http"
	"strings"

	"PPFeed/tools/errs"
	"PPFeed/tools/security"
)

// AuthGate 握手阶段鉴权，失败不做重试
type AuthGate struct {
	opts security.Options
}

func NewAuthGate(opts security.Options) *AuthGate {
	return &AuthGate{opts: opts}
}

// Authenticate 依次从 ?token=、?auth=、Authorization: Bearer 取凭证
func (g *AuthGate) Authenticate(r *http.Request) (string, error) {
	token := credentialFrom(r)
	if token == "" {
		return "", errs.ErrAuthRejected.WrapMsg("no credential")
	}
	return security.VerifyUser(g.opts, token)
}

func credentialFrom(r *http.Request) string {
	q := r.URL.Query()
	for _, key := range []string{"token", "auth"} {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			return v
		}
	}
	return security.BearerToken(r.Header.Get("Authorization"))
}
