package security

import (
	"net/http"
	"strings"

	"PPFeed/logger"
	"PPFeed/tools/errs"
	toksec "PPFeed/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// context key
// 后续 handler 统一用这个 key 读取当前用户
const (
	PPCtxUserIDKey  = "userId"
	PPCtxAuthKey    = "authorization"
	HeaderAuthToken = "X-Auth-Token"
)

type Options struct {
	Auth toksec.Options
	// 读取哪个请求头
	HeaderToken               string // 默认 X-Auth-Token
	EnableAuthorizationBearer bool   // 默认 true
}

func DefaultOptions(auth toksec.Options) *Options {
	return &Options{
		Auth:                      auth,
		HeaderToken:               HeaderAuthToken,
		EnableAuthorizationBearer: true,
	}
}

// Middleware 校验 JWT，通过后把 userId 写入 context
func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))
		// 兼容 Authorization: Bearer xxx
		if opts.EnableAuthorizationBearer {
			if bearer := toksec.BearerToken(c.GetHeader("Authorization")); bearer != "" {
				token = bearer
			}
		}
		if token == "" {
			reject(c, errs.ErrAuthRejected.WrapMsg("missing token"))
			return
		}
		userID, err := toksec.VerifyUser(opts.Auth, token)
		if err != nil {
			reject(c, err)
			return
		}
		c.Set(PPCtxAuthKey, token)
		c.Set(PPCtxUserIDKey, userID)
		c.Next()
	}
}

func reject(c *gin.Context, err error) {
	logger.Debug("[Auth] rejected", zap.String("path", c.FullPath()), zap.Error(err))
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"message": "authentication failed",
		"code":    errs.AuthRejectedError,
	})
}

// UserID 读取已认证用户；未经过 Middleware 时为空
func UserID(c *gin.Context) string {
	return c.GetString(PPCtxUserIDKey)
}
