package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	IsAuth bool
	Auth   gin.HandlerFunc // IsAuth 为 true 时挂在 handler 之前
	Extra  []gin.HandlerFunc
}

func Handle(r gin.IRoutes, method, path string, handler gin.HandlerFunc, opt RouteOpt) {
	chain := make([]gin.HandlerFunc, 0, len(opt.Extra)+2)
	if opt.IsAuth && opt.Auth != nil {
		chain = append(chain, opt.Auth)
	}
	chain = append(chain, opt.Extra...)
	chain = append(chain, handler)
	r.Handle(method, path, chain...)
}

func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	Handle(r, http.MethodGet, path, handler, opt)
}

func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	Handle(r, http.MethodPost, path, handler, opt)
}

func PUT(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	Handle(r, http.MethodPut, path, handler, opt)
}

func DELETE(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	Handle(r, http.MethodDelete, path, handler, opt)
}
