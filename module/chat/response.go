package chat

import (
	"errors"
	"net/http"

	"PPFeed/logger"
	"PPFeed/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response 所有 REST 接口统一返回体
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Code    int    `json:"code,omitempty"`
}

func ok(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Message: message, Data: data})
}

// HTTPStatus 错误码 -> HTTP 状态
func HTTPStatus(err error) int {
	switch errs.Code(err) {
	case errs.AuthRejectedError:
		return http.StatusUnauthorized
	case errs.ForbiddenError:
		return http.StatusForbidden
	case errs.NotFoundError:
		return http.StatusNotFound
	case errs.InvalidArgumentError, errs.InvalidParticipantError:
		return http.StatusBadRequest
	case errs.AlreadyRecalledError, errs.ImmutableError:
		return http.StatusConflict
	case errs.RateLimitedError:
		return http.StatusTooManyRequests
	case errs.TransientIOError:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	status := HTTPStatus(err)
	body := Response{Message: "internal server error", Code: errs.ServerInternalError}
	if ce, found := errs.AsCode(err); found && status != http.StatusInternalServerError {
		body.Code = ce.Code
		body.Message = ce.Msg
		if ce.Detail != "" {
			body.Message += ": " + ce.Detail
		}
	}
	if status >= http.StatusInternalServerError {
		logger.Error("[REST] request failed", zap.String("path", c.FullPath()), zap.Error(err))
	} else if errors.Is(err, errs.ErrForbidden) {
		logger.Info("[REST] forbidden", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}
