package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"control-despacho/backend/internal/api/middleware"
	"control-despacho/backend/internal/model"
	"control-despacho/backend/internal/service"
	apperrors "control-despacho/backend/pkg/errors"
	"control-despacho/backend/pkg/jwt"
	"control-despacho/backend/pkg/response"
)

// MustGetClaims 从 Gin 上下文中安全提取会话声明。
// 如果访问控制中间件未注入声明，返回 false 并写入 401 响应。
// 调用方应在 ok=false 时直接 return。
func MustGetClaims(c *gin.Context) (*jwt.Claims, bool) {
	v, exists := c.Get(middleware.ClaimsKey)
	if !exists {
		response.Unauthorized(c, 10002, "No autenticado")
		return nil, false
	}
	claims, ok := v.(*jwt.Claims)
	if !ok || claims == nil || claims.UserID == 0 {
		response.Unauthorized(c, 10002, "No autenticado")
		return nil, false
	}
	return claims, true
}

// MustGetCaller 从会话声明构造调用者身份
func MustGetCaller(c *gin.Context) (service.Caller, bool) {
	claims, ok := MustGetClaims(c)
	if !ok {
		return service.Caller{}, false
	}
	return service.Caller{
		UserID:   claims.UserID,
		Username: claims.Username,
		RoleID:   model.RoleID(claims.RoleID),
	}, true
}

// parseID 解析路径参数中的数字 ID，失败时写入 400 响应
func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, 10001, "ID inválido")
		return 0, false
	}
	return uint(id), true
}

// respondError 按错误类别映射 HTTP 状态码；code 为模块业务码
// 只有带类别的错误会把消息返回给客户端，其余一律 500
func respondError(c *gin.Context, err error, code int) {
	msg := err.Error()
	switch {
	case errors.Is(err, apperrors.ErrAuthentication):
		response.Unauthorized(c, code, msg)
	case errors.Is(err, apperrors.ErrAuthorization):
		response.Forbidden(c, code, msg)
	case errors.Is(err, apperrors.ErrRateLimited):
		response.TooManyRequests(c, code, msg)
	case errors.Is(err, apperrors.ErrOptimisticLock):
		response.Conflict(c, code, apperrors.ErrOptimisticLock.Error())
	case errors.Is(err, apperrors.ErrInvalidState):
		response.UnprocessableEntity(c, code, msg)
	case errors.Is(err, apperrors.ErrValidation), errors.Is(err, apperrors.ErrLastAdmin):
		response.BadRequest(c, code, msg)
	case errors.Is(err, apperrors.ErrNotFound):
		response.NotFound(c, code, msg)
	default:
		_ = c.Error(err)
		response.InternalError(c)
	}
}

// bindFailed 参数校验失败
func bindFailed(c *gin.Context, err error) {
	response.ErrorWithDetails(c, 400, 10001, "Datos inválidos", err.Error())
}
