package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"control-despacho/backend/config"
	"control-despacho/backend/internal/dto"
	"control-despacho/backend/internal/service"
	"control-despacho/backend/pkg/response"
)

// AuthHandler 认证模块 HTTP 处理器
type AuthHandler struct {
	authSvc service.AuthService
	cookie  config.CookieConfig
	ttl     time.Duration
}

// NewAuthHandler 创建 AuthHandler
func NewAuthHandler(authSvc service.AuthService, cookie config.CookieConfig, ttl time.Duration) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = "session_token"
	}
	return &AuthHandler{authSvc: authSvc, cookie: cookie, ttl: ttl}
}

// Login 用户登录，令牌同时写入 HttpOnly Cookie
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	result, err := h.authSvc.Login(c.Request.Context(), &req, c.ClientIP())
	if err != nil {
		h.handleAuthError(c, err)
		return
	}

	h.setSessionCookie(c, result.Token, int(h.ttl.Seconds()))
	response.OK(c, result)
}

// Logout 登出：标记离线、拉黑令牌并清除 Cookie
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	claims, ok := MustGetClaims(c)
	if !ok {
		return
	}

	if err := h.authSvc.Logout(c.Request.Context(), claims); err != nil {
		h.handleAuthError(c, err)
		return
	}

	h.setSessionCookie(c, "", -1)
	response.OKMessage(c, "Sesión cerrada", nil)
}

// Me 当前用户信息
// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}

	user, err := h.authSvc.Me(c.Request.Context(), caller)
	if err != nil {
		h.handleAuthError(c, err)
		return
	}
	response.OK(c, user)
}

// ChangePassword 修改自己的密码
// PUT /api/auth/password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}

	var req dto.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	if err := h.authSvc.ChangePassword(c.Request.Context(), &req, caller); err != nil {
		h.handleAuthError(c, err)
		return
	}
	response.OKMessage(c, "Contraseña actualizada", nil)
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(parseSameSite(h.cookie.SameSite))
	c.SetCookie(h.cookie.Name, value, maxAge, "/", h.cookie.Domain, h.cookie.Secure, true)
}

func parseSameSite(s string) http.SameSite {
	switch strings.ToLower(s) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (h *AuthHandler) handleAuthError(c *gin.Context, err error) {
	var rl *service.RateLimitError
	switch {
	case errors.As(err, &rl):
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
		respondError(c, err, 10004)
	case errors.Is(err, service.ErrInvalidCredentials):
		respondError(c, err, 11001)
	case errors.Is(err, service.ErrWrongPassword):
		respondError(c, err, 11002)
	case errors.Is(err, service.ErrUserNotFound):
		respondError(c, err, 20001)
	default:
		respondError(c, err, 50000)
	}
}
