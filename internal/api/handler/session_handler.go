package handler

import (
	"github.com/gin-gonic/gin"

	"control-despacho/backend/internal/service"
	"control-despacho/backend/pkg/response"
)

// SessionHandler 在线状态 HTTP 处理器
type SessionHandler struct {
	sessionSvc service.SessionService
}

// NewSessionHandler 创建 SessionHandler
func NewSessionHandler(sessionSvc service.SessionService) *SessionHandler {
	return &SessionHandler{sessionSvc: sessionSvc}
}

// List 用户在线状态
// GET /api/sessions
func (h *SessionHandler) List(c *gin.Context) {
	list, err := h.sessionSvc.List(c.Request.Context())
	if err != nil {
		respondError(c, err, 50000)
		return
	}
	response.OK(c, gin.H{"list": list})
}
