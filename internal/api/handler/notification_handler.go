package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"control-despacho/backend/internal/dto"
	"control-despacho/backend/internal/service"
	"control-despacho/backend/pkg/response"
)

// NotificationHandler 通知模块 HTTP 处理器
type NotificationHandler struct {
	notificationSvc service.NotificationService
}

// NewNotificationHandler 创建 NotificationHandler
func NewNotificationHandler(notificationSvc service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notificationSvc: notificationSvc}
}

// List 通知列表（最新在前）
// GET /api/notifications
func (h *NotificationHandler) List(c *gin.Context) {
	list, err := h.notificationSvc.List(c.Request.Context())
	if err != nil {
		h.handleNotificationError(c, err)
		return
	}
	response.OK(c, gin.H{"list": list})
}

// Send 发送通知
// POST /api/notifications
func (h *NotificationHandler) Send(c *gin.Context) {
	var req dto.CreateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	n, err := h.notificationSvc.Send(c.Request.Context(), &req)
	if err != nil {
		h.handleNotificationError(c, err)
		return
	}
	response.Created(c, n)
}

// SetRead 标记已读/未读；body 为空时取反
// PATCH /api/notifications/:id/read
func (h *NotificationHandler) SetRead(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req dto.SetReadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindFailed(c, err)
			return
		}
	}

	n, err := h.notificationSvc.SetRead(c.Request.Context(), id, req.Read)
	if err != nil {
		h.handleNotificationError(c, err)
		return
	}
	response.OK(c, n)
}

func (h *NotificationHandler) handleNotificationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotificationNotFound):
		respondError(c, err, 60001)
	case errors.Is(err, service.ErrEmptyMessage):
		respondError(c, err, 60002)
	default:
		respondError(c, err, 50000)
	}
}
