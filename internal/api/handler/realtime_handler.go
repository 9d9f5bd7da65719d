package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"control-despacho/backend/internal/realtime"
)

// RealtimeHandler websocket 变更订阅
type RealtimeHandler struct {
	hub *realtime.Hub
}

// NewRealtimeHandler 创建 RealtimeHandler
func NewRealtimeHandler(hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// Subscribe 升级为 websocket；tables 为逗号分隔的表名，省略时订阅全部
// GET /api/realtime?tables=despachos,notifications
func (h *RealtimeHandler) Subscribe(c *gin.Context) {
	var tables []string
	for _, t := range strings.Split(c.Query("tables"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			tables = append(tables, t)
		}
	}

	// 升级失败时 upgrader 已写入错误响应
	if err := h.hub.ServeWS(c.Writer, c.Request, tables...); err != nil {
		_ = c.Error(err)
	}
}
