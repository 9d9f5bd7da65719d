package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"control-despacho/backend/internal/dto"
	"control-despacho/backend/internal/service"
	"control-despacho/backend/pkg/response"
)

// SyncHandler 同步/归档任务 HTTP 处理器
type SyncHandler struct {
	syncSvc service.SyncService
}

// NewSyncHandler 创建 SyncHandler
func NewSyncHandler(syncSvc service.SyncService) *SyncHandler {
	return &SyncHandler{syncSvc: syncSvc}
}

// SyncDispatches 迁移当前视图中的作业到归档库
// POST /api/despachos（cron 密钥）
func (h *SyncHandler) SyncDispatches(c *gin.Context) {
	n, err := h.syncSvc.SyncDispatches(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		response.Error(c, 500, 50001, "Error al sincronizar despachos")
		return
	}
	response.OK(c, dto.SyncResponse{
		Message:  fmt.Sprintf("Sincronizados y eliminados %d despachos.", n),
		Migrated: n,
	})
}

// ArchiveNotifications 归档并清空通知
// POST /api/archive
func (h *SyncHandler) ArchiveNotifications(c *gin.Context) {
	n, err := h.syncSvc.ArchiveNotifications(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		response.Error(c, 500, 50002, "Error al archivar notificaciones")
		return
	}
	response.OK(c, dto.ArchiveNotificationsResponse{
		Message:  fmt.Sprintf("Archivadas %d notificación(es) y eliminadas.", n),
		Archived: n,
	})
}
