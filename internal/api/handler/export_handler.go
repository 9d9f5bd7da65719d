package handler

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"control-despacho/backend/internal/service"
	"control-despacho/backend/pkg/response"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportHandler 导出模块 HTTP 处理器
type ExportHandler struct {
	exportSvc service.ExportService
}

// NewExportHandler 创建 ExportHandler
func NewExportHandler(exportSvc service.ExportService) *ExportHandler {
	return &ExportHandler{exportSvc: exportSvc}
}

// ExportArchived 导出归档作业
// GET /api/despachos/export
func (h *ExportHandler) ExportArchived(c *gin.Context) {
	buf, filename, err := h.exportSvc.ExportArchived(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		response.InternalError(c)
		return
	}

	// 设置下载响应头
	encodedFilename := url.QueryEscape(filename)
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+encodedFilename)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}
