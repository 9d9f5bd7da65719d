package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"control-despacho/backend/internal/dto"
	"control-despacho/backend/internal/service"
	"control-despacho/backend/pkg/response"
)

// LocationHandler 设备定位 HTTP 处理器
type LocationHandler struct {
	locationSvc service.LocationService
}

// NewLocationHandler 创建 LocationHandler
func NewLocationHandler(locationSvc service.LocationService) *LocationHandler {
	return &LocationHandler{locationSvc: locationSvc}
}

// Record 上报当前定位
// POST /api/location
func (h *LocationHandler) Record(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}

	var req dto.LocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	loc, err := h.locationSvc.Record(c.Request.Context(), &req, caller)
	if err != nil {
		h.handleLocationError(c, err)
		return
	}
	response.OK(c, loc)
}

// Latest 自己最近一次定位
// GET /api/location
func (h *LocationHandler) Latest(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}

	loc, err := h.locationSvc.Latest(c.Request.Context(), caller)
	if err != nil {
		h.handleLocationError(c, err)
		return
	}
	response.OK(c, loc)
}

// ListAll 全部设备定位
// GET /api/device-locations
func (h *LocationHandler) ListAll(c *gin.Context) {
	list, err := h.locationSvc.ListAll(c.Request.Context())
	if err != nil {
		h.handleLocationError(c, err)
		return
	}
	response.OK(c, gin.H{"list": list})
}

func (h *LocationHandler) handleLocationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrLocationNotFound):
		respondError(c, err, 40001)
	case errors.Is(err, service.ErrLocationForbidden):
		respondError(c, err, 40002)
	case errors.Is(err, service.ErrInvalidCoordinate):
		respondError(c, err, 40003)
	default:
		respondError(c, err, 50000)
	}
}
