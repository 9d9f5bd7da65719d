package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"control-despacho/backend/internal/dto"
	"control-despacho/backend/internal/model"
	"control-despacho/backend/internal/service"
	apperrors "control-despacho/backend/pkg/errors"
	"control-despacho/backend/pkg/response"
)

// DespachoHandler 作业模块 HTTP 处理器
type DespachoHandler struct {
	despachoSvc service.DespachoService
}

// NewDespachoHandler 创建 DespachoHandler
func NewDespachoHandler(despachoSvc service.DespachoService) *DespachoHandler {
	return &DespachoHandler{despachoSvc: despachoSvc}
}

// Create 登记作业（operador）
// POST /api/despachos/live
func (h *DespachoHandler) Create(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}

	var req dto.CreateDespachoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	d, err := h.despachoSvc.Create(c.Request.Context(), &req, caller)
	if err != nil {
		h.handleDespachoError(c, err)
		return
	}
	response.Created(c, d)
}

// List 实时作业列表
// GET /api/despachos/live?fecha=YYYY-MM-DD&mine=true&assigned=true
func (h *DespachoHandler) List(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}

	var q dto.DespachoListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindFailed(c, err)
		return
	}

	list, err := h.despachoSvc.List(c.Request.Context(), &q, caller)
	if err != nil {
		h.handleDespachoError(c, err)
		return
	}
	response.OK(c, gin.H{"list": list})
}

// Get 作业详情
// GET /api/despachos/live/:id
func (h *DespachoHandler) Get(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	d, err := h.despachoSvc.Get(c.Request.Context(), id, caller)
	if err != nil {
		h.handleDespachoError(c, err)
		return
	}
	response.OK(c, d)
}

// Assign 指派 enlonador（supervisor）
// PATCH /api/despachos/live/:id/assign
func (h *DespachoHandler) Assign(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req dto.AssignDespachoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	d, err := h.despachoSvc.Assign(c.Request.Context(), id, req.EnlonadorID, caller)
	if err != nil {
		h.handleDespachoError(c, err)
		return
	}
	response.OK(c, d)
}

// Accept 接受作业
// PATCH /api/despachos/live/:id/accept
func (h *DespachoHandler) Accept(c *gin.Context) {
	h.transition(c, h.despachoSvc.Accept)
}

// Start 开始作业
// PATCH /api/despachos/live/:id/start
func (h *DespachoHandler) Start(c *gin.Context) {
	h.transition(c, h.despachoSvc.Start)
}

// Complete 完成作业
// PATCH /api/despachos/live/:id/complete
func (h *DespachoHandler) Complete(c *gin.Context) {
	h.transition(c, h.despachoSvc.Complete)
}

// UpdateEstado 按目标状态推进
// PATCH /api/despachos/live/:id/estado
func (h *DespachoHandler) UpdateEstado(c *gin.Context) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req dto.UpdateEstadoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	d, err := h.despachoSvc.Advance(c.Request.Context(), id, &req, caller)
	if err != nil {
		h.handleDespachoError(c, err)
		return
	}
	response.OK(c, d)
}

// ListArchived 归档作业列表
// GET /api/despachos
func (h *DespachoHandler) ListArchived(c *gin.Context) {
	list, err := h.despachoSvc.ListArchived(c.Request.Context())
	if err != nil {
		h.handleDespachoError(c, err)
		return
	}
	response.OK(c, gin.H{"list": list})
}

// transition 接受/开始/完成的公共流程
func (h *DespachoHandler) transition(c *gin.Context, fn func(ctx context.Context, id uint, caller service.Caller) (*model.Despacho, error)) {
	caller, ok := MustGetCaller(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	d, err := fn(c.Request.Context(), id, caller)
	if err != nil {
		h.handleDespachoError(c, err)
		return
	}
	response.OK(c, d)
}

func (h *DespachoHandler) handleDespachoError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrDespachoNotFound):
		respondError(c, err, 30001)
	case errors.Is(err, service.ErrDespachoForbidden), errors.Is(err, service.ErrDespachoNotAssigned):
		respondError(c, err, 30002)
	case errors.Is(err, service.ErrDespachoInvalidState):
		respondError(c, err, 30003)
	case errors.Is(err, apperrors.ErrOptimisticLock):
		respondError(c, err, 30004)
	case errors.Is(err, apperrors.ErrValidation):
		respondError(c, err, 30005)
	default:
		respondError(c, err, 50000)
	}
}
