package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"control-despacho/backend/internal/dto"
	"control-despacho/backend/internal/service"
	"control-despacho/backend/pkg/response"
)

// UserHandler 用户模块 HTTP 处理器（管理员）
type UserHandler struct {
	userSvc service.UserService
}

// NewUserHandler 创建 UserHandler
func NewUserHandler(userSvc service.UserService) *UserHandler {
	return &UserHandler{userSvc: userSvc}
}

// ListUsers 用户列表
// GET /api/users
func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.userSvc.List(c.Request.Context())
	if err != nil {
		h.handleUserError(c, err)
		return
	}
	response.OK(c, gin.H{"list": users})
}

// GetUser 用户详情
// GET /api/users/:id
func (h *UserHandler) GetUser(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	user, err := h.userSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		h.handleUserError(c, err)
		return
	}
	response.OK(c, user)
}

// CreateUser 创建用户
// POST /api/users
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req dto.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	user, err := h.userSvc.Create(c.Request.Context(), &req)
	if err != nil {
		h.handleUserError(c, err)
		return
	}
	response.Created(c, user)
}

// UpdateUser 更新用户
// PUT /api/users/:id
func (h *UserHandler) UpdateUser(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req dto.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	user, err := h.userSvc.Update(c.Request.Context(), id, &req)
	if err != nil {
		h.handleUserError(c, err)
		return
	}
	response.OK(c, user)
}

// DeleteUser 软删除用户
// DELETE /api/users/:id
func (h *UserHandler) DeleteUser(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.userSvc.Delete(c.Request.Context(), id); err != nil {
		h.handleUserError(c, err)
		return
	}
	response.OKMessage(c, "Usuario eliminado", nil)
}

// ListRoles 角色列表
// GET /api/roles
func (h *UserHandler) ListRoles(c *gin.Context) {
	roles, err := h.userSvc.ListRoles(c.Request.Context())
	if err != nil {
		h.handleUserError(c, err)
		return
	}
	response.OK(c, gin.H{"list": roles})
}

func (h *UserHandler) handleUserError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUserNotFound):
		respondError(c, err, 20001)
	case errors.Is(err, service.ErrUsernameExists):
		respondError(c, err, 20002)
	case errors.Is(err, service.ErrInvalidRole):
		respondError(c, err, 20003)
	case errors.Is(err, service.ErrLastAdminDeactivate),
		errors.Is(err, service.ErrLastAdminRoleChange),
		errors.Is(err, service.ErrLastAdminDelete):
		respondError(c, err, 20004)
	default:
		respondError(c, err, 50000)
	}
}
