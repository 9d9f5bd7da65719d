package dto

// ── 用户模块 DTO ──

// CreateUserRequest 创建用户请求（管理员）
type CreateUserRequest struct {
	Username       string `json:"username"        binding:"required,min=3,max=50"`
	NombreCompleto string `json:"nombre_completo" binding:"required,max=120"`
	Codigo         string `json:"codigo"          binding:"omitempty,max=20"`
	Email          string `json:"email"           binding:"omitempty,email,max=255"`
	Password       string `json:"password"        binding:"required,min=8,max=72"`
	RoleID         int    `json:"role_id"         binding:"required,min=1,max=4"`
}

// UpdateUserRequest 更新用户请求（仅更新非 nil 字段）
type UpdateUserRequest struct {
	Username       *string `json:"username"        binding:"omitempty,min=3,max=50"`
	NombreCompleto *string `json:"nombre_completo" binding:"omitempty,max=120"`
	Codigo         *string `json:"codigo"          binding:"omitempty,max=20"`
	Email          *string `json:"email"           binding:"omitempty,email,max=255"`
	Password       *string `json:"password"        binding:"omitempty,min=8,max=72"`
	RoleID         *int    `json:"role_id"         binding:"omitempty,min=1,max=4"`
	Activo         *bool   `json:"activo"`
}
