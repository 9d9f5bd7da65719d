package dto

// ── 认证模块响应 ──

// LoginResponse 登录成功响应；令牌同时写入 HttpOnly Cookie
type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// ── 用户模块响应 ──

// UserResponse 用户信息响应（脱敏）
type UserResponse struct {
	ID             uint   `json:"id"`
	Username       string `json:"username"`
	NombreCompleto string `json:"nombre_completo"`
	Codigo         string `json:"codigo"`
	Email          string `json:"email"`
	RoleID         int    `json:"role_id"`
	RoleName       string `json:"role_name"`
	Activo         bool   `json:"activo"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// RoleResponse 角色
type RoleResponse struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// SessionResponse 在线状态
type SessionResponse struct {
	UserID     uint   `json:"user_id"`
	Username   string `json:"username"`
	RoleID     int    `json:"role_id"`
	RoleName   string `json:"role_name"`
	Status     string `json:"status"`
	LastActive string `json:"last_active"`
}
