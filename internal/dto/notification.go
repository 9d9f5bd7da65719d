package dto

// ── 通知模块 DTO ──

// CreateNotificationRequest 发送通知请求
type CreateNotificationRequest struct {
	Message string `json:"message" binding:"required,max=500"`
}

// SetReadRequest 修改已读状态；read 省略时取反
type SetReadRequest struct {
	Read *bool `json:"read"`
}
