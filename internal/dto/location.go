package dto

// ── 定位模块 DTO ──

// LocationRequest 上报定位请求
type LocationRequest struct {
	Latitude  *float64 `json:"latitude"  binding:"required,min=-90,max=90"`
	Longitude *float64 `json:"longitude" binding:"required,min=-180,max=180"`
}

// LocationResponse 单条定位
type LocationResponse struct {
	UserID    uint    `json:"user_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	UpdatedAt string  `json:"updated_at"`
}

// DeviceLocationResponse 设备定位（附带用户）
type DeviceLocationResponse struct {
	LocationResponse
	Username       string `json:"username"`
	NombreCompleto string `json:"nombre_completo"`
}
