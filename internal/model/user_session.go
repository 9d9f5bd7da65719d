package model

import "time"

// SessionStatus 在线状态
type SessionStatus string

const (
	SessionOnline  SessionStatus = "online"
	SessionOffline SessionStatus = "offline"
)

// UserSession 运营库在线状态表，对应 user_sessions，以 external_user_id 唯一
type UserSession struct {
	ID             uint          `gorm:"primaryKey"                      json:"id"`
	ExternalUserID uint          `gorm:"uniqueIndex;not null"            json:"external_user_id"`
	Username       string        `gorm:"type:varchar(50);not null"       json:"username"`
	RoleID         RoleID        `gorm:"not null"                        json:"role_id"`
	RoleName       string        `gorm:"type:varchar(50);not null"       json:"role_name"`
	LastActive     time.Time     `gorm:"not null"                        json:"last_active"`
	Status         SessionStatus `gorm:"type:varchar(10);not null"       json:"status"`
}

// TableName 指定表名
func (UserSession) TableName() string { return "user_sessions" }
