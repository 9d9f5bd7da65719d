package model

import "time"

// DeviceLocation 设备定位表，对应归档库 device_locations
// 每个用户至多一行由应用层维护
type DeviceLocation struct {
	ID        uint      `gorm:"primaryKey"                  json:"id"`
	UserID    uint      `gorm:"not null;index"              json:"user_id"`
	Latitude  float64   `gorm:"not null"                    json:"latitude"`
	Longitude float64   `gorm:"not null"                    json:"longitude"`
	UpdatedAt time.Time `gorm:"not null"                    json:"updated_at"`

	// 关联
	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TableName 指定表名
func (DeviceLocation) TableName() string { return "device_locations" }
