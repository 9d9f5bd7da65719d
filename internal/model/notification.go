package model

import "time"

// Notification 运营库通知表，对应 notifications
type Notification struct {
	ID         uint      `gorm:"primaryKey"              json:"id"`
	Message    string    `gorm:"type:text;not null"      json:"message"`
	Read       bool      `gorm:"not null"                json:"read"`
	InsertedAt time.Time `gorm:"not null;autoCreateTime" json:"inserted_at"`
}

// TableName 指定表名
func (Notification) TableName() string { return "notifications" }

// ArchivedNotification 归档通知表，对应 notificaciones_archivadas。
// 运营库清空后序列从 1 重新开始，故以 (id, inserted_at) 作为主键
type ArchivedNotification struct {
	ID         uint      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Message    string    `gorm:"type:text;not null"             json:"message"`
	Read       bool      `gorm:"not null"                       json:"read"`
	InsertedAt time.Time `gorm:"primaryKey;not null"            json:"inserted_at"`
}

// TableName 指定表名
func (ArchivedNotification) TableName() string { return "notificaciones_archivadas" }
