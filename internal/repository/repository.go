package repository

import "gorm.io/gorm"

// Repository 所有 Repository 的聚合入口
// 运营库（operational）保存实时数据，归档库（archive）保存用户与历史数据
type Repository struct {
	Despacho       DespachoRepository
	Session        SessionRepository
	Notification   NotificationRepository
	Archive        ArchiveRepository
	User           UserRepository
	Role           RoleRepository
	DeviceLocation DeviceLocationRepository
}

// NewRepository 创建 Repository 聚合
func NewRepository(operational, archive *gorm.DB) *Repository {
	return &Repository{
		Despacho:       NewDespachoRepo(operational),
		Session:        NewSessionRepo(operational),
		Notification:   NewNotificationRepo(operational, archive),
		Archive:        NewArchiveRepo(archive),
		User:           NewUserRepo(archive),
		Role:           NewRoleRepo(archive),
		DeviceLocation: NewDeviceLocationRepo(archive),
	}
}
