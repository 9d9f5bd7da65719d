package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"control-despacho/backend/internal/model"
)

// DeviceLocationRepository 设备定位数据访问接口（归档库）
type DeviceLocationRepository interface {
	Create(ctx context.Context, loc *model.DeviceLocation) error
	Update(ctx context.Context, loc *model.DeviceLocation) error
	// ListByUser 按 updated_at 倒序返回该用户全部定位行
	ListByUser(ctx context.Context, userID uint) ([]model.DeviceLocation, error)
	DeleteByIDs(ctx context.Context, ids []uint) error
	// ListAll 返回全部定位（附带用户）
	ListAll(ctx context.Context) ([]model.DeviceLocation, error)
}

type deviceLocationRepo struct {
	db *gorm.DB
}

// NewDeviceLocationRepo 创建 DeviceLocationRepository 实例
func NewDeviceLocationRepo(db *gorm.DB) DeviceLocationRepository {
	return &deviceLocationRepo{db: db}
}

func (r *deviceLocationRepo) Create(ctx context.Context, loc *model.DeviceLocation) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(loc).Error
}

func (r *deviceLocationRepo) Update(ctx context.Context, loc *model.DeviceLocation) error {
	return r.db.WithContext(ctx).
		Model(&model.DeviceLocation{}).
		Where("id = ?", loc.ID).
		Updates(map[string]interface{}{
			"latitude":   loc.Latitude,
			"longitude":  loc.Longitude,
			"updated_at": loc.UpdatedAt,
		}).Error
}

func (r *deviceLocationRepo) ListByUser(ctx context.Context, userID uint) ([]model.DeviceLocation, error) {
	var list []model.DeviceLocation
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC, id DESC").
		Find(&list).Error
	return list, err
}

func (r *deviceLocationRepo) DeleteByIDs(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.DeviceLocation{}).Error
}

func (r *deviceLocationRepo) ListAll(ctx context.Context) ([]model.DeviceLocation, error) {
	var list []model.DeviceLocation
	err := r.db.WithContext(ctx).
		Preload("User").
		Order("updated_at DESC").
		Find(&list).Error
	return list, err
}
