package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"control-despacho/backend/internal/model"
)

// NotificationRepository 通知数据访问接口（跨运营库与归档库）
type NotificationRepository interface {
	Create(ctx context.Context, n *model.Notification) error
	GetByID(ctx context.Context, id uint) (*model.Notification, error)
	List(ctx context.Context) ([]model.Notification, error)
	SetRead(ctx context.Context, id uint, read bool) error
	// CopyToArchive 批量写入归档库，主键冲突的行跳过
	CopyToArchive(ctx context.Context, list []model.Notification) error
	// Purge 调用运营库存储过程清空通知并重置序列
	Purge(ctx context.Context) error
}

type notificationRepo struct {
	db      *gorm.DB
	archive *gorm.DB
}

// NewNotificationRepo 创建 NotificationRepository 实例
func NewNotificationRepo(db, archive *gorm.DB) NotificationRepository {
	return &notificationRepo{db: db, archive: archive}
}

func (r *notificationRepo) Create(ctx context.Context, n *model.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *notificationRepo) GetByID(ctx context.Context, id uint) (*model.Notification, error) {
	var n model.Notification
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *notificationRepo) List(ctx context.Context) ([]model.Notification, error) {
	var list []model.Notification
	err := r.db.WithContext(ctx).Order("inserted_at DESC, id DESC").Find(&list).Error
	return list, err
}

func (r *notificationRepo) SetRead(ctx context.Context, id uint, read bool) error {
	result := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("id = ?", id).
		Update("read", read)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *notificationRepo) CopyToArchive(ctx context.Context, list []model.Notification) error {
	if len(list) == 0 {
		return nil
	}
	rows := make([]model.ArchivedNotification, 0, len(list))
	for _, n := range list {
		rows = append(rows, model.ArchivedNotification{
			ID:         n.ID,
			Message:    n.Message,
			Read:       n.Read,
			InsertedAt: n.InsertedAt,
		})
	}
	return r.archive.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

func (r *notificationRepo) Purge(ctx context.Context) error {
	return r.db.WithContext(ctx).Exec("SELECT delete_notifications()").Error
}
