package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"control-despacho/backend/internal/model"
)

// SessionRepository 在线状态数据访问接口
type SessionRepository interface {
	// Upsert 以 external_user_id 为键写入会话
	Upsert(ctx context.Context, s *model.UserSession) error
	MarkOffline(ctx context.Context, externalUserID uint, at time.Time) error
	// MarkStaleOffline 将 last_active 早于 before 的在线会话置为离线，返回影响行数
	MarkStaleOffline(ctx context.Context, before time.Time) (int64, error)
	List(ctx context.Context) ([]model.UserSession, error)
}

type sessionRepo struct {
	db *gorm.DB
}

// NewSessionRepo 创建 SessionRepository 实例
func NewSessionRepo(db *gorm.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) Upsert(ctx context.Context, s *model.UserSession) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "role_id", "role_name", "last_active", "status"}),
		}).
		Create(s).Error
}

func (r *sessionRepo) MarkOffline(ctx context.Context, externalUserID uint, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.UserSession{}).
		Where("external_user_id = ?", externalUserID).
		Updates(map[string]interface{}{
			"status":      model.SessionOffline,
			"last_active": at,
		}).Error
}

func (r *sessionRepo) MarkStaleOffline(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.UserSession{}).
		Where("status = ? AND last_active < ?", model.SessionOnline, before).
		Update("status", model.SessionOffline)
	return result.RowsAffected, result.Error
}

func (r *sessionRepo) List(ctx context.Context) ([]model.UserSession, error) {
	var list []model.UserSession
	err := r.db.WithContext(ctx).Order("status DESC, username ASC").Find(&list).Error
	return list, err
}
