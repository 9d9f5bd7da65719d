package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"control-despacho/backend/internal/dto"
	"control-despacho/backend/internal/model"
	"control-despacho/backend/internal/realtime"
	"control-despacho/backend/internal/repository"
	apperrors "control-despacho/backend/pkg/errors"
)

// ── 通知模块业务错误 ──

var (
	ErrNotificationNotFound = apperrors.New(apperrors.ErrNotFound, "Notificación no encontrada")
	ErrEmptyMessage         = apperrors.New(apperrors.ErrValidation, "El mensaje no puede estar vacío")
)

// NotificationService 运营库通知业务接口
type NotificationService interface {
	List(ctx context.Context) ([]model.Notification, error)
	Send(ctx context.Context, req *dto.CreateNotificationRequest) (*model.Notification, error)
	// SetRead read 为 nil 时取反当前状态
	SetRead(ctx context.Context, id uint, read *bool) (*model.Notification, error)
}

type notificationService struct {
	repo      *repository.Repository
	publisher realtime.Publisher
	logger    *zap.Logger
}

// NewNotificationService 创建 NotificationService 实例
func NewNotificationService(repo *repository.Repository, publisher realtime.Publisher, logger *zap.Logger) NotificationService {
	return &notificationService{repo: repo, publisher: publisher, logger: logger}
}

func (s *notificationService) List(ctx context.Context) ([]model.Notification, error) {
	list, err := s.repo.Notification.List(ctx)
	if err != nil {
		s.logger.Error("查询通知失败", zap.Error(err))
		return nil, err
	}
	return list, nil
}

func (s *notificationService) Send(ctx context.Context, req *dto.CreateNotificationRequest) (*model.Notification, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, ErrEmptyMessage
	}

	n := &model.Notification{Message: msg}
	if err := s.repo.Notification.Create(ctx, n); err != nil {
		s.logger.Error("创建通知失败", zap.Error(err))
		return nil, err
	}

	publishEvent(ctx, s.publisher, s.logger, realtime.TableNotifications, realtime.EventInsert, n)
	return n, nil
}

func (s *notificationService) SetRead(ctx context.Context, id uint, read *bool) (*model.Notification, error) {
	n, err := s.repo.Notification.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		s.logger.Error("查询通知失败", zap.Uint("id", id), zap.Error(err))
		return nil, err
	}

	target := !n.Read
	if read != nil {
		target = *read
	}

	if err := s.repo.Notification.SetRead(ctx, id, target); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		s.logger.Error("更新通知状态失败", zap.Uint("id", id), zap.Error(err))
		return nil, err
	}
	n.Read = target

	publishEvent(ctx, s.publisher, s.logger, realtime.TableNotifications, realtime.EventUpdate, n)
	return n, nil
}
