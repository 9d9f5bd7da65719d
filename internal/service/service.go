package service

import (
	"context"

	"go.uber.org/zap"

	"control-despacho/backend/config"
	"control-despacho/backend/internal/model"
	"control-despacho/backend/internal/realtime"
	"control-despacho/backend/internal/repository"
	"control-despacho/backend/pkg/jwt"
	"control-despacho/backend/pkg/ratelimit"
)

// Service 所有 Service 的聚合入口
type Service struct {
	Auth         AuthService
	User         UserService
	Despacho     DespachoService
	Sync         SyncService
	Notification NotificationService
	Location     LocationService
	Session      SessionService
	Export       ExportService
}

// NewService 创建 Service 聚合
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	jwtMgr *jwt.Manager,
	limiter ratelimit.Limiter,
	blacklist TokenBlacklist,
	publisher realtime.Publisher,
	logger *zap.Logger,
) *Service {
	return &Service{
		Auth:         NewAuthService(repo, jwtMgr, limiter, blacklist, logger),
		User:         NewUserService(repo, logger),
		Despacho:     NewDespachoService(repo, publisher, cfg.Server.Location(), logger),
		Sync:         NewSyncService(repo, publisher, logger),
		Notification: NewNotificationService(repo, publisher, logger),
		Location:     NewLocationService(repo, publisher, logger),
		Session:      NewSessionService(repo, cfg.Sync.SessionStaleAfter, logger),
		Export:       NewExportService(repo, cfg.Server.Location(), logger),
	}
}

// Caller 当前请求的用户身份（来自会话令牌）
type Caller struct {
	UserID   uint
	Username string
	RoleID   model.RoleID
}

// Is 判断调用者角色是否属于给定集合
func (c Caller) Is(roles ...model.RoleID) bool {
	return c.RoleID.In(roles...)
}

// publishEvent 发布变更事件；失败只记录日志，不影响已提交的写操作
func publishEvent(ctx context.Context, pub realtime.Publisher, logger *zap.Logger, table string, typ realtime.EventType, record interface{}) {
	e, err := realtime.NewEvent(table, typ, record)
	if err == nil {
		err = pub.Publish(ctx, e)
	}
	if err != nil {
		logger.Warn("发布实时事件失败",
			zap.String("table", table),
			zap.String("type", string(typ)),
			zap.Error(err),
		)
	}
}
