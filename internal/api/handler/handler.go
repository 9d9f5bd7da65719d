package handler

import (
	"time"

	"control-despacho/backend/config"
	"control-despacho/backend/internal/realtime"
	"control-despacho/backend/internal/service"
)

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Auth         *AuthHandler
	User         *UserHandler
	Despacho     *DespachoHandler
	Sync         *SyncHandler
	Notification *NotificationHandler
	Location     *LocationHandler
	Session      *SessionHandler
	Export       *ExportHandler
	Realtime     *RealtimeHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(svc *service.Service, hub *realtime.Hub, cookie config.CookieConfig, sessionTTL time.Duration) *Handler {
	return &Handler{
		Auth:         NewAuthHandler(svc.Auth, cookie, sessionTTL),
		User:         NewUserHandler(svc.User),
		Despacho:     NewDespachoHandler(svc.Despacho),
		Sync:         NewSyncHandler(svc.Sync),
		Notification: NewNotificationHandler(svc.Notification),
		Location:     NewLocationHandler(svc.Location),
		Session:      NewSessionHandler(svc.Session),
		Export:       NewExportHandler(svc.Export),
		Realtime:     NewRealtimeHandler(hub),
	}
}
