package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"control-despacho/backend/config"
	"control-despacho/backend/internal/api/handler"
	"control-despacho/backend/internal/api/middleware"
	"control-despacho/backend/internal/model"
	"control-despacho/backend/pkg/jwt"
)

// 角色简写
var (
	admin      = model.RoleAdmin
	supervisor = model.RoleSupervisor
	operator   = model.RoleOperator
	loader     = model.RoleLoader
)

// 归档通知接口的鉴权方式
const (
	ArchiveAuthNone    = "none"
	ArchiveAuthSession = "session"
	ArchiveAuthSecret  = "secret"
)

// PublicRules 无需会话的路由；POST /api/despachos 由 cron 密钥自行校验
func PublicRules(archiveAuth string) []middleware.Rule {
	rules := []middleware.Rule{
		{Method: "GET", Pattern: "/health"},
		{Method: "GET", Pattern: "/api/health"},
		{Pattern: middleware.LoginPath},
		{Method: "GET", Pattern: middleware.ForbiddenPath},
		{Method: "POST", Pattern: "/api/auth/login"},
		{Method: "POST", Pattern: "/api/despachos"},
	}
	if archiveAuth == ArchiveAuthNone || archiveAuth == ArchiveAuthSecret {
		rules = append(rules, middleware.Rule{Method: "POST", Pattern: "/api/archive"})
	}
	return rules
}

// AccessRules 有序访问规则表，首个命中项生效
func AccessRules() []middleware.Rule {
	return []middleware.Rule{
		// 认证
		{Pattern: "/api/auth/:path*"},

		// 实时作业
		{Method: "GET", Pattern: "/api/despachos/live"},
		{Method: "POST", Pattern: "/api/despachos/live", Roles: roles(admin, operator)},
		{Method: "GET", Pattern: "/api/despachos/live/:id"},
		{Method: "PATCH", Pattern: "/api/despachos/live/:id/assign", Roles: roles(admin, supervisor)},
		{Method: "PATCH", Pattern: "/api/despachos/live/:id/estado", Roles: roles(admin, loader)},
		{Method: "PATCH", Pattern: "/api/despachos/live/:id/accept", Roles: roles(admin, loader)},
		{Method: "PATCH", Pattern: "/api/despachos/live/:id/start", Roles: roles(admin, loader)},
		{Method: "PATCH", Pattern: "/api/despachos/live/:id/complete", Roles: roles(admin, loader)},

		// 归档作业
		{Method: "GET", Pattern: "/api/despachos", Roles: roles(admin, supervisor)},
		{Method: "GET", Pattern: "/api/despachos/export", Roles: roles(admin, supervisor)},

		// 通知
		{Method: "POST", Pattern: "/api/archive"},
		{Pattern: "/api/notifications"},
		{Pattern: "/api/notifications/:path*"},

		// 定位
		{Pattern: "/api/location", Roles: roles(loader)},
		{Method: "GET", Pattern: "/api/device-locations", Roles: roles(admin, supervisor)},

		// 实时推送
		{Method: "GET", Pattern: "/api/realtime"},

		// 用户管理
		{Pattern: "/api/users", Roles: roles(admin)},
		{Pattern: "/api/users/:path*", Roles: roles(admin)},
		{Method: "GET", Pattern: "/api/roles", Roles: roles(admin)},
		{Method: "GET", Pattern: "/api/sessions", Roles: roles(admin, supervisor)},
	}
}

func roles(r ...model.RoleID) []model.RoleID { return r }

// Setup 初始化并返回 Gin 路由引擎
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, blacklist middleware.TokenBlacklist, logger *zap.Logger) *gin.Engine {
	handler.RegisterValidators()

	r := gin.New()
	// 只信任显式配置的代理，否则 X-Forwarded-For 可被伪造以绕过登录限流
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Error("可信代理配置无效，忽略转发头", zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.BodyLimit(cfg.Server.BodyLimit))
	r.Use(middleware.Access(middleware.AccessOptions{
		JWT:        jwtMgr,
		Public:     PublicRules(cfg.Sync.ArchiveAuth),
		Rules:      AccessRules(),
		CookieName: cfg.Auth.Cookie.Name,
		Blacklist:  blacklist,
		Logger:     logger,
	}))

	// ── 健康检查 ──
	health := func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	}
	r.GET("/health", health)

	api := r.Group("/api")
	{
		api.GET("/health", health)

		// 认证
		auth := api.Group("/auth")
		{
			auth.POST("/login", h.Auth.Login)
			auth.POST("/logout", h.Auth.Logout)
			auth.GET("/me", h.Auth.Me)
			auth.PUT("/password", h.Auth.ChangePassword)
		}

		// 作业
		despachos := api.Group("/despachos")
		{
			despachos.POST("", middleware.CronSecret(cfg.Auth.CronSecret), h.Sync.SyncDispatches)
			despachos.GET("", h.Despacho.ListArchived)
			despachos.GET("/export", h.Export.ExportArchived)

			live := despachos.Group("/live")
			live.GET("", h.Despacho.List)
			live.POST("", h.Despacho.Create)
			live.GET("/:id", h.Despacho.Get)
			live.PATCH("/:id/assign", h.Despacho.Assign)
			live.PATCH("/:id/estado", h.Despacho.UpdateEstado)
			live.PATCH("/:id/accept", h.Despacho.Accept)
			live.PATCH("/:id/start", h.Despacho.Start)
			live.PATCH("/:id/complete", h.Despacho.Complete)
		}

		// 通知
		if cfg.Sync.ArchiveAuth == ArchiveAuthSecret {
			api.POST("/archive", middleware.CronSecret(cfg.Auth.CronSecret), h.Sync.ArchiveNotifications)
		} else {
			api.POST("/archive", h.Sync.ArchiveNotifications)
		}
		api.GET("/notifications", h.Notification.List)
		api.POST("/notifications", h.Notification.Send)
		api.PATCH("/notifications/:id/read", h.Notification.SetRead)

		// 定位
		api.POST("/location", h.Location.Record)
		api.GET("/location", h.Location.Latest)
		api.GET("/device-locations", h.Location.ListAll)

		// 实时推送
		api.GET("/realtime", h.Realtime.Subscribe)

		// 用户管理
		users := api.Group("/users")
		{
			users.GET("", h.User.ListUsers)
			users.POST("", h.User.CreateUser)
			users.GET("/:id", h.User.GetUser)
			users.PUT("/:id", h.User.UpdateUser)
			users.DELETE("/:id", h.User.DeleteUser)
		}
		api.GET("/roles", h.User.ListRoles)
		api.GET("/sessions", h.Session.List)
	}

	return r
}
