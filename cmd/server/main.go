package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"control-despacho/backend/config"
	"control-despacho/backend/internal/api/handler"
	"control-despacho/backend/internal/api/middleware"
	"control-despacho/backend/internal/api/router"
	"control-despacho/backend/internal/ingest"
	"control-despacho/backend/internal/realtime"
	"control-despacho/backend/internal/repository"
	"control-despacho/backend/internal/service"
	"control-despacho/backend/pkg/database"
	"control-despacho/backend/pkg/jwt"
	applogger "control-despacho/backend/pkg/logger"
	"control-despacho/backend/pkg/metrics"
	"control-despacho/backend/pkg/ratelimit"
	"control-despacho/backend/pkg/redis"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.Int("port", cfg.Server.Port),
		zap.String("log_level", cfg.Log.Level),
		zap.String("realtime", cfg.Realtime.Mode),
	)

	// 3. 连接运营库与归档库，并分别执行迁移
	opDB := mustOpen("operational", &cfg.Database, database.SetOperational, cfg, logger)
	archiveDB := mustOpen("archive", &cfg.Archive, database.SetArchive, cfg, logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	repo := repository.NewRepository(opDB, archiveDB)
	if err := repo.Role.EnsureDefaults(ctx); err != nil {
		logger.Fatal("写入内置角色失败", zap.Error(err))
	}

	// 4. 连接 Redis（可选：连接失败时降级运行，不中断启动）
	rdb, err := redis.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis 连接失败，令牌黑名单不可用", zap.Error(err))
		rdb = nil
	}

	var (
		svcBlacklist service.TokenBlacklist
		mwBlacklist  middleware.TokenBlacklist
	)
	if rdb != nil {
		svcBlacklist, mwBlacklist = rdb, rdb
	}

	// 5. 登录限流
	var limiter ratelimit.Limiter = ratelimit.NewMemory(cfg.LoginLimit.Attempts, cfg.LoginLimit.Window)
	if cfg.LoginLimit.Backend == "redis" {
		if rdb == nil {
			logger.Warn("Redis 不可用，登录限流回退到内存实现")
		} else {
			limiter = ratelimit.NewRedis(rdb, "login:attempts:", cfg.LoginLimit.Attempts, cfg.LoginLimit.Window)
		}
	}

	// 6. 实时推送
	hub := realtime.NewHub(logger)
	var pool *pgxpool.Pool
	if cfg.Realtime.Mode == "postgres" {
		pool, err = pgxpool.New(ctx, cfg.Database.URL())
		if err != nil {
			logger.Fatal("创建 pgx 连接池失败", zap.Error(err))
		}
		defer pool.Close()
	}
	publisher, listener, err := realtime.Setup(cfg.Realtime.Mode, pool, cfg.Realtime.Channel, hub, logger)
	if err != nil {
		logger.Fatal("初始化实时推送失败", zap.Error(err))
	}
	if listener != nil {
		go listener.Run(ctx)
	}

	// 7. 依赖注入: Repository → Service → Handler
	jwtMgr := jwt.NewManager(&cfg.Auth)
	svc := service.NewService(cfg, repo, jwtMgr, limiter, svcBlacklist, publisher, logger)
	h := handler.NewHandler(svc, hub, cfg.Auth.Cookie, jwtMgr.TTL())

	// 8. 指标
	metrics.MustRegister("control-despacho")
	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("指标服务已启动", zap.String("addr", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("指标服务异常", zap.Error(err))
			}
		}()
	}

	// 9. MQTT 设备定位接入（可选）
	var sub *ingest.Subscriber
	if cfg.MQTT.Enabled {
		sub = ingest.NewSubscriber(cfg.MQTT, svc.Location, logger)
		if err := sub.Start(); err != nil {
			logger.Error("MQTT 接入启动失败", zap.Error(err))
			sub = nil
		}
	}

	// 10. 过期会话清扫
	if cfg.Sync.SweepInterval > 0 {
		go runSweeper(ctx, svc.Session, cfg.Sync.SweepInterval, logger)
	}

	// 11. 初始化路由并启动 HTTP 服务器（优雅关闭）
	gin.SetMode(gin.ReleaseMode)
	engine := router.Setup(cfg, h, jwtMgr, mwBlacklist, logger)

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     engine,
		ReadTimeout: 15 * time.Second,
		// websocket 长连接不设置 WriteTimeout
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP 服务器异常", zap.Error(err))
		}
	}()

	// 12. 监听系统信号，优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("收到关闭信号，开始优雅关闭...", zap.String("signal", sig.String()))
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if sub != nil {
		sub.Stop()
	}

	database.Close(opDB)
	database.Close(archiveDB)
	if rdb != nil {
		rdb.Close()
	}

	logger.Info("服务器已关闭")
}

// mustOpen 连接数据库并执行对应集合的迁移
func mustOpen(name string, dbCfg *config.DatabaseConfig, set string, cfg *config.Config, logger *zap.Logger) *gorm.DB {
	db, err := database.NewDB(name, dbCfg, cfg.Log.Level, logger)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.String("store", name), zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("获取底层 sql.DB 失败", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, set, logger); err != nil {
		logger.Fatal("数据库迁移失败", zap.String("store", name), zap.Error(err))
	}
	return db
}

// runSweeper 定期把长时间无活动的在线会话标记为离线
func runSweeper(ctx context.Context, sessions service.SessionService, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.SweepStale(ctx)
			if err != nil {
				logger.Warn("清扫过期会话失败", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("已将过期会话标记为离线", zap.Int64("count", n))
			}
		}
	}
}
