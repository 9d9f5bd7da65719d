// Command sync 一次性执行迁移任务，供 cron 调用：
//
//	sync -job=despachos      迁移 v_despachos 中的作业到归档库
//	sync -job=notifications  归档并清空通知
//	sync -job=all            依次执行以上两项
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"control-despacho/backend/config"
	"control-despacho/backend/internal/realtime"
	"control-despacho/backend/internal/repository"
	"control-despacho/backend/internal/service"
	"control-despacho/backend/pkg/database"
	applogger "control-despacho/backend/pkg/logger"
)

func main() {
	var (
		job     = flag.String("job", "all", "despachos|notifications|all")
		timeout = flag.Duration("timeout", 5*time.Minute, "整体超时")
	)
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	switch *job {
	case "despachos", "notifications", "all":
	default:
		fmt.Fprintln(os.Stderr, "invalid -job, must be despachos|notifications|all")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	opDB, err := database.NewDB("operational", &cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	defer database.Close(opDB)

	archiveDB, err := database.NewDB("archive", &cfg.Archive, cfg.Log.Level, logger)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	defer database.Close(archiveDB)

	// postgres 模式下经 pg_notify 通知在线客户端；local 模式无订阅者
	var publisher realtime.Publisher = realtime.Nop{}
	if cfg.Realtime.Mode == "postgres" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL())
		if err != nil {
			logger.Fatal("创建 pgx 连接池失败", zap.Error(err))
		}
		defer pool.Close()
		publisher = realtime.NewPGNotifier(pool, cfg.Realtime.Channel)
	}

	repo := repository.NewRepository(opDB, archiveDB)
	syncSvc := service.NewSyncService(repo, publisher, logger)

	failed := false
	if *job == "despachos" || *job == "all" {
		n, err := syncSvc.SyncDispatches(ctx)
		if err != nil {
			logger.Error("作业迁移失败", zap.Error(err))
			failed = true
		} else {
			logger.Info(fmt.Sprintf("Sincronizados y eliminados %d despachos.", n))
		}
	}
	if *job == "notifications" || *job == "all" {
		n, err := syncSvc.ArchiveNotifications(ctx)
		if err != nil {
			logger.Error("通知归档失败", zap.Error(err))
			failed = true
		} else {
			logger.Info(fmt.Sprintf("Archivadas %d notificación(es) y eliminadas.", n))
		}
	}

	if failed {
		os.Exit(1)
	}
}
