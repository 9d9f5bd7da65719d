// Command seed 初始化角色与默认管理员账号，可重复执行
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"control-despacho/backend/config"
	"control-despacho/backend/internal/dto"
	"control-despacho/backend/internal/model"
	"control-despacho/backend/internal/repository"
	"control-despacho/backend/internal/service"
	"control-despacho/backend/pkg/database"
	applogger "control-despacho/backend/pkg/logger"
)

func main() {
	var (
		username = flag.String("username", "admin", "管理员用户名")
		password = flag.String("password", "Admin123!", "管理员初始密码")
		migrate  = flag.Bool("migrate", true, "先执行归档库迁移")
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

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	archiveDB, err := database.NewDB("archive", &cfg.Archive, cfg.Log.Level, logger)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	defer database.Close(archiveDB)

	if *migrate {
		sqlDB, err := archiveDB.DB()
		if err != nil {
			logger.Fatal("获取底层 sql.DB 失败", zap.Error(err))
		}
		if err := database.RunMigrations(sqlDB, database.SetArchive, logger); err != nil {
			logger.Fatal("数据库迁移失败", zap.Error(err))
		}
	}

	// 用户与角色只在归档库
	repo := repository.NewRepository(nil, archiveDB)
	if err := repo.Role.EnsureDefaults(ctx); err != nil {
		logger.Fatal("写入内置角色失败", zap.Error(err))
	}
	logger.Info("角色已就绪", zap.Int("count", len(model.AllRoles())))

	userSvc := service.NewUserService(repo, logger)
	admin, err := userSvc.Create(ctx, &dto.CreateUserRequest{
		Username:       *username,
		NombreCompleto: "Administrador Principal",
		Codigo:         "ADM001",
		Email:          "admin@example.com",
		Password:       *password,
		RoleID:         int(model.RoleAdmin),
	})
	switch {
	case errors.Is(err, service.ErrUsernameExists):
		logger.Info("管理员已存在，跳过", zap.String("username", *username))
	case err != nil:
		logger.Fatal("创建管理员失败", zap.Error(err))
	default:
		logger.Info("管理员已创建", zap.Uint("id", admin.ID), zap.String("username", admin.Username))
	}
}
