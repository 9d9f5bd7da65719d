package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/operational/*.sql migrations/archive/*.sql
var migrationsFS embed.FS

// 迁移集合：运营库与归档库各自维护版本表，两者可共用同一个物理库
const (
	SetOperational = "operational"
	SetArchive     = "archive"
)

// RunMigrations 对指定集合执行数据库迁移
// 自动检测当前版本并应用所有未执行的迁移
func RunMigrations(db *sql.DB, set string, logger *zap.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations/"+set)
	if err != nil {
		return fmt.Errorf("加载迁移文件失败: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: "schema_migrations_" + set,
	})
	if err != nil {
		return fmt.Errorf("创建迁移驱动失败: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("初始化迁移实例失败: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("执行迁移失败: %w", err)
	}

	version, dirty, _ := m.Version()
	if dirty {
		logger.Warn("数据库迁移处于 dirty 状态", zap.String("set", set), zap.Uint("version", version))
	} else {
		logger.Info("数据库迁移完成", zap.String("set", set), zap.Uint("version", version))
	}

	return nil
}
