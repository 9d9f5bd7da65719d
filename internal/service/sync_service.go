package service

import (
	"context"

	"go.uber.org/zap"

	"control-despacho/backend/internal/model"
	"control-despacho/backend/internal/realtime"
	"control-despacho/backend/internal/repository"
	"control-despacho/backend/pkg/metrics"
)

// SyncService 运营库 → 归档库的同步与归档任务
type SyncService interface {
	// SyncDispatches 迁移 v_despachos 中的全部行，返回成功删除源行的数量
	SyncDispatches(ctx context.Context) (int, error)
	// ArchiveNotifications 复制全部通知到归档库后清空运营库，返回读取的条数
	ArchiveNotifications(ctx context.Context) (int, error)
}

type syncService struct {
	repo      *repository.Repository
	publisher realtime.Publisher
	logger    *zap.Logger
}

// NewSyncService 创建 SyncService 实例
func NewSyncService(repo *repository.Repository, publisher realtime.Publisher, logger *zap.Logger) SyncService {
	return &syncService{repo: repo, publisher: publisher, logger: logger}
}

// deletedRecord 删除事件只携带主键
type deletedRecord struct {
	ID uint `json:"id"`
}

// ────────────────────── SyncDispatches ──────────────────────

func (s *syncService) SyncDispatches(ctx context.Context) (int, error) {
	rows, err := s.repo.Despacho.ListPendingSync(ctx)
	if err != nil {
		s.logger.Error("读取待同步作业失败", zap.Error(err))
		return 0, err
	}

	migrated := 0
	for i := range rows {
		row := &rows[i]

		// 逐行处理：单行失败只记录日志，留给下一次同步
		if err := s.repo.Archive.Upsert(ctx, model.ArchiveFromRow(row)); err != nil {
			metrics.SyncFailuresTotal.WithLabelValues("upsert").Inc()
			s.logger.Error("写入归档作业失败", zap.Uint("id", row.ID), zap.Error(err))
			continue
		}

		if err := s.repo.Despacho.Delete(ctx, row.ID); err != nil {
			metrics.SyncFailuresTotal.WithLabelValues("delete").Inc()
			s.logger.Error("删除已归档作业失败", zap.Uint("id", row.ID), zap.Error(err))
			continue
		}

		migrated++
		metrics.SyncMigratedTotal.Inc()
		publishEvent(ctx, s.publisher, s.logger, realtime.TableDespachos, realtime.EventDelete, deletedRecord{ID: row.ID})
	}

	s.logger.Info("作业同步完成", zap.Int("read", len(rows)), zap.Int("migrated", migrated))
	return migrated, nil
}

// ────────────────────── ArchiveNotifications ──────────────────────

func (s *syncService) ArchiveNotifications(ctx context.Context) (int, error) {
	list, err := s.repo.Notification.List(ctx)
	if err != nil {
		s.logger.Error("读取通知失败", zap.Error(err))
		return 0, err
	}

	if err := s.repo.Notification.CopyToArchive(ctx, list); err != nil {
		s.logger.Error("复制通知到归档库失败", zap.Int("count", len(list)), zap.Error(err))
		return 0, err
	}

	// 清空运营库并重置自增序列；复制成功后总是执行
	if err := s.repo.Notification.Purge(ctx); err != nil {
		s.logger.Error("清空通知失败", zap.Error(err))
		return 0, err
	}

	metrics.NotificationsArchivedTotal.Add(float64(len(list)))
	for _, n := range list {
		publishEvent(ctx, s.publisher, s.logger, realtime.TableNotifications, realtime.EventDelete, deletedRecord{ID: n.ID})
	}

	s.logger.Info("通知归档完成", zap.Int("archived", len(list)))
	return len(list), nil
}
