package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"control-despacho/backend/internal/model"
)

// ArchiveRepository 归档作业数据访问接口
type ArchiveRepository interface {
	// Upsert 以 register_id 为键；已存在时更新除 register_id、fecha_registro 外的全部列
	Upsert(ctx context.Context, a *model.ArchivedDespacho) error
	List(ctx context.Context) ([]model.ArchivedDespacho, error)
}

type archiveRepo struct {
	db *gorm.DB
}

// NewArchiveRepo 创建 ArchiveRepository 实例
func NewArchiveRepo(db *gorm.DB) ArchiveRepository {
	return &archiveRepo{db: db}
}

var archiveUpdateColumns = []string{
	"punto_despacho",
	"placa_cabezal",
	"estado",
	"fecha_aceptacion",
	"fecha_en_proceso",
	"fecha_completado",
	"operador_bascula_id",
	"supervisor_despacho_id",
	"enlonador_id",
}

func (r *archiveRepo) Upsert(ctx context.Context, a *model.ArchivedDespacho) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "register_id"}},
			DoUpdates: clause.AssignmentColumns(archiveUpdateColumns),
		}).
		Omit(clause.Associations).
		Create(a).Error
}

func (r *archiveRepo) List(ctx context.Context) ([]model.ArchivedDespacho, error) {
	var list []model.ArchivedDespacho
	err := r.db.WithContext(ctx).
		Preload("Operator").
		Preload("Supervisor").
		Preload("Loader").
		Order("fecha_registro DESC, id DESC").
		Find(&list).Error
	return list, err
}
