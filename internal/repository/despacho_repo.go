package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"control-despacho/backend/internal/model"
	pkgerrors "control-despacho/backend/pkg/errors"
)

// DespachoFilter 实时作业列表筛选条件
type DespachoFilter struct {
	From       *time.Time // fecha_registro >= From
	To         *time.Time // fecha_registro < To
	OperatorID   *uint
	SupervisorID *uint
	LoaderID     *uint
}

// DespachoRepository 运营库作业数据访问接口
type DespachoRepository interface {
	Create(ctx context.Context, d *model.Despacho) error
	GetByID(ctx context.Context, id uint) (*model.Despacho, error)
	List(ctx context.Context, filter *DespachoFilter) ([]model.Despacho, error)
	// Assign 仅在 PENDING 状态下写入 supervisor 与 enlonador
	Assign(ctx context.Context, id, supervisorID, loaderID uint) error
	// Transition 以 estado 作为前置条件推进状态，时间戳只写一次
	Transition(ctx context.Context, id uint, t model.Transition, at time.Time) error
	ListPendingSync(ctx context.Context) ([]model.DespachoSyncRow, error)
	Delete(ctx context.Context, id uint) error
}

type despachoRepo struct {
	db *gorm.DB
}

// NewDespachoRepo 创建 DespachoRepository 实例
func NewDespachoRepo(db *gorm.DB) DespachoRepository {
	return &despachoRepo{db: db}
}

func (r *despachoRepo) Create(ctx context.Context, d *model.Despacho) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *despachoRepo) GetByID(ctx context.Context, id uint) (*model.Despacho, error) {
	var d model.Despacho
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *despachoRepo) List(ctx context.Context, filter *DespachoFilter) ([]model.Despacho, error) {
	var list []model.Despacho
	db := r.db.WithContext(ctx)

	if filter != nil {
		if filter.From != nil {
			db = db.Where("fecha_registro >= ?", *filter.From)
		}
		if filter.To != nil {
			db = db.Where("fecha_registro < ?", *filter.To)
		}
		if filter.OperatorID != nil {
			db = db.Where("operador_id = ?", *filter.OperatorID)
		}
		if filter.SupervisorID != nil {
			db = db.Where("supervisor_id = ?", *filter.SupervisorID)
		}
		if filter.LoaderID != nil {
			db = db.Where("enlonador_id = ?", *filter.LoaderID)
		}
	}

	err := db.Order("fecha_registro DESC, id DESC").Find(&list).Error
	return list, err
}

func (r *despachoRepo) Assign(ctx context.Context, id, supervisorID, loaderID uint) error {
	result := r.db.WithContext(ctx).
		Model(&model.Despacho{}).
		Where("id = ? AND estado = ?", id, model.StatusPending).
		Updates(map[string]interface{}{
			"supervisor_id": supervisorID,
			"enlonador_id":  loaderID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	return nil
}

func (r *despachoRepo) Transition(ctx context.Context, id uint, t model.Transition, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&model.Despacho{}).
		Where("id = ? AND estado = ?", id, t.From).
		Updates(map[string]interface{}{
			"estado":          t.To,
			t.TimestampColumn: gorm.Expr("COALESCE("+t.TimestampColumn+", ?)", at),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	return nil
}

func (r *despachoRepo) ListPendingSync(ctx context.Context) ([]model.DespachoSyncRow, error) {
	var rows []model.DespachoSyncRow
	err := r.db.WithContext(ctx).Order("id ASC").Find(&rows).Error
	return rows, err
}

func (r *despachoRepo) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Despacho{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
