package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"control-despacho/backend/internal/model"
)

// UserRepository 用户数据访问接口（归档库）
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id uint) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	Update(ctx context.Context, user *model.User) error
	// List 返回未删除的用户
	List(ctx context.Context) ([]model.User, error)
	// LockActiveAdminIDs 锁定并返回全部有效管理员 ID（需在事务内调用）
	LockActiveAdminIDs(ctx context.Context) ([]uint, error)
	// Transaction 在同一事务内执行 fn
	Transaction(ctx context.Context, fn func(tx UserRepository) error) error
}

// userRepo UserRepository 的 GORM 实现
type userRepo struct {
	db *gorm.DB
}

// NewUserRepo 创建 UserRepository 实例
func NewUserRepo(db *gorm.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(user).Error
}

func (r *userRepo) GetByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).
		Preload("Role").
		Where("id = ?", id).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).
		Preload("Role").
		Where("username = ?", username).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) Update(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(user).Error
}

func (r *userRepo) List(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := r.db.WithContext(ctx).
		Preload("Role").
		Where("eliminado = ?", false).
		Order("id ASC").
		Find(&users).Error
	return users, err
}

func (r *userRepo) LockActiveAdminIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&model.User{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("role_id = ? AND activo = ? AND eliminado = ?", model.RoleAdmin, true, false).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *userRepo) Transaction(ctx context.Context, fn func(tx UserRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&userRepo{db: tx})
	})
}

// ── Role ──

// RoleRepository 角色数据访问接口
type RoleRepository interface {
	List(ctx context.Context) ([]model.Role, error)
	// EnsureDefaults 写入四个内置角色，已存在则跳过
	EnsureDefaults(ctx context.Context) error
}

type roleRepo struct {
	db *gorm.DB
}

// NewRoleRepo 创建 RoleRepository 实例
func NewRoleRepo(db *gorm.DB) RoleRepository {
	return &roleRepo{db: db}
}

func (r *roleRepo) List(ctx context.Context) ([]model.Role, error) {
	var roles []model.Role
	err := r.db.WithContext(ctx).Order("id ASC").Find(&roles).Error
	return roles, err
}

func (r *roleRepo) EnsureDefaults(ctx context.Context) error {
	roles := make([]model.Role, 0, len(model.AllRoles()))
	for _, id := range model.AllRoles() {
		roles = append(roles, model.Role{ID: id, Name: id.Name()})
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&roles).Error
}
