package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"control-despacho/backend/internal/dto"
	"control-despacho/backend/internal/model"
	"control-despacho/backend/internal/repository"
	apperrors "control-despacho/backend/pkg/errors"
)

// ── 用户模块业务错误 ──

var (
	ErrUsernameExists      = apperrors.New(apperrors.ErrValidation, "El nombre de usuario ya existe")
	ErrInvalidRole         = apperrors.New(apperrors.ErrValidation, "Rol inválido")
	ErrLastAdminDeactivate = apperrors.New(apperrors.ErrLastAdmin, "No se puede desactivar porque solo hay un usuario administrador activo")
	ErrLastAdminRoleChange = apperrors.New(apperrors.ErrLastAdmin, "No se puede cambiar el rol porque solo hay un usuario administrador activo")
	ErrLastAdminDelete     = apperrors.New(apperrors.ErrLastAdmin, "No se puede eliminar porque solo hay un usuario administrador activo")
)

// UserService 用户业务接口（管理员）
type UserService interface {
	Create(ctx context.Context, req *dto.CreateUserRequest) (*dto.UserResponse, error)
	GetByID(ctx context.Context, id uint) (*dto.UserResponse, error)
	List(ctx context.Context) ([]dto.UserResponse, error)
	Update(ctx context.Context, id uint, req *dto.UpdateUserRequest) (*dto.UserResponse, error)
	// Delete 软删除：eliminado=true 且 activo=false
	Delete(ctx context.Context, id uint) error
	ListRoles(ctx context.Context) ([]dto.RoleResponse, error)
}

type userService struct {
	repo   *repository.Repository
	logger *zap.Logger
}

// NewUserService 创建 UserService 实例
func NewUserService(repo *repository.Repository, logger *zap.Logger) UserService {
	return &userService{repo: repo, logger: logger}
}

// ────────────────────── Create ──────────────────────

func (s *userService) Create(ctx context.Context, req *dto.CreateUserRequest) (*dto.UserResponse, error) {
	role := model.RoleID(req.RoleID)
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	username := strings.TrimSpace(req.Username)
	if err := s.ensureUsernameFree(ctx, username, 0); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error("密码哈希失败", zap.Error(err))
		return nil, err
	}

	user := &model.User{
		Username: username,
		FullName: strings.TrimSpace(req.NombreCompleto),
		Code:     strings.TrimSpace(req.Codigo),
		Email:    strings.TrimSpace(req.Email),
		Password: string(hash),
		RoleID:   role,
		Active:   true,
	}
	if err := s.repo.User.Create(ctx, user); err != nil {
		s.logger.Error("创建用户失败", zap.String("username", username), zap.Error(err))
		return nil, err
	}

	s.logger.Info("用户已创建", zap.Uint("id", user.ID), zap.String("username", username))
	return s.GetByID(ctx, user.ID)
}

// ────────────────────── GetByID / List ──────────────────────

func (s *userService) GetByID(ctx context.Context, id uint) (*dto.UserResponse, error) {
	user, err := s.load(ctx, s.repo.User, id)
	if err != nil {
		return nil, err
	}
	return toUserResponse(user), nil
}

func (s *userService) List(ctx context.Context) ([]dto.UserResponse, error) {
	users, err := s.repo.User.List(ctx)
	if err != nil {
		s.logger.Error("查询用户列表失败", zap.Error(err))
		return nil, err
	}

	result := make([]dto.UserResponse, 0, len(users))
	for i := range users {
		result = append(result, *toUserResponse(&users[i]))
	}
	return result, nil
}

// ────────────────────── Update ──────────────────────

func (s *userService) Update(ctx context.Context, id uint, req *dto.UpdateUserRequest) (*dto.UserResponse, error) {
	if req.RoleID != nil && !model.RoleID(*req.RoleID).Valid() {
		return nil, ErrInvalidRole
	}

	err := s.repo.User.Transaction(ctx, func(tx repository.UserRepository) error {
		user, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}

		// 有效管理员被降级或停用前，确认还有其他有效管理员
		if user.IsActiveAdmin() {
			deactivating := req.Activo != nil && !*req.Activo
			demoting := req.RoleID != nil && model.RoleID(*req.RoleID) != model.RoleAdmin
			if deactivating || demoting {
				only, err := s.isOnlyActiveAdmin(ctx, tx, user.ID)
				if err != nil {
					return err
				}
				if only && deactivating {
					return ErrLastAdminDeactivate
				}
				if only {
					return ErrLastAdminRoleChange
				}
			}
		}

		if req.Username != nil {
			username := strings.TrimSpace(*req.Username)
			if username != user.Username {
				if err := s.ensureUsernameFreeTx(ctx, tx, username, user.ID); err != nil {
					return err
				}
				user.Username = username
			}
		}
		if req.NombreCompleto != nil {
			user.FullName = strings.TrimSpace(*req.NombreCompleto)
		}
		if req.Codigo != nil {
			user.Code = strings.TrimSpace(*req.Codigo)
		}
		if req.Email != nil {
			user.Email = strings.TrimSpace(*req.Email)
		}
		if req.Password != nil && *req.Password != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			user.Password = string(hash)
		}
		if req.RoleID != nil {
			user.RoleID = model.RoleID(*req.RoleID)
		}
		if req.Activo != nil {
			user.Active = *req.Activo
		}
		user.UpdatedAt = time.Now().UTC()

		return tx.Update(ctx, user)
	})
	if err != nil {
		if !isBusinessError(err) {
			s.logger.Error("更新用户失败", zap.Uint("id", id), zap.Error(err))
		}
		return nil, err
	}

	return s.GetByID(ctx, id)
}

// ────────────────────── Delete ──────────────────────

func (s *userService) Delete(ctx context.Context, id uint) error {
	err := s.repo.User.Transaction(ctx, func(tx repository.UserRepository) error {
		user, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}

		if user.IsActiveAdmin() {
			only, err := s.isOnlyActiveAdmin(ctx, tx, user.ID)
			if err != nil {
				return err
			}
			if only {
				return ErrLastAdminDelete
			}
		}

		user.Deleted = true
		user.Active = false
		user.UpdatedAt = time.Now().UTC()
		return tx.Update(ctx, user)
	})
	if err != nil {
		if !isBusinessError(err) {
			s.logger.Error("删除用户失败", zap.Uint("id", id), zap.Error(err))
		}
		return err
	}

	s.logger.Info("用户已删除", zap.Uint("id", id))
	return nil
}

// ────────────────────── ListRoles ──────────────────────

func (s *userService) ListRoles(ctx context.Context) ([]dto.RoleResponse, error) {
	roles, err := s.repo.Role.List(ctx)
	if err != nil {
		s.logger.Error("查询角色失败", zap.Error(err))
		return nil, err
	}

	result := make([]dto.RoleResponse, 0, len(roles))
	for _, r := range roles {
		result = append(result, dto.RoleResponse{ID: int(r.ID), Name: r.Name})
	}
	return result, nil
}

// ── 内部辅助方法 ──

func (s *userService) load(ctx context.Context, users repository.UserRepository, id uint) (*model.User, error) {
	user, err := users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if user.Deleted {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// isOnlyActiveAdmin 锁定有效管理员行后判断 id 是否为唯一一个
func (s *userService) isOnlyActiveAdmin(ctx context.Context, tx repository.UserRepository, id uint) (bool, error) {
	ids, err := tx.LockActiveAdminIDs(ctx)
	if err != nil {
		return false, err
	}
	for _, other := range ids {
		if other != id {
			return false, nil
		}
	}
	return true, nil
}

func (s *userService) ensureUsernameFree(ctx context.Context, username string, selfID uint) error {
	return s.ensureUsernameFreeTx(ctx, s.repo.User, username, selfID)
}

func (s *userService) ensureUsernameFreeTx(ctx context.Context, users repository.UserRepository, username string, selfID uint) error {
	existing, err := users.GetByUsername(ctx, username)
	if err == nil {
		if existing.ID != selfID {
			return ErrUsernameExists
		}
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}

// isBusinessError 判断是否为带类别的业务错误（无需记录错误日志）
func isBusinessError(err error) bool {
	var appErr *apperrors.Error
	return errors.As(err, &appErr)
}

func toUserResponse(u *model.User) *dto.UserResponse {
	roleName := u.RoleID.Name()
	if u.Role != nil {
		roleName = u.Role.Name
	}
	resp := &dto.UserResponse{
		ID:             u.ID,
		Username:       u.Username,
		NombreCompleto: u.FullName,
		Codigo:         u.Code,
		Email:          u.Email,
		RoleID:         int(u.RoleID),
		RoleName:       roleName,
		Activo:         u.Active,
	}
	if !u.CreatedAt.IsZero() {
		resp.CreatedAt = u.CreatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
