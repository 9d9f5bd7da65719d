package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"control-despacho/backend/internal/dto"
	"control-despacho/backend/internal/model"
	"control-despacho/backend/internal/repository"
	apperrors "control-despacho/backend/pkg/errors"
	"control-despacho/backend/pkg/jwt"
	"control-despacho/backend/pkg/metrics"
	"control-despacho/backend/pkg/ratelimit"
)

// ── 认证模块业务错误 ──
// 凭证类错误统一使用模糊提示，不暴露用户是否存在

var (
	ErrInvalidCredentials = apperrors.New(apperrors.ErrAuthentication, "Usuario o contraseña incorrectos")
	ErrUserNotFound       = apperrors.New(apperrors.ErrNotFound, "Usuario no encontrado")
	ErrWrongPassword      = apperrors.New(apperrors.ErrValidation, "La contraseña actual es incorrecta")
)

// RateLimitError 登录尝试过多，携带冷却时间
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("Demasiados intentos de inicio de sesión. Intenta de nuevo en %d segundos.", secs)
}

// Unwrap 使 errors.Is(err, apperrors.ErrRateLimited) 成立
func (e *RateLimitError) Unwrap() error { return apperrors.ErrRateLimited }

// TokenBlacklist 令牌黑名单能力（Redis 实现），可为 nil
type TokenBlacklist interface {
	BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error
}

// AuthService 认证业务接口
type AuthService interface {
	// Login clientIP 作为限流键
	Login(ctx context.Context, req *dto.LoginRequest, clientIP string) (*dto.LoginResponse, error)
	Logout(ctx context.Context, claims *jwt.Claims) error
	Me(ctx context.Context, caller Caller) (*dto.UserResponse, error)
	ChangePassword(ctx context.Context, req *dto.ChangePasswordRequest, caller Caller) error
}

type authService struct {
	repo      *repository.Repository
	jwtMgr    *jwt.Manager
	limiter   ratelimit.Limiter
	blacklist TokenBlacklist
	dummyHash []byte
	now       func() time.Time
	logger    *zap.Logger
}

// NewAuthService 创建 AuthService 实例
func NewAuthService(
	repo *repository.Repository,
	jwtMgr *jwt.Manager,
	limiter ratelimit.Limiter,
	blacklist TokenBlacklist,
	logger *zap.Logger,
) AuthService {
	// 用户不存在时也执行一次 bcrypt 比较，使响应时间一致
	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), bcrypt.DefaultCost)
	if err != nil {
		logger.Warn("生成占位哈希失败", zap.Error(err))
	}
	return &authService{
		repo:      repo,
		jwtMgr:    jwtMgr,
		limiter:   limiter,
		blacklist: blacklist,
		dummyHash: dummy,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// ────────────────────── Login ──────────────────────

func (s *authService) Login(ctx context.Context, req *dto.LoginRequest, clientIP string) (*dto.LoginResponse, error) {
	// 1. 限流（限流后端故障时放行）
	if s.limiter != nil {
		res, err := s.limiter.Consume(ctx, clientIP)
		if err != nil {
			s.logger.Warn("登录限流检查失败，放行", zap.String("ip", clientIP), zap.Error(err))
		} else if !res.Allowed {
			metrics.LoginAttemptsTotal.WithLabelValues("rate_limited").Inc()
			return nil, &RateLimitError{RetryAfter: res.RetryAfter}
		}
	}

	// 2. 查询用户
	user, err := s.repo.User.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(req.Password))
			metrics.LoginAttemptsTotal.WithLabelValues("invalid").Inc()
			return nil, ErrInvalidCredentials
		}
		s.logger.Error("查询用户失败", zap.Error(err))
		return nil, err
	}

	// 3. 验证密码 (bcrypt)
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidCredentials
	}
	if !user.CanLogin() {
		metrics.LoginAttemptsTotal.WithLabelValues("inactive").Inc()
		return nil, ErrInvalidCredentials
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, clientIP); err != nil {
			s.logger.Warn("重置登录限流失败", zap.String("ip", clientIP), zap.Error(err))
		}
	}

	// 4. 签发会话令牌
	roleName := user.RoleID.Name()
	if user.Role != nil {
		roleName = user.Role.Name
	}
	token, exp, err := s.jwtMgr.GenerateSessionToken(jwt.Subject{
		UserID:   user.ID,
		Username: user.Username,
		RoleID:   int(user.RoleID),
		RoleName: roleName,
	})
	if err != nil {
		s.logger.Error("生成会话令牌失败", zap.Error(err))
		return nil, err
	}

	// 5. 在线状态（失败不影响登录）
	session := &model.UserSession{
		ExternalUserID: user.ID,
		Username:       user.Username,
		RoleID:         user.RoleID,
		RoleName:       roleName,
		LastActive:     s.now(),
		Status:         model.SessionOnline,
	}
	if err := s.repo.Session.Upsert(ctx, session); err != nil {
		s.logger.Warn("更新在线状态失败", zap.Uint("user_id", user.ID), zap.Error(err))
	}

	metrics.LoginAttemptsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("用户登录", zap.Uint("user_id", user.ID), zap.String("username", user.Username))

	return &dto.LoginResponse{
		Token:     token,
		ExpiresAt: exp.UTC().Format(time.RFC3339),
		User:      *toUserResponse(user),
	}, nil
}

// ────────────────────── Logout ──────────────────────

func (s *authService) Logout(ctx context.Context, claims *jwt.Claims) error {
	if err := s.repo.Session.MarkOffline(ctx, claims.UserID, s.now()); err != nil {
		s.logger.Warn("标记离线失败", zap.Uint("user_id", claims.UserID), zap.Error(err))
	}

	if s.blacklist == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	if err := s.blacklist.BlacklistToken(ctx, claims.ID, ttl); err != nil {
		s.logger.Error("写入令牌黑名单失败", zap.String("jti", claims.ID), zap.Error(err))
		return err
	}
	return nil
}

// ────────────────────── Me / ChangePassword ──────────────────────

func (s *authService) Me(ctx context.Context, caller Caller) (*dto.UserResponse, error) {
	user, err := s.repo.User.GetByID(ctx, caller.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		s.logger.Error("查询用户失败", zap.Uint("id", caller.UserID), zap.Error(err))
		return nil, err
	}
	return toUserResponse(user), nil
}

func (s *authService) ChangePassword(ctx context.Context, req *dto.ChangePasswordRequest, caller Caller) error {
	user, err := s.repo.User.GetByID(ctx, caller.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.OldPassword)); err != nil {
		return ErrWrongPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error("密码哈希失败", zap.Error(err))
		return err
	}
	user.Password = string(hash)

	if err := s.repo.User.Update(ctx, user); err != nil {
		s.logger.Error("更新密码失败", zap.Uint("id", user.ID), zap.Error(err))
		return err
	}
	return nil
}
