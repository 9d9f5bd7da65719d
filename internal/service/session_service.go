package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"control-despacho/backend/internal/dto"
	"control-despacho/backend/internal/repository"
)

// SessionService 在线状态业务接口
type SessionService interface {
	List(ctx context.Context) ([]dto.SessionResponse, error)
	// SweepStale 将超过 staleAfter 未活动的在线会话标记为离线
	SweepStale(ctx context.Context) (int64, error)
}

type sessionService struct {
	repo       *repository.Repository
	staleAfter time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// NewSessionService 创建 SessionService 实例
func NewSessionService(repo *repository.Repository, staleAfter time.Duration, logger *zap.Logger) SessionService {
	return &sessionService{
		repo:       repo,
		staleAfter: staleAfter,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}
}

func (s *sessionService) List(ctx context.Context) ([]dto.SessionResponse, error) {
	list, err := s.repo.Session.List(ctx)
	if err != nil {
		s.logger.Error("查询在线状态失败", zap.Error(err))
		return nil, err
	}

	result := make([]dto.SessionResponse, 0, len(list))
	for _, sess := range list {
		result = append(result, dto.SessionResponse{
			UserID:     sess.ExternalUserID,
			Username:   sess.Username,
			RoleID:     int(sess.RoleID),
			RoleName:   sess.RoleName,
			Status:     string(sess.Status),
			LastActive: sess.LastActive.UTC().Format(time.RFC3339),
		})
	}
	return result, nil
}

func (s *sessionService) SweepStale(ctx context.Context) (int64, error) {
	if s.staleAfter <= 0 {
		return 0, nil
	}
	n, err := s.repo.Session.MarkStaleOffline(ctx, s.now().Add(-s.staleAfter))
	if err != nil {
		s.logger.Error("清理过期会话失败", zap.Error(err))
		return 0, err
	}
	if n > 0 {
		s.logger.Info("过期会话已标记离线", zap.Int64("count", n))
	}
	return n, nil
}
