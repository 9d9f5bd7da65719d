package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"control-despacho/backend/internal/dto"
	"control-despacho/backend/internal/model"
	"control-despacho/backend/internal/realtime"
	"control-despacho/backend/internal/repository"
	apperrors "control-despacho/backend/pkg/errors"
)

// ── 定位模块业务错误 ──

var (
	ErrLocationNotFound  = apperrors.New(apperrors.ErrNotFound, "No hay ubicación registrada")
	ErrLocationForbidden = apperrors.New(apperrors.ErrAuthorization, "Solo un enlonador activo puede reportar ubicación")
	ErrInvalidCoordinate = apperrors.New(apperrors.ErrValidation, "Coordenadas inválidas")
)

// LocationService 设备定位业务接口
type LocationService interface {
	// Record 保存调用者的最新定位，每个用户只保留一行
	Record(ctx context.Context, req *dto.LocationRequest, caller Caller) (*dto.LocationResponse, error)
	Latest(ctx context.Context, caller Caller) (*dto.LocationResponse, error)
	ListAll(ctx context.Context) ([]dto.DeviceLocationResponse, error)
	// RecordForDevice 设备通道（MQTT）上报，按用户 ID 校验身份
	RecordForDevice(ctx context.Context, userID uint, lat, lng float64) error
}

type locationService struct {
	repo      *repository.Repository
	publisher realtime.Publisher
	now       func() time.Time
	logger    *zap.Logger
}

// NewLocationService 创建 LocationService 实例
func NewLocationService(repo *repository.Repository, publisher realtime.Publisher, logger *zap.Logger) LocationService {
	return &locationService{
		repo:      repo,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// ────────────────────── Record ──────────────────────

func (s *locationService) Record(ctx context.Context, req *dto.LocationRequest, caller Caller) (*dto.LocationResponse, error) {
	if !caller.Is(model.RoleLoader) {
		return nil, ErrLocationForbidden
	}
	if req.Latitude == nil || req.Longitude == nil {
		return nil, ErrInvalidCoordinate
	}

	loc, err := s.save(ctx, caller.UserID, *req.Latitude, *req.Longitude)
	if err != nil {
		return nil, err
	}
	return toLocationResponse(loc), nil
}

func (s *locationService) RecordForDevice(ctx context.Context, userID uint, lat, lng float64) error {
	user, err := s.repo.User.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLocationForbidden
		}
		return err
	}
	if user.RoleID != model.RoleLoader || !user.CanLogin() {
		return ErrLocationForbidden
	}

	_, err = s.save(ctx, userID, lat, lng)
	return err
}

// save 更新最新一行并删除其余行；不存在时新建
func (s *locationService) save(ctx context.Context, userID uint, lat, lng float64) (*model.DeviceLocation, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, ErrInvalidCoordinate
	}

	existing, err := s.repo.DeviceLocation.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error("查询定位失败", zap.Uint("user_id", userID), zap.Error(err))
		return nil, err
	}

	now := s.now()
	var loc *model.DeviceLocation
	eventType := realtime.EventUpdate

	if len(existing) == 0 {
		loc = &model.DeviceLocation{UserID: userID, Latitude: lat, Longitude: lng, UpdatedAt: now}
		if err := s.repo.DeviceLocation.Create(ctx, loc); err != nil {
			s.logger.Error("保存定位失败", zap.Uint("user_id", userID), zap.Error(err))
			return nil, err
		}
		eventType = realtime.EventInsert
	} else {
		loc = &existing[0]
		loc.Latitude, loc.Longitude, loc.UpdatedAt = lat, lng, now
		if err := s.repo.DeviceLocation.Update(ctx, loc); err != nil {
			s.logger.Error("更新定位失败", zap.Uint("user_id", userID), zap.Error(err))
			return nil, err
		}

		if len(existing) > 1 {
			stale := make([]uint, 0, len(existing)-1)
			for _, l := range existing[1:] {
				stale = append(stale, l.ID)
			}
			if err := s.repo.DeviceLocation.DeleteByIDs(ctx, stale); err != nil {
				s.logger.Warn("清理旧定位失败", zap.Uint("user_id", userID), zap.Error(err))
			}
		}
	}

	publishEvent(ctx, s.publisher, s.logger, realtime.TableDeviceLocations, eventType, toLocationResponse(loc))
	return loc, nil
}

// ────────────────────── Latest / ListAll ──────────────────────

func (s *locationService) Latest(ctx context.Context, caller Caller) (*dto.LocationResponse, error) {
	list, err := s.repo.DeviceLocation.ListByUser(ctx, caller.UserID)
	if err != nil {
		s.logger.Error("查询定位失败", zap.Uint("user_id", caller.UserID), zap.Error(err))
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrLocationNotFound
	}
	return toLocationResponse(&list[0]), nil
}

func (s *locationService) ListAll(ctx context.Context) ([]dto.DeviceLocationResponse, error) {
	list, err := s.repo.DeviceLocation.ListAll(ctx)
	if err != nil {
		s.logger.Error("查询设备定位失败", zap.Error(err))
		return nil, err
	}

	result := make([]dto.DeviceLocationResponse, 0, len(list))
	for i := range list {
		item := dto.DeviceLocationResponse{LocationResponse: *toLocationResponse(&list[i])}
		if u := list[i].User; u != nil {
			item.Username = u.Username
			item.NombreCompleto = u.FullName
		}
		result = append(result, item)
	}
	return result, nil
}

func toLocationResponse(loc *model.DeviceLocation) *dto.LocationResponse {
	return &dto.LocationResponse{
		UserID:    loc.UserID,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		UpdatedAt: loc.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
