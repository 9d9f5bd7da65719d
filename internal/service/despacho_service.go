package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"control-despacho/backend/internal/dto"
	"control-despacho/backend/internal/model"
	"control-despacho/backend/internal/realtime"
	"control-despacho/backend/internal/repository"
	apperrors "control-despacho/backend/pkg/errors"
	"control-despacho/backend/pkg/metrics"
)

// ── 作业模块业务错误 ──

var (
	ErrDespachoNotFound     = apperrors.New(apperrors.ErrNotFound, "Despacho no encontrado")
	ErrDespachoForbidden    = apperrors.New(apperrors.ErrAuthorization, "Tu rol no puede realizar esta acción sobre el despacho")
	ErrDespachoNotAssigned  = apperrors.New(apperrors.ErrAuthorization, "El despacho no está asignado a este usuario")
	ErrDespachoInvalidState = apperrors.New(apperrors.ErrInvalidState, "El despacho no está en el estado requerido para esta acción")
	ErrInvalidPlate         = apperrors.New(apperrors.ErrValidation, "La placa debe ser alfanumérica de hasta 10 caracteres")
	ErrInvalidDispatchPoint = apperrors.New(apperrors.ErrValidation, "El punto de despacho es obligatorio (máximo 50 caracteres)")
	ErrInvalidLoader        = apperrors.New(apperrors.ErrValidation, "El usuario asignado debe ser un enlonador activo")
	ErrInvalidTargetState   = apperrors.New(apperrors.ErrValidation, "Estado destino inválido")
	ErrTimestampMismatch    = apperrors.New(apperrors.ErrValidation, "El campo de fecha no corresponde al estado destino")
	ErrInvalidDate          = apperrors.New(apperrors.ErrValidation, "Fecha inválida, use el formato AAAA-MM-DD")
)

// DespachoService 作业生命周期业务接口
type DespachoService interface {
	Create(ctx context.Context, req *dto.CreateDespachoRequest, caller Caller) (*model.Despacho, error)
	Get(ctx context.Context, id uint, caller Caller) (*model.Despacho, error)
	List(ctx context.Context, q *dto.DespachoListQuery, caller Caller) ([]model.Despacho, error)
	Assign(ctx context.Context, id, loaderID uint, caller Caller) (*model.Despacho, error)
	Accept(ctx context.Context, id uint, caller Caller) (*model.Despacho, error)
	Start(ctx context.Context, id uint, caller Caller) (*model.Despacho, error)
	Complete(ctx context.Context, id uint, caller Caller) (*model.Despacho, error)
	// Advance 按请求中的目标状态分派到 Accept/Start/Complete
	Advance(ctx context.Context, id uint, req *dto.UpdateEstadoRequest, caller Caller) (*model.Despacho, error)
	ListArchived(ctx context.Context) ([]dto.ArchivedDespachoResponse, error)
}

type despachoService struct {
	repo      *repository.Repository
	publisher realtime.Publisher
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger
}

// NewDespachoService 创建 DespachoService 实例
// loc 为按日筛选使用的业务时区
func NewDespachoService(repo *repository.Repository, publisher realtime.Publisher, loc *time.Location, logger *zap.Logger) DespachoService {
	if loc == nil {
		loc = time.UTC
	}
	return &despachoService{
		repo:      repo,
		publisher: publisher,
		loc:       loc,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// ────────────────────── Create ──────────────────────

func (s *despachoService) Create(ctx context.Context, req *dto.CreateDespachoRequest, caller Caller) (*model.Despacho, error) {
	if !caller.Is(model.RoleOperator, model.RoleAdmin) {
		s.record("create", ErrDespachoForbidden)
		return nil, ErrDespachoForbidden
	}

	point := strings.TrimSpace(req.PuntoDespacho)
	if point == "" || len([]rune(point)) > 50 {
		return nil, ErrInvalidDispatchPoint
	}
	plate, ok := model.NormalizePlate(req.PlacaCabezal)
	if !ok {
		return nil, ErrInvalidPlate
	}

	d := &model.Despacho{
		DispatchPoint: point,
		TruckPlate:    plate,
		Status:        model.StatusPending,
		RegisteredAt:  s.now(),
		OperatorID:    caller.UserID,
	}
	if err := s.repo.Despacho.Create(ctx, d); err != nil {
		s.logger.Error("创建作业失败", zap.Uint("operator_id", caller.UserID), zap.Error(err))
		s.record("create", err)
		return nil, err
	}

	s.record("create", nil)
	publishEvent(ctx, s.publisher, s.logger, realtime.TableDespachos, realtime.EventInsert, d)
	return d, nil
}

// ────────────────────── Get / List ──────────────────────

func (s *despachoService) Get(ctx context.Context, id uint, caller Caller) (*model.Despacho, error) {
	d, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	// enlonador 只能查看指派给自己的作业
	if caller.Is(model.RoleLoader) && !d.IsAssignedTo(caller.UserID) {
		return nil, ErrDespachoNotAssigned
	}
	return d, nil
}

func (s *despachoService) List(ctx context.Context, q *dto.DespachoListQuery, caller Caller) ([]model.Despacho, error) {
	filter := &repository.DespachoFilter{}

	if q != nil && q.Fecha != "" {
		day, err := time.ParseInLocation("2006-01-02", q.Fecha, s.loc)
		if err != nil {
			return nil, ErrInvalidDate
		}
		from, to := day.UTC(), day.AddDate(0, 0, 1).UTC()
		filter.From, filter.To = &from, &to
	}

	self := caller.UserID
	switch {
	case caller.Is(model.RoleLoader):
		filter.LoaderID = &self
	case q != nil && q.Assigned:
		// 由本人（supervisor）指派的作业
		filter.SupervisorID = &self
	case q != nil && q.Mine:
		filter.OperatorID = &self
	}

	list, err := s.repo.Despacho.List(ctx, filter)
	if err != nil {
		s.logger.Error("查询作业列表失败", zap.Error(err))
		return nil, err
	}
	return list, nil
}

// ────────────────────── Assign ──────────────────────

func (s *despachoService) Assign(ctx context.Context, id, loaderID uint, caller Caller) (*model.Despacho, error) {
	if !caller.Is(model.RoleSupervisor, model.RoleAdmin) {
		s.record("assign", ErrDespachoForbidden)
		return nil, ErrDespachoForbidden
	}

	d, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != model.StatusPending {
		s.record("assign", ErrDespachoInvalidState)
		return nil, ErrDespachoInvalidState
	}

	loader, err := s.repo.User.GetByID(ctx, loaderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidLoader
		}
		s.logger.Error("查询 enlonador 失败", zap.Uint("loader_id", loaderID), zap.Error(err))
		return nil, err
	}
	if loader.RoleID != model.RoleLoader || !loader.CanLogin() {
		return nil, ErrInvalidLoader
	}

	if err := s.repo.Despacho.Assign(ctx, id, caller.UserID, loaderID); err != nil {
		s.record("assign", err)
		if !errors.Is(err, apperrors.ErrOptimisticLock) {
			s.logger.Error("指派作业失败", zap.Uint("id", id), zap.Error(err))
		}
		return nil, err
	}

	updated, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.record("assign", nil)
	publishEvent(ctx, s.publisher, s.logger, realtime.TableDespachos, realtime.EventUpdate, updated)
	return updated, nil
}

// ────────────────────── 状态推进 ──────────────────────

func (s *despachoService) Accept(ctx context.Context, id uint, caller Caller) (*model.Despacho, error) {
	return s.transition(ctx, id, model.StatusAccepted, caller)
}

func (s *despachoService) Start(ctx context.Context, id uint, caller Caller) (*model.Despacho, error) {
	return s.transition(ctx, id, model.StatusInProcess, caller)
}

func (s *despachoService) Complete(ctx context.Context, id uint, caller Caller) (*model.Despacho, error) {
	return s.transition(ctx, id, model.StatusCompleted, caller)
}

func (s *despachoService) Advance(ctx context.Context, id uint, req *dto.UpdateEstadoRequest, caller Caller) (*model.Despacho, error) {
	t, ok := model.TransitionTo(model.DespachoStatus(req.Estado))
	if !ok {
		return nil, ErrInvalidTargetState
	}
	if req.CampoFecha != "" && req.CampoFecha != t.TimestampColumn {
		return nil, ErrTimestampMismatch
	}
	return s.transition(ctx, id, t.To, caller)
}

// transition 先校验身份，再校验前置状态，最后以状态为前置条件写库
func (s *despachoService) transition(ctx context.Context, id uint, target model.DespachoStatus, caller Caller) (*model.Despacho, error) {
	t, ok := model.TransitionTo(target)
	if !ok {
		return nil, ErrInvalidTargetState
	}

	d, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case caller.Is(model.RoleAdmin):
	case caller.Is(model.RoleLoader):
		if !d.IsAssignedTo(caller.UserID) {
			s.record(t.Name, ErrDespachoNotAssigned)
			return nil, ErrDespachoNotAssigned
		}
	default:
		s.record(t.Name, ErrDespachoForbidden)
		return nil, ErrDespachoForbidden
	}

	if d.Status != t.From {
		s.record(t.Name, ErrDespachoInvalidState)
		return nil, ErrDespachoInvalidState
	}

	at := s.now()
	if err := s.repo.Despacho.Transition(ctx, id, t, at); err != nil {
		s.record(t.Name, err)
		if !errors.Is(err, apperrors.ErrOptimisticLock) {
			s.logger.Error("推进作业状态失败",
				zap.Uint("id", id),
				zap.String("transition", t.Name),
				zap.Error(err),
			)
		}
		return nil, err
	}

	// 写库以状态为前置条件，成功即说明内存中的行与库一致
	d.Apply(t, at)
	s.record(t.Name, nil)
	publishEvent(ctx, s.publisher, s.logger, realtime.TableDespachos, realtime.EventUpdate, d)
	return d, nil
}

// ────────────────────── 归档列表 ──────────────────────

func (s *despachoService) ListArchived(ctx context.Context) ([]dto.ArchivedDespachoResponse, error) {
	list, err := s.repo.Archive.List(ctx)
	if err != nil {
		s.logger.Error("查询归档作业失败", zap.Error(err))
		return nil, err
	}

	result := make([]dto.ArchivedDespachoResponse, 0, len(list))
	for i := range list {
		result = append(result, toArchivedResponse(&list[i]))
	}
	return result, nil
}

// ── 辅助函数 ──

func (s *despachoService) load(ctx context.Context, id uint) (*model.Despacho, error) {
	d, err := s.repo.Despacho.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDespachoNotFound
		}
		s.logger.Error("查询作业失败", zap.Uint("id", id), zap.Error(err))
		return nil, err
	}
	return d, nil
}

func (s *despachoService) record(transition string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrAuthorization):
		result = "forbidden"
	case errors.Is(err, apperrors.ErrInvalidState):
		result = "invalid_state"
	case errors.Is(err, apperrors.ErrOptimisticLock):
		result = "conflict"
	default:
		result = "error"
	}
	metrics.DespachoTransitionsTotal.WithLabelValues(transition, result).Inc()
}

func toArchivedResponse(a *model.ArchivedDespacho) dto.ArchivedDespachoResponse {
	return dto.ArchivedDespachoResponse{
		ID:              a.ID,
		RegisterID:      a.RegisterID,
		PuntoDespacho:   a.DispatchPoint,
		PlacaCabezal:    a.TruckPlate,
		Estado:          string(a.Status),
		FechaRegistro:   a.RegisteredAt.UTC().Format(time.RFC3339),
		FechaAceptacion: formatOptional(a.AcceptedAt),
		FechaEnProceso:  formatOptional(a.StartedAt),
		FechaCompletado: formatOptional(a.CompletedAt),
		Operador:        fullName(a.Operator),
		Supervisor:      fullName(a.Supervisor),
		Enlonador:       fullName(a.Loader),
	}
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func fullName(u *model.User) string {
	if u == nil {
		return ""
	}
	return u.FullName
}
