package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"control-despacho/backend/internal/dto"
	"control-despacho/backend/internal/model"
	"control-despacho/backend/internal/realtime"
	apperrors "control-despacho/backend/pkg/errors"
)

// ── 测试夹具 ──

type despachoFixture struct {
	repos      *testRepos
	pub        *recordingPublisher
	svc        *despachoService
	admin      Caller
	operator   Caller
	supervisor Caller
	loader     Caller
	loader2    Caller
	clock      time.Time
}

func newDespachoFixture() *despachoFixture {
	repos := newTestRepos()
	pub := &recordingPublisher{}
	f := &despachoFixture{
		repos: repos,
		pub:   pub,
		clock: time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC),
	}

	caller := func(u *model.User) Caller {
		return Caller{UserID: u.ID, Username: u.Username, RoleID: u.RoleID}
	}
	f.admin = caller(repos.seedUser("admin", "Admin123!", model.RoleAdmin, true))
	f.operator = caller(repos.seedUser("operador", "secret123", model.RoleOperator, true))
	f.supervisor = caller(repos.seedUser("supervisor", "secret123", model.RoleSupervisor, true))
	f.loader = caller(repos.seedUser("enlonador", "secret123", model.RoleLoader, true))
	f.loader2 = caller(repos.seedUser("enlonador2", "secret123", model.RoleLoader, true))

	svc := NewDespachoService(repos.repo, pub, time.FixedZone("GT", -6*3600), zap.NewNop()).(*despachoService)
	svc.now = func() time.Time { return f.clock }
	f.svc = svc
	return f
}

func (f *despachoFixture) create(t *testing.T) *model.Despacho {
	t.Helper()
	d, err := f.svc.Create(context.Background(), &dto.CreateDespachoRequest{
		PuntoDespacho: "Bodega 1",
		PlacaCabezal:  "c123abc",
	}, f.operator)
	if err != nil {
		t.Fatalf("Create 应成功: %v", err)
	}
	return d
}

func (f *despachoFixture) assign(t *testing.T, id uint) {
	t.Helper()
	if _, err := f.svc.Assign(context.Background(), id, f.loader.UserID, f.supervisor); err != nil {
		t.Fatalf("Assign 应成功: %v", err)
	}
}

// ── Create 测试 ──

func TestDespachoCreate_Success(t *testing.T) {
	f := newDespachoFixture()
	d := f.create(t)

	if d.Status != model.StatusPending {
		t.Errorf("期望 PENDING，实际 %s", d.Status)
	}
	if d.TruckPlate != "C123ABC" {
		t.Errorf("车牌应规范化为大写，实际 %s", d.TruckPlate)
	}
	if d.OperatorID != f.operator.UserID {
		t.Errorf("operador_id 应为调用者")
	}
	if !d.RegisteredAt.Equal(f.clock) {
		t.Errorf("fecha_registro 应为当前时间")
	}
	if d.AcceptedAt != nil || d.StartedAt != nil || d.CompletedAt != nil || d.LoaderID != nil {
		t.Error("新建作业不应有后续时间戳或 enlonador")
	}
	if f.pub.count(realtime.TableDespachos, realtime.EventInsert) != 1 {
		t.Error("应发布一条 INSERT 事件")
	}
}

func TestDespachoCreate_RoleDenied(t *testing.T) {
	f := newDespachoFixture()
	req := &dto.CreateDespachoRequest{PuntoDespacho: "Bodega 1", PlacaCabezal: "C123"}

	for _, c := range []Caller{f.supervisor, f.loader} {
		_, err := f.svc.Create(context.Background(), req, c)
		if !errors.Is(err, ErrDespachoForbidden) || !errors.Is(err, apperrors.ErrAuthorization) {
			t.Errorf("角色 %d 期望 AuthorizationError，实际: %v", c.RoleID, err)
		}
	}

	if _, err := f.svc.Create(context.Background(), req, f.admin); err != nil {
		t.Errorf("管理员应可创建: %v", err)
	}
}

func TestDespachoCreate_Validation(t *testing.T) {
	f := newDespachoFixture()

	_, err := f.svc.Create(context.Background(), &dto.CreateDespachoRequest{PuntoDespacho: "Bodega", PlacaCabezal: "C-123"}, f.operator)
	if !errors.Is(err, ErrInvalidPlate) {
		t.Errorf("期望 ErrInvalidPlate，实际: %v", err)
	}

	_, err = f.svc.Create(context.Background(), &dto.CreateDespachoRequest{PuntoDespacho: "   ", PlacaCabezal: "C123"}, f.operator)
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("空 punto_despacho 期望 ValidationError，实际: %v", err)
	}
}

// ── 生命周期测试 ──

func TestDespachoLifecycle_Complete(t *testing.T) {
	f := newDespachoFixture()
	ctx := context.Background()
	d := f.create(t)
	f.assign(t, d.ID)

	f.clock = f.clock.Add(time.Minute)
	accepted, err := f.svc.Accept(ctx, d.ID, f.loader)
	if err != nil {
		t.Fatalf("Accept 应成功: %v", err)
	}
	if accepted.Status != model.StatusAccepted || accepted.AcceptedAt == nil {
		t.Fatalf("Accept 后状态异常: %+v", accepted)
	}

	f.clock = f.clock.Add(time.Minute)
	started, err := f.svc.Start(ctx, d.ID, f.loader)
	if err != nil {
		t.Fatalf("Start 应成功: %v", err)
	}

	f.clock = f.clock.Add(time.Minute)
	done, err := f.svc.Complete(ctx, d.ID, f.loader)
	if err != nil {
		t.Fatalf("Complete 应成功: %v", err)
	}

	if done.Status != model.StatusCompleted {
		t.Errorf("期望 COMPLETED，实际 %s", done.Status)
	}
	if !done.AcceptedAt.Equal(*accepted.AcceptedAt) || !done.StartedAt.Equal(*started.StartedAt) {
		t.Error("早先写入的时间戳不应被覆盖")
	}
	if !(done.RegisteredAt.Before(*done.AcceptedAt) &&
		done.AcceptedAt.Before(*done.StartedAt) &&
		done.StartedAt.Before(*done.CompletedAt)) {
		t.Error("时间戳应单调递增")
	}
	// assign + 3 次推进
	if got := f.pub.count(realtime.TableDespachos, realtime.EventUpdate); got != 4 {
		t.Errorf("期望 4 条 UPDATE 事件，实际 %d", got)
	}
}

func TestDespachoTransition_IdentityChecks(t *testing.T) {
	f := newDespachoFixture()
	ctx := context.Background()
	d := f.create(t)
	f.assign(t, d.ID)

	_, err := f.svc.Accept(ctx, d.ID, f.loader2)
	if !errors.Is(err, ErrDespachoNotAssigned) {
		t.Errorf("非指派 enlonador 期望 ErrDespachoNotAssigned，实际: %v", err)
	}

	for _, c := range []Caller{f.supervisor, f.operator} {
		_, err = f.svc.Accept(ctx, d.ID, c)
		if !errors.Is(err, ErrDespachoForbidden) {
			t.Errorf("角色 %d 期望 ErrDespachoForbidden，实际: %v", c.RoleID, err)
		}
	}

	got, _ := f.repos.despacho.GetByID(ctx, d.ID)
	if got.Status != model.StatusPending || got.AcceptedAt != nil {
		t.Error("被拒绝的操作不应修改记录")
	}

	// 管理员可代为推进
	if _, err := f.svc.Accept(ctx, d.ID, f.admin); err != nil {
		t.Errorf("管理员 Accept 应成功: %v", err)
	}
}

func TestDespachoTransition_InvalidState(t *testing.T) {
	f := newDespachoFixture()
	ctx := context.Background()
	d := f.create(t)
	f.assign(t, d.ID)

	_, err := f.svc.Start(ctx, d.ID, f.loader)
	if !errors.Is(err, ErrDespachoInvalidState) || !errors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("PENDING → IN_PROCESS 期望 InvalidStateError，实际: %v", err)
	}
	_, err = f.svc.Complete(ctx, d.ID, f.loader)
	if !errors.Is(err, ErrDespachoInvalidState) {
		t.Errorf("PENDING → COMPLETED 期望 InvalidStateError，实际: %v", err)
	}

	if _, err := f.svc.Accept(ctx, d.ID, f.loader); err != nil {
		t.Fatalf("Accept 应成功: %v", err)
	}
	_, err = f.svc.Accept(ctx, d.ID, f.loader)
	if !errors.Is(err, ErrDespachoInvalidState) {
		t.Errorf("重复 Accept 期望 InvalidStateError，实际: %v", err)
	}
}

func TestDespachoTransition_AuthorizationBeforeState(t *testing.T) {
	f := newDespachoFixture()
	d := f.create(t)
	f.assign(t, d.ID)

	// 状态不对且身份不对时，返回身份错误
	_, err := f.svc.Complete(context.Background(), d.ID, f.loader2)
	if !errors.Is(err, apperrors.ErrAuthorization) {
		t.Errorf("期望 AuthorizationError，实际: %v", err)
	}
}

func TestDespachoTransition_NotFound(t *testing.T) {
	f := newDespachoFixture()
	_, err := f.svc.Accept(context.Background(), 999, f.admin)
	if !errors.Is(err, ErrDespachoNotFound) {
		t.Errorf("期望 ErrDespachoNotFound，实际: %v", err)
	}
}

func TestDespachoTransition_ConcurrentAcceptSingleWinner(t *testing.T) {
	f := newDespachoFixture()
	d := f.create(t)
	f.assign(t, d.ID)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Accept(context.Background(), d.ID, f.loader)
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			if !errors.Is(err, apperrors.ErrOptimisticLock) && !errors.Is(err, apperrors.ErrInvalidState) {
				t.Errorf("失败方应为冲突或状态错误，实际: %v", err)
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Errorf("并发 Accept 应只有一个成功，实际 %d", success)
	}
}

// ── Assign 测试 ──

func TestDespachoAssign_Rules(t *testing.T) {
	f := newDespachoFixture()
	ctx := context.Background()
	d := f.create(t)

	_, err := f.svc.Assign(ctx, d.ID, f.loader.UserID, f.operator)
	if !errors.Is(err, ErrDespachoForbidden) {
		t.Errorf("operador 指派期望 ErrDespachoForbidden，实际: %v", err)
	}

	_, err = f.svc.Assign(ctx, d.ID, f.operator.UserID, f.supervisor)
	if !errors.Is(err, ErrInvalidLoader) {
		t.Errorf("指派给非 enlonador 期望 ErrInvalidLoader，实际: %v", err)
	}

	inactive := f.repos.seedUser("inactivo", "secret123", model.RoleLoader, false)
	_, err = f.svc.Assign(ctx, d.ID, inactive.ID, f.supervisor)
	if !errors.Is(err, ErrInvalidLoader) {
		t.Errorf("指派给停用 enlonador 期望 ErrInvalidLoader，实际: %v", err)
	}

	assigned, err := f.svc.Assign(ctx, d.ID, f.loader.UserID, f.supervisor)
	if err != nil {
		t.Fatalf("Assign 应成功: %v", err)
	}
	if assigned.Status != model.StatusPending {
		t.Error("指派不应改变状态")
	}
	if assigned.SupervisorID == nil || *assigned.SupervisorID != f.supervisor.UserID {
		t.Error("supervisor_id 应为调用者")
	}

	if _, err := f.svc.Accept(ctx, d.ID, f.loader); err != nil {
		t.Fatalf("Accept 应成功: %v", err)
	}
	_, err = f.svc.Assign(ctx, d.ID, f.loader2.UserID, f.admin)
	if !errors.Is(err, ErrDespachoInvalidState) {
		t.Errorf("非 PENDING 指派期望 InvalidStateError，实际: %v", err)
	}
}

// ── Advance 测试 ──

func TestDespachoAdvance(t *testing.T) {
	f := newDespachoFixture()
	ctx := context.Background()
	d := f.create(t)
	f.assign(t, d.ID)

	_, err := f.svc.Advance(ctx, d.ID, &dto.UpdateEstadoRequest{Estado: "ACCEPTED", CampoFecha: "fecha_completado"}, f.loader)
	if !errors.Is(err, ErrTimestampMismatch) {
		t.Errorf("期望 ErrTimestampMismatch，实际: %v", err)
	}

	_, err = f.svc.Advance(ctx, d.ID, &dto.UpdateEstadoRequest{Estado: "PENDING"}, f.loader)
	if !errors.Is(err, ErrInvalidTargetState) {
		t.Errorf("期望 ErrInvalidTargetState，实际: %v", err)
	}

	got, err := f.svc.Advance(ctx, d.ID, &dto.UpdateEstadoRequest{Estado: "ACCEPTED", CampoFecha: "fecha_aceptacion"}, f.loader)
	if err != nil {
		t.Fatalf("Advance 应成功: %v", err)
	}
	if got.Status != model.StatusAccepted {
		t.Errorf("期望 ACCEPTED，实际 %s", got.Status)
	}

	if _, err := f.svc.Advance(ctx, d.ID, &dto.UpdateEstadoRequest{Estado: "IN_PROCESS"}, f.loader); err != nil {
		t.Errorf("省略 campo_fecha 应成功: %v", err)
	}
}

// ── List / Get 测试 ──

func TestDespachoList_Filters(t *testing.T) {
	f := newDespachoFixture()
	ctx := context.Background()

	// 2026-03-10 05:00Z 为本地时间 2026-03-09 23:00
	f.clock = time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC)
	early := f.create(t)
	f.clock = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	late := f.create(t)
	f.assign(t, late.ID)

	list, err := f.svc.List(ctx, &dto.DespachoListQuery{Fecha: "2026-03-09"}, f.supervisor)
	if err != nil {
		t.Fatalf("List 应成功: %v", err)
	}
	if len(list) != 1 || list[0].ID != early.ID {
		t.Errorf("按业务时区 03-09 应只返回第一条，实际 %+v", list)
	}

	list, _ = f.svc.List(ctx, nil, f.supervisor)
	if len(list) != 2 || list[0].ID != late.ID {
		t.Error("列表应按 fecha_registro 倒序")
	}

	// enlonador 只能看到指派给自己的
	list, _ = f.svc.List(ctx, nil, f.loader2)
	if len(list) != 0 {
		t.Errorf("enlonador2 不应看到任何作业，实际 %d", len(list))
	}
	list, _ = f.svc.List(ctx, nil, f.loader)
	if len(list) != 1 || list[0].ID != late.ID {
		t.Error("enlonador 应只看到自己的作业")
	}

	list, _ = f.svc.List(ctx, &dto.DespachoListQuery{Mine: true}, f.admin)
	if len(list) != 0 {
		t.Error("mine=true 时管理员没有自己创建的作业")
	}

	_, err = f.svc.List(ctx, &dto.DespachoListQuery{Fecha: "2026-13-40"}, f.admin)
	if !errors.Is(err, ErrInvalidDate) {
		t.Errorf("期望 ErrInvalidDate，实际: %v", err)
	}
}

func TestDespachoGet_LoaderScope(t *testing.T) {
	f := newDespachoFixture()
	ctx := context.Background()
	d := f.create(t)
	f.assign(t, d.ID)

	if _, err := f.svc.Get(ctx, d.ID, f.loader); err != nil {
		t.Errorf("指派的 enlonador 应可查看: %v", err)
	}
	if _, err := f.svc.Get(ctx, d.ID, f.loader2); !errors.Is(err, ErrDespachoNotAssigned) {
		t.Errorf("期望 ErrDespachoNotAssigned，实际: %v", err)
	}
}

func TestDespachoPublishFailureDoesNotFail(t *testing.T) {
	f := newDespachoFixture()
	f.pub.err = errors.New("canal caído")

	if _, err := f.svc.Create(context.Background(), &dto.CreateDespachoRequest{
		PuntoDespacho: "Bodega 1",
		PlacaCabezal:  "C123",
	}, f.operator); err != nil {
		t.Errorf("事件发布失败不应影响写操作: %v", err)
	}
}

func TestDespachoList_AssignedBySupervisor(t *testing.T) {
	f := newDespachoFixture()
	ctx := context.Background()
	mine := f.create(t)
	f.create(t)
	f.assign(t, mine.ID)

	list, err := f.svc.List(ctx, &dto.DespachoListQuery{Assigned: true}, f.supervisor)
	if err != nil {
		t.Fatalf("List 应成功: %v", err)
	}
	if len(list) != 1 || list[0].ID != mine.ID {
		t.Errorf("assigned=true 应只返回该 supervisor 指派的作业，实际 %+v", list)
	}

	// 管理员没有指派过任何作业
	list, _ = f.svc.List(ctx, &dto.DespachoListQuery{Assigned: true}, f.admin)
	if len(list) != 0 {
		t.Errorf("管理员 assigned=true 应为空，实际 %d", len(list))
	}

	// enlonador 始终只看到指派给自己的，忽略 assigned
	list, _ = f.svc.List(ctx, &dto.DespachoListQuery{Assigned: true}, f.loader)
	if len(list) != 1 || list[0].ID != mine.ID {
		t.Errorf("enlonador 应只看到自己的作业，实际 %+v", list)
	}
}

func TestDespachoTransition_ReturnsAppliedRow(t *testing.T) {
	f := newDespachoFixture()
	ctx := context.Background()
	d := f.create(t)
	f.assign(t, d.ID)

	got, err := f.svc.Accept(ctx, d.ID, f.loader)
	if err != nil {
		t.Fatalf("Accept 应成功: %v", err)
	}
	stored, _ := f.repos.despacho.GetByID(ctx, d.ID)
	if got.Status != model.StatusAccepted || got.AcceptedAt == nil {
		t.Fatalf("返回的作业应已处于 ACCEPTED 并带时间戳: %+v", got)
	}
	if !got.AcceptedAt.Equal(*stored.AcceptedAt) {
		t.Errorf("返回的时间戳应与库中一致: %v vs %v", got.AcceptedAt, stored.AcceptedAt)
	}
	if f.pub.count(realtime.TableDespachos, realtime.EventUpdate) == 0 {
		t.Error("转换成功应发布 UPDATE 事件")
	}
}

func TestDespachoListArchived_ResolvesNames(t *testing.T) {
	f := newDespachoFixture()
	ctx := context.Background()
	d := f.create(t)
	f.assign(t, d.ID)

	if _, err := NewSyncService(f.repos.repo, f.pub, zap.NewNop()).SyncDispatches(ctx); err != nil {
		t.Fatalf("SyncDispatches 应成功: %v", err)
	}

	list, err := f.svc.ListArchived(ctx)
	if err != nil {
		t.Fatalf("ListArchived 应成功: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("期望 1 条归档，实际 %d", len(list))
	}
	got := list[0]
	if got.Operador != "Nombre operador" || got.Supervisor != "Nombre supervisor" || got.Enlonador != "Nombre enlonador" {
		t.Errorf("人员姓名解析错误: %+v", got)
	}
	if got.FechaAceptacion != nil {
		t.Error("未接受的作业 fecha_aceptacion 应为 null")
	}
}
