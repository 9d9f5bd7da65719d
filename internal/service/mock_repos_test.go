package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"control-despacho/backend/internal/model"
	"control-despacho/backend/internal/realtime"
	"control-despacho/backend/internal/repository"
	apperrors "control-despacho/backend/pkg/errors"
)

// ── 测试夹具 ──

type testRepos struct {
	despacho     *mockDespachoRepo
	archive      *mockArchiveRepo
	notification *mockNotificationRepo
	session      *mockSessionRepo
	user         *mockUserRepo
	role         *mockRoleRepo
	location     *mockDeviceLocationRepo
	repo         *repository.Repository
}

func newTestRepos() *testRepos {
	users := newMockUserRepo()
	t := &testRepos{
		despacho:     newMockDespachoRepo(),
		archive:      newMockArchiveRepo(users),
		notification: newMockNotificationRepo(),
		session:      newMockSessionRepo(),
		user:         users,
		role:         &mockRoleRepo{},
		location:     newMockDeviceLocationRepo(users),
	}
	t.repo = &repository.Repository{
		Despacho:       t.despacho,
		Session:        t.session,
		Notification:   t.notification,
		Archive:        t.archive,
		User:           t.user,
		Role:           t.role,
		DeviceLocation: t.location,
	}
	return t
}

// seedUser 写入一个用户；测试使用最低 bcrypt 成本
func (t *testRepos) seedUser(username, password string, role model.RoleID, active bool) *model.User {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	u := &model.User{
		Username: username,
		FullName: "Nombre " + username,
		Code:     "C-" + username,
		Email:    username + "@example.com",
		Password: string(hash),
		RoleID:   role,
		Active:   active,
	}
	_ = t.user.Create(context.Background(), u)
	return u
}

// ── Mock DespachoRepository ──

type mockDespachoRepo struct {
	mu         sync.Mutex
	rows       map[uint]*model.Despacho
	nextID     uint
	failDelete map[uint]bool
}

func newMockDespachoRepo() *mockDespachoRepo {
	return &mockDespachoRepo{rows: make(map[uint]*model.Despacho), failDelete: make(map[uint]bool)}
}

func (m *mockDespachoRepo) Create(_ context.Context, d *model.Despacho) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	d.ID = m.nextID
	cp := *d
	m.rows[d.ID] = &cp
	return nil
}

func (m *mockDespachoRepo) GetByID(_ context.Context, id uint) (*model.Despacho, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.rows[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockDespachoRepo) List(_ context.Context, f *repository.DespachoFilter) ([]model.Despacho, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Despacho
	for _, d := range m.rows {
		if f != nil {
			if f.From != nil && d.RegisteredAt.Before(*f.From) {
				continue
			}
			if f.To != nil && !d.RegisteredAt.Before(*f.To) {
				continue
			}
			if f.OperatorID != nil && d.OperatorID != *f.OperatorID {
				continue
			}
			if f.SupervisorID != nil && (d.SupervisorID == nil || *d.SupervisorID != *f.SupervisorID) {
				continue
			}
			if f.LoaderID != nil && !d.IsAssignedTo(*f.LoaderID) {
				continue
			}
		}
		result = append(result, *d)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].RegisteredAt.Equal(result[j].RegisteredAt) {
			return result[i].RegisteredAt.After(result[j].RegisteredAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

func (m *mockDespachoRepo) Assign(_ context.Context, id, supervisorID, loaderID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.rows[id]
	if !ok || d.Status != model.StatusPending {
		return apperrors.ErrOptimisticLock
	}
	d.SupervisorID = &supervisorID
	d.LoaderID = &loaderID
	return nil
}

func (m *mockDespachoRepo) Transition(_ context.Context, id uint, t model.Transition, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.rows[id]
	if !ok || d.Status != t.From {
		return apperrors.ErrOptimisticLock
	}
	d.Apply(t, at)
	return nil
}

func (m *mockDespachoRepo) ListPendingSync(_ context.Context) ([]model.DespachoSyncRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []model.DespachoSyncRow
	for _, d := range m.rows {
		op := d.OperatorID
		rows = append(rows, model.DespachoSyncRow{
			ID:                       d.ID,
			DispatchPoint:            d.DispatchPoint,
			TruckPlate:               d.TruckPlate,
			Status:                   d.Status,
			RegisteredAt:             d.RegisteredAt,
			AcceptedAt:               d.AcceptedAt,
			StartedAt:                d.StartedAt,
			CompletedAt:              d.CompletedAt,
			OperatorExternalUserID:   &op,
			SupervisorExternalUserID: d.SupervisorID,
			LoaderExternalUserID:     d.LoaderID,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

func (m *mockDespachoRepo) Delete(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete[id] {
		return errors.New("delete failed")
	}
	if _, ok := m.rows[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(m.rows, id)
	return nil
}

// ── Mock ArchiveRepository ──

type mockArchiveRepo struct {
	rows       map[string]*model.ArchivedDespacho
	nextID     uint
	failUpsert map[string]bool
	users      *mockUserRepo
}

func newMockArchiveRepo(users *mockUserRepo) *mockArchiveRepo {
	return &mockArchiveRepo{
		rows:       make(map[string]*model.ArchivedDespacho),
		failUpsert: make(map[string]bool),
		users:      users,
	}
}

func (m *mockArchiveRepo) Upsert(_ context.Context, a *model.ArchivedDespacho) error {
	if m.failUpsert[a.RegisterID] {
		return errors.New("upsert failed")
	}
	if existing, ok := m.rows[a.RegisterID]; ok {
		registeredAt := existing.RegisteredAt
		id := existing.ID
		*existing = *a
		existing.ID = id
		existing.RegisteredAt = registeredAt
		return nil
	}
	m.nextID++
	cp := *a
	cp.ID = m.nextID
	m.rows[a.RegisterID] = &cp
	return nil
}

func (m *mockArchiveRepo) List(_ context.Context) ([]model.ArchivedDespacho, error) {
	var result []model.ArchivedDespacho
	for _, a := range m.rows {
		cp := *a
		cp.Operator = m.users.lookup(cp.OperatorID)
		cp.Supervisor = m.users.lookup(cp.SupervisorID)
		cp.Loader = m.users.lookup(cp.LoaderID)
		result = append(result, cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].RegisteredAt.After(result[j].RegisteredAt)
	})
	return result, nil
}

// ── Mock NotificationRepository ──

type mockNotificationRepo struct {
	rows     map[uint]*model.Notification
	nextID   uint
	created  int
	archived map[archiveKey]model.ArchivedNotification
	copyErr  error
	purges   int
}

type archiveKey struct {
	id uint
	at time.Time
}

func newMockNotificationRepo() *mockNotificationRepo {
	return &mockNotificationRepo{
		rows:     make(map[uint]*model.Notification),
		archived: make(map[archiveKey]model.ArchivedNotification),
	}
}

func (m *mockNotificationRepo) Create(_ context.Context, n *model.Notification) error {
	m.nextID++
	m.created++
	n.ID = m.nextID
	n.InsertedAt = time.Date(2026, 1, 1, 8, 0, m.created, 0, time.UTC)
	cp := *n
	m.rows[n.ID] = &cp
	return nil
}

func (m *mockNotificationRepo) GetByID(_ context.Context, id uint) (*model.Notification, error) {
	if n, ok := m.rows[id]; ok {
		cp := *n
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockNotificationRepo) List(_ context.Context) ([]model.Notification, error) {
	var result []model.Notification
	for _, n := range m.rows {
		result = append(result, *n)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

func (m *mockNotificationRepo) SetRead(_ context.Context, id uint, read bool) error {
	n, ok := m.rows[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	n.Read = read
	return nil
}

func (m *mockNotificationRepo) CopyToArchive(_ context.Context, list []model.Notification) error {
	if m.copyErr != nil {
		return m.copyErr
	}
	for _, n := range list {
		k := archiveKey{n.ID, n.InsertedAt}
		if _, ok := m.archived[k]; ok {
			continue
		}
		m.archived[k] = model.ArchivedNotification{ID: n.ID, Message: n.Message, Read: n.Read, InsertedAt: n.InsertedAt}
	}
	return nil
}

func (m *mockNotificationRepo) Purge(_ context.Context) error {
	m.purges++
	m.rows = make(map[uint]*model.Notification)
	m.nextID = 0
	return nil
}

// ── Mock SessionRepository ──

type mockSessionRepo struct {
	rows map[uint]*model.UserSession
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{rows: make(map[uint]*model.UserSession)}
}

func (m *mockSessionRepo) Upsert(_ context.Context, s *model.UserSession) error {
	cp := *s
	m.rows[s.ExternalUserID] = &cp
	return nil
}

func (m *mockSessionRepo) MarkOffline(_ context.Context, externalUserID uint, at time.Time) error {
	if s, ok := m.rows[externalUserID]; ok {
		s.Status = model.SessionOffline
		s.LastActive = at
	}
	return nil
}

func (m *mockSessionRepo) MarkStaleOffline(_ context.Context, before time.Time) (int64, error) {
	var n int64
	for _, s := range m.rows {
		if s.Status == model.SessionOnline && s.LastActive.Before(before) {
			s.Status = model.SessionOffline
			n++
		}
	}
	return n, nil
}

func (m *mockSessionRepo) List(_ context.Context) ([]model.UserSession, error) {
	var result []model.UserSession
	for _, s := range m.rows {
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExternalUserID < result[j].ExternalUserID })
	return result, nil
}

// ── Mock UserRepository ──

type mockUserRepo struct {
	mu     sync.Mutex
	users  map[uint]*model.User
	nextID uint
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[uint]*model.User)}
}

func (m *mockUserRepo) withRole(u *model.User) *model.User {
	cp := *u
	cp.Role = &model.Role{ID: u.RoleID, Name: u.RoleID.Name()}
	return &cp
}

func (m *mockUserRepo) lookup(id *uint) *model.User {
	if id == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[*id]; ok {
		return m.withRole(u)
	}
	return nil
}

func (m *mockUserRepo) Create(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == user.Username {
			return gorm.ErrDuplicatedKey
		}
	}
	m.nextID++
	user.ID = m.nextID
	user.CreatedAt = time.Now().UTC()
	cp := *user
	cp.Role = nil
	m.users[user.ID] = &cp
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id uint) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return m.withRole(u), nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockUserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return m.withRole(u), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockUserRepo) Update(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *user
	cp.Role = nil
	m.users[user.ID] = &cp
	return nil
}

func (m *mockUserRepo) List(_ context.Context) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.User
	for _, u := range m.users {
		if !u.Deleted {
			result = append(result, *m.withRole(u))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *mockUserRepo) LockActiveAdminIDs(_ context.Context) ([]uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uint
	for _, u := range m.users {
		if u.IsActiveAdmin() {
			ids = append(ids, u.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Transaction 失败时恢复快照
func (m *mockUserRepo) Transaction(_ context.Context, fn func(tx repository.UserRepository) error) error {
	m.mu.Lock()
	snapshot := make(map[uint]model.User, len(m.users))
	for id, u := range m.users {
		snapshot[id] = *u
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.users = make(map[uint]*model.User, len(snapshot))
		for id, u := range snapshot {
			cp := u
			m.users[id] = &cp
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

// ── Mock RoleRepository ──

type mockRoleRepo struct{}

func (m *mockRoleRepo) List(_ context.Context) ([]model.Role, error) {
	var roles []model.Role
	for _, id := range model.AllRoles() {
		roles = append(roles, model.Role{ID: id, Name: id.Name()})
	}
	return roles, nil
}

func (m *mockRoleRepo) EnsureDefaults(_ context.Context) error { return nil }

// ── Mock DeviceLocationRepository ──

type mockDeviceLocationRepo struct {
	rows   map[uint]*model.DeviceLocation
	nextID uint
	users  *mockUserRepo
}

func newMockDeviceLocationRepo(users *mockUserRepo) *mockDeviceLocationRepo {
	return &mockDeviceLocationRepo{rows: make(map[uint]*model.DeviceLocation), users: users}
}

func (m *mockDeviceLocationRepo) Create(_ context.Context, loc *model.DeviceLocation) error {
	m.nextID++
	loc.ID = m.nextID
	cp := *loc
	m.rows[loc.ID] = &cp
	return nil
}

func (m *mockDeviceLocationRepo) Update(_ context.Context, loc *model.DeviceLocation) error {
	existing, ok := m.rows[loc.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	existing.Latitude, existing.Longitude, existing.UpdatedAt = loc.Latitude, loc.Longitude, loc.UpdatedAt
	return nil
}

func (m *mockDeviceLocationRepo) ListByUser(_ context.Context, userID uint) ([]model.DeviceLocation, error) {
	var result []model.DeviceLocation
	for _, l := range m.rows {
		if l.UserID == userID {
			result = append(result, *l)
		}
	}
	sortLocations(result)
	return result, nil
}

func (m *mockDeviceLocationRepo) DeleteByIDs(_ context.Context, ids []uint) error {
	for _, id := range ids {
		delete(m.rows, id)
	}
	return nil
}

func (m *mockDeviceLocationRepo) ListAll(_ context.Context) ([]model.DeviceLocation, error) {
	var result []model.DeviceLocation
	for _, l := range m.rows {
		cp := *l
		uid := l.UserID
		cp.User = m.users.lookup(&uid)
		result = append(result, cp)
	}
	sortLocations(result)
	return result, nil
}

func sortLocations(list []model.DeviceLocation) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].UpdatedAt.After(list[j].UpdatedAt)
		}
		return list[i].ID > list[j].ID
	})
}

// ── 其他替身 ──

// recordingPublisher 记录发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(table string, typ realtime.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Table == table && e.Type == typ {
			n++
		}
	}
	return n
}

// fakeBlacklist 记录被拉黑的 jti
type fakeBlacklist struct {
	entries map[string]time.Duration
}

func (b *fakeBlacklist) BlacklistToken(_ context.Context, jti string, ttl time.Duration) error {
	if b.entries == nil {
		b.entries = make(map[string]time.Duration)
	}
	b.entries[jti] = ttl
	return nil
}
