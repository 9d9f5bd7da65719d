package model

import (
	"strings"
	"time"
)

// DespachoStatus 作业状态
type DespachoStatus string

const (
	StatusPending   DespachoStatus = "PENDING"
	StatusAccepted  DespachoStatus = "ACCEPTED"
	StatusInProcess DespachoStatus = "IN_PROCESS"
	StatusCompleted DespachoStatus = "COMPLETED"
)

// Despacho 运营库实时作业表，对应 despachos
// 用户引用为归档库 users.id，不建外键
type Despacho struct {
	ID            uint           `gorm:"primaryKey"                                      json:"id"`
	DispatchPoint string         `gorm:"column:punto_despacho;type:varchar(50);not null" json:"punto_despacho"`
	TruckPlate    string         `gorm:"column:placa_cabezal;type:varchar(10);not null"  json:"placa_cabezal"`
	Status        DespachoStatus `gorm:"column:estado;type:varchar(20);not null"         json:"estado"`
	RegisteredAt  time.Time      `gorm:"column:fecha_registro;not null;index"            json:"fecha_registro"`
	AcceptedAt    *time.Time     `gorm:"column:fecha_aceptacion"                         json:"fecha_aceptacion"`
	StartedAt     *time.Time     `gorm:"column:fecha_en_proceso"                         json:"fecha_en_proceso"`
	CompletedAt   *time.Time     `gorm:"column:fecha_completado"                         json:"fecha_completado"`
	OperatorID    uint           `gorm:"column:operador_id;not null"                     json:"operador_id"`
	SupervisorID  *uint          `gorm:"column:supervisor_id"                            json:"supervisor_id"`
	LoaderID      *uint          `gorm:"column:enlonador_id;index"                       json:"enlonador_id"`
}

// TableName 指定表名
func (Despacho) TableName() string { return "despachos" }

// IsAssignedTo 判断作业是否指派给该 enlonador
func (d *Despacho) IsAssignedTo(userID uint) bool {
	return d.LoaderID != nil && *d.LoaderID == userID
}

// NormalizePlate 规范化车牌：去空白并转大写，要求 1-10 位字母数字
func NormalizePlate(raw string) (string, bool) {
	plate := strings.ToUpper(strings.TrimSpace(raw))
	if plate == "" || len(plate) > 10 {
		return "", false
	}
	for _, r := range plate {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", false
		}
	}
	return plate, true
}

// ── 状态机 ──

// Transition 一次合法的前进转换
type Transition struct {
	Name            string
	From            DespachoStatus
	To              DespachoStatus
	TimestampColumn string
}

// 以目标状态为键；PENDING 只能由创建产生
var transitions = map[DespachoStatus]Transition{
	StatusAccepted:  {Name: "accept", From: StatusPending, To: StatusAccepted, TimestampColumn: "fecha_aceptacion"},
	StatusInProcess: {Name: "start", From: StatusAccepted, To: StatusInProcess, TimestampColumn: "fecha_en_proceso"},
	StatusCompleted: {Name: "complete", From: StatusInProcess, To: StatusCompleted, TimestampColumn: "fecha_completado"},
}

// TransitionTo 返回进入目标状态的转换
func TransitionTo(target DespachoStatus) (Transition, bool) {
	t, ok := transitions[target]
	return t, ok
}

// Apply 在内存中应用转换（仓储写库成功后同步结构体）
func (d *Despacho) Apply(t Transition, at time.Time) {
	d.Status = t.To
	var slot **time.Time
	switch t.To {
	case StatusAccepted:
		slot = &d.AcceptedAt
	case StatusInProcess:
		slot = &d.StartedAt
	case StatusCompleted:
		slot = &d.CompletedAt
	default:
		return
	}
	if *slot == nil {
		ts := at
		*slot = &ts
	}
}

// DespachoSyncRow 待同步视图行，对应 v_despachos
type DespachoSyncRow struct {
	ID                       uint           `gorm:"column:id"`
	DispatchPoint            string         `gorm:"column:punto_despacho"`
	TruckPlate               string         `gorm:"column:placa_cabezal"`
	Status                   DespachoStatus `gorm:"column:estado"`
	RegisteredAt             time.Time      `gorm:"column:fecha_registro"`
	AcceptedAt               *time.Time     `gorm:"column:fecha_aceptacion"`
	StartedAt                *time.Time     `gorm:"column:fecha_en_proceso"`
	CompletedAt              *time.Time     `gorm:"column:fecha_completado"`
	OperatorExternalUserID   *uint          `gorm:"column:operador_external_user_id"`
	SupervisorExternalUserID *uint          `gorm:"column:supervisor_external_user_id"`
	LoaderExternalUserID     *uint          `gorm:"column:enlonador_external_user_id"`
}

// TableName 指定视图名
func (DespachoSyncRow) TableName() string { return "v_despachos" }
