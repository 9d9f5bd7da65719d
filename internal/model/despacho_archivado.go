package model

import (
	"strconv"
	"time"
)

// ArchivedDespacho 归档作业表，对应 despachos_archivados
// register_id 为运营库 id 的十进制字符串，作为幂等键
type ArchivedDespacho struct {
	ID            uint           `gorm:"primaryKey"                                      json:"id"`
	RegisterID    string         `gorm:"column:register_id;type:varchar(32);uniqueIndex;not null" json:"register_id"`
	DispatchPoint string         `gorm:"column:punto_despacho;type:varchar(50);not null" json:"punto_despacho"`
	TruckPlate    string         `gorm:"column:placa_cabezal;type:varchar(10);not null"  json:"placa_cabezal"`
	Status        DespachoStatus `gorm:"column:estado;type:varchar(20);not null"         json:"estado"`
	RegisteredAt  time.Time      `gorm:"column:fecha_registro;not null;index"            json:"fecha_registro"`
	AcceptedAt    *time.Time     `gorm:"column:fecha_aceptacion"                         json:"fecha_aceptacion"`
	StartedAt     *time.Time     `gorm:"column:fecha_en_proceso"                         json:"fecha_en_proceso"`
	CompletedAt   *time.Time     `gorm:"column:fecha_completado"                         json:"fecha_completado"`
	OperatorID    *uint          `gorm:"column:operador_bascula_id"                      json:"operador_bascula_id"`
	SupervisorID  *uint          `gorm:"column:supervisor_despacho_id"                   json:"supervisor_despacho_id"`
	LoaderID      *uint          `gorm:"column:enlonador_id"                             json:"enlonador_id"`
	ArchivedAt    time.Time      `gorm:"column:archived_at;autoCreateTime"               json:"archived_at"`

	// 关联
	Operator   *User `gorm:"foreignKey:OperatorID"   json:"operador,omitempty"`
	Supervisor *User `gorm:"foreignKey:SupervisorID" json:"supervisor,omitempty"`
	Loader     *User `gorm:"foreignKey:LoaderID"     json:"enlonador,omitempty"`
}

// TableName 指定表名
func (ArchivedDespacho) TableName() string { return "despachos_archivados" }

// ArchiveFromRow 由视图行构造归档记录
func ArchiveFromRow(row *DespachoSyncRow) *ArchivedDespacho {
	return &ArchivedDespacho{
		RegisterID:    strconv.FormatUint(uint64(row.ID), 10),
		DispatchPoint: row.DispatchPoint,
		TruckPlate:    row.TruckPlate,
		Status:        row.Status,
		RegisteredAt:  row.RegisteredAt,
		AcceptedAt:    row.AcceptedAt,
		StartedAt:     row.StartedAt,
		CompletedAt:   row.CompletedAt,
		OperatorID:    row.OperatorExternalUserID,
		SupervisorID:  row.SupervisorExternalUserID,
		LoaderID:      row.LoaderExternalUserID,
	}
}
