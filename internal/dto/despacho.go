package dto

// ── 作业模块 DTO ──

// CreateDespachoRequest 创建作业请求
type CreateDespachoRequest struct {
	PuntoDespacho string `json:"punto_despacho" binding:"required,max=50"`
	PlacaCabezal  string `json:"placa_cabezal"  binding:"required,placa"`
}

// AssignDespachoRequest 指派 enlonador 请求
type AssignDespachoRequest struct {
	EnlonadorID uint `json:"enlonador_id" binding:"required"`
}

// UpdateEstadoRequest 推进状态请求
// campo_fecha 可省略；提供时必须与目标状态对应的时间戳列一致
type UpdateEstadoRequest struct {
	Estado     string `json:"estado"      binding:"required,oneof=ACCEPTED IN_PROCESS COMPLETED"`
	CampoFecha string `json:"campo_fecha" binding:"omitempty,oneof=fecha_aceptacion fecha_en_proceso fecha_completado"`
}

// DespachoListQuery 实时作业列表查询参数
type DespachoListQuery struct {
	Fecha    string `form:"fecha"    binding:"omitempty,datetime=2006-01-02"`
	Mine     bool   `form:"mine"`
	Assigned bool   `form:"assigned"`
}

// ArchivedDespachoResponse 归档作业（附带人员姓名）
type ArchivedDespachoResponse struct {
	ID              uint    `json:"id"`
	RegisterID      string  `json:"register_id"`
	PuntoDespacho   string  `json:"punto_despacho"`
	PlacaCabezal    string  `json:"placa_cabezal"`
	Estado          string  `json:"estado"`
	FechaRegistro   string  `json:"fecha_registro"`
	FechaAceptacion *string `json:"fecha_aceptacion"`
	FechaEnProceso  *string `json:"fecha_en_proceso"`
	FechaCompletado *string `json:"fecha_completado"`
	Operador        string  `json:"operador"`
	Supervisor      string  `json:"supervisor"`
	Enlonador       string  `json:"enlonador"`
}

// SyncResponse 同步结果
type SyncResponse struct {
	Message  string `json:"message"`
	Migrated int    `json:"migrated"`
}

// ArchiveNotificationsResponse 通知归档结果
type ArchiveNotificationsResponse struct {
	Message  string `json:"message"`
	Archived int    `json:"archived"`
}
