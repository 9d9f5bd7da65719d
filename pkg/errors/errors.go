package errors

import "errors"

// ── 错误类别 ──
// 业务模块的哨兵错误通过 %w 包装下列类别，Handler 层据此映射 HTTP 状态码。

var (
	// ErrAuthentication 缺少或无效的会话令牌
	ErrAuthentication = errors.New("no autenticado")
	// ErrAuthorization 角色不足，或角色正确但不是被指派的身份
	ErrAuthorization = errors.New("acceso denegado")
	// ErrInvalidState 生命周期转换的前置状态不符
	ErrInvalidState = errors.New("estado inválido para la operación")
	// ErrValidation 输入格式错误或缺少必填字段
	ErrValidation = errors.New("datos inválidos")
	// ErrLastAdmin 操作会导致没有任何有效管理员
	ErrLastAdmin = errors.New("solo hay un usuario administrador activo")
	// ErrRateLimited 登录尝试超过窗口上限
	ErrRateLimited = errors.New("demasiados intentos")
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("registro no encontrado")
)

// ErrOptimisticLock 乐观锁冲突：记录已被其他操作修改
var ErrOptimisticLock = errors.New("el registro fue modificado por otra operación, recarga e intenta de nuevo")

// Error 携带类别的业务错误，Error() 只返回面向用户的消息
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

// Unwrap 使 errors.Is 可以匹配类别
func (e *Error) Unwrap() error { return e.Kind }

// New 创建归属于 kind 的业务错误
func New(kind error, message string) error {
	return &Error{Kind: kind, Message: message}
}
