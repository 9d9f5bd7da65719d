package model

// User 用户表，对应归档库 users
// activo/eliminado 不设 GORM 默认值，避免 false 被默认值覆盖
type User struct {
	ID       uint   `gorm:"primaryKey"                                 json:"id"`
	Username string `gorm:"type:varchar(50);uniqueIndex;not null"      json:"username"`
	FullName string `gorm:"column:nombre_completo;type:varchar(120);not null" json:"nombre_completo"`
	Code     string `gorm:"column:codigo;type:varchar(20);not null"    json:"codigo"`
	Email    string `gorm:"type:varchar(255);not null"                 json:"email"`
	Password string `gorm:"type:varchar(255);not null"                 json:"-"`
	RoleID   RoleID `gorm:"not null;index"                             json:"role_id"`
	Active   bool   `gorm:"column:activo;not null"                     json:"activo"`
	Deleted  bool   `gorm:"column:eliminado;not null"                  json:"eliminado"`
	BaseModel

	// 关联
	Role *Role `gorm:"foreignKey:RoleID;references:ID" json:"role,omitempty"`
}

// TableName 指定表名
func (User) TableName() string { return "users" }

// IsActiveAdmin 是否为计入“最后管理员”保护的有效管理员
func (u *User) IsActiveAdmin() bool {
	return u.RoleID == RoleAdmin && u.Active && !u.Deleted
}

// CanLogin 是否允许登录
func (u *User) CanLogin() bool {
	return u.Active && !u.Deleted
}
