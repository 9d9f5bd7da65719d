package model

// RoleID 角色枚举，取值与 roles 表主键一致
type RoleID int

const (
	RoleAdmin      RoleID = 1 // Administrador
	RoleSupervisor RoleID = 2 // Supervisor de Despacho
	RoleOperator   RoleID = 3 // Operador de Báscula
	RoleLoader     RoleID = 4 // Enlonador
)

var roleNames = map[RoleID]string{
	RoleAdmin:      "Administrador",
	RoleSupervisor: "Supervisor de Despacho",
	RoleOperator:   "Operador de Bascula",
	RoleLoader:     "Enlonador",
}

// AllRoles 按主键顺序返回全部角色
func AllRoles() []RoleID {
	return []RoleID{RoleAdmin, RoleSupervisor, RoleOperator, RoleLoader}
}

// Valid 判断是否为已知角色
func (r RoleID) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// Name 角色显示名称，未知角色返回空串
// 不实现 String()：GORM 预加载用 fmt.Sprint 拼接关联键
func (r RoleID) Name() string {
	return roleNames[r]
}

// In 判断角色是否属于给定集合
func (r RoleID) In(roles ...RoleID) bool {
	for _, x := range roles {
		if r == x {
			return true
		}
	}
	return false
}

// Role 角色表，对应 roles
type Role struct {
	ID   RoleID `gorm:"primaryKey;autoIncrement:false"      json:"id"`
	Name string `gorm:"type:varchar(50);uniqueIndex;not null" json:"name"`
}

// TableName 指定表名
func (Role) TableName() string { return "roles" }
