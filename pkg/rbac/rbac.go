package rbac

import "slices"

// 权限常量
const (
	// 读取其他用户的通知
	PermissionReadAny = "notification:read_any"
	// 不带用户过滤的订阅
	PermissionSubscribeAll = "notification:subscribe_all"
	// 通过 HTTP 写入通知
	PermissionEmit = "notification:emit"
)

// 角色常量
const (
	RoleUser    = "user"
	RoleService = "service"
	RoleAdmin   = "admin"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleUser: {},
	RoleService: {
		PermissionEmit,
	},
	RoleAdmin: {
		PermissionReadAny,
		PermissionSubscribeAll,
		PermissionEmit,
	},
}

// NormalizeRole token 中未声明或未知的角色按 user 处理
func NormalizeRole(role string) string {
	if _, ok := rolePermissions[role]; ok {
		return role
	}
	return RoleUser
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role, permission string) bool {
	return slices.Contains(rolePermissions[NormalizeRole(role)], permission)
}

// CheckPermission 与 HasPermission 相同，返回错误便于处理
func CheckPermission(userID, role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			UserID:     userID,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	UserID     string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions: " + e.Permission
}
