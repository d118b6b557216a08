package access

// Actor 操作者身份，由外部身份提供方（JWT 中间件）解析后注入。
// 本核心不做任何认证。
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Role 角色
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleManager   Role = "manager"
	RoleProcessor Role = "processor"
	RoleApprover  Role = "approver"
	RoleApplicant Role = "applicant"
)

// Permission 粗粒度能力标识。除角色之外，唯一的授权信号是
// 操作者是否为任务指派的申请人/处理人/审批人，该判断在 approval 包完成。
type Permission string

const (
	PermTaskCreate   Permission = "task:create"
	PermTaskUpdate   Permission = "task:update"
	PermTaskDelete   Permission = "task:delete"
	PermTaskAssign   Permission = "task:assign"
	PermTaskProcess  Permission = "task:process"
	PermTaskApprove  Permission = "task:approve"
	PermTaskRead     Permission = "task:read"
	PermAuditRead    Permission = "audit:read"
	// PermAuditRestore 还原已删除数据的提升权限。还原可能复活出于
	// 隐私原因被刻意删除的数据，因此与普通审计权限分开授予。
	PermAuditRestore Permission = "audit:restore"
)

// Config 角色到权限集合的静态映射。构造一次后传入 Gate，
// 不依赖进程级可变状态，便于隔离测试。
type Config struct {
	RolePermissions map[Role][]Permission
}

// DefaultConfig 返回默认的角色权限表。
func DefaultConfig() Config {
	return Config{
		RolePermissions: map[Role][]Permission{
			RoleAdmin: {
				PermTaskCreate, PermTaskUpdate, PermTaskDelete, PermTaskAssign,
				PermTaskProcess, PermTaskApprove, PermTaskRead,
				PermAuditRead, PermAuditRestore,
			},
			RoleManager: {
				PermTaskCreate, PermTaskUpdate, PermTaskAssign,
				PermTaskProcess, PermTaskApprove, PermTaskRead, PermAuditRead,
			},
			RoleProcessor: {
				PermTaskProcess, PermTaskUpdate, PermTaskRead,
			},
			RoleApprover: {
				PermTaskApprove, PermTaskRead,
			},
			RoleApplicant: {
				PermTaskCreate, PermTaskUpdate, PermTaskRead,
			},
		},
	}
}

// Gate 权限闸门。
type Gate struct {
	perms map[Role]map[Permission]struct{}
}

// NewGate 从配置构造权限闸门。
func NewGate(cfg Config) *Gate {
	perms := make(map[Role]map[Permission]struct{}, len(cfg.RolePermissions))
	for role, list := range cfg.RolePermissions {
		set := make(map[Permission]struct{}, len(list))
		for _, p := range list {
			set[p] = struct{}{}
		}
		perms[role] = set
	}
	return &Gate{perms: perms}
}

// Capable 判断操作者是否具备指定能力。
func (g *Gate) Capable(actor Actor, perm Permission) bool {
	set, ok := g.perms[actor.Role]
	if !ok {
		return false
	}
	_, ok = set[perm]
	return ok
}
