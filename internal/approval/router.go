package approval

import (
	"backend/internal/access"
	"backend/internal/errs"
	"backend/internal/models"
)

// RouteConfig 任务类型的审批路线配置。
// 路线决定批准时落下的合规标记；RequiresProcessor 表示审批前必须先有处理人环节。
type RouteConfig struct {
	Route             models.ApprovalRoute `mapstructure:"route" json:"route"`
	RequiresProcessor bool                 `mapstructure:"requires_processor" json:"requiresProcessor"`
}

// Router 审批路由器。任务类型到路线的映射是数据而非分支代码，
// 新增任务类型或路线只需扩充配置表。
type Router struct {
	routes   map[string]RouteConfig
	fallback RouteConfig
}

// DefaultRoutes 内置的任务类型路线表，可被配置文件覆盖。
func DefaultRoutes() map[string]RouteConfig {
	return map[string]RouteConfig{
		"CREATE_FILE":    {Route: models.RouteV, RequiresProcessor: true},
		"CLOSE_FILE":     {Route: models.RouteV, RequiresProcessor: true},
		"DATA_CHANGE":    {Route: models.RouteDefault, RequiresProcessor: false},
		"DOC_SUPPLEMENT": {Route: models.RouteDefault, RequiresProcessor: true},
		"GENERAL":        {Route: models.RouteDefault, RequiresProcessor: false},
	}
}

// NewRouter 创建审批路由器。
func NewRouter(routes map[string]RouteConfig) *Router {
	if routes == nil {
		routes = DefaultRoutes()
	}
	return &Router{
		routes:   routes,
		fallback: RouteConfig{Route: models.RouteDefault},
	}
}

// Resolve 按任务类型解析路线配置，未登记的类型走默认路线。
func (r *Router) Resolve(taskType string) RouteConfig {
	if cfg, ok := r.routes[taskType]; ok {
		return cfg
	}
	return r.fallback
}

// Mark 返回指定路线批准后应落下的合规标记。
func Mark(route models.ApprovalRoute) string {
	if route == models.RouteV {
		return models.MarkV
	}
	return models.MarkDefault
}

// allowedSources 各动作合法的来源状态。pending_documents 特殊处理：任何非吸收态均可。
var allowedSources = map[models.TaskAction][]models.TaskStatus{
	models.ActionAssignProcessor: {models.StatusPending, models.StatusProcessing},
	models.ActionAssignApprover: {
		models.StatusPending, models.StatusProcessing, models.StatusPendingReview,
	},
	models.ActionSubmitForReview: {models.StatusProcessing},
	models.ActionRequestRevision: {
		models.StatusPending, models.StatusProcessing, models.StatusPendingReview,
	},
	models.ActionResubmit: {models.StatusRevisionRequested, models.StatusRejected},
	models.ActionApprove: {
		models.StatusPending, models.StatusProcessing, models.StatusPendingReview,
	},
	models.ActionReject: {
		models.StatusPending, models.StatusProcessing, models.StatusPendingReview,
	},
	models.ActionCompleteCheck: {models.StatusApproved},
	models.ActionReviewCheck:   {models.StatusApproved},
	models.ActionUpdate: {
		models.StatusPending, models.StatusProcessing, models.StatusPendingDocuments,
		models.StatusPendingReview, models.StatusRevisionRequested,
		models.StatusApproved, models.StatusRejected,
	},
}

// targets 各动作的目标状态。不出现在表中的动作不改变状态。
var targets = map[models.TaskAction]models.TaskStatus{
	models.ActionAssignProcessor:  models.StatusProcessing,
	models.ActionSubmitForReview:  models.StatusPendingReview,
	models.ActionPendingDocuments: models.StatusPendingDocuments,
	models.ActionRequestRevision:  models.StatusRevisionRequested,
	models.ActionResubmit:         models.StatusPending,
	models.ActionApprove:          models.StatusApproved,
	models.ActionReject:           models.StatusRejected,
	models.ActionCompleteCheck:    models.StatusCompleted,
	models.ActionReviewCheck:      models.StatusReviewed,
}

// requiredPerms 各动作所需的粗粒度能力。
var requiredPerms = map[models.TaskAction]access.Permission{
	models.ActionCreate:           access.PermTaskCreate,
	models.ActionUpdate:           access.PermTaskUpdate,
	models.ActionDelete:           access.PermTaskDelete,
	models.ActionAssignProcessor:  access.PermTaskAssign,
	models.ActionAssignApprover:   access.PermTaskAssign,
	models.ActionSubmitForReview:  access.PermTaskProcess,
	models.ActionPendingDocuments: access.PermTaskProcess,
	models.ActionResubmit:         access.PermTaskCreate,
	models.ActionApprove:          access.PermTaskApprove,
	models.ActionReject:           access.PermTaskApprove,
	models.ActionRequestRevision:  access.PermTaskApprove,
	models.ActionCompleteCheck:    access.PermTaskProcess,
	models.ActionReviewCheck:      access.PermTaskApprove,
}

// RequiredPermission 返回动作所需能力。
func RequiredPermission(action models.TaskAction) (access.Permission, bool) {
	p, ok := requiredPerms[action]
	return p, ok
}

// Target 返回动作的目标状态；ok 为 false 表示该动作不改变状态。
func Target(action models.TaskAction) (models.TaskStatus, bool) {
	s, ok := targets[action]
	return s, ok
}

// stateAllows 判断动作在当前状态下是否合法。
func stateAllows(status models.TaskStatus, action models.TaskAction) bool {
	if action == models.ActionPendingDocuments {
		return !status.IsTerminal()
	}
	if action == models.ActionDelete {
		return true
	}
	sources, ok := allowedSources[action]
	if !ok {
		return false
	}
	for _, s := range sources {
		if s == status {
			return true
		}
	}
	return false
}

// elevated 管理类角色不受任务分配限制。
func elevated(role access.Role) bool {
	return role == access.RoleAdmin || role == access.RoleManager
}

// assignmentAllows 检查操作者与任务分配字段的关系。
// 角色之外唯一的授权信号就是申请人/处理人/审批人三个分配位。
func assignmentAllows(task *models.Task, actor access.Actor, action models.TaskAction) bool {
	if elevated(actor.Role) {
		return true
	}
	switch action {
	case models.ActionApprove, models.ActionReject, models.ActionRequestRevision, models.ActionReviewCheck:
		return task.Approver == "" || task.Approver == actor.ID
	case models.ActionSubmitForReview, models.ActionPendingDocuments, models.ActionCompleteCheck:
		return task.Processor == "" || task.Processor == actor.ID
	case models.ActionResubmit:
		return task.Applicant == actor.ID
	case models.ActionUpdate:
		return task.Applicant == actor.ID || task.Processor == actor.ID
	default:
		return true
	}
}

// Authorize 校验动作在当前任务状态与操作者身份下是否合法。
// 状态不允许返回 InvalidTransition，能力或分配不满足返回 Unauthorized。
func (r *Router) Authorize(gate *access.Gate, task *models.Task, actor access.Actor, action models.TaskAction) error {
	if !stateAllows(task.Status, action) {
		return errs.InvalidTransition(string(action), string(task.Status))
	}
	// 路线要求先有处理人环节时，不允许跳过处理直接审批
	if action == models.ActionApprove || action == models.ActionReject {
		if cfg := r.Resolve(task.TaskType); cfg.RequiresProcessor && task.Status == models.StatusPending {
			return errs.InvalidTransition(string(action), string(task.Status))
		}
	}
	// review_check 需要已指派复核人
	if action == models.ActionReviewCheck && task.Approver == "" {
		return errs.InvalidTransition(string(action), string(task.Status))
	}
	perm, ok := requiredPerms[action]
	if !ok {
		return errs.InvalidTransition(string(action), string(task.Status))
	}
	if !gate.Capable(actor, perm) {
		return errs.Unauthorized(string(action))
	}
	if !assignmentAllows(task, actor, action) {
		return errs.Unauthorized(string(action))
	}
	return nil
}

// LegalActions 返回操作者对当前任务可执行的动作集合，供前端渲染按钮。
func (r *Router) LegalActions(gate *access.Gate, task *models.Task, actor access.Actor) []models.TaskAction {
	candidates := []models.TaskAction{
		models.ActionAssignProcessor, models.ActionAssignApprover,
		models.ActionSubmitForReview, models.ActionPendingDocuments,
		models.ActionRequestRevision, models.ActionResubmit,
		models.ActionApprove, models.ActionReject,
		models.ActionCompleteCheck, models.ActionReviewCheck,
		models.ActionUpdate, models.ActionDelete,
	}
	var legal []models.TaskAction
	for _, action := range candidates {
		if r.Authorize(gate, task, actor, action) == nil {
			legal = append(legal, action)
		}
	}
	return legal
}
