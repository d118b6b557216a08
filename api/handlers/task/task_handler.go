package task

import (
	"net/http"
	"time"

	response "backend/api/handlers/common"
	"backend/internal/auth"
	"backend/internal/errs"
	"backend/internal/models"
	taskstore "backend/internal/task"

	"github.com/gin-gonic/gin"
)

// TaskHandler 行政任务处理器
type TaskHandler struct {
	store *taskstore.Store
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(store *taskstore.Store) *TaskHandler {
	return &TaskHandler{store: store}
}

// CreateTaskRequest 建单请求
type CreateTaskRequest struct {
	TaskType      string         `json:"taskType" binding:"required"`
	Title         string         `json:"title" binding:"required"`
	Applicant     string         `json:"applicant"`
	Payload       models.Payload `json:"payload"`
	Notes         string         `json:"notes"`
	Deadline      *string        `json:"deadline"`   // ISO 8601 格式
	ReceivedAt    *string        `json:"receivedAt"` // ISO 8601 格式
	ApprovalRoute string         `json:"approvalRoute"`
}

// CreateTask 创建行政任务
// @Summary 创建行政任务
// @Tags Task
// @Security BearerAuth
// @Accept json
// @Produce json
// @Router /api/tasks [post]
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}
	actor, ok := auth.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.ErrorResponse{Success: false, Message: "未认证"})
		return
	}

	input := taskstore.CreateInput{
		TaskType:      req.TaskType,
		Title:         req.Title,
		Applicant:     req.Applicant,
		Payload:       req.Payload,
		Notes:         req.Notes,
		Deadline:      parseTime(req.Deadline),
		ReceivedAt:    parseTime(req.ReceivedAt),
		ApprovalRoute: models.ApprovalRoute(req.ApprovalRoute),
	}

	created, err := h.store.Create(c.Request.Context(), actor, input, requestMeta(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.APIResponse{Success: true, Data: created})
}

// ListTasks 分页查询任务列表
// @Summary 任务列表
// @Tags Task
// @Security BearerAuth
// @Produce json
// @Router /api/tasks [get]
func (h *TaskHandler) ListTasks(c *gin.Context) {
	actor, ok := auth.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.ErrorResponse{Success: false, Message: "未认证"})
		return
	}

	filter := taskstore.Filter{
		Status:    models.TaskStatus(c.Query("status")),
		TaskType:  c.Query("taskType"),
		Applicant: c.Query("applicant"),
		Processor: c.Query("processor"),
		Approver:  c.Query("approver"),
		Search:    c.Query("search"),
	}
	page := intQuery(c, "page", 1)
	pageSize := intQuery(c, "pageSize", 20)

	result, err := h.store.List(c.Request.Context(), actor, filter, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.ListResponse{
		Items: result.Items,
		Pagination: response.PaginationMeta{
			Page:     page,
			PageSize: pageSize,
			Total:    result.Total,
		},
	})
}

// GetTask 读取任务详情，附带当前操作者可执行的动作集合
// @Summary 任务详情
// @Tags Task
// @Security BearerAuth
// @Produce json
// @Router /api/tasks/{id} [get]
func (h *TaskHandler) GetTask(c *gin.Context) {
	actor, ok := auth.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.ErrorResponse{Success: false, Message: "未认证"})
		return
	}
	id := c.Param("id")

	found, err := h.store.Get(c.Request.Context(), actor, id)
	if err != nil {
		writeError(c, err)
		return
	}
	actions, err := h.store.LegalActions(c.Request.Context(), actor, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: gin.H{
		"task":         found,
		"legalActions": actions,
	}})
}

// UpdateTaskRequest 内容更新请求，省略的字段不变
type UpdateTaskRequest struct {
	Title      *string         `json:"title"`
	Notes      *string         `json:"notes"`
	Payload    *models.Payload `json:"payload"`
	Deadline   *string         `json:"deadline"`
	ReceivedAt *string         `json:"receivedAt"`
}

// UpdateTask 更新任务内容，审计日志记录三类结构化 diff
// @Summary 更新任务
// @Tags Task
// @Security BearerAuth
// @Accept json
// @Produce json
// @Router /api/tasks/{id} [put]
func (h *TaskHandler) UpdateTask(c *gin.Context) {
	var req UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}
	actor, ok := auth.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.ErrorResponse{Success: false, Message: "未认证"})
		return
	}

	input := taskstore.UpdateInput{
		Title:      req.Title,
		Notes:      req.Notes,
		Payload:    req.Payload,
		Deadline:   parseTime(req.Deadline),
		ReceivedAt: parseTime(req.ReceivedAt),
	}
	updated, err := h.store.Update(c.Request.Context(), actor, c.Param("id"), input, requestMeta(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: updated})
}

// DeleteTask 删除任务。无软删标记：删除瞬间的全量快照进审计日志
// @Summary 删除任务
// @Tags Task
// @Security BearerAuth
// @Produce json
// @Router /api/tasks/{id} [delete]
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	actor, ok := auth.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.ErrorResponse{Success: false, Message: "未认证"})
		return
	}
	if err := h.store.Delete(c.Request.Context(), actor, c.Param("id"), requestMeta(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "任务已删除"})
}

// ApprovalRequest 审批决定请求
type ApprovalRequest struct {
	Action  string `json:"action" binding:"required"` // approve, reject, request_revision
	Comment string `json:"comment"`
}

// ApproveTask 提交审批决定
// @Summary 审批任务
// @Tags Task
// @Security BearerAuth
// @Accept json
// @Produce json
// @Router /api/tasks/{id}/approval [post]
func (h *TaskHandler) ApproveTask(c *gin.Context) {
	var req ApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}
	actor, ok := auth.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.ErrorResponse{Success: false, Message: "未认证"})
		return
	}

	action := models.TaskAction(req.Action)
	switch action {
	case models.ActionApprove, models.ActionReject, models.ActionRequestRevision:
	default:
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "不支持的审批动作: " + req.Action})
		return
	}

	updated, err := h.store.Transition(c.Request.Context(), actor, c.Param("id"), action,
		taskstore.TransitionInput{Comment: req.Comment}, requestMeta(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: updated})
}

// AssignRequest 指派请求
type AssignRequest struct {
	ProcessorID string `json:"processorId"`
	ApproverID  string `json:"approverId"`
}

// AssignTask 指派处理人或审批人
// @Summary 指派任务
// @Tags Task
// @Security BearerAuth
// @Accept json
// @Produce json
// @Router /api/tasks/{id}/assign [post]
func (h *TaskHandler) AssignTask(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}
	actor, ok := auth.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.ErrorResponse{Success: false, Message: "未认证"})
		return
	}

	var action models.TaskAction
	var assignee string
	switch {
	case req.ProcessorID != "":
		action, assignee = models.ActionAssignProcessor, req.ProcessorID
	case req.ApproverID != "":
		action, assignee = models.ActionAssignApprover, req.ApproverID
	default:
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "缺少被指派人"})
		return
	}

	updated, err := h.store.Transition(c.Request.Context(), actor, c.Param("id"), action,
		taskstore.TransitionInput{AssigneeID: assignee}, requestMeta(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: updated})
}

// StatusRequest 状态推进请求
type StatusRequest struct {
	Action string `json:"action" binding:"required"`
}

// UpdateTaskStatus 推进任务状态
// @Summary 更新任务状态
// @Tags Task
// @Security BearerAuth
// @Accept json
// @Produce json
// @Router /api/tasks/{id}/status [post]
func (h *TaskHandler) UpdateTaskStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}
	actor, ok := auth.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.ErrorResponse{Success: false, Message: "未认证"})
		return
	}

	action := models.TaskAction(req.Action)
	switch action {
	case models.ActionSubmitForReview, models.ActionPendingDocuments,
		models.ActionResubmit, models.ActionCompleteCheck, models.ActionReviewCheck:
	default:
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "不支持的状态动作: " + req.Action})
		return
	}

	updated, err := h.store.Transition(c.Request.Context(), actor, c.Param("id"), action,
		taskstore.TransitionInput{}, requestMeta(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: updated})
}

// BatchAssignRequest 批量指派请求
type BatchAssignRequest struct {
	TaskIDs     []string `json:"taskIds" binding:"required"`
	ProcessorID string   `json:"processorId" binding:"required"`
}

// BatchAssign 批量指派处理人。每个任务独立加锁转换，单个失败不影响其余
// @Summary 批量指派处理人
// @Tags Task
// @Security BearerAuth
// @Accept json
// @Produce json
// @Router /api/tasks/batch-assign [post]
func (h *TaskHandler) BatchAssign(c *gin.Context) {
	var req BatchAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}
	actor, ok := auth.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.ErrorResponse{Success: false, Message: "未认证"})
		return
	}

	results := h.store.BatchAssignProcessor(c.Request.Context(), actor, req.TaskIDs, req.ProcessorID, requestMeta(c))
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: results})
}

// requestMeta 提取请求来源信息
func requestMeta(c *gin.Context) taskstore.RequestMeta {
	return taskstore.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// writeError 按错误类别写响应
func writeError(c *gin.Context, err error) {
	c.JSON(errs.HTTPStatus(err), response.ErrorResponse{Success: false, Message: err.Error()})
}

// parseTime 解析可选的 RFC3339 时间
func parseTime(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, *s); err == nil {
		return &t
	}
	return nil
}

// intQuery 解析整数查询参数
func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n := 0
	for _, ch := range raw {
		if ch < '0' || ch > '9' {
			return fallback
		}
		n = n*10 + int(ch-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}
