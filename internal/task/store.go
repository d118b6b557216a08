package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"backend/internal/access"
	"backend/internal/approval"
	"backend/internal/audit"
	"backend/internal/errs"
	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/models"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Store 任务存储与审批状态机。所有成功的状态转换都与一条审计日志
// 在同一事务内提交：要么都落库，要么都不落库。
// 每个任务用版本号做乐观并发校验，同一任务上的并发转换恰有一个成功。
type Store struct {
	db     *gorm.DB
	gate   *access.Gate
	router *approval.Router
	rec    *audit.Recorder
	log    *zap.Logger
}

// StoreOption 自定义配置
type StoreOption func(*Store)

// WithStoreLogger 注入自定义日志器
func WithStoreLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.log = l }
}

// NewStore 创建任务存储。
func NewStore(db *gorm.DB, gate *access.Gate, router *approval.Router, rec *audit.Recorder, opts ...StoreOption) *Store {
	s := &Store{
		db:     db,
		gate:   gate,
		router: router,
		rec:    rec,
		log:    logger.Get(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// RequestMeta 请求来源信息，进审计日志。
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// CreateInput 建单输入。
type CreateInput struct {
	TaskType      string
	Title         string
	Applicant     string // 为空时取操作者自身
	Payload       models.Payload
	Notes         string
	Attachments   datatypes.JSON
	Deadline      *time.Time
	ReceivedAt    *time.Time
	ApprovalRoute models.ApprovalRoute // 为空时按任务类型路线表解析
}

// Create 建单，初始状态 PENDING，同事务写入 create 审计记录。
func (s *Store) Create(ctx context.Context, actor access.Actor, input CreateInput, meta RequestMeta) (*models.Task, error) {
	if !s.gate.Capable(actor, access.PermTaskCreate) {
		return nil, errs.Unauthorized(string(models.ActionCreate))
	}
	if input.TaskType == "" || input.Title == "" {
		return nil, fmt.Errorf("任务类型与标题不能为空")
	}

	route := input.ApprovalRoute
	if route == "" {
		route = s.router.Resolve(input.TaskType).Route
	}
	applicant := input.Applicant
	if applicant == "" {
		applicant = actor.ID
	}

	var created *models.Task
	// 编号唯一索引冲突时重试，最多三次
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		created, err = s.createOnce(ctx, actor, input, route, applicant, meta)
		if err == nil {
			break
		}
		if !isDuplicateKey(err) {
			return nil, err
		}
	}
	if err != nil {
		return nil, err
	}

	metrics.TaskTransitionsTotal.WithLabelValues(string(models.ActionCreate), string(created.Status)).Inc()
	s.log.Info("任务已创建",
		zap.String("taskId", created.ID),
		zap.String("taskNo", created.TaskNo),
		zap.String("taskType", created.TaskType),
		zap.String("applicant", created.Applicant),
	)
	return created, nil
}

func (s *Store) createOnce(ctx context.Context, actor access.Actor, input CreateInput, route models.ApprovalRoute, applicant string, meta RequestMeta) (*models.Task, error) {
	now := time.Now().UTC()
	task := &models.Task{
		TaskType:      input.TaskType,
		Title:         input.Title,
		Applicant:     applicant,
		Status:        models.StatusPending,
		ApprovalRoute: route,
		Payload:       input.Payload,
		Notes:         input.Notes,
		Attachments:   input.Attachments,
		Deadline:      input.Deadline,
		ReceivedAt:    input.ReceivedAt,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taskNo, err := NextTaskNo(tx, now)
		if err != nil {
			return err
		}
		task.TaskNo = taskNo
		if err := tx.Create(task).Error; err != nil {
			return fmt.Errorf("创建任务失败: %w", err)
		}
		return s.rec.Record(ctx, tx, &audit.Entry{
			UserID:   actor.ID,
			Action:   models.ActionCreate,
			Entity:   "task",
			EntityID: task.ID,
			Details: models.CreateDetails{
				TaskNo:   task.TaskNo,
				Title:    task.Title,
				TaskType: task.TaskType,
			},
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
		})
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Get 读取任务，带审批记录。
func (s *Store) Get(ctx context.Context, actor access.Actor, id string) (*models.Task, error) {
	if !s.gate.Capable(actor, access.PermTaskRead) {
		return nil, errs.Unauthorized("task:read")
	}
	var task models.Task
	if err := s.db.WithContext(ctx).
		Preload("ApprovalRecords").
		Where("id = ?", id).
		First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("任务", id)
		}
		return nil, fmt.Errorf("查询任务失败: %w", err)
	}
	return &task, nil
}

// Filter 任务列表过滤条件。
type Filter struct {
	Status    models.TaskStatus
	TaskType  string
	Applicant string
	Processor string
	Approver  string
	Search    string
}

// ListPage 任务分页结果。
type ListPage struct {
	Items []*models.Task `json:"items"`
	Total int64          `json:"total"`
}

// List 分页查询任务列表。
func (s *Store) List(ctx context.Context, actor access.Actor, f Filter, page, pageSize int) (*ListPage, error) {
	if !s.gate.Capable(actor, access.PermTaskRead) {
		return nil, errs.Unauthorized("task:read")
	}
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 200 {
		pageSize = 200
	}

	db := s.db.WithContext(ctx).Model(&models.Task{})
	if f.Status != "" {
		db = db.Where("status = ?", f.Status)
	}
	if f.TaskType != "" {
		db = db.Where("task_type = ?", f.TaskType)
	}
	if f.Applicant != "" {
		db = db.Where("applicant = ?", f.Applicant)
	}
	if f.Processor != "" {
		db = db.Where("processor = ?", f.Processor)
	}
	if f.Approver != "" {
		db = db.Where("approver = ?", f.Approver)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		db = db.Where("task_no LIKE ? OR title LIKE ?", like, like)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("统计任务失败: %w", err)
	}
	var items []*models.Task
	if err := db.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("查询任务列表失败: %w", err)
	}
	return &ListPage{Items: items, Total: total}, nil
}

// UpdateInput 内容更新输入，nil 表示该字段不变。
type UpdateInput struct {
	Title       *string
	Notes       *string
	Payload     *models.Payload
	Attachments datatypes.JSON
	Deadline    *time.Time
	ReceivedAt  *time.Time
}

// Update 更新任务内容，与更新前快照做三类 diff，
// 审计记录与变更同事务提交。三类 diff 全空时不算变更，不产生记录。
func (s *Store) Update(ctx context.Context, actor access.Actor, id string, input UpdateInput, meta RequestMeta) (*models.Task, error) {
	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.router.Authorize(s.gate, task, actor, models.ActionUpdate); err != nil {
		return nil, err
	}

	before := *task
	after := *task
	if input.Title != nil {
		after.Title = *input.Title
	}
	if input.Notes != nil {
		after.Notes = *input.Notes
	}
	if input.Payload != nil {
		after.Payload = *input.Payload
	}
	if input.Attachments != nil {
		after.Attachments = input.Attachments
	}
	if input.Deadline != nil {
		after.Deadline = input.Deadline
	}
	if input.ReceivedAt != nil {
		after.ReceivedAt = input.ReceivedAt
	}

	details := audit.SynthesizeUpdate(&before, &after)
	if input.Attachments != nil && !bytes.Equal(input.Attachments, task.Attachments) {
		details.AttachmentsChanged = true
	}
	if details.Empty() {
		return task, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Task{}).
			Where("id = ? AND version = ?", task.ID, task.Version).
			Updates(map[string]any{
				"title":       after.Title,
				"notes":       after.Notes,
				"payload":     after.Payload,
				"attachments": after.Attachments,
				"deadline":    after.Deadline,
				"received_at": after.ReceivedAt,
				"version":     task.Version + 1,
				"updated_at":  time.Now().UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("更新任务失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errs.Conflict("任务", task.ID)
		}
		return s.rec.Record(ctx, tx, &audit.Entry{
			UserID:    actor.ID,
			Action:    models.ActionUpdate,
			Entity:    "task",
			EntityID:  task.ID,
			Details:   details,
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
		})
	})
	if err != nil {
		return nil, err
	}

	after.Version = task.Version + 1
	metrics.TaskTransitionsTotal.WithLabelValues(string(models.ActionUpdate), string(after.Status)).Inc()
	return &after, nil
}

// Delete 硬删除任务。没有软删标记：删除瞬间的全量快照进审计日志，
// 那条记录是这个实体唯一的持久化形态，也是唯一的恢复途径。
func (s *Store) Delete(ctx context.Context, actor access.Actor, id string, meta RequestMeta) error {
	task, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.router.Authorize(s.gate, task, actor, models.ActionDelete); err != nil {
		return err
	}

	snapshot := *task
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND version = ?", task.ID, task.Version).Delete(&models.Task{})
		if res.Error != nil {
			return fmt.Errorf("删除任务失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errs.Conflict("任务", task.ID)
		}
		return s.rec.Record(ctx, tx, &audit.Entry{
			UserID:    actor.ID,
			Action:    models.ActionDelete,
			Entity:    "task",
			EntityID:  task.ID,
			Details:   models.DeleteDetails{Snapshot: &snapshot},
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
		})
	})
	if err != nil {
		return err
	}

	metrics.TaskTransitionsTotal.WithLabelValues(string(models.ActionDelete), string(task.Status)).Inc()
	s.log.Info("任务已删除", zap.String("taskId", task.ID), zap.String("taskNo", task.TaskNo))
	return nil
}

// TransitionInput 状态转换的附加输入。
type TransitionInput struct {
	Comment    string // approve / reject / request_revision 的意见
	AssigneeID string // assign_processor / assign_approver 的被指派人
}

// Transition 执行一次状态机动作。闸门与路由校验通过后，
// 在单个事务内完成乐观锁更新、审批记录追加与审计写入。
func (s *Store) Transition(ctx context.Context, actor access.Actor, id string, action models.TaskAction, input TransitionInput, meta RequestMeta) (*models.Task, error) {
	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.router.Authorize(s.gate, task, actor, action); err != nil {
		return nil, err
	}

	oldStatus := task.Status
	newStatus := oldStatus
	if target, ok := approval.Target(action); ok {
		newStatus = target
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"status":     newStatus,
		"version":    task.Version + 1,
		"updated_at": now,
	}

	switch action {
	case models.ActionAssignProcessor:
		if input.AssigneeID == "" {
			return nil, fmt.Errorf("缺少处理人")
		}
		updates["processor"] = input.AssigneeID
	case models.ActionAssignApprover:
		if input.AssigneeID == "" {
			return nil, fmt.Errorf("缺少审批人")
		}
		updates["approver"] = input.AssigneeID
	case models.ActionApprove:
		updates["approval_mark"] = approval.Mark(task.ApprovalRoute)
	case models.ActionCompleteCheck:
		updates["completed_at"] = now
	case models.ActionResubmit:
		// 重新送件清掉上一轮的合规标记
		updates["approval_mark"] = ""
	}

	entry := s.buildTransitionEntry(actor, task, action, input, oldStatus, newStatus, meta)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Task{}).
			Where("id = ? AND version = ?", task.ID, task.Version).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("执行 %s 失败: %w", action, res.Error)
		}
		if res.RowsAffected == 0 {
			metrics.TaskTransitionConflictsTotal.WithLabelValues(string(action)).Inc()
			return errs.Conflict("任务", task.ID)
		}
		if isDecision(action) {
			record := &models.ApprovalRecord{
				TaskID:     task.ID,
				Action:     action,
				Comment:    input.Comment,
				ApproverID: actor.ID,
				CreatedAt:  now,
			}
			if err := tx.Create(record).Error; err != nil {
				return fmt.Errorf("写入审批记录失败: %w", err)
			}
		}
		return s.rec.Record(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}

	metrics.TaskTransitionsTotal.WithLabelValues(string(action), string(newStatus)).Inc()
	s.log.Info("任务状态已转换",
		zap.String("taskId", task.ID),
		zap.String("action", string(action)),
		zap.String("oldStatus", string(oldStatus)),
		zap.String("newStatus", string(newStatus)),
		zap.String("operator", actor.ID),
	)

	return s.load(ctx, id)
}

// buildTransitionEntry 按动作构造固定形状的审计详情。
// 纯状态推进动作统一记为 update_status，审批决定与指派保留各自动作名。
func (s *Store) buildTransitionEntry(actor access.Actor, task *models.Task, action models.TaskAction, input TransitionInput, oldStatus, newStatus models.TaskStatus, meta RequestMeta) *audit.Entry {
	entry := &audit.Entry{
		UserID:    actor.ID,
		Entity:    "task",
		EntityID:  task.ID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}
	switch action {
	case models.ActionApprove, models.ActionReject, models.ActionRequestRevision:
		entry.Action = action
		entry.Details = models.DecisionDetails{Comment: input.Comment, NewStatus: newStatus}
	case models.ActionAssignProcessor, models.ActionAssignApprover:
		entry.Action = action
		entry.Details = models.AssignDetails{
			AssigneeID: input.AssigneeID,
			OldStatus:  oldStatus,
			NewStatus:  newStatus,
		}
	default:
		entry.Action = models.ActionUpdateStatus
		entry.Details = models.StatusDetails{OldStatus: oldStatus, NewStatus: newStatus}
	}
	return entry
}

// LegalActions 返回操作者对任务当前可执行的动作集合。
func (s *Store) LegalActions(ctx context.Context, actor access.Actor, id string) ([]models.TaskAction, error) {
	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.router.LegalActions(s.gate, task, actor), nil
}

// BatchResult 批量操作中单个任务的结果。
type BatchResult struct {
	TaskID string `json:"taskId"`
	Error  string `json:"error,omitempty"`
}

// BatchAssignProcessor 批量指派处理人。每个任务独立走一次
// 带锁的转换事务，不加全局锁；单个失败不影响其余任务。
func (s *Store) BatchAssignProcessor(ctx context.Context, actor access.Actor, taskIDs []string, processorID string, meta RequestMeta) []BatchResult {
	results := make([]BatchResult, 0, len(taskIDs))
	for _, id := range taskIDs {
		r := BatchResult{TaskID: id}
		if _, err := s.Transition(ctx, actor, id, models.ActionAssignProcessor,
			TransitionInput{AssigneeID: processorID}, meta); err != nil {
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	return results
}

func (s *Store) load(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("任务", id)
		}
		return nil, fmt.Errorf("查询任务失败: %w", err)
	}
	return &task, nil
}

func isDecision(action models.TaskAction) bool {
	return action == models.ActionApprove ||
		action == models.ActionReject ||
		action == models.ActionRequestRevision
}

// isDuplicateKey 识别唯一索引冲突（postgres 23505 / sqlite UNIQUE 约束）。
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}
