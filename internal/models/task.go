package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	StatusPending           TaskStatus = "PENDING"
	StatusProcessing        TaskStatus = "PROCESSING"
	StatusPendingDocuments  TaskStatus = "PENDING_DOCUMENTS"
	StatusPendingReview     TaskStatus = "PENDING_REVIEW"
	StatusRevisionRequested TaskStatus = "REVISION_REQUESTED"
	StatusApproved          TaskStatus = "APPROVED"
	StatusRejected          TaskStatus = "REJECTED"
	StatusCompleted         TaskStatus = "COMPLETED"
	StatusReviewed          TaskStatus = "REVIEWED"
)

// ApprovalRoute 审批路线，决定批准时落下的合规标记。
type ApprovalRoute string

const (
	RouteV       ApprovalRoute = "V_ROUTE"
	RouteDefault ApprovalRoute = "DEFAULT"
)

// 合规标记
const (
	MarkV       = "V"
	MarkDefault = "-"
)

// TaskAction 任务状态机动作
type TaskAction string

const (
	ActionCreate           TaskAction = "create"
	ActionUpdate           TaskAction = "update"
	ActionDelete           TaskAction = "delete"
	ActionAssignProcessor  TaskAction = "assign_processor"
	ActionAssignApprover   TaskAction = "assign_approver"
	ActionSubmitForReview  TaskAction = "submit_for_review"
	ActionPendingDocuments TaskAction = "pending_documents"
	ActionRequestRevision  TaskAction = "request_revision"
	ActionResubmit         TaskAction = "resubmit"
	ActionApprove          TaskAction = "approve"
	ActionReject           TaskAction = "reject"
	ActionCompleteCheck    TaskAction = "complete_check"
	ActionReviewCheck      TaskAction = "review_check"
	ActionRestore          TaskAction = "restore"
	ActionUpdateStatus     TaskAction = "update_status"
	ActionLogin            TaskAction = "login"
)

// Task 行政任务工单
type Task struct {
	ID            string         `gorm:"type:uuid;primaryKey" json:"id"`
	TaskNo        string         `gorm:"type:varchar(32);not null;uniqueIndex:idx_tasks_task_no" json:"taskNo"`
	TaskType      string         `gorm:"type:varchar(64);not null;index:idx_tasks_type" json:"taskType"`
	Title         string         `gorm:"type:varchar(255);not null" json:"title"`
	Applicant     string         `gorm:"type:varchar(64);not null;index:idx_tasks_applicant" json:"applicant"`
	Processor     string         `gorm:"type:varchar(64);index:idx_tasks_processor" json:"processor,omitempty"`
	Approver      string         `gorm:"type:varchar(64);index:idx_tasks_approver" json:"approver,omitempty"`
	Status        TaskStatus     `gorm:"type:varchar(32);not null;index:idx_tasks_status" json:"status"`
	ApprovalRoute ApprovalRoute  `gorm:"type:varchar(16);not null;default:DEFAULT" json:"approvalRoute"`
	ApprovalMark  string         `gorm:"type:varchar(4)" json:"approvalMark,omitempty"`
	Payload       Payload        `gorm:"type:jsonb" json:"payload"`
	Notes         string         `gorm:"type:text" json:"notes"`
	Attachments   datatypes.JSON `gorm:"type:jsonb" json:"attachments,omitempty"`
	Deadline      *time.Time     `json:"deadline,omitempty"`
	ReceivedAt    *time.Time     `json:"receivedAt,omitempty"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
	Version       int            `gorm:"not null;default:0" json:"version"`
	CreatedAt     time.Time      `gorm:"not null" json:"createdAt"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updatedAt"`

	ApprovalRecords []ApprovalRecord `gorm:"foreignKey:TaskID" json:"approvalRecords,omitempty"`
}

// BeforeCreate GORM 钩子：创建前设置 ID
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.ApprovalRoute == "" {
		t.ApprovalRoute = RouteDefault
	}
	return nil
}

// TableName 指定表名
func (Task) TableName() string {
	return "tasks"
}

// IsTerminal 判断状态是否为不可前进的吸收态。
// REJECTED 与 REVISION_REQUESTED 虽为终止态但允许 resubmit。
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusReviewed
}

// TaskNoCounter 任务编号的按日计数器。编号只前进不回收：
// 删除任务不归还编号，保证编号永不复用。
type TaskNoCounter struct {
	DatePart string `gorm:"type:varchar(8);primaryKey" json:"datePart"`
	Seq      int    `gorm:"not null" json:"seq"`
}

// TableName 指定表名
func (TaskNoCounter) TableName() string {
	return "task_no_counters"
}

// ApprovalRecord 审批记录，按任务只增不改。
type ApprovalRecord struct {
	ID         string     `gorm:"type:uuid;primaryKey" json:"id"`
	TaskID     string     `gorm:"type:uuid;not null;index:idx_approval_records_task" json:"taskId"`
	Action     TaskAction `gorm:"type:varchar(32);not null" json:"action"`
	Comment    string     `gorm:"type:text" json:"comment,omitempty"`
	ApproverID string     `gorm:"type:varchar(64);not null" json:"approverId"`
	CreatedAt  time.Time  `gorm:"not null" json:"createdAt"`
}

// BeforeCreate GORM 钩子：创建前设置 ID
func (r *ApprovalRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// TableName 指定表名
func (ApprovalRecord) TableName() string {
	return "approval_records"
}
