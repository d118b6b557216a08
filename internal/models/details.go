package models

import (
	"encoding/json"
	"fmt"
)

// 审计日志的 details 载荷是以 action 字符串区分的和类型。
// 每种动作有固定、自描述的形状，阅读者无需回查被修改的实体即可理解记录；
// 未识别的动作保留原始 JSON，保证动作词汇表向前扩展时旧代码不报错。

// FieldChange 单个字段的前后值变更
type FieldChange struct {
	Field      string `json:"field"`
	FieldLabel string `json:"fieldLabel,omitempty"`
	OldValue   string `json:"oldValue"`
	NewValue   string `json:"newValue"`
}

// NotesChange 备注字段的前后值
type NotesChange struct {
	OldValue string `json:"oldValue"`
	NewValue string `json:"newValue"`
}

// UpdateDetails update 动作：三类相互独立的 diff。
// 附件不参与字段级 diff，只记录是否发生了变更。
type UpdateDetails struct {
	BasicInfoChanges   []FieldChange `json:"basicInfoChanges,omitempty"`
	NotesChange        *NotesChange  `json:"notesChange,omitempty"`
	PayloadChanges     []FieldChange `json:"payloadChanges,omitempty"`
	AttachmentsChanged bool          `json:"attachmentsChanged,omitempty"`
}

// Empty 判断是否不存在任何变更。
func (d UpdateDetails) Empty() bool {
	return len(d.BasicInfoChanges) == 0 && d.NotesChange == nil &&
		len(d.PayloadChanges) == 0 && !d.AttachmentsChanged
}

// DeleteDetails delete 动作：删除瞬间的实体全量快照，是唯一的恢复途径
type DeleteDetails struct {
	Snapshot *Task `json:"snapshot"`
}

// CreateDetails create 动作
type CreateDetails struct {
	TaskNo   string `json:"taskNo"`
	Title    string `json:"title"`
	TaskType string `json:"taskType"`
}

// StatusDetails update_status 及各种纯状态推进动作
type StatusDetails struct {
	OldStatus TaskStatus `json:"oldStatus"`
	NewStatus TaskStatus `json:"newStatus"`
}

// DecisionDetails approve / reject / request_revision 动作
type DecisionDetails struct {
	Comment   string     `json:"comment,omitempty"`
	NewStatus TaskStatus `json:"newStatus"`
}

// AssignDetails assign_processor / assign_approver 动作
type AssignDetails struct {
	AssigneeID string     `json:"assigneeId"`
	OldStatus  TaskStatus `json:"oldStatus"`
	NewStatus  TaskStatus `json:"newStatus"`
}

// RestoreDetails restore 动作。SourceLogID 是普通值引用，不是外键。
type RestoreDetails struct {
	RestoredID  string `json:"restoredId"`
	TaskNo      string `json:"taskNo,omitempty"`
	SourceLogID string `json:"sourceLogId"`
}

// UnknownDetails 未识别动作的原始载荷
type UnknownDetails struct {
	Raw json.RawMessage `json:"raw"`
}

// EncodeDetails 将 details 结构序列化为 JSON 存储形式。
func EncodeDetails(details interface{}) ([]byte, error) {
	if details == nil {
		return nil, nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("序列化审计详情失败: %w", err)
	}
	return b, nil
}

// DecodeDetails 按动作还原 details 的具体类型。
// 动作词汇表是开放的：未识别动作返回 UnknownDetails 而非错误。
func DecodeDetails(action string, raw []byte) (interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	decode := func(dst interface{}) (interface{}, error) {
		if err := json.Unmarshal(raw, dst); err != nil {
			return nil, fmt.Errorf("解析 %s 审计详情失败: %w", action, err)
		}
		return dst, nil
	}
	switch TaskAction(action) {
	case ActionUpdate:
		return decode(&UpdateDetails{})
	case ActionDelete:
		return decode(&DeleteDetails{})
	case ActionCreate:
		return decode(&CreateDetails{})
	case ActionUpdateStatus, ActionSubmitForReview, ActionPendingDocuments,
		ActionResubmit, ActionCompleteCheck, ActionReviewCheck:
		return decode(&StatusDetails{})
	case ActionApprove, ActionReject, ActionRequestRevision:
		return decode(&DecisionDetails{})
	case ActionAssignProcessor, ActionAssignApprover:
		return decode(&AssignDetails{})
	case ActionRestore:
		return decode(&RestoreDetails{})
	default:
		return &UnknownDetails{Raw: append(json.RawMessage{}, raw...)}, nil
	}
}
