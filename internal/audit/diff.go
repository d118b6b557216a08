package audit

import (
	"sort"
	"time"

	"backend/internal/models"
)

// EmptyValue 空值哨兵。空字符串、null、未填写在比较前统一归一到这里，
// 两侧归一后相同则该字段不产生变更条目。
const EmptyValue = "（空）"

const dateLayout = "2006-01-02"

// basicField 基础信息字段的取值器与展示标签。
type basicField struct {
	name  string
	label string
	get   func(*models.Task) string
}

var basicFields = []basicField{
	{"title", "标题", func(t *models.Task) string { return t.Title }},
	{"taskType", "任务类型", func(t *models.Task) string { return t.TaskType }},
	{"applicant", "申请人", func(t *models.Task) string { return t.Applicant }},
	{"processor", "处理人", func(t *models.Task) string { return t.Processor }},
	{"approver", "审批人", func(t *models.Task) string { return t.Approver }},
	{"approvalRoute", "审批路线", func(t *models.Task) string { return string(t.ApprovalRoute) }},
	{"deadline", "截止日期", func(t *models.Task) string { return formatDate(t.Deadline) }},
	{"receivedAt", "收件日期", func(t *models.Task) string { return formatDate(t.ReceivedAt) }},
}

// SynthesizeUpdate 对比更新前后的任务快照，合成 update 动作的审计详情。
// 三类 diff 相互独立：基础信息、备注、按类型载荷。
func SynthesizeUpdate(before, after *models.Task) models.UpdateDetails {
	return models.UpdateDetails{
		BasicInfoChanges: diffBasicInfo(before, after),
		NotesChange:      diffNotes(before, after),
		PayloadChanges:   DiffPayload(before.Payload, after.Payload),
	}
}

// diffBasicInfo 标量字段的带标签 diff，未变更的字段不输出。
func diffBasicInfo(before, after *models.Task) []models.FieldChange {
	var changes []models.FieldChange
	for _, f := range basicFields {
		oldV := normalizeEmpty(f.get(before))
		newV := normalizeEmpty(f.get(after))
		if oldV == newV {
			continue
		}
		changes = append(changes, models.FieldChange{
			Field:      f.name,
			FieldLabel: f.label,
			OldValue:   oldV,
			NewValue:   newV,
		})
	}
	return changes
}

// diffNotes 备注字段的单对前后值，未变更时省略。
func diffNotes(before, after *models.Task) *models.NotesChange {
	oldV := normalizeEmpty(before.Notes)
	newV := normalizeEmpty(after.Notes)
	if oldV == newV {
		return nil
	}
	return &models.NotesChange{OldValue: oldV, NewValue: newV}
}

// DiffPayload 载荷的浅层顶层键 diff。刻意不做递归：
// 嵌套值在信封里已折叠为字符串形式，顶层比较即可。
func DiffPayload(before, after models.Payload) []models.FieldChange {
	keys := make(map[string]struct{}, len(before.Fields)+len(after.Fields))
	for k := range before.Fields {
		keys[k] = struct{}{}
	}
	for k := range after.Fields {
		keys[k] = struct{}{}
	}
	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	var changes []models.FieldChange
	for _, k := range ordered {
		oldV := normalizeEmpty(before.Fields[k].Display())
		newV := normalizeEmpty(after.Fields[k].Display())
		if oldV == newV {
			continue
		}
		changes = append(changes, models.FieldChange{
			Field:    k,
			OldValue: oldV,
			NewValue: newV,
		})
	}
	return changes
}

// normalizeEmpty 将空串归一为空值哨兵。
func normalizeEmpty(s string) string {
	if s == "" {
		return EmptyValue
	}
	return s
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}
