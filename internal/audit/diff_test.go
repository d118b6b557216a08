package audit

import (
	"testing"
	"time"

	"backend/internal/models"

	"github.com/stretchr/testify/require"
)

func TestSynthesizeUpdate_BasicInfo(t *testing.T) {
	deadline := time.Date(2026, 9, 15, 10, 0, 0, 0, time.UTC)
	before := &models.Task{Title: "建档申请", TaskType: "CREATE_FILE", Applicant: "alice"}
	after := &models.Task{Title: "建档申请（加急）", TaskType: "CREATE_FILE", Applicant: "alice", Deadline: &deadline}

	details := SynthesizeUpdate(before, after)
	require.Len(t, details.BasicInfoChanges, 2)
	require.Nil(t, details.NotesChange)
	require.Empty(t, details.PayloadChanges)

	title := details.BasicInfoChanges[0]
	require.Equal(t, "title", title.Field)
	require.Equal(t, "标题", title.FieldLabel)
	require.Equal(t, "建档申请", title.OldValue)
	require.Equal(t, "建档申请（加急）", title.NewValue)

	dl := details.BasicInfoChanges[1]
	require.Equal(t, "deadline", dl.Field)
	require.Equal(t, "截止日期", dl.FieldLabel)
	require.Equal(t, EmptyValue, dl.OldValue)
	require.Equal(t, "2026-09-15", dl.NewValue)
}

func TestSynthesizeUpdate_Notes(t *testing.T) {
	before := &models.Task{Notes: ""}
	after := &models.Task{Notes: "电话确认过"}

	details := SynthesizeUpdate(before, after)
	require.NotNil(t, details.NotesChange)
	require.Equal(t, EmptyValue, details.NotesChange.OldValue)
	require.Equal(t, "电话确认过", details.NotesChange.NewValue)
}

func TestSynthesizeUpdate_NoChange(t *testing.T) {
	task := &models.Task{Title: "同一份", Notes: "不变"}
	other := *task

	details := SynthesizeUpdate(task, &other)
	require.True(t, details.Empty())
}

func TestDiffPayload_TopLevelKeys(t *testing.T) {
	before := models.Payload{Fields: map[string]models.Value{
		"workerName": models.StringValue("李四"),
		"headcount":  models.NumberValue(3),
		"site":       models.StringValue("A 厂区"),
	}}
	after := models.Payload{Fields: map[string]models.Value{
		"workerName": models.StringValue("李四"),
		"headcount":  models.NumberValue(5),
		"contact":    models.StringValue("13800000000"),
	}}

	changes := DiffPayload(before, after)
	// 键的并集按字典序：contact（新增）、headcount（改值）、site（删除）
	require.Len(t, changes, 3)

	require.Equal(t, "contact", changes[0].Field)
	require.Equal(t, EmptyValue, changes[0].OldValue)
	require.Equal(t, "13800000000", changes[0].NewValue)

	require.Equal(t, "headcount", changes[1].Field)
	require.Equal(t, "3", changes[1].OldValue)
	require.Equal(t, "5", changes[1].NewValue)

	require.Equal(t, "site", changes[2].Field)
	require.Equal(t, "A 厂区", changes[2].OldValue)
	require.Equal(t, EmptyValue, changes[2].NewValue)
}

func TestDiffPayload_EmptyNormalization(t *testing.T) {
	// null、空串、字段缺失三者归一后视为相同，不产生变更
	before := models.Payload{Fields: map[string]models.Value{
		"remark": models.NullValue(),
		"extra":  models.StringValue(""),
	}}
	after := models.Payload{Fields: map[string]models.Value{}}

	require.Empty(t, DiffPayload(before, after))
}

func TestDiffPayload_NestedObjectsCompareAsStrings(t *testing.T) {
	nested := models.Value{Kind: models.ValueNested, Str: `{"city":"上海","street":"南京路"}`}
	same := models.Value{Kind: models.ValueNested, Str: `{"city":"上海","street":"南京路"}`}
	changed := models.Value{Kind: models.ValueNested, Str: `{"city":"北京","street":"南京路"}`}

	require.Empty(t, DiffPayload(
		models.Payload{Fields: map[string]models.Value{"address": nested}},
		models.Payload{Fields: map[string]models.Value{"address": same}},
	))

	changes := DiffPayload(
		models.Payload{Fields: map[string]models.Value{"address": nested}},
		models.Payload{Fields: map[string]models.Value{"address": changed}},
	)
	require.Len(t, changes, 1)
	require.Equal(t, "address", changes[0].Field)
}
