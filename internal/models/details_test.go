package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeDetails_KnownActions(t *testing.T) {
	cases := []struct {
		action  TaskAction
		details interface{}
	}{
		{ActionCreate, CreateDetails{TaskNo: "AT-20260830-0001", Title: "建档", TaskType: "CREATE_FILE"}},
		{ActionUpdateStatus, StatusDetails{OldStatus: StatusPending, NewStatus: StatusProcessing}},
		{ActionApprove, DecisionDetails{Comment: "同意", NewStatus: StatusApproved}},
		{ActionAssignProcessor, AssignDetails{AssigneeID: "u-2", OldStatus: StatusPending, NewStatus: StatusProcessing}},
		{ActionRestore, RestoreDetails{RestoredID: "t-9", TaskNo: "AT-20260830-0002", SourceLogID: "log-1"}},
	}
	for _, tc := range cases {
		t.Run(string(tc.action), func(t *testing.T) {
			raw, err := EncodeDetails(tc.details)
			require.NoError(t, err)

			decoded, err := DecodeDetails(string(tc.action), raw)
			require.NoError(t, err)

			// DecodeDetails 返回指针，解引用后应与原始值一致
			switch want := tc.details.(type) {
			case CreateDetails:
				require.Equal(t, want, *decoded.(*CreateDetails))
			case StatusDetails:
				require.Equal(t, want, *decoded.(*StatusDetails))
			case DecisionDetails:
				require.Equal(t, want, *decoded.(*DecisionDetails))
			case AssignDetails:
				require.Equal(t, want, *decoded.(*AssignDetails))
			case RestoreDetails:
				require.Equal(t, want, *decoded.(*RestoreDetails))
			}
		})
	}
}

func TestDecodeDetails_DeleteSnapshot(t *testing.T) {
	snap := &Task{
		ID:     "t-1",
		TaskNo: "AT-20260830-0001",
		Title:  "离职结案",
		Status: StatusApproved,
	}
	raw, err := EncodeDetails(DeleteDetails{Snapshot: snap})
	require.NoError(t, err)

	decoded, err := DecodeDetails(string(ActionDelete), raw)
	require.NoError(t, err)

	details, ok := decoded.(*DeleteDetails)
	require.True(t, ok)
	require.NotNil(t, details.Snapshot)
	require.Equal(t, "t-1", details.Snapshot.ID)
	require.Equal(t, StatusApproved, details.Snapshot.Status)
}

func TestDecodeDetails_UnknownActionKeepsRaw(t *testing.T) {
	raw := []byte(`{"custom":"payload"}`)

	decoded, err := DecodeDetails("export_csv", raw)
	require.NoError(t, err)

	unknown, ok := decoded.(*UnknownDetails)
	require.True(t, ok)
	require.JSONEq(t, `{"custom":"payload"}`, string(unknown.Raw))
}

func TestDecodeDetails_EmptyRaw(t *testing.T) {
	decoded, err := DecodeDetails(string(ActionCreate), nil)
	require.NoError(t, err)
	require.Nil(t, decoded)
}

func TestUpdateDetails_Empty(t *testing.T) {
	require.True(t, UpdateDetails{}.Empty())
	require.False(t, UpdateDetails{NotesChange: &NotesChange{OldValue: "a", NewValue: "b"}}.Empty())
	require.False(t, UpdateDetails{BasicInfoChanges: []FieldChange{{Field: "title"}}}.Empty())
	require.False(t, UpdateDetails{AttachmentsChanged: true}.Empty())
}
