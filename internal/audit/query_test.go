package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"backend/internal/errs"
	"backend/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupAuditTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:audit_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.AuditLog{}))
	return db
}

func seedEntries(t *testing.T, rec *Recorder) {
	t.Helper()
	ctx := context.Background()
	entries := []*Entry{
		{UserID: "alice", Action: models.ActionCreate, Entity: "task", EntityID: "t-1",
			Details: models.CreateDetails{TaskNo: "AT-20260830-0001", Title: "建档", TaskType: "CREATE_FILE"}},
		{UserID: "bob", Action: models.ActionUpdateStatus, Entity: "task", EntityID: "t-1",
			Details: models.StatusDetails{OldStatus: models.StatusPending, NewStatus: models.StatusProcessing}},
		{UserID: "carol", Action: models.ActionApprove, Entity: "task", EntityID: "t-2",
			Details: models.DecisionDetails{Comment: "同意", NewStatus: models.StatusApproved}},
	}
	for _, e := range entries {
		require.NoError(t, rec.Append(ctx, e))
	}
}

func TestRecorder_AppendWritesRow(t *testing.T) {
	db := setupAuditTestDB(t)
	rec := NewRecorder(db)

	err := rec.Append(context.Background(), &Entry{
		UserID:    "alice",
		Action:    models.ActionLogin,
		Entity:    "session",
		IPAddress: "10.0.0.1",
		UserAgent: "curl/8.0",
	})
	require.NoError(t, err)

	var row models.AuditLog
	require.NoError(t, db.First(&row).Error)
	require.NotEmpty(t, row.ID)
	require.Equal(t, "login", row.Action)
	require.Equal(t, "alice", row.UserID)
	require.Equal(t, "10.0.0.1", row.IPAddress)
	require.False(t, row.CreatedAt.IsZero())
}

func TestRecorder_RecordRollsBackWithTransaction(t *testing.T) {
	db := setupAuditTestDB(t)
	rec := NewRecorder(db)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := rec.Record(ctx, tx, &Entry{
			UserID: "alice", Action: models.ActionCreate, Entity: "task", EntityID: "t-1",
		}); err != nil {
			return err
		}
		return fmt.Errorf("配对的状态变更失败")
	})
	require.Error(t, err)

	// 事务回滚后日志不应出现
	var count int64
	require.NoError(t, db.Model(&models.AuditLog{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestQueryService_FilterByUserAndAction(t *testing.T) {
	db := setupAuditTestDB(t)
	rec := NewRecorder(db)
	svc := NewQueryService(db)
	seedEntries(t, rec)
	ctx := context.Background()

	page, err := svc.ActivityLogs(ctx, Filter{UserID: "alice"}, 1, 20)
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)
	require.Equal(t, "create", page.Items[0].Action)

	page, err = svc.ActivityLogs(ctx, Filter{Action: "approve"}, 1, 20)
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)
	require.Equal(t, "carol", page.Items[0].UserID)
}

func TestQueryService_SearchMatchesDetails(t *testing.T) {
	db := setupAuditTestDB(t)
	rec := NewRecorder(db)
	svc := NewQueryService(db)
	seedEntries(t, rec)

	// 搜索既匹配实体 ID，也匹配 details 里的文本
	page, err := svc.ActivityLogs(context.Background(), Filter{Search: "t-2"}, 1, 20)
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)

	page, err = svc.ActivityLogs(context.Background(), Filter{Search: "AT-20260830-0001"}, 1, 20)
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)
	require.Equal(t, "create", page.Items[0].Action)
}

func TestQueryService_Pagination(t *testing.T) {
	db := setupAuditTestDB(t)
	svc := NewQueryService(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		row := &models.AuditLog{
			UserID:    "alice",
			Action:    "create",
			Entity:    "task",
			EntityID:  fmt.Sprintf("t-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, db.Create(row).Error)
	}

	page, err := svc.ActivityLogs(ctx, Filter{}, 1, 2)
	require.NoError(t, err)
	require.EqualValues(t, 5, page.Total)
	require.Len(t, page.Items, 2)
	// 创建时间倒序：最新的在前
	require.Equal(t, "t-4", page.Items[0].EntityID)
	require.Equal(t, "t-3", page.Items[1].EntityID)

	page, err = svc.ActivityLogs(ctx, Filter{}, 3, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "t-0", page.Items[0].EntityID)
}

func TestQueryService_GetEntry(t *testing.T) {
	db := setupAuditTestDB(t)
	rec := NewRecorder(db)
	svc := NewQueryService(db)
	seedEntries(t, rec)

	var row models.AuditLog
	require.NoError(t, db.Where("action = ?", "approve").First(&row).Error)

	entry, err := svc.GetEntry(context.Background(), row.ID)
	require.NoError(t, err)
	require.Equal(t, row.ID, entry.ID)

	_, err = svc.GetEntry(context.Background(), "no-such-id")
	require.ErrorIs(t, err, errs.ErrNotFound)
}
