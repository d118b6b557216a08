package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backend/internal/access"
	"backend/internal/approval"
	auditsvc "backend/internal/audit"
	"backend/internal/auth"
	"backend/internal/models"
	"backend/internal/restore"
	taskstore "backend/internal/task"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type handlerFixture struct {
	db    *gorm.DB
	store *taskstore.Store
}

func setupAuditHandlerTest(t *testing.T, actor access.Actor) (*gin.Engine, handlerFixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:audith_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Task{}, &models.TaskNoCounter{}, &models.ApprovalRecord{}, &models.AuditLog{}))

	gate := access.NewGate(access.DefaultConfig())
	rec := auditsvc.NewRecorder(db)
	store := taskstore.NewStore(db, gate, approval.NewRouter(nil), rec)
	handler := NewAuditHandler(
		gate,
		auditsvc.NewQueryService(db),
		auditsvc.NewStatsService(db),
		restore.NewEngine(db, gate, rec),
	)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		if actor.ID != "" {
			auth.SetActor(c, actor)
		}
		c.Next()
	})
	group := router.Group("/api/audit")
	group.GET("/logs", handler.ActivityLogs)
	group.GET("/stats", handler.ActivityStats)
	group.GET("/export", handler.ExportLogs)
	group.POST("/restore/:logId", handler.RestoreTask)
	return router, handlerFixture{db: db, store: store}
}

func seedDeletedTask(t *testing.T, f handlerFixture) *models.AuditLog {
	t.Helper()
	ctx := context.Background()
	admin := access.Actor{ID: "root", Role: access.RoleAdmin}

	created, err := f.store.Create(ctx, admin, taskstore.CreateInput{
		TaskType: "CLOSE_FILE",
		Title:    "离职结案",
	}, taskstore.RequestMeta{})
	require.NoError(t, err)
	require.NoError(t, f.store.Delete(ctx, admin, created.ID, taskstore.RequestMeta{}))

	var logRow models.AuditLog
	require.NoError(t, f.db.Where("entity_id = ? AND action = ?", created.ID, "delete").First(&logRow).Error)
	return &logRow
}

func TestAuditHandler_ActivityLogs(t *testing.T) {
	admin := access.Actor{ID: "root", Role: access.RoleAdmin}
	router, f := setupAuditHandlerTest(t, admin)
	seedDeletedTask(t, f)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/audit/logs", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Items      []models.AuditLog `json:"items"`
		Pagination struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.EqualValues(t, 2, resp.Pagination.Total) // create + delete

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/audit/logs?action=delete", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.EqualValues(t, 1, resp.Pagination.Total)
	require.Equal(t, "delete", resp.Items[0].Action)
}

func TestAuditHandler_ActivityStats(t *testing.T) {
	admin := access.Actor{ID: "root", Role: access.RoleAdmin}
	router, f := setupAuditHandlerTest(t, admin)
	seedDeletedTask(t, f)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/audit/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data auditsvc.Stats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.EqualValues(t, 2, resp.Data.TotalToday)
	require.NotEmpty(t, resp.Data.ByAction)
}

func TestAuditHandler_RestoreTask(t *testing.T) {
	admin := access.Actor{ID: "root", Role: access.RoleAdmin}
	router, f := setupAuditHandlerTest(t, admin)
	logRow := seedDeletedTask(t, f)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/audit/restore/"+logRow.ID, nil))
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Data restore.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.RestoredID)
	require.NotEmpty(t, resp.Data.TaskNo)
}

func TestAuditHandler_RestoreForbiddenForManager(t *testing.T) {
	manager := access.Actor{ID: "mia", Role: access.RoleManager}
	router, f := setupAuditHandlerTest(t, manager)
	logRow := seedDeletedTask(t, f)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/audit/restore/"+logRow.ID, nil))
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuditHandler_RestoreNonDeleteEntry(t *testing.T) {
	admin := access.Actor{ID: "root", Role: access.RoleAdmin}
	router, f := setupAuditHandlerTest(t, admin)
	seedDeletedTask(t, f)

	var createRow models.AuditLog
	require.NoError(t, f.db.Where("action = ?", "create").First(&createRow).Error)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/audit/restore/"+createRow.ID, nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditHandler_ExportCSV(t *testing.T) {
	admin := access.Actor{ID: "root", Role: access.RoleAdmin}
	router, f := setupAuditHandlerTest(t, admin)
	seedDeletedTask(t, f)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/audit/export?format=csv", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	require.Contains(t, w.Header().Get("Content-Disposition"), "activity_logs_")
	require.Contains(t, w.Body.String(), "delete")
}

func TestAuditHandler_LogsRequireAuditRead(t *testing.T) {
	applicant := access.Actor{ID: "alice", Role: access.RoleApplicant}
	router, f := setupAuditHandlerTest(t, applicant)
	seedDeletedTask(t, f)

	// 申请人没有 audit:read 能力，查询、统计、导出一律 403
	for _, path := range []string{"/api/audit/logs", "/api/audit/stats", "/api/audit/export"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusForbidden, w.Code, path)
	}
}

func TestAuditHandler_Unauthenticated(t *testing.T) {
	router, _ := setupAuditHandlerTest(t, access.Actor{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/audit/logs", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
