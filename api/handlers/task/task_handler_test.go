package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backend/internal/access"
	"backend/internal/approval"
	"backend/internal/audit"
	"backend/internal/auth"
	"backend/internal/models"
	taskstore "backend/internal/task"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupHandlerTest(t *testing.T, actor access.Actor) (*gin.Engine, *taskstore.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:taskh_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Task{}, &models.TaskNoCounter{}, &models.ApprovalRecord{}, &models.AuditLog{}))

	gate := access.NewGate(access.DefaultConfig())
	store := taskstore.NewStore(db, gate, approval.NewRouter(nil), audit.NewRecorder(db))
	handler := NewTaskHandler(store)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		if actor.ID != "" {
			auth.SetActor(c, actor)
		}
		c.Next()
	})
	api := router.Group("/api")
	tasks := api.Group("/tasks")
	tasks.POST("", handler.CreateTask)
	tasks.GET("", handler.ListTasks)
	tasks.POST("/batch-assign", handler.BatchAssign)
	tasks.GET("/:id", handler.GetTask)
	tasks.PUT("/:id", handler.UpdateTask)
	tasks.DELETE("/:id", handler.DeleteTask)
	tasks.POST("/:id/approval", handler.ApproveTask)
	tasks.POST("/:id/assign", handler.AssignTask)
	tasks.POST("/:id/status", handler.UpdateTaskStatus)
	return router, store
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestTaskHandler_CreateTask(t *testing.T) {
	admin := access.Actor{ID: "root", Role: access.RoleAdmin}
	router, _ := setupHandlerTest(t, admin)

	w := doJSON(t, router, http.MethodPost, "/api/tasks", gin.H{
		"taskType": "CREATE_FILE",
		"title":    "新员工建档",
		"payload": gin.H{
			"fields": gin.H{"workerName": "李四"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Success bool        `json:"success"`
		Data    models.Task `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.Data.ID)
	require.Contains(t, resp.Data.TaskNo, "AT-")
	require.Equal(t, models.StatusPending, resp.Data.Status)
	require.Equal(t, models.RouteV, resp.Data.ApprovalRoute)
}

func TestTaskHandler_CreateTaskValidation(t *testing.T) {
	admin := access.Actor{ID: "root", Role: access.RoleAdmin}
	router, _ := setupHandlerTest(t, admin)

	w := doJSON(t, router, http.MethodPost, "/api/tasks", gin.H{"title": "缺少类型"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTaskHandler_Unauthenticated(t *testing.T) {
	router, _ := setupHandlerTest(t, access.Actor{})

	w := doJSON(t, router, http.MethodPost, "/api/tasks", gin.H{"taskType": "GENERAL", "title": "无身份"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTaskHandler_GetTaskWithLegalActions(t *testing.T) {
	admin := access.Actor{ID: "root", Role: access.RoleAdmin}
	router, store := setupHandlerTest(t, admin)

	created := createTestTask(t, store, admin, "GENERAL", "一般事项")

	w := doJSON(t, router, http.MethodGet, "/api/tasks/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Task         models.Task `json:"task"`
			LegalActions []string    `json:"legalActions"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, created.ID, resp.Data.Task.ID)
	require.Contains(t, resp.Data.LegalActions, "assign_processor")
}

func TestTaskHandler_GetTaskNotFound(t *testing.T) {
	admin := access.Actor{ID: "root", Role: access.RoleAdmin}
	router, _ := setupHandlerTest(t, admin)

	w := doJSON(t, router, http.MethodGet, "/api/tasks/no-such-id", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestTaskHandler_ApprovalFlow(t *testing.T) {
	admin := access.Actor{ID: "root", Role: access.RoleAdmin}
	router, store := setupHandlerTest(t, admin)

	created := createTestTask(t, store, admin, "DATA_CHANGE", "住址变更")

	w := doJSON(t, router, http.MethodPost, "/api/tasks/"+created.ID+"/approval", gin.H{
		"action":  "approve",
		"comment": "同意",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data models.Task `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, models.StatusApproved, resp.Data.Status)
}

func TestTaskHandler_ApprovalRejectsUnknownAction(t *testing.T) {
	admin := access.Actor{ID: "root", Role: access.RoleAdmin}
	router, store := setupHandlerTest(t, admin)

	created := createTestTask(t, store, admin, "GENERAL", "一般事项")

	w := doJSON(t, router, http.MethodPost, "/api/tasks/"+created.ID+"/approval", gin.H{
		"action": "escalate",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTaskHandler_InvalidTransitionMapsToConflict(t *testing.T) {
	admin := access.Actor{ID: "root", Role: access.RoleAdmin}
	router, store := setupHandlerTest(t, admin)

	created := createTestTask(t, store, admin, "GENERAL", "一般事项")

	// 先批准再结案，进入吸收态
	w := doJSON(t, router, http.MethodPost, "/api/tasks/"+created.ID+"/approval", gin.H{"action": "approve"})
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, router, http.MethodPost, "/api/tasks/"+created.ID+"/status", gin.H{"action": "complete_check"})
	require.Equal(t, http.StatusOK, w.Code)

	// 吸收态下再批准：状态机拒绝，映射为 409
	w = doJSON(t, router, http.MethodPost, "/api/tasks/"+created.ID+"/approval", gin.H{"action": "approve"})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestTaskHandler_ForbiddenMapsTo403(t *testing.T) {
	approverActor := access.Actor{ID: "carol", Role: access.RoleApprover}
	router, _ := setupHandlerTest(t, approverActor)

	// 审批角色没有建单能力
	w := doJSON(t, router, http.MethodPost, "/api/tasks", gin.H{"taskType": "GENERAL", "title": "越权"})
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestTaskHandler_AssignAndBatchAssign(t *testing.T) {
	admin := access.Actor{ID: "root", Role: access.RoleAdmin}
	router, store := setupHandlerTest(t, admin)

	first := createTestTask(t, store, admin, "GENERAL", "任务一")
	second := createTestTask(t, store, admin, "GENERAL", "任务二")

	w := doJSON(t, router, http.MethodPost, "/api/tasks/"+first.ID+"/assign", gin.H{"processorId": "bob"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/tasks/batch-assign", gin.H{
		"taskIds":     []string{second.ID, "no-such-task"},
		"processorId": "bob",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []taskstore.BatchResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	require.Empty(t, resp.Data[0].Error)
	require.NotEmpty(t, resp.Data[1].Error)
}

func TestTaskHandler_ListPagination(t *testing.T) {
	admin := access.Actor{ID: "root", Role: access.RoleAdmin}
	router, store := setupHandlerTest(t, admin)

	for i := 0; i < 3; i++ {
		createTestTask(t, store, admin, "GENERAL", fmt.Sprintf("任务 %d", i))
	}

	w := doJSON(t, router, http.MethodGet, "/api/tasks?page=1&pageSize=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Items      []models.Task `json:"items"`
		Pagination struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 2)
	require.EqualValues(t, 3, resp.Pagination.Total)
}

func createTestTask(t *testing.T, store *taskstore.Store, actor access.Actor, taskType, title string) *models.Task {
	t.Helper()
	created, err := store.Create(context.Background(), actor, taskstore.CreateInput{
		TaskType: taskType,
		Title:    title,
	}, taskstore.RequestMeta{})
	require.NoError(t, err)
	return created
}
