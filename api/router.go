package api

import (
	audithandler "backend/api/handlers/audit"
	taskhandler "backend/api/handlers/task"
	"backend/internal/access"
	"backend/internal/approval"
	auditsvc "backend/internal/audit"
	"backend/internal/auth"
	"backend/internal/config"
	"backend/internal/models"
	"backend/internal/restore"
	taskstore "backend/internal/task"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// AppContainer 应用依赖容器
type AppContainer struct {
	DB       *gorm.DB
	Redis    redis.UniversalClient
	Gate     *access.Gate
	Router   *approval.Router
	Recorder *auditsvc.Recorder
	Store    *taskstore.Store
	Query    *auditsvc.QueryService
	Stats    *auditsvc.StatsService
	Restore  *restore.Engine
	Verifier *auth.Verifier
}

// Handlers 处理器集合
type Handlers struct {
	Task  *taskhandler.TaskHandler
	Audit *audithandler.AuditHandler
}

// BuildContainer 按配置装配服务依赖
func BuildContainer(cfg *config.Config, db *gorm.DB, rdb redis.UniversalClient) *AppContainer {
	gate := access.NewGate(access.DefaultConfig())

	routes := approval.DefaultRoutes()
	if len(cfg.Approval.Routes) > 0 {
		routes = make(map[string]approval.RouteConfig, len(cfg.Approval.Routes))
		for taskType, entry := range cfg.Approval.Routes {
			routes[taskType] = approval.RouteConfig{
				Route:             models.ApprovalRoute(entry.Route),
				RequiresProcessor: entry.RequiresProcessor,
			}
		}
	}
	router := approval.NewRouter(routes)

	recorder := auditsvc.NewRecorder(db)
	store := taskstore.NewStore(db, gate, router, recorder)

	statsOpts := []auditsvc.StatsOption{}
	if rdb != nil {
		statsOpts = append(statsOpts, auditsvc.WithStatsRedis(rdb))
	}

	return &AppContainer{
		DB:       db,
		Redis:    rdb,
		Gate:     gate,
		Router:   router,
		Recorder: recorder,
		Store:    store,
		Query:    auditsvc.NewQueryService(db),
		Stats:    auditsvc.NewStatsService(db, statsOpts...),
		Restore:  restore.NewEngine(db, gate, recorder),
		Verifier: auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
	}
}

// NewHandlers 创建处理器集合
func NewHandlers(c *AppContainer) *Handlers {
	return &Handlers{
		Task:  taskhandler.NewTaskHandler(c.Store),
		Audit: audithandler.NewAuditHandler(c.Gate, c.Query, c.Stats, c.Restore),
	}
}

// SetupRouter 构建 HTTP 路由
func SetupRouter(cfg *config.Config, container *AppContainer) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(), Metrics(), CORS())

	// 系统端点（公开）
	router.GET("/health", HealthCheck())
	router.GET("/ready", ReadinessCheck(container.DB))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 业务 API（需要认证）
	api := router.Group("/api")
	api.Use(auth.Middleware(container.Verifier))
	RegisterRoutes(api, NewHandlers(container))

	return router
}

// RegisterRoutes 注册业务路由
func RegisterRoutes(api *gin.RouterGroup, h *Handlers) {
	// 行政任务
	tasks := api.Group("/tasks")
	{
		tasks.POST("", h.Task.CreateTask)
		tasks.GET("", h.Task.ListTasks)
		tasks.POST("/batch-assign", h.Task.BatchAssign)
		tasks.GET("/:id", h.Task.GetTask)
		tasks.PUT("/:id", h.Task.UpdateTask)
		tasks.DELETE("/:id", h.Task.DeleteTask)
		tasks.POST("/:id/approval", h.Task.ApproveTask)
		tasks.POST("/:id/assign", h.Task.AssignTask)
		tasks.POST("/:id/status", h.Task.UpdateTaskStatus)
	}

	// 审计日志
	audit := api.Group("/audit")
	{
		audit.GET("/logs", h.Audit.ActivityLogs)
		audit.GET("/stats", h.Audit.ActivityStats)
		audit.GET("/export", h.Audit.ExportLogs)
		audit.POST("/restore/:logId", h.Audit.RestoreTask)
	}
}
