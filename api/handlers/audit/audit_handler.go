package audit

import (
	"net/http"
	"time"

	response "backend/api/handlers/common"
	"backend/internal/access"
	auditsvc "backend/internal/audit"
	"backend/internal/auth"
	"backend/internal/errs"
	"backend/internal/restore"
	taskstore "backend/internal/task"

	"github.com/gin-gonic/gin"
)

// AuditHandler 审计日志处理器
type AuditHandler struct {
	gate     *access.Gate
	query    *auditsvc.QueryService
	stats    *auditsvc.StatsService
	exporter *auditsvc.Exporter
	restore  *restore.Engine
}

// NewAuditHandler 创建审计处理器
func NewAuditHandler(gate *access.Gate, query *auditsvc.QueryService, stats *auditsvc.StatsService, engine *restore.Engine) *AuditHandler {
	return &AuditHandler{
		gate:     gate,
		query:    query,
		stats:    stats,
		exporter: auditsvc.NewExporter(query),
		restore:  engine,
	}
}

// requireAuditReader 校验操作者具备审计查看能力。
func (h *AuditHandler) requireAuditReader(c *gin.Context) (access.Actor, bool) {
	actor, ok := auth.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.ErrorResponse{Success: false, Message: "未认证"})
		return access.Actor{}, false
	}
	if !h.gate.Capable(actor, access.PermAuditRead) {
		writeError(c, errs.Unauthorized(string(access.PermAuditRead)))
		return access.Actor{}, false
	}
	return actor, true
}

// ActivityLogs 分页查询活动日志
// @Summary 活动日志列表
// @Tags Audit
// @Security BearerAuth
// @Produce json
// @Router /api/audit/logs [get]
func (h *AuditHandler) ActivityLogs(c *gin.Context) {
	if _, ok := h.requireAuditReader(c); !ok {
		return
	}

	filter := auditsvc.Filter{
		UserID: c.Query("userId"),
		Action: c.Query("action"),
		Entity: c.Query("entity"),
		Search: c.Query("search"),
	}
	filter.StartDate = parseDate(c.Query("startDate"), false)
	filter.EndDate = parseDate(c.Query("endDate"), true)
	page := intQuery(c, "page", 1)
	pageSize := intQuery(c, "pageSize", 20)

	result, err := h.query.ActivityLogs(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.ListResponse{
		Items: result.Items,
		Pagination: response.PaginationMeta{
			Page:     page,
			PageSize: pageSize,
			Total:    result.Total,
		},
	})
}

// ActivityStats 活动统计
// @Summary 活动统计
// @Tags Audit
// @Security BearerAuth
// @Produce json
// @Router /api/audit/stats [get]
func (h *AuditHandler) ActivityStats(c *gin.Context) {
	if _, ok := h.requireAuditReader(c); !ok {
		return
	}

	stats, err := h.stats.ActivityStats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: stats})
}

// ExportLogs 按过滤条件导出活动日志文件
// @Summary 导出活动日志
// @Tags Audit
// @Security BearerAuth
// @Produce json
// @Router /api/audit/export [get]
func (h *AuditHandler) ExportLogs(c *gin.Context) {
	if _, ok := h.requireAuditReader(c); !ok {
		return
	}

	filter := auditsvc.Filter{
		UserID: c.Query("userId"),
		Action: c.Query("action"),
		Entity: c.Query("entity"),
		Search: c.Query("search"),
	}
	filter.StartDate = parseDate(c.Query("startDate"), false)
	filter.EndDate = parseDate(c.Query("endDate"), true)

	format := auditsvc.ExportFormat(c.DefaultQuery("format", string(auditsvc.FormatJSON)))
	result, err := h.exporter.Export(c.Request.Context(), filter, format)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+result.Filename)
	c.Data(http.StatusOK, result.ContentType, result.Data)
}

// RestoreTask 从删除日志快照恢复任务
// @Summary 恢复已删除任务
// @Tags Audit
// @Security BearerAuth
// @Produce json
// @Router /api/audit/restore/{logId} [post]
func (h *AuditHandler) RestoreTask(c *gin.Context) {
	actor, ok := auth.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.ErrorResponse{Success: false, Message: "未认证"})
		return
	}

	meta := taskstore.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	result, err := h.restore.Restore(c.Request.Context(), actor, c.Param("logId"), meta)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.APIResponse{Success: true, Data: result})
}

// writeError 按错误类别写响应
func writeError(c *gin.Context, err error) {
	c.JSON(errs.HTTPStatus(err), response.ErrorResponse{Success: false, Message: err.Error()})
}

// parseDate 解析日期查询参数，endOfDay 时取当日最后一刻。
func parseDate(s string, endOfDay bool) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		if t2, err2 := time.Parse(time.RFC3339, s); err2 == nil {
			return &t2
		}
		return nil
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t
}

// intQuery 解析整数查询参数
func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n := 0
	for _, ch := range raw {
		if ch < '0' || ch > '9' {
			return fallback
		}
		n = n*10 + int(ch-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}
