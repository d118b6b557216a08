package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend/internal/errs"
	"backend/internal/models"

	"gorm.io/gorm"
)

// Filter 活动日志查询条件。
type Filter struct {
	UserID    string     `json:"userId"`
	Action    string     `json:"action"`
	Entity    string     `json:"entity"`
	StartDate *time.Time `json:"startDate"`
	EndDate   *time.Time `json:"endDate"`
	Search    string     `json:"search"`
}

// Page 分页结果。
type Page struct {
	Items []*models.AuditLog `json:"items"`
	Total int64              `json:"total"`
}

// QueryService 活动日志查询服务。
type QueryService struct {
	db *gorm.DB
}

// NewQueryService 创建查询服务。
func NewQueryService(db *gorm.DB) *QueryService {
	return &QueryService{db: db}
}

// ActivityLogs 按条件分页查询活动日志，按创建时间倒序。
func (s *QueryService) ActivityLogs(ctx context.Context, f Filter, page, pageSize int) (*Page, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 200 {
		pageSize = 200
	}

	db := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if f.UserID != "" {
		db = db.Where("user_id = ?", f.UserID)
	}
	if f.Action != "" {
		db = db.Where("action = ?", f.Action)
	}
	if f.Entity != "" {
		db = db.Where("entity = ?", f.Entity)
	}
	if f.StartDate != nil {
		db = db.Where("created_at >= ?", f.StartDate)
	}
	if f.EndDate != nil {
		db = db.Where("created_at <= ?", f.EndDate)
	}
	if f.Search != "" {
		// details 列是 jsonb，postgres 不支持对 jsonb 直接 LIKE，先转文本
		like := "%" + f.Search + "%"
		db = db.Where("entity_id LIKE ? OR user_id LIKE ? OR CAST(details AS TEXT) LIKE ?", like, like, like)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("统计活动日志失败: %w", err)
	}

	var items []*models.AuditLog
	if err := db.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("查询活动日志失败: %w", err)
	}

	return &Page{Items: items, Total: total}, nil
}

// GetEntry 按 ID 读取单条日志。
func (s *QueryService) GetEntry(ctx context.Context, id string) (*models.AuditLog, error) {
	var entry models.AuditLog
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("审计日志", id)
		}
		return nil, fmt.Errorf("查询审计日志失败: %w", err)
	}
	return &entry, nil
}
