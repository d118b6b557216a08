package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"backend/internal/logger"
	"backend/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	statsCacheKey = "audit:stats"
	statsCacheTTL = 60 * time.Second
)

// ActionCount 按动作聚合的计数。
type ActionCount struct {
	Action string `json:"action"`
	Count  int64  `json:"count"`
}

// EntityCount 按实体聚合的计数。
type EntityCount struct {
	Entity string `json:"entity"`
	Count  int64  `json:"count"`
}

// Stats 活动统计概览。
type Stats struct {
	TotalToday     int64         `json:"totalToday"`
	TotalThisWeek  int64         `json:"totalThisWeek"`
	TotalThisMonth int64         `json:"totalThisMonth"`
	ByAction       []ActionCount `json:"byAction"`
	ByEntity       []EntityCount `json:"byEntity"`
}

// StatsService 活动统计服务。统计是只读聚合，
// 结果进 Redis 短缓存，Redis 未配置时直接查库（测试场景）。
type StatsService struct {
	db    *gorm.DB
	redis redis.UniversalClient
	log   *zap.Logger
	now   func() time.Time
}

// StatsOption 自定义配置
type StatsOption func(*StatsService)

// WithStatsRedis 注入缓存客户端
func WithStatsRedis(client redis.UniversalClient) StatsOption {
	return func(s *StatsService) { s.redis = client }
}

// WithStatsClock 注入时钟，便于测试
func WithStatsClock(now func() time.Time) StatsOption {
	return func(s *StatsService) { s.now = now }
}

// NewStatsService 创建统计服务。
func NewStatsService(db *gorm.DB, opts ...StatsOption) *StatsService {
	s := &StatsService{
		db:  db,
		log: logger.Get(),
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// ActivityStats 返回今日/本周/本月计数与按动作、按实体的分布。
func (s *StatsService) ActivityStats(ctx context.Context) (*Stats, error) {
	if cached := s.readCache(ctx); cached != nil {
		return cached, nil
	}

	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekday := int(today.Weekday())
	if weekday == 0 {
		weekday = 7 // 周一为一周起点
	}
	weekStart := today.AddDate(0, 0, -(weekday - 1))
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	stats := &Stats{}
	counts := []struct {
		since time.Time
		dst   *int64
	}{
		{today, &stats.TotalToday},
		{weekStart, &stats.TotalThisWeek},
		{monthStart, &stats.TotalThisMonth},
	}
	for _, c := range counts {
		if err := s.db.WithContext(ctx).
			Model(&models.AuditLog{}).
			Where("created_at >= ?", c.since).
			Count(c.dst).Error; err != nil {
			return nil, fmt.Errorf("统计活动计数失败: %w", err)
		}
	}

	if err := s.db.WithContext(ctx).
		Model(&models.AuditLog{}).
		Select("action, COUNT(*) as count").
		Group("action").
		Order("count DESC").
		Find(&stats.ByAction).Error; err != nil {
		return nil, fmt.Errorf("按动作聚合失败: %w", err)
	}
	if err := s.db.WithContext(ctx).
		Model(&models.AuditLog{}).
		Select("entity, COUNT(*) as count").
		Group("entity").
		Order("count DESC").
		Find(&stats.ByEntity).Error; err != nil {
		return nil, fmt.Errorf("按实体聚合失败: %w", err)
	}

	s.writeCache(ctx, stats)
	return stats, nil
}

func (s *StatsService) readCache(ctx context.Context) *Stats {
	if s.redis == nil {
		return nil
	}
	data, err := s.redis.Get(ctx, statsCacheKey).Bytes()
	if err != nil {
		return nil
	}
	var stats Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil
	}
	return &stats
}

func (s *StatsService) writeCache(ctx context.Context, stats *Stats) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, statsCacheKey, data, statsCacheTTL).Err(); err != nil && s.log != nil {
		s.log.Warn("写入统计缓存失败", zap.Error(err))
	}
}
