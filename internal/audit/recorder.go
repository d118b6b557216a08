package audit

import (
	"context"
	"fmt"

	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Entry 一次待记录的审计事件。
type Entry struct {
	UserID    string
	Action    models.TaskAction
	Entity    string
	EntityID  string
	Details   interface{}
	IPAddress string
	UserAgent string
}

// Recorder 审计日志写入器。日志只增不改，写入之间无需加锁（纯插入），
// 但状态变更配对的写入必须与变更同事务提交：任务的可见状态
// 永远不能跑在它的审计轨迹前面。
type Recorder struct {
	db  *gorm.DB
	log *zap.Logger
}

// RecorderOption 自定义配置
type RecorderOption func(*Recorder)

// WithRecorderLogger 注入自定义日志器
func WithRecorderLogger(l *zap.Logger) RecorderOption {
	return func(r *Recorder) { r.log = l }
}

// NewRecorder 创建审计写入器。
func NewRecorder(db *gorm.DB, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		db:  db,
		log: logger.Get(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Record 在调用方提供的事务句柄上追加一条审计记录。
// 写入失败向上传播，由调用方回滚配对的状态变更。
func (r *Recorder) Record(ctx context.Context, tx *gorm.DB, e *Entry) error {
	row, err := buildRow(e)
	if err != nil {
		return err
	}
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("写入审计日志失败: %w", err)
	}
	metrics.AuditEntriesTotal.WithLabelValues(string(e.Action), e.Entity).Inc()
	return nil
}

// Append 在写入器自身的连接上追加一条独立审计记录，
// 用于不伴随状态变更的事件（如 login）。
func (r *Recorder) Append(ctx context.Context, e *Entry) error {
	if err := r.Record(ctx, r.db, e); err != nil {
		if r.log != nil {
			r.log.Warn("独立审计事件写入失败",
				zap.String("action", string(e.Action)),
				zap.String("entity", e.Entity),
				zap.Error(err),
			)
		}
		return err
	}
	return nil
}

func buildRow(e *Entry) (*models.AuditLog, error) {
	detailsJSON, err := models.EncodeDetails(e.Details)
	if err != nil {
		return nil, err
	}
	return &models.AuditLog{
		UserID:    e.UserID,
		Action:    string(e.Action),
		Entity:    e.Entity,
		EntityID:  e.EntityID,
		Details:   detailsJSON,
		IPAddress: e.IPAddress,
		UserAgent: e.UserAgent,
	}, nil
}
