package restore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend/internal/access"
	"backend/internal/audit"
	"backend/internal/errs"
	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/models"
	"backend/internal/task"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Engine 从审计日志的删除快照重建实体。
// 这是重建而非撤销：新实体拿全新的 ID 与任务编号，原 ID 永不复用。
// 对同一条日志重复调用会各自产生独立的新实体（刻意保留的既有行为）。
type Engine struct {
	db   *gorm.DB
	gate *access.Gate
	rec  *audit.Recorder
	log  *zap.Logger
}

// EngineOption 自定义配置
type EngineOption func(*Engine)

// WithEngineLogger 注入自定义日志器
func WithEngineLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// NewEngine 创建还原引擎。
func NewEngine(db *gorm.DB, gate *access.Gate, rec *audit.Recorder, opts ...EngineOption) *Engine {
	e := &Engine{
		db:   db,
		gate: gate,
		rec:  rec,
		log:  logger.Get(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Result 还原结果。
type Result struct {
	RestoredID string `json:"restoredId"`
	TaskNo     string `json:"taskNo"`
}

// Restore 从指定审计日志还原被删除的任务。
// 还原可能复活出于隐私原因被刻意删除的数据，因此由独立于
// 常规闸门检查的提升权限把守。
func (e *Engine) Restore(ctx context.Context, actor access.Actor, logID string, meta task.RequestMeta) (*Result, error) {
	if !e.gate.Capable(actor, access.PermAuditRestore) {
		metrics.RestoresTotal.WithLabelValues("unauthorized").Inc()
		return nil, errs.Unauthorized(string(models.ActionRestore))
	}

	var entry models.AuditLog
	if err := e.db.WithContext(ctx).Where("id = ?", logID).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.RestoresTotal.WithLabelValues("not_found").Inc()
			return nil, errs.NotFound("审计日志", logID)
		}
		return nil, fmt.Errorf("查询审计日志失败: %w", err)
	}

	if entry.Action != string(models.ActionDelete) {
		metrics.RestoresTotal.WithLabelValues("not_restorable").Inc()
		return nil, errs.NotRestorable(fmt.Sprintf("日志 %s 的动作是 %s，仅 delete 记录可还原", logID, entry.Action))
	}

	decoded, err := models.DecodeDetails(entry.Action, entry.Details)
	if err != nil {
		return nil, err
	}
	details, ok := decoded.(*models.DeleteDetails)
	if !ok || details.Snapshot == nil {
		metrics.RestoresTotal.WithLabelValues("not_restorable").Inc()
		return nil, errs.NotRestorable(fmt.Sprintf("日志 %s 缺少删除快照", logID))
	}

	now := time.Now().UTC()
	restored := rebuildFromSnapshot(details.Snapshot)

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taskNo, err := task.NextTaskNo(tx, now)
		if err != nil {
			return err
		}
		restored.TaskNo = taskNo
		if err := tx.Create(restored).Error; err != nil {
			return fmt.Errorf("重建任务失败: %w", err)
		}
		return e.rec.Record(ctx, tx, &audit.Entry{
			UserID:   actor.ID,
			Action:   models.ActionRestore,
			Entity:   "task",
			EntityID: restored.ID,
			Details: models.RestoreDetails{
				RestoredID:  restored.ID,
				TaskNo:      restored.TaskNo,
				SourceLogID: entry.ID,
			},
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
		})
	})
	if err != nil {
		metrics.RestoresTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.RestoresTotal.WithLabelValues("success").Inc()
	e.log.Info("已从删除快照还原任务",
		zap.String("sourceLogId", entry.ID),
		zap.String("restoredId", restored.ID),
		zap.String("taskNo", restored.TaskNo),
		zap.String("operator", actor.ID),
	)
	return &Result{RestoredID: restored.ID, TaskNo: restored.TaskNo}, nil
}

// rebuildFromSnapshot 从快照字段构造新实体。
// ID、任务编号、版本与时间戳全部重置，其余字段照搬快照。
func rebuildFromSnapshot(snap *models.Task) *models.Task {
	return &models.Task{
		TaskType:      snap.TaskType,
		Title:         snap.Title,
		Applicant:     snap.Applicant,
		Processor:     snap.Processor,
		Approver:      snap.Approver,
		Status:        snap.Status,
		ApprovalRoute: snap.ApprovalRoute,
		ApprovalMark:  snap.ApprovalMark,
		Payload:       snap.Payload,
		Notes:         snap.Notes,
		Attachments:   snap.Attachments,
		Deadline:      snap.Deadline,
		ReceivedAt:    snap.ReceivedAt,
		CompletedAt:   snap.CompletedAt,
	}
}
