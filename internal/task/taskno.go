package task

import (
	"fmt"
	"time"

	"backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 任务编号格式：AT-YYYYMMDD-NNNN，按天递增。
// 计数器只前进不回收：删除任务不归还编号，还原出的任务也拿新编号，
// 因此编号一经分配永不复用。
const taskNoPrefix = "AT"

// NextTaskNo 在写事务内推进当日计数并生成下一个任务编号。
// 任务表上的唯一索引兜底异常情况下的重复分配，冲突由调用方重试。
func NextTaskNo(tx *gorm.DB, now time.Time) (string, error) {
	datePart := now.Format("20060102")

	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date_part"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"seq": gorm.Expr("seq + 1")}),
	}).Create(&models.TaskNoCounter{DatePart: datePart, Seq: 1}).Error; err != nil {
		return "", fmt.Errorf("推进任务编号计数失败: %w", err)
	}

	var counter models.TaskNoCounter
	if err := tx.Where("date_part = ?", datePart).First(&counter).Error; err != nil {
		return "", fmt.Errorf("读取任务编号计数失败: %w", err)
	}

	return fmt.Sprintf("%s-%s-%04d", taskNoPrefix, datePart, counter.Seq), nil
}
