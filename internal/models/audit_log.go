package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog 审计日志。只增不改：任何修正都是新记录，不是编辑。
//
// Entity/EntityID 是弱引用——删除是快照捕获的正常触发条件，
// 所以这对字段完全可以指向一个已不存在的实体，不做外键约束。
type AuditLog struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string         `gorm:"type:varchar(64);index:idx_audit_user" json:"userId"`
	Action    string         `gorm:"type:varchar(64);not null;index:idx_audit_action" json:"action"`
	Entity    string         `gorm:"type:varchar(64);not null;index:idx_audit_entity" json:"entity"`
	EntityID  string         `gorm:"type:varchar(64);index:idx_audit_entity_id" json:"entityId"`
	Details   datatypes.JSON `gorm:"type:jsonb" json:"details,omitempty"`
	IPAddress string         `gorm:"type:varchar(100)" json:"ipAddress,omitempty"`
	UserAgent string         `gorm:"type:text" json:"userAgent,omitempty"`
	CreatedAt time.Time      `gorm:"not null;index:idx_audit_created_at" json:"createdAt"`
}

// BeforeCreate GORM 钩子：创建前设置 ID 与时间
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return nil
}

// TableName 指定表名
func (AuditLog) TableName() string {
	return "audit_logs"
}
