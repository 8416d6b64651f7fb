package model

import "time"

// AuditAction tags what happened to a work item
type AuditAction string

const (
	AuditClaimed       AuditAction = "CLAIMED"
	AuditDraftApproved AuditAction = "DRAFT_APPROVED"
	AuditNoReply       AuditAction = "NO_REPLY"
	AuditFailed        AuditAction = "FAILED"
	AuditReaped        AuditAction = "REAPED"
	AuditReplySent     AuditAction = "REPLY_SENT"
)

// AuditLogEntry is an append-only record of a decision or transition
type AuditLogEntry struct {
	ID         uint        `json:"id" gorm:"primaryKey;autoIncrement"`
	WorkItemID uint        `json:"work_item_id" gorm:"not null;index"`
	MessageID  string      `json:"message_id" gorm:"type:varchar(255);not null;index"`
	Action     AuditAction `json:"action" gorm:"type:varchar(32);not null"`
	ReasonCode string      `json:"reason_code" gorm:"type:varchar(64)"`
	Detail     string      `json:"detail" gorm:"type:text"`
	Actor      string      `json:"actor" gorm:"type:varchar(128);not null"`
	CreatedAt  time.Time   `json:"created_at"`
}

// TableName specifies the table name for AuditLogEntry
func (AuditLogEntry) TableName() string {
	return "audit_logs"
}
