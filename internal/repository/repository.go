package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"smart-mail-reply-go/internal/model"
)

var (
	// ErrDuplicate is returned when a unique key is already stored
	ErrDuplicate = errors.New("duplicate record")
	// ErrInvalid is returned when a record fails validation
	ErrInvalid = errors.New("invalid record")
	// ErrIllegalTransition is returned when a status change is not allowed from the stored state
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")
)

// Repository bundles the stores backed by one database connection
type Repository struct {
	WorkQueue *WorkQueue
	Audit     *AuditLog
	Accounts  *SyncAccounts
}

// New creates all stores on top of db
func New(db *gorm.DB) *Repository {
	return &Repository{
		WorkQueue: NewWorkQueue(db),
		Audit:     NewAuditLog(db),
		Accounts:  NewSyncAccounts(db),
	}
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func appendAudit(tx *gorm.DB, item *model.WorkItem, action model.AuditAction, reason, detail, actor string, at time.Time) error {
	entry := model.AuditLogEntry{
		WorkItemID: item.ID,
		MessageID:  item.MessageID,
		Action:     action,
		ReasonCode: reason,
		Detail:     detail,
		Actor:      actor,
		CreatedAt:  at,
	}
	return tx.Create(&entry).Error
}

func systemActor(item *model.WorkItem) string {
	if item.ClaimedBy != nil && *item.ClaimedBy != "" {
		return "system:" + *item.ClaimedBy
	}
	return "system"
}

func stringPtr(s string) *string {
	return &s
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
