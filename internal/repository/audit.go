package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"smart-mail-reply-go/internal/model"
)

// AuditFilter narrows audit log queries
type AuditFilter struct {
	WorkItemID uint
	Action     model.AuditAction
	Limit      int
	Offset     int
}

// AuditLog reads and appends audit entries. Entries are never updated or deleted.
type AuditLog struct {
	db *gorm.DB
}

// NewAuditLog creates an audit log store
func NewAuditLog(db *gorm.DB) *AuditLog {
	return &AuditLog{db: db}
}

// Append writes a new entry
func (a *AuditLog) Append(ctx context.Context, entry *model.AuditLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = utcNow()
	}
	if err := a.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// List returns entries newest first
func (a *AuditLog) List(ctx context.Context, f AuditFilter) ([]model.AuditLogEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := a.db.WithContext(ctx).Model(&model.AuditLogEntry{})
	if f.WorkItemID != 0 {
		query = query.Where("work_item_id = ?", f.WorkItemID)
	}
	if f.Action != "" {
		query = query.Where("action = ?", f.Action)
	}

	var entries []model.AuditLogEntry
	if err := query.Order("id DESC").Limit(limit).Offset(f.Offset).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}

// ForItem returns the full history of one item in the order it happened
func (a *AuditLog) ForItem(ctx context.Context, workItemID uint) ([]model.AuditLogEntry, error) {
	var entries []model.AuditLogEntry
	if err := a.db.WithContext(ctx).
		Where("work_item_id = ?", workItemID).
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to get audit trail for item %d: %w", workItemID, err)
	}
	return entries, nil
}
