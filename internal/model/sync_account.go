package model

import "time"

// Sync providers
const (
	ProviderGmail = "gmail"
	ProviderIMAP  = "imap"
)

// Last sync outcomes
const (
	SyncNever   = "never"
	SyncSuccess = "success"
	SyncFailed  = "failed"
)

// SyncAccount is an external mailbox pulled by the sync job
type SyncAccount struct {
	ID             uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	Email          string     `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	Provider       string     `json:"provider" gorm:"type:varchar(20);not null"`
	RefreshToken   string     `json:"-" gorm:"type:text"`
	IMAPHost       string     `json:"imap_host" gorm:"type:varchar(255)"`
	IMAPPort       int        `json:"imap_port"`
	IMAPUser       string     `json:"imap_user" gorm:"type:varchar(255)"`
	IMAPPassword   string     `json:"-" gorm:"type:varchar(255)"`
	Enabled        bool       `json:"enabled" gorm:"default:true"`
	LastSyncStatus string     `json:"last_sync_status" gorm:"type:varchar(20);default:never"`
	LastSyncAt     *time.Time `json:"last_sync_at"`
	LastSyncError  string     `json:"last_sync_error" gorm:"type:text"`
	TotalSynced    int64      `json:"total_synced"`
	SyncRuns       int64      `json:"sync_runs"`
	FailedRuns     int64      `json:"failed_runs"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName specifies the table name for SyncAccount
func (SyncAccount) TableName() string {
	return "sync_accounts"
}
