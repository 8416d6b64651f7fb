package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"smart-mail-reply-go/internal/model"
)

// SyncAccounts stores the mailboxes pulled by the sync job
type SyncAccounts struct {
	db *gorm.DB
}

// NewSyncAccounts creates a sync account store
func NewSyncAccounts(db *gorm.DB) *SyncAccounts {
	return &SyncAccounts{db: db}
}

// Create stores a new account
func (s *SyncAccounts) Create(ctx context.Context, account *model.SyncAccount) error {
	account.Email = strings.TrimSpace(strings.ToLower(account.Email))
	if account.Email == "" {
		return fmt.Errorf("%w: account email is required", ErrInvalid)
	}
	switch account.Provider {
	case model.ProviderGmail:
		if account.RefreshToken == "" {
			return fmt.Errorf("%w: gmail accounts need a refresh token", ErrInvalid)
		}
	case model.ProviderIMAP:
		if account.IMAPHost == "" || account.IMAPUser == "" {
			return fmt.Errorf("%w: imap accounts need host and user", ErrInvalid)
		}
		if account.IMAPPort == 0 {
			account.IMAPPort = 993
		}
	default:
		return fmt.Errorf("%w: unsupported provider %q", ErrInvalid, account.Provider)
	}
	if account.LastSyncStatus == "" {
		account.LastSyncStatus = model.SyncNever
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&model.SyncAccount{}).Where("email = ?", account.Email).Count(&existing).Error; err != nil {
		return fmt.Errorf("failed to check account: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("%w: account %s", ErrDuplicate, account.Email)
	}

	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// List returns every account
func (s *SyncAccounts) List(ctx context.Context) ([]model.SyncAccount, error) {
	var accounts []model.SyncAccount
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// ListEnabled returns the accounts the sync job should pull
func (s *SyncAccounts) ListEnabled(ctx context.Context) ([]model.SyncAccount, error) {
	var accounts []model.SyncAccount
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Order("id ASC").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to list enabled accounts: %w", err)
	}
	return accounts, nil
}

// Get returns one account
func (s *SyncAccounts) Get(ctx context.Context, id uint) (*model.SyncAccount, error) {
	var account model.SyncAccount
	if err := s.db.WithContext(ctx).First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account %d: %w", id, err)
	}
	return &account, nil
}

// SetEnabled toggles whether an account is synced
func (s *SyncAccounts) SetEnabled(ctx context.Context, id uint, enabled bool) error {
	result := s.db.WithContext(ctx).Model(&model.SyncAccount{}).Where("id = ?", id).Update("enabled", enabled)
	if result.Error != nil {
		return fmt.Errorf("failed to update account %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		// MySQL reports zero rows when the value is unchanged
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// RecordSync stores the outcome of one sync run for an account
func (s *SyncAccounts) RecordSync(ctx context.Context, id uint, synced int, syncErr error) error {
	updates := map[string]any{
		"last_sync_at": utcNow(),
		"sync_runs":    gorm.Expr("sync_runs + ?", 1),
		"total_synced": gorm.Expr("total_synced + ?", synced),
	}
	if syncErr != nil {
		updates["last_sync_status"] = model.SyncFailed
		updates["last_sync_error"] = syncErr.Error()
		updates["failed_runs"] = gorm.Expr("failed_runs + ?", 1)
	} else {
		updates["last_sync_status"] = model.SyncSuccess
		updates["last_sync_error"] = ""
	}

	result := s.db.WithContext(ctx).Model(&model.SyncAccount{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to record sync for account %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
