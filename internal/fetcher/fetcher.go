package fetcher

import (
	"context"
	"fmt"

	"smart-mail-reply-go/internal/config"
	"smart-mail-reply-go/internal/model"
)

// EmailFetcher pulls unread messages from one mailbox
type EmailFetcher interface {
	FetchNewEmails(ctx context.Context) ([]model.EmailMessage, error)
	// MarkRead acknowledges messages so they are not fetched again
	MarkRead(ctx context.Context, ids []string) error
	Close() error
}

// Factory opens a fetcher for a sync account
type Factory func(ctx context.Context, account model.SyncAccount) (EmailFetcher, error)

// NewFactory returns a factory choosing Gmail API or IMAP by account provider
func NewFactory(cfg config.GmailConfig) Factory {
	return func(ctx context.Context, account model.SyncAccount) (EmailFetcher, error) {
		switch account.Provider {
		case model.ProviderGmail:
			return NewGmailAPIFetcher(ctx, cfg, account)
		case model.ProviderIMAP:
			return NewIMAPFetcher(account)
		default:
			return nil, fmt.Errorf("unsupported provider %q", account.Provider)
		}
	}
}
