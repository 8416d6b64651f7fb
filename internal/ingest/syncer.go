package ingest

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"smart-mail-reply-go/internal/fetcher"
	"smart-mail-reply-go/internal/lease"
	"smart-mail-reply-go/internal/metrics"
	"smart-mail-reply-go/internal/model"
)

const leaseName = "mailbox-sync"

// Enqueuer accepts batches of new messages
type Enqueuer interface {
	BulkEnqueue(ctx context.Context, items []model.NewItem) (int, error)
}

// AccountStore lists sync accounts and records sync outcomes
type AccountStore interface {
	ListEnabled(ctx context.Context) ([]model.SyncAccount, error)
	RecordSync(ctx context.Context, id uint, synced int, syncErr error) error
}

// Result is the outcome of syncing one account
type Result struct {
	AccountID uint   `json:"account_id"`
	Email     string `json:"email"`
	Fetched   int    `json:"fetched"`
	Enqueued  int    `json:"enqueued"`
	Error     string `json:"error,omitempty"`
}

// Syncer pulls unread mail from every enabled account into the work queue
type Syncer struct {
	accounts AccountStore
	queue    Enqueuer
	factory  fetcher.Factory
	lease    lease.Locker
	metrics  *metrics.Metrics
}

// NewSyncer creates a syncer. A nil locker means no cross-process exclusion.
func NewSyncer(accounts AccountStore, queue Enqueuer, factory fetcher.Factory, locker lease.Locker, m *metrics.Metrics) *Syncer {
	if locker == nil {
		locker = lease.Noop{}
	}
	return &Syncer{accounts: accounts, queue: queue, factory: factory, lease: locker, metrics: m}
}

// SyncAll syncs every enabled account. One failing account does not stop the others.
// It returns no results when another process holds the sync lease.
func (s *Syncer) SyncAll(ctx context.Context) ([]Result, error) {
	release, ok, err := s.lease.Acquire(ctx, leaseName)
	if err != nil {
		return nil, err
	}
	if !ok {
		logrus.Info("Mailbox sync already running elsewhere, skipping")
		return nil, nil
	}
	defer release()

	accounts, err := s.accounts.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(accounts))
	for _, account := range accounts {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		results = append(results, s.SyncAccount(ctx, account))
	}
	return results, nil
}

// SyncAccount pulls one account and records the outcome on it
func (s *Syncer) SyncAccount(ctx context.Context, account model.SyncAccount) Result {
	result := Result{AccountID: account.ID, Email: account.Email}
	log := logrus.WithFields(logrus.Fields{"account": account.Email, "provider": account.Provider})

	fetched, enqueued, err := s.pull(ctx, account)
	result.Fetched, result.Enqueued = fetched, enqueued
	if err != nil {
		result.Error = err.Error()
		log.Errorf("Mailbox sync failed: %v", err)
	} else {
		log.Infof("Mailbox sync fetched %d, enqueued %d", fetched, enqueued)
	}

	if recErr := s.accounts.RecordSync(ctx, account.ID, enqueued, err); recErr != nil {
		log.Errorf("Failed to record sync outcome: %v", recErr)
	}
	if s.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		s.metrics.SyncRuns.WithLabelValues(account.Provider, outcome).Inc()
		s.metrics.MessagesSynced.Add(float64(enqueued))
	}
	return result
}

func (s *Syncer) pull(ctx context.Context, account model.SyncAccount) (int, int, error) {
	f, err := s.factory(ctx, account)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open mailbox: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logrus.Warnf("Failed to close fetcher for %s: %v", account.Email, err)
		}
	}()

	emails, err := f.FetchNewEmails(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fetch emails: %w", err)
	}

	items := make([]model.NewItem, 0, len(emails))
	ids := make([]string, 0, len(emails))
	for _, email := range emails {
		if email.ID == "" {
			continue
		}
		items = append(items, email.ToNewItem())
		ids = append(ids, email.ID)
	}

	enqueued, err := s.queue.BulkEnqueue(ctx, items)
	if err != nil {
		return len(emails), enqueued, fmt.Errorf("failed to enqueue emails: %w", err)
	}

	// duplicates are acknowledged too so they stop showing up as unread
	if err := f.MarkRead(ctx, ids); err != nil {
		logrus.Warnf("Failed to mark messages read for %s: %v", account.Email, err)
	}
	return len(emails), enqueued, nil
}
