package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-mail-reply-go/internal/config"
	"smart-mail-reply-go/internal/db"
	"smart-mail-reply-go/internal/fetcher"
	"smart-mail-reply-go/internal/metrics"
	"smart-mail-reply-go/internal/model"
	"smart-mail-reply-go/internal/repository"
)

type fakeFetcher struct {
	emails []model.EmailMessage
	err    error
	read   []string
	closed bool
}

func (f *fakeFetcher) FetchNewEmails(context.Context) ([]model.EmailMessage, error) {
	return f.emails, f.err
}

func (f *fakeFetcher) MarkRead(_ context.Context, ids []string) error {
	f.read = append(f.read, ids...)
	return nil
}

func (f *fakeFetcher) Close() error {
	f.closed = true
	return nil
}

type deniedLease struct{}

func (deniedLease) Acquire(context.Context, string) (func(), bool, error) {
	return nil, false, nil
}

func setup(t *testing.T) *repository.Repository {
	t.Helper()
	conn, err := db.Init(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "ingest.db")})
	require.NoError(t, err)
	return repository.New(conn)
}

func TestSyncAllIsolatesAccountFailures(t *testing.T) {
	repo := setup(t)
	ctx := context.Background()

	good := &model.SyncAccount{Email: "good@example.com", Provider: model.ProviderGmail, RefreshToken: "t"}
	bad := &model.SyncAccount{Email: "bad@example.com", Provider: model.ProviderGmail, RefreshToken: "t"}
	require.NoError(t, repo.Accounts.Create(ctx, bad))
	require.NoError(t, repo.Accounts.Create(ctx, good))

	_, err := repo.WorkQueue.Enqueue(ctx, model.NewItem{MessageID: "dup", Body: "seen before"})
	require.NoError(t, err)

	goodFetcher := &fakeFetcher{emails: []model.EmailMessage{
		{ID: "g1", From: "a@example.com", Subject: "hi", Body: "hello"},
		{ID: "dup", Body: "seen before"},
		{ID: "g2", HTMLBody: "<p>html only</p>"},
	}}
	badFetcher := &fakeFetcher{err: errors.New("token revoked")}

	factory := func(_ context.Context, a model.SyncAccount) (fetcher.EmailFetcher, error) {
		if a.Email == bad.Email {
			return badFetcher, nil
		}
		return goodFetcher, nil
	}

	m := metrics.NewMetrics(prometheus.NewRegistry())
	s := NewSyncer(repo.Accounts, repo.WorkQueue, factory, nil, m)

	results, err := s.SyncAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "bad@example.com", results[0].Email)
	assert.Contains(t, results[0].Error, "token revoked")
	assert.Equal(t, 3, results[1].Fetched)
	assert.Equal(t, 2, results[1].Enqueued)
	assert.Empty(t, results[1].Error)

	assert.Equal(t, []string{"g1", "dup", "g2"}, goodFetcher.read)
	assert.True(t, goodFetcher.closed)
	assert.True(t, badFetcher.closed)

	g2, _, err := repo.WorkQueue.List(ctx, repository.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, "<p>html only</p>", g2[0].BodyOriginal)

	gotBad, err := repo.Accounts.Get(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncFailed, gotBad.LastSyncStatus)
	gotGood, err := repo.Accounts.Get(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncSuccess, gotGood.LastSyncStatus)
	assert.Equal(t, int64(2), gotGood.TotalSynced)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesSynced))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncRuns.WithLabelValues(model.ProviderGmail, "failure")))
}

func TestSyncAllSkipsWithoutLease(t *testing.T) {
	repo := setup(t)
	called := false
	factory := func(context.Context, model.SyncAccount) (fetcher.EmailFetcher, error) {
		called = true
		return &fakeFetcher{}, nil
	}
	require.NoError(t, repo.Accounts.Create(context.Background(), &model.SyncAccount{Email: "a@example.com", Provider: model.ProviderGmail, RefreshToken: "t"}))

	results, err := NewSyncer(repo.Accounts, repo.WorkQueue, factory, deniedLease{}, nil).SyncAll(context.Background())
	require.NoError(t, err)
	assert.Nil(t, results)
	assert.False(t, called)
}

func TestSyncAccountFactoryError(t *testing.T) {
	repo := setup(t)
	account := &model.SyncAccount{Email: "a@example.com", Provider: model.ProviderGmail, RefreshToken: "t"}
	require.NoError(t, repo.Accounts.Create(context.Background(), account))

	factory := func(context.Context, model.SyncAccount) (fetcher.EmailFetcher, error) {
		return nil, errors.New("dial failed")
	}
	res := NewSyncer(repo.Accounts, repo.WorkQueue, factory, nil, nil).SyncAccount(context.Background(), *account)
	assert.Contains(t, res.Error, "dial failed")
}
