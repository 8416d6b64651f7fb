package handler

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-mail-reply-go/internal/config"
	"smart-mail-reply-go/internal/db"
	"smart-mail-reply-go/internal/fetcher"
	"smart-mail-reply-go/internal/ingest"
	"smart-mail-reply-go/internal/metrics"
	"smart-mail-reply-go/internal/model"
	"smart-mail-reply-go/internal/repository"
	"smart-mail-reply-go/internal/scheduler"
)

type stubFetcher struct {
	emails []model.EmailMessage
}

func (s *stubFetcher) FetchNewEmails(context.Context) ([]model.EmailMessage, error) {
	return s.emails, nil
}

func (s *stubFetcher) MarkRead(context.Context, []string) error { return nil }

func (s *stubFetcher) Close() error { return nil }

type testServer struct {
	router *gin.Engine
	repo   *repository.Repository
	sched  *scheduler.Scheduler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.Init(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "api.db")})
	require.NoError(t, err)
	repo := repository.New(conn)

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	factory := func(context.Context, model.SyncAccount) (fetcher.EmailFetcher, error) {
		return &stubFetcher{emails: []model.EmailMessage{
			{ID: "gmail-1", From: "alice@example.com", Subject: "Hours", Body: "what are the office hours"},
		}}, nil
	}
	syncer := ingest.NewSyncer(repo.Accounts, repo.WorkQueue, factory, nil, m)
	sched := scheduler.NewScheduler(&config.SchedulerConfig{SyncIntervalMinutes: 1, ReapIntervalMinutes: 5}, time.Minute, syncer, repo.WorkQueue, nil, m)
	t.Cleanup(func() { _ = sched.Stop() })

	r := gin.New()
	NewHandlers(conn, repo, syncer, sched, reg).SetupRoutes(r)
	return &testServer{router: r, repo: repo, sched: sched}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "stopped", resp.Metrics["scheduler"])
	assert.Equal(t, "0", resp.Metrics["queue_PENDING"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "smart_mail_reply_claims_total")
}

func TestCreateAndListItems(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/items", CreateItemRequest{Body: "hello there"})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[CreateItemResponse](t, w)
	assert.Equal(t, "success", created.Status)
	assert.Len(t, created.MessageID, 36)

	w = s.do(t, http.MethodGet, "/api/v1/items", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[ItemListResponse](t, w)
	require.Len(t, list.Items, 1)
	assert.Equal(t, int64(1), list.Total)
	assert.Equal(t, "Simulator", list.Items[0].Sender)
	assert.Equal(t, "No Subject", list.Items[0].Subject)
	assert.Equal(t, model.StatusPending, list.Items[0].Status)

	w = s.do(t, http.MethodGet, "/api/v1/items?status=completed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[ItemListResponse](t, w).Items)

	w = s.do(t, http.MethodGet, "/api/v1/items?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), decode[repository.Stats](t, w).Pending)
}

func TestCreateItemValidation(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/items", map[string]string{"sender": "x@example.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decode[ErrorResponse](t, w).Error)
}

func TestGetItemErrors(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/items/abc", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/items/42", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/items/42/audit", nil).Code)
}

func TestMarkReplySent(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.repo.WorkQueue.Enqueue(ctx, model.NewItem{MessageID: "m1", Body: "hello"})
	require.NoError(t, err)
	item, err := s.repo.WorkQueue.ClaimNext(ctx, "w1")
	require.NoError(t, err)

	// still PROCESSING
	w := s.do(t, http.MethodPost, "/api/v1/items/1/reply-sent", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "illegal_transition", decode[ErrorResponse](t, w).Error)

	require.NoError(t, s.repo.WorkQueue.CompleteItem(ctx, item.ID, repository.Completion{
		BodyRedacted: "hello",
		Analysis:     model.Analysis{Intent: "GENERAL_ENQUIRY", Sentiment: "Neutral", Confidence: "High"},
		Priority:     "LOW",
		Reply:        "Thank you for your query.",
		ReplyStatus:  model.ReplyPending,
	}))

	w = s.do(t, http.MethodPost, "/api/v1/items/1/reply-sent", ReplySentRequest{Actor: "alice"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/items/1/reply-sent", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/items/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[model.WorkItem](t, w)
	assert.Equal(t, model.ReplySent, got.ReplyStatus)
	assert.NotNil(t, got.RepliedAt)

	w = s.do(t, http.MethodGet, "/api/v1/items/1/audit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	trail := decode[[]model.AuditLogEntry](t, w)
	require.Len(t, trail, 3)
	assert.Equal(t, model.AuditReplySent, trail[2].Action)
	assert.Equal(t, "user:alice", trail[2].Actor)

	w = s.do(t, http.MethodGet, "/api/v1/audit?action=reply_sent", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.AuditLogEntry](t, w), 1)
}

func TestExportCSV(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.repo.WorkQueue.Enqueue(ctx, model.NewItem{MessageID: "m1", Sender: "a@example.com", Subject: "Hi", Body: "hello"})
	require.NoError(t, err)
	_, err = s.repo.WorkQueue.Enqueue(ctx, model.NewItem{MessageID: "m2", Sender: "b@example.com", Subject: "Yo", Body: "hey"})
	require.NoError(t, err)

	w := s.do(t, http.MethodGet, "/api/v1/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))

	records, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, exportHeader, records[0])
	assert.Equal(t, "a@example.com", records[1][1])
	assert.Equal(t, "PENDING", records[2][4])
}

func TestAccountLifecycle(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/accounts", AccountRequest{Email: "box@example.com", Provider: "imap"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/accounts", AccountRequest{Email: "box@example.com", Provider: "pop3"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/accounts", AccountRequest{Email: "Box@Example.com", Provider: "gmail", RefreshToken: "tok"})
	require.Equal(t, http.StatusCreated, w.Code)
	account := decode[model.SyncAccount](t, w)
	assert.Equal(t, "box@example.com", account.Email)
	assert.NotContains(t, w.Body.String(), "tok")

	w = s.do(t, http.MethodPost, "/api/v1/accounts", AccountRequest{Email: "box@example.com", Provider: "gmail", RefreshToken: "tok"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/accounts/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sync struct {
		Results []ingest.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sync))
	require.Len(t, sync.Results, 1)
	assert.Equal(t, 1, sync.Results[0].Enqueued)

	w = s.do(t, http.MethodPatch, "/api/v1/accounts/1/disable", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[model.SyncAccount](t, w).Enabled)

	w = s.do(t, http.MethodPatch, "/api/v1/accounts/9/enable", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/accounts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	accounts := decode[[]model.SyncAccount](t, w)
	require.Len(t, accounts, 1)
	assert.Equal(t, model.SyncSuccess, accounts[0].LastSyncStatus)
	assert.Equal(t, int64(1), accounts[0].TotalSynced)
}

func TestSchedulerEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/scheduler/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stopped", decode[map[string]any](t, w)["status"])

	w = s.do(t, http.MethodPost, "/api/v1/scheduler/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPost, "/api/v1/scheduler/start", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/scheduler/status", nil)
	assert.Equal(t, "running", decode[map[string]any](t, w)["status"])

	w = s.do(t, http.MethodPost, "/api/v1/scheduler/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, s.sched.IsRunning())

	w = s.do(t, http.MethodPost, "/api/v1/scheduler/run-once", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRunReaper(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.repo.WorkQueue.Enqueue(ctx, model.NewItem{MessageID: "m1", Body: "hello"})
	require.NoError(t, err)
	_, err = s.repo.WorkQueue.ClaimNext(ctx, "w1")
	require.NoError(t, err)

	// the item is younger than the one-minute threshold
	w := s.do(t, http.MethodPost, "/api/v1/reaper/run", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Reaped []uint `json:"reaped"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Reaped)
}
