package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-mail-reply-go/internal/config"
	"smart-mail-reply-go/internal/db"
	"smart-mail-reply-go/internal/gate"
	"smart-mail-reply-go/internal/metrics"
	"smart-mail-reply-go/internal/model"
	"smart-mail-reply-go/internal/priority"
	"smart-mail-reply-go/internal/privacy"
	"smart-mail-reply-go/internal/repository"
	"smart-mail-reply-go/internal/rules"
)

type fixedAnalyzer struct {
	result model.Analysis
	panic  bool
}

func (f fixedAnalyzer) Analyze(context.Context, string) model.Analysis {
	if f.panic {
		panic("analyzer crashed")
	}
	return f.result
}

type env struct {
	queue    *repository.WorkQueue
	audit    *repository.AuditLog
	pipeline *Pipeline
	metrics  *metrics.Metrics
}

func newEnv(t *testing.T, analyzer Analyzer) *env {
	t.Helper()
	conn, err := db.Init(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "worker.db")})
	require.NoError(t, err)

	set, err := rules.Default()
	require.NoError(t, err)
	redactor, err := privacy.NewRegexRedactor()
	require.NoError(t, err)

	m := metrics.NewMetrics(prometheus.NewRegistry())
	repo := repository.New(conn)
	return &env{
		queue:    repo.WorkQueue,
		audit:    repo.Audit,
		pipeline: NewPipeline(repo.WorkQueue, redactor, analyzer, priority.NewClassifier(set), gate.New(set, nil, m), m),
		metrics:  m,
	}
}

func (e *env) claim(t *testing.T, id string, body string) *model.WorkItem {
	t.Helper()
	ok, err := e.queue.Enqueue(context.Background(), model.NewItem{MessageID: id, Sender: "x@example.com", Body: body})
	require.NoError(t, err)
	require.True(t, ok)
	item, err := e.queue.ClaimNext(context.Background(), "test-worker")
	require.NoError(t, err)
	require.NotNil(t, item)
	return item
}

func TestPipelineApprovesSafeMessage(t *testing.T) {
	e := newEnv(t, fixedAnalyzer{result: model.Analysis{Intent: "GENERAL_ENQUIRY", Sentiment: "Positive", Summary: "asks about registration", Confidence: "High"}})
	item := e.claim(t, "m1", "what is the general timeline for registration? mail me at a@b.com")

	out := e.pipeline.Process(context.Background(), item)
	require.NoError(t, out.Err)
	assert.Equal(t, StagePersisted, out.Stage)
	assert.True(t, out.Decision.IsApproved())

	got, err := e.queue.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, model.ReplyPending, got.ReplyStatus)
	assert.Contains(t, *got.Reply, "Thank you for your query.")
	assert.NotContains(t, *got.BodyRedacted, "a@b.com")
	assert.Equal(t, "LOW", *got.Priority)
	assert.Equal(t, "LOW", got.Analysis.Priority)
	assert.Equal(t, "routine GENERAL_ENQUIRY with POSITIVE sentiment", got.Analysis.PriorityReason)
	assert.Nil(t, got.NoReplyReason)

	trail, err := e.audit.ForItem(context.Background(), item.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, model.AuditDraftApproved, trail[1].Action)
	assert.Equal(t, "pattern=PATTERN_B", trail[1].Detail)
}

func TestPipelineRecordsNoReplyReason(t *testing.T) {
	e := newEnv(t, fixedAnalyzer{result: model.Analysis{Intent: "REQUEST", Sentiment: "Neutral", Confidence: "High"}})
	item := e.claim(t, "m1", "I want to submit a claim")

	out := e.pipeline.Process(context.Background(), item)
	require.NoError(t, out.Err)
	assert.Equal(t, gate.ReasonHardKeyword, out.Decision.Reason)

	got, err := e.queue.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, model.NoReply, *got.Reply)
	assert.Equal(t, "HARD_BLOCK_KEYWORD", *got.NoReplyReason)
	assert.Equal(t, model.ReplySkipped, got.ReplyStatus)
}

func TestPipelineRoutesPanicToFailed(t *testing.T) {
	e := newEnv(t, fixedAnalyzer{panic: true})
	item := e.claim(t, "m1", "hello")

	out := e.pipeline.Process(context.Background(), item)
	require.Error(t, out.Err)
	assert.Equal(t, StageRedacted, out.Stage)

	got, err := e.queue.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Contains(t, got.Analysis.Error, "analyzer crashed")
	require.NotNil(t, got.ProcessedAt)
}

func TestPipelinePersistFailureMarksFailed(t *testing.T) {
	e := newEnv(t, fixedAnalyzer{result: model.Analysis{Intent: "REQUEST", Sentiment: "Neutral", Confidence: "High"}})
	item := e.claim(t, "m1", "hello")

	// an item that is no longer PROCESSING cannot be completed
	require.NoError(t, e.queue.MarkFailed(context.Background(), item.ID, "already failed"))

	out := e.pipeline.Process(context.Background(), item)
	require.Error(t, out.Err)
	assert.ErrorIs(t, out.Err, repository.ErrIllegalTransition)
	assert.Equal(t, StageGated, out.Stage)
}

type countingAnalyzer struct {
	calls atomic.Int32
}

func (c *countingAnalyzer) Analyze(context.Context, string) model.Analysis {
	c.calls.Add(1)
	return model.Analysis{Intent: "APPRECIATION", Sentiment: "Positive", Confidence: "High"}
}

func TestPoolDrainsQueue(t *testing.T) {
	analyzer := &countingAnalyzer{}
	e := newEnv(t, analyzer)

	const total = 12
	for i := 0; i < total; i++ {
		_, err := e.queue.Enqueue(context.Background(), model.NewItem{MessageID: fmt.Sprintf("m%d", i), Body: "thanks for the help"})
		require.NoError(t, err)
	}

	cfg := config.WorkerConfig{Count: 3, BackoffFloor: time.Millisecond, BackoffFactor: 1.5, BackoffCeil: 10 * time.Millisecond, ErrorDelay: time.Millisecond}
	pool := NewPool("test", cfg, e.queue, e.pipeline, e.metrics)
	assert.Equal(t, 3, pool.Size())

	pool.Start(context.Background())
	assert.Eventually(t, func() bool {
		counts, err := e.queue.CountByStatus(context.Background())
		return err == nil && counts[model.StatusCompleted] == total
	}, 5*time.Second, 10*time.Millisecond)
	pool.Stop()
	pool.Stop()

	assert.Equal(t, int32(total), analyzer.calls.Load())
}

type failingStore struct {
	Store
	calls atomic.Int32
}

func (f *failingStore) ClaimNext(context.Context, string) (*model.WorkItem, error) {
	f.calls.Add(1)
	panic("database gone")
}

func TestWorkerSurvivesClaimPanic(t *testing.T) {
	store := &failingStore{}
	cfg := config.WorkerConfig{BackoffFloor: time.Millisecond, BackoffFactor: 1, BackoffCeil: time.Millisecond, ErrorDelay: time.Millisecond}
	w := NewWorker("w1", cfg, store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return store.calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
