package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"smart-mail-reply-go/internal/gate"
	"smart-mail-reply-go/internal/metrics"
	"smart-mail-reply-go/internal/model"
	"smart-mail-reply-go/internal/priority"
	"smart-mail-reply-go/internal/repository"
)

// Store is the part of the work queue the worker needs
type Store interface {
	ClaimNext(ctx context.Context, workerID string) (*model.WorkItem, error)
	CompleteItem(ctx context.Context, id uint, c repository.Completion) error
	MarkFailed(ctx context.Context, id uint, detail string) error
}

// Redactor masks PII in message text
type Redactor interface {
	Redact(ctx context.Context, text string) string
}

// Analyzer extracts intent, sentiment, summary and confidence from redacted text
type Analyzer interface {
	Analyze(ctx context.Context, text string) model.Analysis
}

// Classifier assigns a priority tier from analysis signals
type Classifier interface {
	Classify(s priority.Signals) priority.Result
}

// Decider is the reply gate
type Decider interface {
	Decide(ctx context.Context, in gate.Input) gate.Decision
}

// Stage is the last pipeline step an item reached
type Stage string

const (
	StageClaimed    Stage = "CLAIMED"
	StageRedacted   Stage = "REDACTED"
	StageAnalyzed   Stage = "ANALYZED"
	StageClassified Stage = "CLASSIFIED"
	StageGated      Stage = "GATED"
	StagePersisted  Stage = "PERSISTED"
)

// Outcome reports how far one item got. Err is set when the item was routed to FAILED.
type Outcome struct {
	Stage    Stage
	Decision gate.Decision
	Err      error
}

// Pipeline runs one claimed item from redaction to its terminal status
type Pipeline struct {
	store      Store
	redactor   Redactor
	analyzer   Analyzer
	classifier Classifier
	gate       Decider
	metrics    *metrics.Metrics
}

// NewPipeline wires the collaborators together
func NewPipeline(store Store, redactor Redactor, analyzer Analyzer, classifier Classifier, g Decider, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		store:      store,
		redactor:   redactor,
		analyzer:   analyzer,
		classifier: classifier,
		gate:       g,
		metrics:    m,
	}
}

// Process runs every stage for item, which must already be PROCESSING.
// Any error or panic routes the item to FAILED with the detail.
func (p *Pipeline) Process(ctx context.Context, item *model.WorkItem) (out Outcome) {
	start := time.Now()
	out.Stage = StageClaimed
	log := logrus.WithFields(logrus.Fields{"item_id": item.ID, "message_id": item.MessageID})

	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("panic after stage %s: %v", out.Stage, r)
		}
		if out.Err != nil {
			p.fail(ctx, item, out.Err, log)
		}
		p.observe(out, time.Since(start))
	}()

	redacted := p.redactor.Redact(ctx, item.BodyOriginal)
	out.Stage = StageRedacted

	analysis := p.analyzer.Analyze(ctx, redacted)
	out.Stage = StageAnalyzed

	result := p.classifier.Classify(priority.Signals{
		Intent:    analysis.Intent,
		Sentiment: analysis.Sentiment,
		Summary:   analysis.Summary,
		Body:      redacted,
	})
	analysis.Priority = string(result.Tier)
	analysis.PriorityReason = result.Reason
	out.Stage = StageClassified

	decision := p.gate.Decide(ctx, gate.Input{
		Body:       redacted,
		Intent:     analysis.Intent,
		Priority:   string(result.Tier),
		Confidence: analysis.Confidence,
		Sentiment:  analysis.Sentiment,
	})
	out.Decision = decision
	out.Stage = StageGated

	completion := repository.Completion{
		BodyRedacted:   redacted,
		Analysis:       analysis,
		Priority:       string(result.Tier),
		PriorityReason: result.Reason,
		Reply:          decision.Reply,
		ReplyStatus:    model.ReplyPending,
		Detail:         decision.AuditDetail(),
	}
	if !decision.IsApproved() {
		completion.NoReplyReason = string(decision.Reason)
		completion.ReplyStatus = model.ReplySkipped
	}

	if err := p.store.CompleteItem(ctx, item.ID, completion); err != nil {
		out.Err = fmt.Errorf("failed to persist result: %w", err)
		return out
	}
	out.Stage = StagePersisted

	log.WithFields(logrus.Fields{
		"priority": result.Tier,
		"outcome":  decision.Outcome,
		"reason":   decision.Reason,
	}).Info("Work item completed")
	return out
}

func (p *Pipeline) fail(ctx context.Context, item *model.WorkItem, cause error, log *logrus.Entry) {
	log.WithField("stage_error", cause.Error()).Error("Work item failed")
	if err := p.store.MarkFailed(ctx, item.ID, cause.Error()); err != nil {
		log.Errorf("Failed to mark item failed, leaving it for the reaper: %v", err)
	}
}

func (p *Pipeline) observe(out Outcome, elapsed time.Duration) {
	if p.metrics == nil {
		return
	}
	p.metrics.ProcessingTime.Observe(elapsed.Seconds())
	status := model.StatusCompleted
	if out.Err != nil {
		status = model.StatusFailed
	}
	p.metrics.ItemsProcessed.WithLabelValues(string(status)).Inc()
}
