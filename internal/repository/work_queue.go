package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"smart-mail-reply-go/internal/model"
)

const (
	defaultClaimRetries = 5
	defaultListLimit    = 50
	maxListLimit        = 500

	// StaleDetail is recorded on items failed by the reaper
	StaleDetail = "stale processing lease expired"
)

var errLostClaim = errors.New("claim lost to another worker")

// Completion holds everything written when an item finishes the pipeline
type Completion struct {
	BodyRedacted   string
	Analysis       model.Analysis
	Priority       string
	PriorityReason string
	Reply          string
	NoReplyReason  string
	ReplyStatus    model.ReplyStatus
	Detail         string
}

// ListFilter narrows and pages List results
type ListFilter struct {
	Status model.Status
	Limit  int
	Offset int
}

// Stats summarizes the queue
type Stats struct {
	Pending           int64   `json:"pending"`
	Processing        int64   `json:"processing"`
	Completed         int64   `json:"completed"`
	Failed            int64   `json:"failed"`
	AvgLatencySeconds float64 `json:"avg_latency_seconds"`
}

// WorkQueue is the persistent record store for work items
type WorkQueue struct {
	db           *gorm.DB
	now          func() time.Time
	claimRetries int
}

// NewWorkQueue creates a work queue on db
func NewWorkQueue(db *gorm.DB) *WorkQueue {
	return &WorkQueue{db: db, now: utcNow, claimRetries: defaultClaimRetries}
}

// Enqueue inserts a PENDING item. It returns false when the message id is already stored.
func (q *WorkQueue) Enqueue(ctx context.Context, in model.NewItem) (bool, error) {
	if strings.TrimSpace(in.MessageID) == "" {
		return false, fmt.Errorf("%w: message id is required", ErrInvalid)
	}

	item := q.newWorkItem(in)
	result := q.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&item)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, fmt.Errorf("failed to enqueue item: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		logrus.Debugf("Message %s already enqueued, skipping", in.MessageID)
		return false, nil
	}
	return true, nil
}

// BulkEnqueue inserts many items, skipping any message id already stored or repeated
// within the batch. It returns the number of rows actually inserted.
func (q *WorkQueue) BulkEnqueue(ctx context.Context, items []model.NewItem) (int, error) {
	inserted := 0
	seen := make(map[string]struct{}, len(items))
	for _, in := range items {
		if _, dup := seen[in.MessageID]; dup {
			continue
		}
		seen[in.MessageID] = struct{}{}

		ok, err := q.Enqueue(ctx, in)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

func (q *WorkQueue) newWorkItem(in model.NewItem) model.WorkItem {
	now := q.now()
	received := in.ReceivedAt
	if received.IsZero() {
		received = now
	}
	return model.WorkItem{
		MessageID:    in.MessageID,
		Sender:       in.Sender,
		Subject:      in.Subject,
		BodyOriginal: in.Body,
		Status:       model.StatusPending,
		ReplyStatus:  model.ReplyPending,
		ReceivedAt:   received.UTC(),
		IngestedAt:   now,
	}
}

// ClaimNext atomically moves the oldest PENDING item to PROCESSING for workerID.
// It returns nil when nothing is pending.
func (q *WorkQueue) ClaimNext(ctx context.Context, workerID string) (*model.WorkItem, error) {
	for attempt := 0; attempt < q.claimRetries; attempt++ {
		item, err := q.tryClaim(ctx, workerID)
		if errors.Is(err, errLostClaim) {
			continue
		}
		return item, err
	}
	logrus.Debugf("Worker %s lost %d claim races in a row", workerID, q.claimRetries)
	return nil, nil
}

func (q *WorkQueue) tryClaim(ctx context.Context, workerID string) (*model.WorkItem, error) {
	var claimed *model.WorkItem

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("status = ?", model.StatusPending).Order("ingested_at ASC").Order("id ASC").Limit(1)
		if q.supportsSkipLocked() {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var candidates []model.WorkItem
		if err := query.Find(&candidates).Error; err != nil {
			return fmt.Errorf("failed to select pending item: %w", err)
		}
		if len(candidates) == 0 {
			return nil
		}
		item := candidates[0]

		now := q.now()
		result := tx.Model(&model.WorkItem{}).
			Where("id = ? AND status = ?", item.ID, model.StatusPending).
			Updates(map[string]any{
				"status":                model.StatusProcessing,
				"processing_started_at": now,
				"claimed_by":            workerID,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to claim item %d: %w", item.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			return errLostClaim
		}

		item.Status = model.StatusProcessing
		item.ProcessingStartedAt = &now
		item.ClaimedBy = stringPtr(workerID)

		if err := appendAudit(tx, &item, model.AuditClaimed, "", "", "system:"+workerID, now); err != nil {
			return fmt.Errorf("failed to audit claim: %w", err)
		}

		claimed = &item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (q *WorkQueue) supportsSkipLocked() bool {
	switch q.db.Dialector.Name() {
	case "mysql", "postgres":
		return true
	default:
		return false
	}
}

// CompleteItem moves a PROCESSING item to COMPLETED and writes the pipeline results
func (q *WorkQueue) CompleteItem(ctx context.Context, id uint, c Completion) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := loadForTransition(tx, id, model.StatusCompleted)
		if err != nil {
			return err
		}

		now := q.now()
		replyStatus := c.ReplyStatus
		if replyStatus == "" {
			replyStatus = model.ReplyPending
		}

		result := tx.Model(&model.WorkItem{}).
			Where("id = ? AND status = ?", id, model.StatusProcessing).
			Updates(map[string]any{
				"status":          model.StatusCompleted,
				"body_redacted":   c.BodyRedacted,
				"analysis":        c.Analysis,
				"priority":        optionalString(c.Priority),
				"priority_reason": optionalString(c.PriorityReason),
				"reply":           c.Reply,
				"no_reply_reason": optionalString(c.NoReplyReason),
				"reply_status":    replyStatus,
				"processed_at":    now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to complete item %d: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrIllegalTransition
		}

		action := model.AuditDraftApproved
		if c.NoReplyReason != "" {
			action = model.AuditNoReply
		}
		if err := appendAudit(tx, item, action, c.NoReplyReason, c.Detail, systemActor(item), now); err != nil {
			return fmt.Errorf("failed to audit completion: %w", err)
		}
		return nil
	})
}

// MarkFailed moves a PROCESSING item to FAILED and records detail as the analysis error
func (q *WorkQueue) MarkFailed(ctx context.Context, id uint, detail string) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := loadForTransition(tx, id, model.StatusFailed)
		if err != nil {
			return err
		}
		now := q.now()
		if err := failItem(tx, item, detail, now); err != nil {
			return err
		}
		if err := appendAudit(tx, item, model.AuditFailed, "", detail, systemActor(item), now); err != nil {
			return fmt.Errorf("failed to audit failure: %w", err)
		}
		return nil
	})
}

// ReapStale fails every PROCESSING item claimed longer than olderThan ago.
// Items are never returned to PENDING.
func (q *WorkQueue) ReapStale(ctx context.Context, olderThan time.Duration) ([]model.WorkItem, error) {
	cutoff := q.now().Add(-olderThan)

	var stale []model.WorkItem
	if err := q.db.WithContext(ctx).
		Where("status = ? AND processing_started_at < ?", model.StatusProcessing, cutoff).
		Order("id ASC").
		Find(&stale).Error; err != nil {
		return nil, fmt.Errorf("failed to find stale items: %w", err)
	}

	reaped := make([]model.WorkItem, 0, len(stale))
	for i := range stale {
		item := stale[i]
		err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := q.now()
			if err := failItem(tx, &item, StaleDetail, now); err != nil {
				return err
			}
			return appendAudit(tx, &item, model.AuditReaped, "", StaleDetail, "system:reaper", now)
		})
		if errors.Is(err, ErrIllegalTransition) {
			// finished between the scan and the update
			continue
		}
		if err != nil {
			return reaped, fmt.Errorf("failed to reap item %d: %w", item.ID, err)
		}
		item.Status = model.StatusFailed
		reaped = append(reaped, item)
	}
	return reaped, nil
}

func failItem(tx *gorm.DB, item *model.WorkItem, detail string, now time.Time) error {
	result := tx.Model(&model.WorkItem{}).
		Where("id = ? AND status = ?", item.ID, model.StatusProcessing).
		Updates(map[string]any{
			"status":       model.StatusFailed,
			"analysis":     model.Analysis{Error: detail},
			"processed_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark item %d failed: %w", item.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrIllegalTransition
	}
	return nil
}

func loadForTransition(tx *gorm.DB, id uint, next model.Status) (*model.WorkItem, error) {
	var item model.WorkItem
	if err := tx.First(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load item %d: %w", id, err)
	}
	if !item.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, item.Status, next)
	}
	return &item, nil
}

// MarkReplySent records a human confirmation that the approved reply was sent
func (q *WorkQueue) MarkReplySent(ctx context.Context, id uint, actor string) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item model.WorkItem
		if err := tx.First(&item, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load item %d: %w", id, err)
		}

		now := q.now()
		result := tx.Model(&model.WorkItem{}).
			Where("id = ? AND status = ? AND reply_status = ?", id, model.StatusCompleted, model.ReplyPending).
			Updates(map[string]any{
				"reply_status": model.ReplySent,
				"replied_at":   now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to mark reply sent for item %d: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: item %d is %s with reply %s", ErrIllegalTransition, id, item.Status, item.ReplyStatus)
		}

		if actor == "" {
			actor = "user:unknown"
		}
		return appendAudit(tx, &item, model.AuditReplySent, "", "", actor, now)
	})
}

// Get returns one item by id
func (q *WorkQueue) Get(ctx context.Context, id uint) (*model.WorkItem, error) {
	var item model.WorkItem
	if err := q.db.WithContext(ctx).First(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get item %d: %w", id, err)
	}
	return &item, nil
}

// List returns items newest first along with the total matching count
func (q *WorkQueue) List(ctx context.Context, f ListFilter) ([]model.WorkItem, int64, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := q.db.WithContext(ctx).Model(&model.WorkItem{})
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count items: %w", err)
	}

	var items []model.WorkItem
	if err := query.Order("ingested_at DESC").Order("id DESC").Limit(limit).Offset(f.Offset).Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list items: %w", err)
	}
	return items, total, nil
}

// ForEach streams every item in id order in batches of size
func (q *WorkQueue) ForEach(ctx context.Context, size int, fn func(model.WorkItem) error) error {
	var batch []model.WorkItem
	var fnErr error
	result := q.db.WithContext(ctx).Order("id ASC").FindInBatches(&batch, size, func(tx *gorm.DB, _ int) error {
		for _, item := range batch {
			if fnErr = fn(item); fnErr != nil {
				return fnErr
			}
		}
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	if result.Error != nil {
		return fmt.Errorf("failed to iterate items: %w", result.Error)
	}
	return nil
}

// CountByStatus returns the number of items in each status
func (q *WorkQueue) CountByStatus(ctx context.Context) (map[model.Status]int64, error) {
	var rows []struct {
		Status model.Status
		Count  int64
	}
	if err := q.db.WithContext(ctx).Model(&model.WorkItem{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count items by status: %w", err)
	}

	counts := map[model.Status]int64{
		model.StatusPending:    0,
		model.StatusProcessing: 0,
		model.StatusCompleted:  0,
		model.StatusFailed:     0,
	}
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// AverageLatency returns the mean seconds from ingestion to completion over COMPLETED items
func (q *WorkQueue) AverageLatency(ctx context.Context) (float64, error) {
	var rows []struct {
		IngestedAt  time.Time
		ProcessedAt *time.Time
	}
	if err := q.db.WithContext(ctx).Model(&model.WorkItem{}).
		Select("ingested_at, processed_at").
		Where("status = ? AND processed_at IS NOT NULL", model.StatusCompleted).
		Scan(&rows).Error; err != nil {
		return 0, fmt.Errorf("failed to load latencies: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var total float64
	for _, r := range rows {
		total += r.ProcessedAt.Sub(r.IngestedAt).Seconds()
	}
	return total / float64(len(rows)), nil
}

// Stats combines status counts and average latency rounded to two decimals
func (q *WorkQueue) Stats(ctx context.Context) (Stats, error) {
	counts, err := q.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	avg, err := q.AverageLatency(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Pending:           counts[model.StatusPending],
		Processing:        counts[model.StatusProcessing],
		Completed:         counts[model.StatusCompleted],
		Failed:            counts[model.StatusFailed],
		AvgLatencySeconds: math.Round(avg*100) / 100,
	}, nil
}
