package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"smart-mail-reply-go/internal/config"
	"smart-mail-reply-go/internal/ingest"
	"smart-mail-reply-go/internal/lease"
	"smart-mail-reply-go/internal/metrics"
	"smart-mail-reply-go/internal/model"
)

const reaperLease = "stale-reaper"

// Syncer pulls external mailboxes into the queue
type Syncer interface {
	SyncAll(ctx context.Context) ([]ingest.Result, error)
}

// Reaper fails abandoned PROCESSING items
type Reaper interface {
	ReapStale(ctx context.Context, olderThan time.Duration) ([]model.WorkItem, error)
	CountByStatus(ctx context.Context) (map[model.Status]int64, error)
}

// Status is a snapshot of the scheduler state
type Status struct {
	IsRunning    bool      `json:"is_running"`
	NextSync     time.Time `json:"next_sync"`
	LastSync     time.Time `json:"last_sync"`
	NextReap     time.Time `json:"next_reap"`
	LastReap     time.Time `json:"last_reap"`
	SyncInterval int       `json:"sync_interval_minutes"`
	ReapInterval int       `json:"reap_interval_minutes"`
}

// Scheduler runs the periodic mailbox sync and stale item reaper.
// It is independent of the worker claim loop.
type Scheduler struct {
	cron       *cron.Cron
	syncEntry  cron.EntryID
	reapEntry  cron.EntryID
	config     *config.SchedulerConfig
	staleAfter time.Duration
	syncer     Syncer
	reaper     Reaper
	lease      lease.Locker
	metrics    *metrics.Metrics
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	isRunning  bool
	mu         sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *config.SchedulerConfig, staleAfter time.Duration, syncer Syncer, reaper Reaper, locker lease.Locker, m *metrics.Metrics) *Scheduler {
	if locker == nil {
		locker = lease.Noop{}
	}
	return &Scheduler{
		config:     cfg,
		staleAfter: staleAfter,
		syncer:     syncer,
		reaper:     reaper,
		lease:      locker,
		metrics:    m,
	}
}

// Start starts the scheduler. A stopped scheduler can be started again.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	c := cron.New(cron.WithSeconds())
	ctx, cancel := context.WithCancel(context.Background())

	syncEntry, err := c.AddFunc(fmt.Sprintf("0 */%d * * * *", s.config.SyncIntervalMinutes), func() { s.runSync(ctx) })
	if err != nil {
		cancel()
		return fmt.Errorf("failed to add sync job: %w", err)
	}
	reapEntry, err := c.AddFunc(fmt.Sprintf("30 */%d * * * *", s.config.ReapIntervalMinutes), func() { s.runReap(ctx) })
	if err != nil {
		cancel()
		return fmt.Errorf("failed to add reaper job: %w", err)
	}

	s.cron, s.ctx, s.cancel = c, ctx, cancel
	s.syncEntry, s.reapEntry = syncEntry, reapEntry
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started: sync every %d minutes, reaper every %d minutes",
		s.config.SyncIntervalMinutes, s.config.ReapIntervalMinutes)
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	// Cancel context to stop any running operations
	s.cancel()

	// Wait for all jobs to complete
	select {
	case <-s.cron.Stop().Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) runSync(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	start := time.Now()
	logrus.Info("Starting mailbox sync cycle")

	results, err := s.syncer.SyncAll(ctx)
	if err != nil {
		logrus.Errorf("Mailbox sync cycle failed: %v", err)
		return
	}

	enqueued := 0
	for _, r := range results {
		enqueued += r.Enqueued
	}
	logrus.Infof("Mailbox sync cycle completed in %v: %d accounts, %d new items", time.Since(start), len(results), enqueued)
}

func (s *Scheduler) runReap(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	if _, err := s.reap(ctx); err != nil {
		logrus.Errorf("Reaper cycle failed: %v", err)
	}
}

func (s *Scheduler) reap(ctx context.Context) ([]model.WorkItem, error) {
	release, ok, err := s.lease.Acquire(ctx, reaperLease)
	if err != nil {
		return nil, err
	}
	if !ok {
		logrus.Debug("Reaper already running elsewhere, skipping")
		return nil, nil
	}
	defer release()

	reaped, err := s.reaper.ReapStale(ctx, s.staleAfter)
	if s.metrics != nil {
		s.metrics.ReapedItems.Add(float64(len(reaped)))
	}
	if err != nil {
		return reaped, fmt.Errorf("failed to reap stale items: %w", err)
	}
	for _, item := range reaped {
		logrus.WithFields(logrus.Fields{"item_id": item.ID, "message_id": item.MessageID}).
			Warn("Stale PROCESSING item failed by reaper")
	}

	if s.metrics != nil {
		if counts, err := s.reaper.CountByStatus(ctx); err == nil {
			for status, n := range counts {
				s.metrics.QueueItems.WithLabelValues(string(status)).Set(float64(n))
			}
		}
	}
	return reaped, nil
}

// RunOnce runs one mailbox sync now (for manual triggering)
func (s *Scheduler) RunOnce(ctx context.Context) ([]ingest.Result, error) {
	s.wg.Add(1)
	defer s.wg.Done()

	logrus.Info("Running mailbox sync once")
	return s.syncer.SyncAll(ctx)
}

// RunReaper runs one reaper pass now
func (s *Scheduler) RunReaper(ctx context.Context) ([]model.WorkItem, error) {
	s.wg.Add(1)
	defer s.wg.Done()

	return s.reap(ctx)
}

// Status returns the scheduler state
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		IsRunning:    s.isRunning,
		SyncInterval: s.config.SyncIntervalMinutes,
		ReapInterval: s.config.ReapIntervalMinutes,
	}
	if s.isRunning {
		syncEntry := s.cron.Entry(s.syncEntry)
		reapEntry := s.cron.Entry(s.reapEntry)
		st.NextSync, st.LastSync = syncEntry.Next, syncEntry.Prev
		st.NextReap, st.LastReap = reapEntry.Next, reapEntry.Prev
	}
	return st
}

// GetNextRun returns the time of the next scheduled sync
func (s *Scheduler) GetNextRun() time.Time {
	return s.Status().NextSync
}

// GetLastRun returns the time of the last scheduled sync
func (s *Scheduler) GetLastRun() time.Time {
	return s.Status().LastSync
}

// Wait waits for running jobs to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
