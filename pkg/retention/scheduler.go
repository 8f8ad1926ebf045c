package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"photoyarn/pkg/domain"
	"photoyarn/pkg/queue"
	"photoyarn/pkg/store"
)

const (
	DefaultRetention = 4 * time.Hour
	DefaultInterval  = 60 * time.Second
)

var (
	cleanupRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photoyarn_cleanup_runs_total",
		Help: "Cleanup passes executed.",
	})

	cleanupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photoyarn_cleanup_deleted_total",
		Help: "Story artifacts deleted after their retention window.",
	})

	cleanupFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "photoyarn_cleanup_failures_total",
		Help: "Story artifact deletions that failed.",
	})

	cleanupPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "photoyarn_cleanup_pending",
		Help: "Cleanup tasks waiting for their due time.",
	})

	cleanupDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "photoyarn_cleanup_duration_seconds",
		Help:    "Duration of one cleanup pass in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// CleanupError reports a failed artifact deletion. It is logged, never
// returned to a request.
type CleanupError struct {
	StoryID string
	Err     error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup story %s: %v", e.StoryID, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

// Deleter removes a story artifact. Deleting a missing story must succeed.
type Deleter interface {
	Delete(ctx context.Context, storyID string) error
}

// Config tunes the scheduler. Zero values take the defaults; a zero
// RetryDelay drops failed tasks instead of re-enqueueing them.
type Config struct {
	Retention  time.Duration
	Interval   time.Duration
	RetryDelay time.Duration
}

// RunResult summarizes one cleanup pass.
type RunResult struct {
	Due      int
	Deleted  int
	Failed   int
	Requeued int
	Duration time.Duration
}

// Scheduler deletes story artifacts once their retention window has passed.
// Request handlers call Schedule; a single background loop drains due tasks.
type Scheduler struct {
	queue      queue.CleanupQueue
	artifacts  Deleter
	retention  time.Duration
	interval   time.Duration
	retryDelay time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex // serializes RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler builds a scheduler over q and artifacts.
func NewScheduler(q queue.CleanupQueue, artifacts Deleter, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Scheduler{
		queue:      q,
		artifacts:  artifacts,
		retention:  cfg.Retention,
		interval:   cfg.Interval,
		retryDelay: cfg.RetryDelay,
		logger:     logger.With("component", "retention"),
		now:        time.Now,
	}
}

// Schedule enqueues deletion of storyID at createdAt plus the retention window.
func (s *Scheduler) Schedule(ctx context.Context, storyID string, createdAt time.Time) (domain.CleanupTask, error) {
	task := domain.CleanupTask{
		StoryID: storyID,
		DueAt:   createdAt.Add(s.retention).UTC(),
		State:   domain.TaskScheduled,
	}
	if err := s.queue.Push(ctx, task); err != nil {
		return domain.CleanupTask{}, fmt.Errorf("schedule cleanup: %w", err)
	}
	cleanupPending.Inc()
	s.logger.Debug("cleanup scheduled", "story_id", storyID, "due_at", task.DueAt)
	return task, nil
}

// Restore schedules every stored story that is not already tracked. Stories
// already past their window are deleted on the next pass.
func (s *Scheduler) Restore(ctx context.Context, refs []store.StoryRef) (int, error) {
	restored := 0
	var errs []error
	for _, ref := range refs {
		if _, err := s.Schedule(ctx, ref.ID, ref.CreatedAt); err != nil {
			errs = append(errs, err)
			continue
		}
		restored++
	}
	if restored > 0 {
		s.logger.Info("cleanup tasks restored", "count", restored)
	}
	return restored, errors.Join(errs...)
}

// Start runs the cleanup loop until ctx is cancelled or Stop is called. The
// first pass runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(loopCtx)
	s.logger.Info("cleanup loop started", "interval", s.interval.String(), "retention", s.retention.String())
}

// Stop cancels the loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.logger.Info("cleanup loop stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce deletes every due task: scheduled -> due -> deleted. Failures are
// logged as CleanupError and, when a retry delay is configured, re-enqueued.
func (s *Scheduler) RunOnce(ctx context.Context) RunResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	now := s.now().UTC()
	result := RunResult{}

	due, err := s.queue.PopDue(ctx, now)
	if err != nil {
		s.logger.Error("cleanup queue drain failed", "err", err)
	}
	result.Due = len(due)
	cleanupPending.Sub(float64(len(due)))

	for _, task := range due {
		if err := s.artifacts.Delete(ctx, task.StoryID); err != nil {
			cerr := &CleanupError{StoryID: task.StoryID, Err: err}
			s.logger.Error("story cleanup failed", "story_id", task.StoryID, "err", cerr)
			result.Failed++
			if s.retryDelay > 0 && s.requeue(ctx, task, now) {
				result.Requeued++
			}
			continue
		}
		task.State = domain.TaskDeleted
		s.logger.Info("story deleted", "story_id", task.StoryID, "state", task.State, "due_at", task.DueAt)
		result.Deleted++
	}

	result.Duration = time.Since(start)
	cleanupRunsTotal.Inc()
	cleanupDeletedTotal.Add(float64(result.Deleted))
	cleanupFailuresTotal.Add(float64(result.Failed))
	cleanupDurationSeconds.Observe(result.Duration.Seconds())
	if result.Due > 0 {
		s.logger.Info("cleanup pass finished",
			"due", result.Due,
			"deleted", result.Deleted,
			"failed", result.Failed,
			"requeued", result.Requeued,
			"duration", result.Duration,
		)
	}
	return result
}

func (s *Scheduler) requeue(ctx context.Context, task domain.CleanupTask, now time.Time) bool {
	task.DueAt = now.Add(s.retryDelay)
	task.State = domain.TaskScheduled
	if err := s.queue.Push(ctx, task); err != nil {
		s.logger.Error("cleanup requeue failed", "story_id", task.StoryID, "err", err)
		return false
	}
	cleanupPending.Inc()
	return true
}
