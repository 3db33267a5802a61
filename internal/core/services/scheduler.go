package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
	"github.com/custodia-labs/trellis/internal/core/ports/driving"
	"github.com/custodia-labs/trellis/internal/logger"
)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

// historyKeep is how many results per built-in task are kept.
const historyKeep = 100

// Scheduler decides which sync targets are due, dispatches their tasks to
// a bounded worker pool and runs the built-in maintenance tasks.
type Scheduler struct {
	targets    driven.TargetStore
	tasks      driven.SchedulerStore
	syncOrch   driving.SyncOrchestrator
	retention  driving.RetentionManager
	governance driving.IdentityGovernance
	now        func() time.Time

	cfgMu sync.RWMutex
	cfg   domain.Config

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	pool    *errgroup.Group
	wg      sync.WaitGroup

	// busy holds the IDs of built-in tasks currently running.
	busy map[string]bool
}

// NewScheduler creates a scheduler. retention and governance may be nil,
// which disables the matching built-in task.
func NewScheduler(
	cfg domain.Config,
	targets driven.TargetStore,
	tasks driven.SchedulerStore,
	syncOrch driving.SyncOrchestrator,
	retention driving.RetentionManager,
	governance driving.IdentityGovernance,
) *Scheduler {
	pool := new(errgroup.Group)
	pool.SetLimit(max(cfg.Sync.Workers, 1))
	return &Scheduler{
		targets:    targets,
		tasks:      tasks,
		syncOrch:   syncOrch,
		retention:  retention,
		governance: governance,
		now:        time.Now,
		cfg:        cfg,
		pool:       pool,
		busy:       make(map[string]bool),
	}
}

// Start begins the scheduler loop. This method blocks until Stop is called
// or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil // Already running
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	// Targets left QUEUED or SYNCING by a crashed process.
	n, err := s.targets.ResetStale(ctx)
	if err != nil {
		return fmt.Errorf("reset stale targets: %w", err)
	}
	if n > 0 {
		logger.Warn("reset interrupted sync targets", "count", n)
	}

	if err := s.RegisterTargets(ctx); err != nil {
		return err
	}
	if err := s.initialiseTasks(ctx); err != nil {
		logger.Error("failed to initialise scheduled tasks", "error", err)
	}

	return s.run(ctx)
}

// Stop gracefully shuts down the scheduler and waits for running tasks.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	// Wait for running tasks to complete
	s.wg.Wait()
	return s.pool.Wait()
}

// Reload applies a new configuration: it re-registers the configured
// targets, updates intervals and hands the configuration to the sync
// orchestrator and identity governance. The worker count is fixed at
// start-up.
func (s *Scheduler) Reload(ctx context.Context, cfg domain.Config) error {
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()
	s.syncOrch.SetConfig(cfg)
	if s.governance != nil {
		s.governance.SetConfig(cfg.Identity)
	}

	if err := s.RegisterTargets(ctx); err != nil {
		return err
	}
	return s.initialiseTasks(ctx)
}

func (s *Scheduler) config() domain.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// RegisterTargets creates or refreshes a sync target for every configured
// source target and disables stored targets that are no longer configured.
// Scheduling state of existing targets is kept.
func (s *Scheduler) RegisterTargets(ctx context.Context) error {
	cfg := s.config()
	configured := make(map[string]bool)
	for _, src := range cfg.Sources {
		for _, t := range src.Targets {
			name := t.Name
			if name == "" {
				name = t.EntityID
			}
			target := &domain.SyncTarget{
				Source:       src.Tag,
				EntityID:     t.EntityID,
				Name:         name,
				Organization: t.Organization,
				Interval:     src.Interval,
			}
			if err := s.targets.RegisterTarget(ctx, target); err != nil {
				return fmt.Errorf("register target %s: %w", target.Key(), err)
			}
			configured[target.Key()] = true
		}
	}

	stored, err := s.targets.ListTargets(ctx)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}
	for _, t := range stored {
		if !t.Enabled || configured[t.Key()] {
			continue
		}
		if err := s.targets.DisableTarget(ctx, t.Source, t.EntityID); err != nil {
			return fmt.Errorf("disable target %s: %w", t.Key(), err)
		}
		logger.Info("sync target no longer configured, disabled", "target", t.Key())
	}
	return nil
}

// NextTask decides whether target is due at now and which task to run.
func NextTask(target domain.SyncTarget, now time.Time, defaultInterval time.Duration) (domain.SyncTask, bool) {
	task := domain.SyncTask{Source: target.Source, EntityID: target.EntityID}

	switch target.Status {
	case domain.StatusQueued, domain.StatusSyncing:
		return task, false

	case domain.StatusNeverSynced:
		task.JobType = domain.JobFull
		return task, true

	case domain.StatusFailed:
		return resumeTask(task, target), true

	case domain.StatusSuccess:
		interval := target.Interval
		if interval <= 0 {
			interval = defaultInterval
		}
		if target.LastSyncedAt != nil && now.Sub(*target.LastSyncedAt) <= interval {
			return task, false
		}
		return resumeTask(task, target), true

	default:
		return task, false
	}
}

// resumeTask continues from the stored watermark, or starts over when the
// target never completed a sync.
func resumeTask(task domain.SyncTask, target domain.SyncTarget) domain.SyncTask {
	if target.Watermark == nil {
		task.JobType = domain.JobFull
		return task
	}
	watermark := *target.Watermark
	task.JobType = domain.JobIncremental
	task.SinceWatermark = &watermark
	return task
}

// RunTarget claims and runs one target synchronously, outside the loop.
// Returns domain.ErrSyncInProgress if the target is already queued or
// syncing, and domain.ErrTargetDisabled if it is no longer configured.
func (s *Scheduler) RunTarget(ctx context.Context, source, entityID string, job domain.JobType) (*domain.SyncLog, error) {
	target, err := s.targets.GetTarget(ctx, source, entityID)
	if err != nil {
		return nil, err
	}
	if !target.Enabled {
		return nil, fmt.Errorf("%s: %w", target.Key(), domain.ErrTargetDisabled)
	}

	task := domain.SyncTask{Source: source, EntityID: entityID, JobType: domain.JobFull}
	if job == domain.JobIncremental {
		task = resumeTask(task, *target)
	}

	claimed, err := s.targets.ClaimTarget(ctx, source, entityID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("%s: %w", target.Key(), domain.ErrSyncInProgress)
	}
	return s.execute(ctx, task)
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context) error {
	// Check for due work immediately on startup
	s.tick(ctx)

	ticker := time.NewTicker(s.config().Sync.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.dispatchDueTargets(ctx)
	s.checkAndRunDueTasks(ctx)
}

// dispatchDueTargets claims every due target and hands its task to the
// worker pool. Dispatch blocks while the pool is full.
func (s *Scheduler) dispatchDueTargets(ctx context.Context) {
	targets, err := s.targets.ListTargets(ctx)
	if err != nil {
		logger.Error("failed to list sync targets", "error", err)
		return
	}

	cfg := s.config()
	now := s.now()
	for i := range targets {
		if !targets[i].Enabled {
			continue
		}
		task, due := NextTask(targets[i], now, cfg.Sync.DefaultInterval)
		if !due {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		claimed, err := s.targets.ClaimTarget(ctx, task.Source, task.EntityID)
		if err != nil {
			logger.Error("failed to claim target", "target", task.Key(), "error", err)
			continue
		}
		if !claimed {
			continue
		}

		logger.Debug("dispatching sync task", "target", task.Key(), "job", task.JobType)
		s.pool.Go(func() error {
			_, _ = s.execute(ctx, task)
			return nil
		})
	}
}

// execute runs a claimed task and records the outcome on its target.
func (s *Scheduler) execute(ctx context.Context, task domain.SyncTask) (*domain.SyncLog, error) {
	// Target updates must land even if ctx was cancelled mid-run.
	bg := context.WithoutCancel(ctx)
	started := s.now()

	if err := s.targets.MarkSyncing(bg, task.Source, task.EntityID); err != nil {
		logger.Error("failed to mark target syncing", "target", task.Key(), "error", err)
	}

	log, err := s.syncOrch.Run(ctx, task)
	if err != nil {
		if markErr := s.targets.MarkFailed(bg, task.Source, task.EntityID, err.Error()); markErr != nil {
			logger.Error("failed to mark target failed", "target", task.Key(), "error", markErr)
		}
		return log, err
	}

	if err := s.targets.MarkSuccess(bg, task.Source, task.EntityID, started, s.now()); err != nil {
		logger.Error("failed to mark target synced", "target", task.Key(), "error", err)
		return log, err
	}
	return log, nil
}

// initialiseTasks ensures the built-in tasks exist in the store.
func (s *Scheduler) initialiseTasks(ctx context.Context) error {
	cfg := s.config()

	if s.retention != nil {
		if err := s.ensureTask(ctx, domain.TaskIDStagingRetention, "Staging Retention",
			cfg.Retention.Interval, cfg.Retention.Days > 0); err != nil {
			return err
		}
	}
	if s.governance != nil {
		if err := s.ensureTask(ctx, domain.TaskIDIdentityGovernance, "Identity Governance",
			cfg.Identity.GovernanceInterval, true); err != nil {
			return err
		}
	}
	return nil
}

// ensureTask creates or updates a task in the store.
func (s *Scheduler) ensureTask(ctx context.Context, id, name string, interval time.Duration, enabled bool) error {
	task, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return err
	}

	if task == nil {
		// Create new task
		task = &domain.ScheduledTask{
			ID:       id,
			Name:     name,
			Interval: interval,
			Enabled:  enabled,
			NextRun:  s.now().Add(interval),
		}
	} else {
		// Update interval if changed
		if task.Interval != interval {
			task.Interval = interval
			// Recalculate next run from now
			task.NextRun = s.now().Add(interval)
		}
		task.Enabled = enabled
	}

	return s.tasks.SaveTask(ctx, task)
}

// checkAndRunDueTasks finds and executes built-in tasks that are due.
func (s *Scheduler) checkAndRunDueTasks(ctx context.Context) {
	tasks, err := s.tasks.ListTasks(ctx)
	if err != nil {
		logger.Error("failed to list scheduled tasks", "error", err)
		return
	}

	now := s.now()
	for i := range tasks {
		task := &tasks[i]
		if !task.Enabled {
			continue
		}
		if task.NextRun.IsZero() || !task.NextRun.After(now) {
			s.runTask(ctx, task)
		}
	}
}

// runTask executes a single built-in task in the background.
func (s *Scheduler) runTask(ctx context.Context, task *domain.ScheduledTask) {
	s.mu.Lock()
	if s.busy[task.ID] {
		s.mu.Unlock()
		return
	}
	s.busy[task.ID] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.busy, task.ID)
			s.mu.Unlock()
		}()

		result := &domain.TaskResult{
			TaskID:    task.ID,
			StartedAt: s.now(),
		}

		var err error
		switch task.ID {
		case domain.TaskIDStagingRetention:
			result.ItemsProcessed, err = s.runRetention(ctx)
		case domain.TaskIDIdentityGovernance:
			result.ItemsProcessed, err = s.runGovernance(ctx)
		default:
			logger.Warn("unknown scheduled task", "task", task.ID)
			return
		}

		result.EndedAt = s.now()
		if err != nil {
			result.Success = false
			result.Error = err.Error()
			task.LastError = err.Error()
			logger.Error("scheduled task failed", "task", task.ID, "error", err)
		} else {
			result.Success = true
			task.LastError = ""
			task.LastSuccess = result.EndedAt
		}

		// Update task state
		task.LastRun = result.StartedAt
		task.NextRun = result.EndedAt.Add(task.Interval)

		bg := context.WithoutCancel(ctx)
		if saveErr := s.tasks.SaveTask(bg, task); saveErr != nil {
			logger.Error("failed to save task", "task", task.ID, "error", saveErr)
		}

		// Record result for history
		if recordErr := s.tasks.RecordResult(bg, result); recordErr != nil {
			logger.Error("failed to record task result", "task", task.ID, "error", recordErr)
		}

		if pruneErr := s.tasks.PruneHistory(bg, historyKeep); pruneErr != nil {
			logger.Error("failed to prune task history", "error", pruneErr)
		}
	}()
}

func (s *Scheduler) runRetention(ctx context.Context) (int, error) {
	if s.retention == nil {
		return 0, nil
	}
	n, err := s.retention.Cleanup(ctx, s.config().Retention.Days)
	return int(n), err
}

func (s *Scheduler) runGovernance(ctx context.Context) (int, error) {
	if s.governance == nil {
		return 0, nil
	}
	report, err := s.governance.Run(ctx)
	if err != nil {
		return 0, err
	}
	if report == nil {
		return 0, errors.New("governance returned no report")
	}
	return report.Scanned, nil
}
