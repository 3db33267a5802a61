package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
	"github.com/custodia-labs/trellis/internal/core/ports/driving"
	"github.com/custodia-labs/trellis/internal/logger"
)

// Ensure SyncOrchestrator implements the interface.
var _ driving.SyncOrchestrator = (*SyncOrchestrator)(nil)

// SyncStores groups the persistence the orchestrator depends on.
type SyncStores struct {
	Targets    driven.TargetStore
	Logs       driven.SyncLogStore
	Staging    driven.StagingStore
	Identities driven.IdentityReader
	UnitOfWork driven.UnitOfWork
}

// SyncOrchestrator runs one sync task: it pulls records from a source
// connector, stages them and transforms them into the warehouse.
type SyncOrchestrator struct {
	stores   SyncStores
	registry *SourceRegistry
	tokens   driven.TokenProviderFactory
	versions *VersionService
	batches  *BatchProcessor
	staging  *StagingWriter
	links    *TraceabilityExtractor

	cfgMu sync.RWMutex
	cfg   domain.Config

	// Status tracking
	mu     sync.RWMutex
	active map[string]*domain.SyncProgress
}

// NewSyncOrchestrator creates a new sync orchestrator.
func NewSyncOrchestrator(stores SyncStores, registry *SourceRegistry, tokens driven.TokenProviderFactory, cfg domain.Config) *SyncOrchestrator {
	return &SyncOrchestrator{
		stores:   stores,
		registry: registry,
		tokens:   tokens,
		versions: NewVersionService(stores.UnitOfWork),
		batches:  NewBatchProcessor(stores.UnitOfWork),
		staging:  NewStagingWriter(stores.Staging),
		links:    NewTraceabilityExtractor(),
		cfg:      cfg,
		active:   make(map[string]*domain.SyncProgress),
	}
}

// SetConfig replaces the configuration used by tasks started afterwards.
func (o *SyncOrchestrator) SetConfig(cfg domain.Config) {
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()
	o.cfg = cfg
}

func (o *SyncOrchestrator) config() domain.Config {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.cfg
}

// Run executes one sync task and appends its log entry.
// A failed task still returns the log, together with the error.
func (o *SyncOrchestrator) Run(ctx context.Context, task domain.SyncTask) (*domain.SyncLog, error) {
	log := o.newLog(task.Source, task.EntityID, task.JobType)
	processed, malformed, err := o.run(ctx, task)
	return o.finish(ctx, log, processed, malformed, err)
}

//nolint:gocyclo // Orchestration function with necessary sequential steps
func (o *SyncOrchestrator) run(ctx context.Context, task domain.SyncTask) (int, int, error) {
	cfg := o.config()

	// 1. Load the target and its configuration
	target, err := o.stores.Targets.GetTarget(ctx, task.Source, task.EntityID)
	if err != nil {
		return 0, 0, fmt.Errorf("get target: %w", err)
	}
	srcCfg, ok := cfg.Source(task.Source)
	if !ok {
		return 0, 0, fmt.Errorf("%w: source %q is not configured", domain.ErrNotFound, task.Source)
	}
	targetCfg, ok := cfg.Target(task.Source, task.EntityID)
	if !ok {
		targetCfg = domain.TargetConfig{EntityID: target.EntityID, Name: target.Name, Organization: target.Organization}
	}

	// 2. Build and validate the connector
	variant, err := o.registry.Get(task.Source)
	if err != nil {
		return 0, 0, err
	}
	tokens, err := o.tokens.ForSource(srcCfg)
	if err != nil {
		return 0, 0, fmt.Errorf("credentials: %w", err)
	}
	connector, err := variant.Build(srcCfg, targetCfg, tokens)
	if err != nil {
		return 0, 0, fmt.Errorf("create connector: %w", err)
	}
	defer connector.Close()

	if err := connector.Validate(ctx); err != nil {
		if errors.Is(err, domain.ErrSourceUnavailable) {
			return 0, 0, err
		}
		return 0, 0, fmt.Errorf("%w: %w", domain.ErrConnectorValidation, err)
	}

	// 3. Make sure organization and project rows exist
	project, err := o.versions.EnsureProject(ctx, *target)
	if err != nil {
		return 0, 0, fmt.Errorf("ensure project: %w", err)
	}

	// 4. Load the identity index for this task
	resolver := NewIdentityResolver(cfg.Identity)
	if err := resolver.Load(ctx, o.stores.Identities); err != nil {
		return 0, 0, err
	}

	var since *time.Time
	if task.JobType == domain.JobIncremental {
		since = task.SinceWatermark
	}

	progress := o.track(task)
	defer o.untrack(task)

	logger.Info("starting sync",
		"source", task.Source,
		"entity", task.EntityID,
		"job", task.JobType,
		"since", since)

	// 5. Stream every kind through staging and transform
	processed, malformed := 0, 0
	for _, kind := range selectKinds(connector.Kinds(), srcCfg.Kinds) {
		stage, err := NewTransformStage(kind, variant.Normaliser, resolver, o.links)
		if err != nil {
			return processed, malformed, err
		}
		it, err := connector.ListSince(ctx, kind, since)
		if err != nil {
			return processed, malformed, fmt.Errorf("list %s: %w", kind, err)
		}

		o.update(task, func(p *domain.SyncProgress) { p.Kind = kind })
		var pending TransformStats
		n, err := o.batches.Process(ctx, it, cfg.Sync.BatchSize,
			func(ctx context.Context, w driven.Warehouse, batch []domain.RawRecord) error {
				pending = TransformStats{}
				if err := o.staging.Write(ctx, w, batch); err != nil {
					return err
				}
				stats, err := stage.Upsert(ctx, w, project, batch)
				if err != nil {
					return err
				}
				pending = stats
				return nil
			},
			func(batch []domain.RawRecord) {
				malformed += pending.Malformed
				o.update(task, func(p *domain.SyncProgress) {
					p.Batches++
					p.Records += len(batch)
					p.Malformed += pending.Malformed
				})
			})
		processed += n
		if err != nil {
			return processed, malformed, fmt.Errorf("sync %s: %w", kind, err)
		}
		logger.Debug("kind complete", "kind", kind, "records", n, "elapsed", time.Since(progress.StartedAt))
	}

	return processed, malformed, nil
}

// Replay re-transforms the staged payloads of a target.
func (o *SyncOrchestrator) Replay(ctx context.Context, source, entityID string, kinds []domain.EntityKind) (*domain.SyncLog, error) {
	log := o.newLog(source, entityID, domain.JobReplay)
	processed, malformed, err := o.replay(ctx, source, entityID, kinds)
	return o.finish(ctx, log, processed, malformed, err)
}

func (o *SyncOrchestrator) replay(ctx context.Context, source, entityID string, kinds []domain.EntityKind) (int, int, error) {
	cfg := o.config()

	target, err := o.stores.Targets.GetTarget(ctx, source, entityID)
	if err != nil {
		return 0, 0, fmt.Errorf("get target: %w", err)
	}
	variant, err := o.registry.Get(source)
	if err != nil {
		return 0, 0, err
	}
	project, err := o.versions.EnsureProject(ctx, *target)
	if err != nil {
		return 0, 0, fmt.Errorf("ensure project: %w", err)
	}
	resolver := NewIdentityResolver(cfg.Identity)
	if err := resolver.Load(ctx, o.stores.Identities); err != nil {
		return 0, 0, err
	}
	if len(kinds) == 0 {
		kinds = domain.AllKinds
	}

	task := domain.SyncTask{Source: source, EntityID: entityID, JobType: domain.JobReplay}
	o.track(task)
	defer o.untrack(task)

	processed, malformed := 0, 0
	for _, kind := range kinds {
		stage, err := NewTransformStage(kind, variant.Normaliser, resolver, o.links)
		if err != nil {
			return processed, malformed, err
		}
		it := o.staging.Replay(source, entityID, kind, cfg.Sync.BatchSize)
		var pending TransformStats
		n, err := o.batches.Process(ctx, it, cfg.Sync.BatchSize,
			func(ctx context.Context, w driven.Warehouse, batch []domain.RawRecord) error {
				stats, err := stage.Upsert(ctx, w, project, batch)
				pending = stats
				return err
			},
			func([]domain.RawRecord) {
				malformed += pending.Malformed
			})
		processed += n
		if err != nil {
			return processed, malformed, fmt.Errorf("replay %s: %w", kind, err)
		}
	}
	return processed, malformed, nil
}

// Status returns progress for a running task of a target, or nil.
func (o *SyncOrchestrator) Status(source, entityID string) *domain.SyncProgress {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if p, ok := o.active[source+"/"+entityID]; ok {
		// Return a copy to avoid race conditions
		progress := *p
		return &progress
	}
	return nil
}

func (o *SyncOrchestrator) newLog(source, entityID string, job domain.JobType) *domain.SyncLog {
	return &domain.SyncLog{
		ID:        ulid.Make().String(),
		Source:    source,
		EntityID:  entityID,
		JobType:   job,
		StartedAt: time.Now(),
	}
}

// finish completes and persists log. The log is written even when ctx has
// been cancelled.
func (o *SyncOrchestrator) finish(ctx context.Context, log *domain.SyncLog, processed, malformed int, runErr error) (*domain.SyncLog, error) {
	log.FinishedAt = time.Now()
	log.RecordsProcessed = processed
	log.ErrorCount = malformed
	log.Status = domain.StatusSuccess
	if runErr != nil {
		log.Status = domain.StatusFailed
		log.Error = runErr.Error()
		log.ErrorCount++
	}

	if err := o.stores.Logs.AppendSyncLog(context.WithoutCancel(ctx), log); err != nil {
		logger.Error("failed to append sync log", "source", log.Source, "entity", log.EntityID, "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("append sync log: %w", err)
		}
	}

	if runErr != nil {
		logger.Error("sync failed",
			"source", log.Source,
			"entity", log.EntityID,
			"job", log.JobType,
			"records", processed,
			"error", runErr)
		return log, runErr
	}
	logger.Info("sync complete",
		"source", log.Source,
		"entity", log.EntityID,
		"job", log.JobType,
		"records", processed,
		"malformed", malformed,
		"duration", log.FinishedAt.Sub(log.StartedAt).Round(time.Millisecond))
	return log, nil
}

func (o *SyncOrchestrator) track(task domain.SyncTask) *domain.SyncProgress {
	p := &domain.SyncProgress{Task: task, StartedAt: time.Now()}
	o.mu.Lock()
	o.active[task.Key()] = p
	o.mu.Unlock()
	return p
}

func (o *SyncOrchestrator) update(task domain.SyncTask, fn func(p *domain.SyncProgress)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.active[task.Key()]; ok {
		fn(p)
	}
}

func (o *SyncOrchestrator) untrack(task domain.SyncTask) {
	o.mu.Lock()
	delete(o.active, task.Key())
	o.mu.Unlock()
}

// selectKinds returns the connector's kinds, restricted to wanted when set.
func selectKinds(available, wanted []domain.EntityKind) []domain.EntityKind {
	if len(wanted) == 0 {
		return available
	}
	want := make(map[domain.EntityKind]bool, len(wanted))
	for _, k := range wanted {
		want[k] = true
	}
	kinds := make([]domain.EntityKind, 0, len(available))
	for _, k := range available {
		if want[k] {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
