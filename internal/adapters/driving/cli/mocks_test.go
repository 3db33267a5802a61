package cli

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

// mockScheduler implements driving.Scheduler for testing.
type mockScheduler struct {
	mu       sync.Mutex
	runs     []domain.JobType
	started  bool
	stopped  bool
	reloaded []domain.Config
	log      *domain.SyncLog
	err      error

	// wait, if set, blocks RunTarget until closed.
	wait chan struct{}
}

func (m *mockScheduler) Start(ctx context.Context) error {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockScheduler) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}

func (m *mockScheduler) RegisterTargets(_ context.Context) error {
	return nil
}

func (m *mockScheduler) RunTarget(ctx context.Context, source, entityID string, job domain.JobType) (*domain.SyncLog, error) {
	if m.wait != nil {
		select {
		case <-m.wait:
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	m.runs = append(m.runs, job)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.log != nil {
		return m.log, nil
	}
	now := time.Now()
	return &domain.SyncLog{
		Source:           source,
		EntityID:         entityID,
		JobType:          job,
		Status:           domain.StatusSuccess,
		StartedAt:        now.Add(-time.Second),
		FinishedAt:       now,
		RecordsProcessed: 12,
	}, nil
}

func (m *mockScheduler) Reload(_ context.Context, cfg domain.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloaded = append(m.reloaded, cfg)
	return nil
}

// mockSyncOrchestrator implements driving.SyncOrchestrator for testing.
type mockSyncOrchestrator struct {
	progress *domain.SyncProgress
	polled   chan struct{}
	once     sync.Once

	replayKinds []domain.EntityKind
	err         error
}

func (m *mockSyncOrchestrator) Run(_ context.Context, task domain.SyncTask) (*domain.SyncLog, error) {
	return &domain.SyncLog{Source: task.Source, EntityID: task.EntityID, Status: domain.StatusSuccess}, nil
}

func (m *mockSyncOrchestrator) Replay(_ context.Context, source, entityID string, kinds []domain.EntityKind) (*domain.SyncLog, error) {
	m.replayKinds = kinds
	if m.err != nil {
		return nil, m.err
	}
	return &domain.SyncLog{
		Source:           source,
		EntityID:         entityID,
		JobType:          domain.JobReplay,
		Status:           domain.StatusSuccess,
		RecordsProcessed: 7,
	}, nil
}

func (m *mockSyncOrchestrator) Status(_, _ string) *domain.SyncProgress {
	if m.polled != nil {
		m.once.Do(func() { close(m.polled) })
	}
	return m.progress
}

func (m *mockSyncOrchestrator) SetConfig(_ domain.Config) {}

// mockRetention implements driving.RetentionManager for testing.
type mockRetention struct {
	days    []int
	deleted int64
	err     error
}

func (m *mockRetention) Cleanup(_ context.Context, retentionDays int) (int64, error) {
	m.days = append(m.days, retentionDays)
	return m.deleted, m.err
}

// mockGovernance implements driving.IdentityGovernance for testing.
type mockGovernance struct {
	report *domain.GovernanceReport
	err    error
}

func (m *mockGovernance) Run(_ context.Context) (*domain.GovernanceReport, error) {
	return m.report, m.err
}

func (m *mockGovernance) SetConfig(domain.IdentityConfig) {}

// mockStatus implements driving.StatusService for testing.
type mockStatus struct {
	targets []domain.SyncTarget
	counts  map[string]int64
	logs    []domain.SyncLog
	limit   int
	err     error
}

func (m *mockStatus) Targets(_ context.Context) ([]domain.SyncTarget, error) {
	return m.targets, m.err
}

func (m *mockStatus) Counts(_ context.Context) (map[string]int64, error) {
	return m.counts, nil
}

func (m *mockStatus) RecentLogs(_ context.Context, limit int) ([]domain.SyncLog, error) {
	m.limit = limit
	return m.logs, nil
}

// mockConfigStore implements driven.ConfigStore for testing.
type mockConfigStore struct {
	next *domain.Config
}

func (m *mockConfigStore) Load() (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	return &cfg, nil
}

func (m *mockConfigStore) Watch(ctx context.Context, onChange func(domain.Config)) error {
	if m.next != nil {
		onChange(*m.next)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockConfigStore) Path() string {
	return "/tmp/trellis.toml"
}

// execute runs the root command with args and returns its output.
func execute(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.Execute()
	return buf.String(), err
}

// setServices swaps the package services and returns a restore func.
func setServices(s *Services) func() {
	old := Services{
		Config:      appConfig,
		ConfigStore: configStore,
		Scheduler:   scheduler,
		Sync:        syncOrchestrator,
		Retention:   retentionManager,
		Governance:  governance,
		Status:      statusService,
		Close:       closeServices,
	}
	SetServices(s)
	return func() {
		SetServices(&old)
	}
}
