package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/trellis/internal/adapters/driven/storage/sqlstore"
	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
)

var ada7 = testActor{ID: "7", Username: "ada", Name: "Ada", Email: "ada@corp.com"}

func sampleConnector() *fakeConnector {
	return &fakeConnector{
		entityID: "group/repo",
		records: map[domain.EntityKind][]domain.RawRecord{
			domain.KindCommit: {
				gitlabRecord(domain.KindCommit, "c1", payload(testCommit{
					SHA: "c1", Message: "fix PROJ-42 login bug", Author: ada7,
					CommittedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
				})),
				gitlabRecord(domain.KindCommit, "c2", payload(testCommit{
					SHA: "c2", Message: "refactor session handling", Author: ada7,
					CommittedAt: time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC),
				})),
				gitlabRecord(domain.KindCommit, "bad", []byte(`{"sha":`)),
			},
			domain.KindMergeRequest: {
				gitlabRecord(domain.KindMergeRequest, "9001", payload(testMergeRequest{
					ID: "9001", IID: 1, Title: "Closes PROJ-42", Description: "see !2", Author: ada7,
				})),
			},
		},
	}
}

type syncFixture struct {
	store     *sqlstore.Store
	connector *fakeConnector
	orch      *SyncOrchestrator
}

func newSyncFixture(t *testing.T, connector *fakeConnector) *syncFixture {
	t.Helper()
	store := newTestStore(t)

	cfg := domain.DefaultConfig()
	cfg.Sync.BatchSize = 2
	cfg.Sources = []domain.SourceConfig{{
		Tag:     "gitlab",
		Targets: []domain.TargetConfig{{EntityID: "group/repo", Name: "repo", Organization: "Acme"}},
	}}
	cfg.ApplyDefaults()

	require.NoError(t, store.RegisterTarget(context.Background(), &domain.SyncTarget{
		Source: "gitlab", EntityID: "group/repo", Name: "repo", Organization: "Acme", Interval: time.Hour,
	}))

	registry := NewSourceRegistry()
	require.NoError(t, registry.Register("gitlab", SourceVariant{
		Build: func(domain.SourceConfig, domain.TargetConfig, driven.TokenProvider) (driven.Connector, error) {
			return connector, nil
		},
		Normaliser: fakeNormaliser{},
	}))

	stores := SyncStores{
		Targets:    store,
		Logs:       store,
		Staging:    store,
		Identities: store,
		UnitOfWork: store,
	}
	return &syncFixture{
		store:     store,
		connector: connector,
		orch:      NewSyncOrchestrator(stores, registry, fakeTokenFactory{}, cfg),
	}
}

func TestSyncOrchestrator_FullSync(t *testing.T) {
	f := newSyncFixture(t, sampleConnector())
	ctx := context.Background()

	log, err := f.orch.Run(ctx, domain.SyncTask{Source: "gitlab", EntityID: "group/repo", JobType: domain.JobFull})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSuccess, log.Status)
	assert.Equal(t, 4, log.RecordsProcessed)
	assert.Equal(t, 1, log.ErrorCount)
	assert.Len(t, log.ID, 26)

	logs, err := f.store.ListSyncLogs(ctx, "gitlab", "group/repo", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, log.ID, logs[0].ID)

	counts, err := f.store.CountEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["commits"])
	assert.Equal(t, int64(1), counts["merge_requests"])
	assert.Equal(t, int64(4), counts["staging_records"])
	assert.Equal(t, int64(3), counts["traceability_links"])
	assert.Equal(t, int64(1), counts["identity_mappings"])

	links, err := f.store.ListLinks(ctx, "gitlab", domain.ArtifactCommit, "c1")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "PROJ-42", links[0].SourceID)
	assert.Equal(t, domain.LinkFixes, links[0].LinkType)

	// issue_source was set from the first reference and is not replaced.
	require.NoError(t, f.store.WithinTx(ctx, func(ctx context.Context, w driven.Warehouse) error {
		changed, err := w.SetIssueSource(ctx, "gitlab", "gitlab:group/repo", "9001", "gitlab")
		assert.False(t, changed)
		return err
	}))

	project, err := f.store.Warehouse().CurrentVersion(ctx, domain.VersionSchemas[domain.EntityProject],
		map[string]any{"id": "gitlab:group/repo"})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-02T10:00:00.000000Z", project.Values["last_activity_at"])
	assert.Equal(t, "acme", project.Values["organization_id"])

	assert.True(t, f.connector.closed)
	require.Len(t, f.connector.since, 2)
	assert.Nil(t, f.connector.since[0])
	assert.Nil(t, f.orch.Status("gitlab", "group/repo"))
}

func TestSyncOrchestrator_RerunIsIdempotent(t *testing.T) {
	f := newSyncFixture(t, sampleConnector())
	ctx := context.Background()
	task := domain.SyncTask{Source: "gitlab", EntityID: "group/repo", JobType: domain.JobFull}

	_, err := f.orch.Run(ctx, task)
	require.NoError(t, err)
	_, err = f.orch.Run(ctx, task)
	require.NoError(t, err)

	counts, err := f.store.CountEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["commits"])
	assert.Equal(t, int64(3), counts["traceability_links"])
	assert.Equal(t, int64(1), counts["identity_mappings"])
	// Staging keeps every fetch.
	assert.Equal(t, int64(8), counts["staging_records"])
}

func TestSyncOrchestrator_IncrementalPassesWatermark(t *testing.T) {
	f := newSyncFixture(t, sampleConnector())
	watermark := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := f.orch.Run(context.Background(), domain.SyncTask{
		Source: "gitlab", EntityID: "group/repo", JobType: domain.JobIncremental, SinceWatermark: &watermark,
	})
	require.NoError(t, err)

	require.NotEmpty(t, f.connector.since)
	require.NotNil(t, f.connector.since[0])
	assert.True(t, f.connector.since[0].Equal(watermark))
}

func TestSyncOrchestrator_SourceUnavailableKeepsCommittedBatches(t *testing.T) {
	connector := sampleConnector()
	connector.iterErr = map[domain.EntityKind]error{
		domain.KindMergeRequest: &domain.SourceUnavailableError{
			Source: "gitlab", Op: "list merge requests", Attempts: 3, Err: errors.New("503 Service Unavailable"),
		},
	}
	f := newSyncFixture(t, connector)
	ctx := context.Background()

	log, err := f.orch.Run(ctx, domain.SyncTask{Source: "gitlab", EntityID: "group/repo", JobType: domain.JobFull})
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Equal(t, domain.StatusFailed, log.Status)
	assert.Contains(t, log.Error, "unavailable")

	logs, err := f.store.ListSyncLogs(ctx, "gitlab", "group/repo", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.StatusFailed, logs[0].Status)

	counts, err := f.store.CountEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["commits"])
	assert.Zero(t, counts["merge_requests"])
}

func TestSyncOrchestrator_ValidationFailure(t *testing.T) {
	connector := sampleConnector()
	connector.validateErr = domain.ErrAuthInvalid
	f := newSyncFixture(t, connector)

	log, err := f.orch.Run(context.Background(), domain.SyncTask{Source: "gitlab", EntityID: "group/repo", JobType: domain.JobFull})
	require.ErrorIs(t, err, domain.ErrConnectorValidation)
	require.ErrorIs(t, err, domain.ErrAuthInvalid)
	assert.Equal(t, domain.StatusFailed, log.Status)
	assert.True(t, connector.closed)
}

func TestSyncOrchestrator_RolledBackBatchIsNotCounted(t *testing.T) {
	connector := &fakeConnector{
		entityID: "group/repo",
		records: map[domain.EntityKind][]domain.RawRecord{
			domain.KindCommit: {
				gitlabRecord(domain.KindCommit, "bad", []byte(`{"sha":`)),
				gitlabRecord(domain.KindCommit, "nosha", payload(testCommit{Message: "orphan"})),
			},
		},
	}
	f := newSyncFixture(t, connector)
	ctx := context.Background()

	log, err := f.orch.Run(ctx, domain.SyncTask{Source: "gitlab", EntityID: "group/repo", JobType: domain.JobFull})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, domain.StatusFailed, log.Status)
	assert.Zero(t, log.RecordsProcessed)
	assert.Equal(t, 1, log.ErrorCount)

	counts, err := f.store.CountEntities(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts["staging_records"])
}

func TestSyncOrchestrator_UnknownTarget(t *testing.T) {
	f := newSyncFixture(t, sampleConnector())

	_, err := f.orch.Run(context.Background(), domain.SyncTask{Source: "gitlab", EntityID: "other/repo", JobType: domain.JobFull})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSyncOrchestrator_ReplayFromStaging(t *testing.T) {
	f := newSyncFixture(t, sampleConnector())
	ctx := context.Background()

	_, err := f.orch.Run(ctx, domain.SyncTask{Source: "gitlab", EntityID: "group/repo", JobType: domain.JobFull})
	require.NoError(t, err)

	log, err := f.orch.Replay(ctx, "gitlab", "group/repo", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.JobReplay, log.JobType)
	assert.Equal(t, 4, log.RecordsProcessed)
	assert.Equal(t, 1, log.ErrorCount)

	counts, err := f.store.CountEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts["staging_records"])
	assert.Equal(t, int64(3), counts["traceability_links"])
}

func TestSelectKinds(t *testing.T) {
	all := []domain.EntityKind{domain.KindCommit, domain.KindIssue, domain.KindTag}
	assert.Equal(t, all, selectKinds(all, nil))
	assert.Equal(t, []domain.EntityKind{domain.KindCommit, domain.KindTag},
		selectKinds(all, []domain.EntityKind{domain.KindTag, domain.KindCommit}))
}
