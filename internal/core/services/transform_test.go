package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
	"github.com/custodia-labs/trellis/internal/normalisers/gitlab"
)

func TestNewTransformStage_EveryKind(t *testing.T) {
	for _, kind := range domain.AllKinds {
		stage, err := NewTransformStage(kind, fakeNormaliser{}, nil, NewTraceabilityExtractor())
		require.NoError(t, err, kind)
		assert.Equal(t, kind, stage.Kind())
	}
}

func TestNewTransformStage_UnknownKind(t *testing.T) {
	_, err := NewTransformStage("wiki", fakeNormaliser{}, nil, nil)

	assert.True(t, errors.Is(err, domain.ErrUnsupportedType))
}

func TestTransformStage_SkipsOtherKinds(t *testing.T) {
	stage, err := NewTransformStage(domain.KindIssue, fakeNormaliser{}, nil, nil)
	require.NoError(t, err)

	batch := []domain.RawRecord{
		gitlabRecord(domain.KindCommit, "c1", payload(testCommit{SHA: "c1"})),
		gitlabRecord(domain.KindMergeRequest, "1", payload(testMergeRequest{ID: "1"})),
	}
	stats, err := stage.Upsert(context.Background(), nil, &domain.Project{Source: "gitlab"}, batch)

	require.NoError(t, err)
	assert.Equal(t, 2, stats.Skipped)
	assert.Zero(t, stats.Upserted)
}

func TestTransformStage_DecodeErrorAbortsBatch(t *testing.T) {
	stage, err := NewTransformStage(domain.KindIssue, fakeNormaliser{}, nil, nil)
	require.NoError(t, err)

	batch := []domain.RawRecord{gitlabRecord(domain.KindIssue, "5", []byte(`{}`))}
	_, err = stage.Upsert(context.Background(), nil, &domain.Project{Source: "gitlab"}, batch)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnsupportedType))
	assert.False(t, errors.Is(err, domain.ErrMalformedPayload))
}

func TestTransformStage_MalformedIsSkipped(t *testing.T) {
	stage, err := NewTransformStage(domain.KindCommit, fakeNormaliser{}, nil, nil)
	require.NoError(t, err)

	batch := []domain.RawRecord{
		gitlabRecord(domain.KindCommit, "bad1", []byte(`{"sha":`)),
		gitlabRecord(domain.KindCommit, "bad2", []byte(`not json`)),
	}
	stats, err := stage.Upsert(context.Background(), nil, &domain.Project{Source: "gitlab"}, batch)

	require.NoError(t, err)
	assert.Equal(t, 2, stats.Malformed)
	assert.Zero(t, stats.Upserted)
}

func TestTransformStage_PartialPayloadWritesBaseRowOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	project, err := NewVersionService(store).EnsureProject(ctx, domain.SyncTarget{Source: "gitlab", EntityID: "group/repo"})
	require.NoError(t, err)
	resolver := NewIdentityResolver(domain.IdentityConfig{})
	require.NoError(t, resolver.Load(ctx, store))

	stage, err := NewTransformStage(domain.KindCommit, gitlab.New(), resolver, NewTraceabilityExtractor())
	require.NoError(t, err)

	batch := []domain.RawRecord{
		gitlabRecord(domain.KindCommit, "abc123", []byte(`{
			"id": "abc123",
			"message": "fix PROJ-42 login bug",
			"author_name": "Ada",
			"author_email": "ada@corp.com",
			"authored_date": "2024-01-02T10:00:00Z",
			"committed_date": "2024-01-02 10:00:00 +0000"
		}`)),
	}

	var stats TransformStats
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, w driven.Warehouse) error {
		stats, err = stage.Upsert(ctx, w, project, batch)
		return err
	}))

	assert.Equal(t, TransformStats{Upserted: 1, Partial: 1}, stats)

	counts, err := store.CountEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["commits"])
	assert.Zero(t, counts["traceability_links"])
	assert.Zero(t, counts["identity_mappings"])

	links, err := store.ListLinks(ctx, "gitlab", domain.ArtifactCommit, "abc123")
	require.NoError(t, err)
	assert.Empty(t, links)

	cur, err := store.Warehouse().CurrentVersion(ctx, domain.VersionSchemas[domain.EntityProject],
		map[string]any{"id": project.ID})
	require.NoError(t, err)
	assert.Empty(t, stringValue(cur.Values["last_activity_at"]))
}

func TestTransformStage_PartialKeyIsMalformed(t *testing.T) {
	stage, err := NewTransformStage(domain.KindCommit, gitlab.New(), nil, NewTraceabilityExtractor())
	require.NoError(t, err)

	batch := []domain.RawRecord{
		gitlabRecord(domain.KindCommit, "x", []byte(`{"id":42,"message":"fix PROJ-1"}`)),
	}
	stats, err := stage.Upsert(context.Background(), nil, &domain.Project{Source: "gitlab"}, batch)

	require.NoError(t, err)
	assert.Equal(t, TransformStats{Malformed: 1}, stats)
}

func TestTransformStats_Add(t *testing.T) {
	s := TransformStats{Upserted: 1, Links: 2}
	s.Add(TransformStats{Upserted: 3, Partial: 2, Malformed: 1, Identities: 4})

	assert.Equal(t, TransformStats{Upserted: 4, Partial: 2, Malformed: 1, Links: 2, Identities: 4}, s)
}
