package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

func TestStaging_AppendReplayDelete(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	w := store.Warehouse()

	old := time.Now().Add(-40 * 24 * time.Hour)
	records := []domain.RawRecord{
		{Source: "gitlab", EntityID: "g/r", Kind: domain.KindCommit, ExternalID: "a", Payload: []byte(`{"id":"a"}`), SchemaVersion: "v4", CollectedAt: old},
		{Source: "gitlab", EntityID: "g/r", Kind: domain.KindCommit, ExternalID: "a", Payload: []byte(`{"id":"a","v":2}`), SchemaVersion: "v4"},
		{Source: "gitlab", EntityID: "g/r", Kind: domain.KindIssue, ExternalID: "7", Payload: []byte(`{"id":7}`), SchemaVersion: "v4"},
	}
	require.NoError(t, w.AppendStaging(ctx, records))

	// Re-fetches of the same record accumulate.
	commits, err := store.ReplayStaging(ctx, "gitlab", "g/r", domain.KindCommit, 0, 10)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "g/r", commits[0].EntityID)
	assert.JSONEq(t, `{"id":"a"}`, string(commits[0].Payload))
	assert.JSONEq(t, `{"id":"a","v":2}`, string(commits[1].Payload))
	assert.Less(t, commits[0].ID, commits[1].ID)

	next, err := store.ReplayStaging(ctx, "gitlab", "g/r", domain.KindCommit, commits[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, next, 1)

	n, err := store.CountStaging(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	deleted, err := store.DeleteStagingBefore(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	n, err = store.CountStaging(ctx, "gitlab", domain.KindCommit)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func commitRow(t *testing.T, s *Store, sha string) map[string]any {
	t.Helper()
	var title, message, authorRef, authorID, authored, committed, webURL, updated string
	var additions, deletions int
	err := s.db.QueryRow(`
		SELECT title, message, author_ref, author_id, authored_at, committed_at, additions, deletions, web_url, updated_at
		FROM commits WHERE sha = ?`, sha).Scan(&title, &message, &authorRef, &authorID, &authored, &committed,
		&additions, &deletions, &webURL, &updated)
	require.NoError(t, err)
	return map[string]any{
		"title": title, "message": message, "author_ref": authorRef, "author_id": authorID,
		"authored_at": authored, "committed_at": committed, "additions": additions,
		"deletions": deletions, "web_url": webURL, "updated_at": updated,
	}
}

func TestUpsertCommit_Idempotent(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	w := store.Warehouse()

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	c := &domain.Commit{
		Source: "gitlab", ProjectID: "gitlab:group/repo", SHA: "abc123",
		Title: "fix PROJ-42 login bug", Message: "fix PROJ-42 login bug",
		Author: domain.ActorRef{Email: "j.smith@co.com"}, AuthorID: "u1",
		AuthoredAt: at, CommittedAt: at, Additions: 3, Deletions: 1,
	}

	require.NoError(t, w.UpsertCommit(ctx, c))
	first := commitRow(t, store, "abc123")
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, w.UpsertCommit(ctx, c))
	second := commitRow(t, store, "abc123")

	assert.Equal(t, 1, countRows(t, store, "commits"))
	assert.NotEqual(t, first["updated_at"], second["updated_at"])
	delete(first, "updated_at")
	delete(second, "updated_at")
	assert.Equal(t, first, second)

	// A different snapshot of the same sha converges on one row.
	c.Additions = 5
	require.NoError(t, w.UpsertCommit(ctx, c))
	assert.Equal(t, 1, countRows(t, store, "commits"))
	assert.Equal(t, 5, commitRow(t, store, "abc123")["additions"])
}

func TestUpsertEntities_NaturalKeys(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	w := store.Warehouse()
	now := time.Now()

	issue := &domain.Issue{Source: "jira", ProjectID: "jira:PROJ", ExternalID: "10001", Key: "PROJ-1", Title: "t", Labels: []string{"bug"}, CreatedAt: now}
	mr := &domain.MergeRequest{Source: "gitlab", ProjectID: "gitlab:g/r", ExternalID: "55", Key: "g/r!3", Number: 3, Title: "m"}
	pipe := &domain.Pipeline{Source: "jenkins", ProjectID: "jenkins:build", ExternalID: "12", Status: "SUCCESS", DurationSeconds: 30}
	dep := &domain.Deployment{Source: "gitlab", ProjectID: "gitlab:g/r", ExternalID: "9", Environment: "production"}
	tag := &domain.Tag{Source: "gitlab", ProjectID: "gitlab:g/r", Name: "v1.0.0", SHA: "abc"}
	branch := &domain.Branch{Source: "gitlab", ProjectID: "gitlab:g/r", Name: "main", Default: true}
	pkg := &domain.Package{Source: "gitlab", ProjectID: "gitlab:g/r", ExternalID: "4", Name: "lib", Version: "1.0.0"}

	for i := 0; i < 2; i++ {
		require.NoError(t, w.UpsertIssue(ctx, issue))
		require.NoError(t, w.UpsertMergeRequest(ctx, mr))
		require.NoError(t, w.UpsertPipeline(ctx, pipe))
		require.NoError(t, w.UpsertDeployment(ctx, dep))
		require.NoError(t, w.UpsertTag(ctx, tag))
		require.NoError(t, w.UpsertBranch(ctx, branch))
		require.NoError(t, w.UpsertPackage(ctx, pkg))
	}

	for _, table := range []string{"issues", "merge_requests", "pipelines", "deployments", "tags", "branches", "packages"} {
		assert.Equal(t, 1, countRows(t, store, table), table)
	}

	var labels string
	require.NoError(t, store.db.QueryRow("SELECT labels FROM issues").Scan(&labels))
	assert.JSONEq(t, `["bug"]`, labels)
}

func TestSetIssueSource_FirstWins(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	w := store.Warehouse()

	mr := &domain.MergeRequest{Source: "gitlab", ProjectID: "gitlab:g/r", ExternalID: "55", Title: "PROJ-1"}
	require.NoError(t, w.UpsertMergeRequest(ctx, mr))

	changed, err := w.SetIssueSource(ctx, "gitlab", "gitlab:g/r", "55", "jira")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = w.SetIssueSource(ctx, "gitlab", "gitlab:g/r", "55", "gitlab")
	require.NoError(t, err)
	assert.False(t, changed)

	// Re-upserting the merge request keeps the recorded issue source.
	require.NoError(t, w.UpsertMergeRequest(ctx, mr))
	var issueSource string
	require.NoError(t, store.db.QueryRow("SELECT issue_source FROM merge_requests").Scan(&issueSource))
	assert.Equal(t, "jira", issueSource)
}

func TestTouchProjectActivity_NeverBackwards(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	w := store.Warehouse()
	schema := domain.VersionSchemas[domain.EntityProject]

	require.NoError(t, w.InsertVersion(ctx, schema, &domain.Version{
		ID: "gitlab:g/r", SyncVersion: 1, EffectiveFrom: time.Now(), IsCurrent: true,
		Values: map[string]any{"source": "gitlab", "external_id": "g/r", "name": "Repo"},
	}))

	later := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)
	require.NoError(t, w.TouchProjectActivity(ctx, "gitlab:g/r", later))
	require.NoError(t, w.TouchProjectActivity(ctx, "gitlab:g/r", earlier))

	v, err := w.CurrentVersion(ctx, schema, map[string]any{"id": "gitlab:g/r"})
	require.NoError(t, err)
	assert.Equal(t, formatTime(later), v.Values["last_activity_at"])
}

func TestEnsureMapping_ConvergesOnFirst(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	w := store.Warehouse()

	first, err := w.EnsureMapping(ctx, &domain.IdentityMapping{
		GlobalUserID: "u1", SourceSystem: "gitlab", ExternalUserID: "42",
		Status: domain.MappingVerified, Confidence: 1,
	})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	second, err := w.EnsureMapping(ctx, &domain.IdentityMapping{
		GlobalUserID: "u2", SourceSystem: "gitlab", ExternalUserID: "42",
		Status: domain.MappingPending,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "u1", second.GlobalUserID)
	assert.Equal(t, 1, countRows(t, store, "identity_mappings"))

	second.GlobalUserID = "u3"
	second.Status = domain.MappingAuto
	second.Confidence = 0.8
	require.NoError(t, w.UpdateMapping(ctx, second))

	got, err := w.GetMapping(ctx, "gitlab", "42")
	require.NoError(t, err)
	assert.Equal(t, "u3", got.GlobalUserID)
	assert.Equal(t, domain.MappingAuto, got.Status)
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)

	n, err := w.CountMappings(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = w.GetMapping(ctx, "gitlab", "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	err = w.UpdateMapping(ctx, &domain.IdentityMapping{ID: 999})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestGlobalUsers_InsertAndList(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	w := store.Warehouse()

	u := &domain.GlobalUser{ID: "u1", DisplayName: "John Smith", PrimaryEmail: "j.smith@co.com"}
	require.NoError(t, w.InsertGlobalUser(ctx, u))
	assert.Equal(t, domain.UserActive, u.Status)
	assert.Equal(t, 1, u.SyncVersion)

	// A second current row for the same id is rejected by the partial index.
	assert.Error(t, w.InsertGlobalUser(ctx, &domain.GlobalUser{ID: "u1"}))

	users, err := store.ListCurrentUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "j.smith@co.com", users[0].PrimaryEmail)
	assert.True(t, users[0].IsCurrent)
}

func TestRecordConflict(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.Warehouse().RecordConflict(ctx, &domain.IdentityConflict{
		MappingID: 1, SourceSystem: "gitlab", ExternalUserID: "42", Candidates: []string{"u1", "u2"}, Score: 0.8,
	}))

	conflicts, err := store.ListConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, []string{"u1", "u2"}, conflicts[0].Candidates)
}

func TestLinks_Dedup(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	w := store.Warehouse()

	link := &domain.TraceabilityLink{
		SourceSystem: "jira", SourceType: "issue", SourceID: "PROJ-42",
		TargetSystem: "gitlab", TargetType: "commit", TargetID: "abc",
		LinkType: domain.LinkFixes, RawData: "fix PROJ-42",
	}

	exists, err := w.LinkExists(ctx, link)
	require.NoError(t, err)
	assert.False(t, exists)

	inserted, err := w.InsertLink(ctx, link)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := *link
	inserted, err = w.InsertLink(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	exists, err = w.LinkExists(ctx, link)
	require.NoError(t, err)
	assert.True(t, exists)

	links, err := store.ListLinks(ctx, "gitlab", "commit", "abc")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "PROJ-42", links[0].SourceID)
}

func TestVersions_CloseAndInsert(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	w := store.Warehouse()
	schema := domain.VersionSchemas[domain.EntityOrganization]

	t0 := time.Now().Add(-time.Hour)
	v1 := &domain.Version{ID: "acme", SyncVersion: 1, EffectiveFrom: t0, IsCurrent: true, Values: map[string]any{"name": "Acme"}}
	require.NoError(t, w.InsertVersion(ctx, schema, v1))
	assert.NotZero(t, v1.RowID)

	cur, err := w.CurrentVersion(ctx, schema, map[string]any{"id": "acme"})
	require.NoError(t, err)
	assert.Equal(t, "Acme", cur.Values["name"])

	now := time.Now()
	require.NoError(t, w.CloseVersion(ctx, schema, cur.RowID, now))
	assert.True(t, errors.Is(w.CloseVersion(ctx, schema, cur.RowID, now), domain.ErrNoCurrentVersion))

	_, err = w.CurrentVersion(ctx, schema, map[string]any{"id": "acme"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	require.NoError(t, w.InsertVersion(ctx, schema, &domain.Version{
		ID: "acme", SyncVersion: 2, EffectiveFrom: now, IsCurrent: true, Values: map[string]any{"name": "Acme Corp"},
	}))

	versions, err := store.ListVersions(ctx, schema, "acme")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.False(t, versions[0].IsCurrent)
	require.NotNil(t, versions[0].EffectiveTo)
	assert.True(t, versions[1].IsCurrent)
	assert.Nil(t, versions[1].EffectiveTo)

	_, err = w.CurrentVersion(ctx, schema, map[string]any{"name; DROP TABLE organizations": "x"})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}
