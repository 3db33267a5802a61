package jenkins

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

var project = &domain.Project{ID: "jenkins:deploy-api", Source: SourceTag, ExternalID: "deploy-api"}

func record(payload string) domain.RawRecord {
	return domain.RawRecord{Source: SourceTag, Kind: domain.KindPipeline, ExternalID: "42", EntityID: "deploy-api", Payload: []byte(payload)}
}

func TestNormaliser_FinishedBuild(t *testing.T) {
	p, err := New().Pipeline(record(`{
		"number": 42,
		"url": "https://ci.example.com/job/deploy-api/42/",
		"result": "SUCCESS",
		"building": false,
		"timestamp": 1709287200000,
		"duration": 95500,
		"actions": [
			{"causes": [{"shortDescription": "Started by user Ana", "userId": "ana", "userName": "Ana Souza"}]},
			{},
			{"lastBuiltRevision": {"SHA1": "a1b2c3", "branch": [{"name": "refs/remotes/origin/main"}]}}
		],
		"changeSets": [{"items": [{"commitId": "zzz"}]}]
	}`), project)
	require.NoError(t, err)

	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "42", p.ExternalID)
	assert.Equal(t, "success", p.Status)
	assert.Equal(t, "a1b2c3", p.SHA)
	assert.Equal(t, "main", p.Ref)
	assert.Equal(t, domain.ActorRef{Username: "ana", DisplayName: "Ana Souza"}, p.Trigger)
	assert.Equal(t, 95, p.DurationSeconds)
	assert.Equal(t, started, p.CreatedAt)
	require.NotNil(t, p.FinishedAt)
	assert.Equal(t, started.Add(95500*time.Millisecond), *p.FinishedAt)
	assert.Equal(t, *p.FinishedAt, p.SourceUpdatedAt)
}

func TestNormaliser_RunningBuild(t *testing.T) {
	p, err := New().Pipeline(record(`{
		"number": 43,
		"result": null,
		"building": true,
		"timestamp": 1709287200000,
		"duration": 0,
		"actions": [{"causes": [{"shortDescription": "Started by an SCM change"}]}],
		"changeSets": [{"items": [{"commitId": "c1"}, {"commitId": "c2"}]}]
	}`), project)
	require.NoError(t, err)

	assert.Equal(t, StatusRunning, p.Status)
	assert.Nil(t, p.FinishedAt)
	assert.True(t, p.Trigger.IsZero())
	assert.Equal(t, "c2", p.SHA)
	require.NotNil(t, p.StartedAt)
}

func TestNormaliser_UnknownResult(t *testing.T) {
	p, err := New().Pipeline(record(`{"number": 1, "building": false}`), project)
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, p.Status)
	assert.Nil(t, p.StartedAt)
	assert.Nil(t, p.FinishedAt)
	assert.True(t, p.CreatedAt.IsZero())
}

func TestNormaliser_Malformed(t *testing.T) {
	n := New()
	for _, payload := range []string{`{"number":`, `{}`, `{"number":"x"}`} {
		_, err := n.Pipeline(record(payload), project)
		assert.ErrorIs(t, err, domain.ErrMalformedPayload, payload)
	}
}

func TestNormaliser_BadOptionalField(t *testing.T) {
	p, err := New().Pipeline(record(`{"number":7,"result":"SUCCESS","timestamp":"soon","url":"https://ci/job/app/7/"}`), project)
	require.NotNil(t, p)
	assert.ErrorIs(t, err, domain.ErrPartialPayload)
	assert.Equal(t, "7", p.ExternalID)
	assert.Nil(t, p.StartedAt)
}

func TestNormaliser_UnsupportedKinds(t *testing.T) {
	n := New()
	rec := record(`{}`)

	_, err := n.Commit(rec, project)
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
	_, err = n.Issue(rec, project)
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
	_, err = n.MergeRequest(rec, project)
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
	_, err = n.Deployment(rec, project)
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
	_, err = n.Tag(rec, project)
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
	_, err = n.Branch(rec, project)
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
	_, err = n.Package(rec, project)
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}

func TestBranchName(t *testing.T) {
	assert.Equal(t, "main", branchName("origin/main"))
	assert.Equal(t, "main", branchName("refs/remotes/origin/main"))
	assert.Equal(t, "feature/x", branchName("origin/feature/x"))
	assert.Equal(t, "develop", branchName("refs/heads/develop"))
	assert.Equal(t, "release/1", branchName("release/1"))
}
