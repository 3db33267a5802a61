package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/trellis/internal/adapters/driven/storage/sqlstore"
	"github.com/custodia-labs/trellis/internal/core/domain"
)

func newGovernance(store *sqlstore.Store, cfg domain.IdentityConfig) *GovernanceService {
	return NewGovernanceService(store, store, NewVersionService(store), cfg)
}

func currentUser(t *testing.T, store *sqlstore.Store, id string) domain.GlobalUser {
	t.Helper()
	users, err := store.ListCurrentUsers(context.Background())
	require.NoError(t, err)
	for _, u := range users {
		if u.ID == id {
			return u
		}
	}
	t.Fatalf("no current user %s", id)
	return domain.GlobalUser{}
}

func TestGovernance_RepointsAndMergesProvisionalUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cfg := domain.IdentityConfig{
		InternalDomains: []string{"corp.com"},
		People: []domain.PersonConfig{
			{ID: "emp-1", DisplayName: "Grace Hopper", Email: "grace@corp.com", Username: "ghopper", EmployeeID: "E100"},
		},
	}

	// Resolved before the roster existed.
	res := resolve(t, store, loadedResolver(t, store, cfg), "gitlab",
		domain.ActorRef{ExternalID: "17", Username: "grace.h", DisplayName: "Grace Hopper", Email: "grace.hopper@corp.com"})
	require.True(t, res.Provisional)

	report, err := newGovernance(store, cfg).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Verified)
	assert.Equal(t, 1, report.UsersMerged)
	assert.Zero(t, report.Ambiguous)

	m, err := store.Warehouse().GetMapping(ctx, "gitlab", "17")
	require.NoError(t, err)
	assert.Equal(t, "emp-1", m.GlobalUserID)
	assert.Equal(t, domain.MappingVerified, m.Status)
	assert.InDelta(t, 0.9, m.Confidence, 1e-9)

	merged := currentUser(t, store, res.GlobalUserID)
	assert.Equal(t, domain.UserMerged, merged.Status)
	assert.Equal(t, "emp-1", merged.MergedInto)
	assert.Equal(t, 2, merged.SyncVersion)

	versions, err := store.ListVersions(ctx, domain.VersionSchemas[domain.EntityGlobalUser], res.GlobalUserID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.False(t, versions[0].IsCurrent)
	require.NotNil(t, versions[0].EffectiveTo)
	assert.True(t, versions[0].EffectiveTo.Equal(versions[1].EffectiveFrom))

	// A second pass has nothing left to do.
	report, err = newGovernance(store, cfg).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
}

func TestGovernance_EmployeeIDMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cfg := domain.IdentityConfig{
		People: []domain.PersonConfig{{ID: "emp-2", DisplayName: "Alan Turing", EmployeeID: "E200"}},
	}

	resolve(t, store, loadedResolver(t, store, domain.IdentityConfig{}), "jenkins",
		domain.ActorRef{Username: "e200"})

	report, err := newGovernance(store, cfg).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Verified)

	m, err := store.Warehouse().GetMapping(ctx, "jenkins", "e200")
	require.NoError(t, err)
	assert.Equal(t, "emp-2", m.GlobalUserID)
	assert.InDelta(t, 0.95, m.Confidence, 1e-9)
}

func TestGovernance_SetConfigAppliesToNextRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	resolve(t, store, loadedResolver(t, store, domain.IdentityConfig{}), "jenkins",
		domain.ActorRef{Username: "e200"})

	g := newGovernance(store, domain.IdentityConfig{})
	report, err := g.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Verified)

	g.SetConfig(domain.IdentityConfig{
		People: []domain.PersonConfig{{ID: "emp-2", DisplayName: "Alan Turing", EmployeeID: "E200"}},
	})
	report, err = g.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Verified)

	m, err := store.Warehouse().GetMapping(ctx, "jenkins", "e200")
	require.NoError(t, err)
	assert.Equal(t, "emp-2", m.GlobalUserID)
}

func TestGovernance_TieIsRecordedAsConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cfg := domain.IdentityConfig{
		People: []domain.PersonConfig{
			{ID: "p-1", DisplayName: "Sam Smith", Email: "sam@one.org"},
			{ID: "p-2", DisplayName: "Sam Smith", Email: "sam@two.org"},
		},
	}

	res := resolve(t, store, loadedResolver(t, store, domain.IdentityConfig{}), "jira",
		domain.ActorRef{ExternalID: "acc-9", DisplayName: "Sam Smith", Email: "sammy@gmail.com"})

	report, err := newGovernance(store, cfg).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Ambiguous)
	assert.Zero(t, report.Auto)

	m, err := store.Warehouse().GetMapping(ctx, "jira", "acc-9")
	require.NoError(t, err)
	assert.Equal(t, res.GlobalUserID, m.GlobalUserID)
	assert.Equal(t, domain.MappingPending, m.Status)

	conflicts, err := store.ListConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, []string{"p-1", "p-2"}, conflicts[0].Candidates)
	assert.InDelta(t, 0.7, conflicts[0].Score, 1e-9)
}

func TestGovernance_WeakEvidenceLeavesMappingPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cfg := domain.IdentityConfig{
		People: []domain.PersonConfig{{ID: "p-1", DisplayName: "Someone Else", Email: "else@corp.com"}},
	}

	resolve(t, store, loadedResolver(t, store, domain.IdentityConfig{}), "gitlab",
		domain.ActorRef{ExternalID: "3", DisplayName: "Unrelated"})

	report, err := newGovernance(store, cfg).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Unchanged)

	m, err := store.Warehouse().GetMapping(ctx, "gitlab", "3")
	require.NoError(t, err)
	assert.Equal(t, domain.MappingPending, m.Status)
}

func TestGovernance_SeedRosterVersionsChanges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	g := newGovernance(store, domain.IdentityConfig{})

	people := []domain.PersonConfig{{ID: "emp-1", DisplayName: "Grace Hopper", Email: "grace@corp.com"}}
	n, err := g.SeedRoster(ctx, people)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = g.SeedRoster(ctx, people)
	require.NoError(t, err)
	assert.Zero(t, n)

	people[0].DisplayName = "Rear Admiral Grace Hopper"
	n, err = g.SeedRoster(ctx, people)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	u := currentUser(t, store, "emp-1")
	assert.Equal(t, "Rear Admiral Grace Hopper", u.DisplayName)
	assert.Equal(t, domain.UserActive, u.Status)
	assert.Equal(t, 2, u.SyncVersion)
}
