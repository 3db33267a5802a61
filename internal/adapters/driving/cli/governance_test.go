package cli

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

func TestGovernanceCmd_Use(t *testing.T) {
	assert.Equal(t, "governance", governanceCmd.Use)
	assert.Equal(t, "Re-score identity mappings", governanceCmd.Short)
}

func TestGovernanceCmd_PrintsReport(t *testing.T) {
	gov := &mockGovernance{report: &domain.GovernanceReport{
		Scanned:     10,
		Verified:    1,
		Auto:        2,
		Unchanged:   6,
		Ambiguous:   1,
		UsersMerged: 2,
	}}
	restore := setServices(&Services{Governance: gov})
	defer restore()

	out, err := execute("governance")

	require.NoError(t, err)
	assert.Contains(t, out, "Scanned:              10")
	assert.Contains(t, out, "Repointed (auto):     2")
	assert.Contains(t, out, "Ambiguous:            1")
	assert.Contains(t, out, "Users merged:         2")
}

func TestGovernanceCmd_Error(t *testing.T) {
	restore := setServices(&Services{Governance: &mockGovernance{err: errors.New("db closed")}})
	defer restore()

	_, err := execute("governance")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "governance failed: db closed")
}
