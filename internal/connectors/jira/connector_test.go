package jira

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/trellis/internal/adapters/driven/auth"
	"github.com/custodia-labs/trellis/internal/core/domain"
)

func TestJQL(t *testing.T) {
	since := time.Date(2024, 3, 1, 9, 15, 42, 0, time.UTC)

	assert.Equal(t, `project = "PROJ" ORDER BY updated ASC`, JQL("PROJ", nil))
	assert.Equal(t, `project = "PROJ" AND updated >= "2024/03/01 09:15" ORDER BY updated ASC`, JQL("PROJ", &since))
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(domain.SourceConfig{Tag: SourceTag}, domain.TargetConfig{EntityID: "PROJ"}, auth.NewNullTokenProvider())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestConnector_SearchPages(t *testing.T) {
	const total = 3
	var pages int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/api/2/project/PROJ" {
			_, _ = w.Write([]byte(`{"id":"10000","key":"PROJ"}`))
			return
		}
		assert.Equal(t, "/rest/api/2/search", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "bot@corp.com", user)
		assert.Equal(t, "tok", pass)
		assert.Contains(t, r.URL.Query().Get("jql"), `project = "PROJ"`)

		pages++
		start, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
		issues := []map[string]string{}
		for i := start; i < min(start+2, total); i++ {
			issues = append(issues, map[string]string{"id": strconv.Itoa(10100 + i), "key": "PROJ-" + strconv.Itoa(i+1)})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"startAt": start, "maxResults": 2, "total": total, "issues": issues})
	}))
	defer srv.Close()

	cfg := domain.SourceConfig{Tag: SourceTag, BaseURL: srv.URL, RateLimit: 1000, RateBurst: 100}
	conn, err := New(cfg, domain.TargetConfig{EntityID: "proj"}, auth.NewStaticTokenProvider("tok", "bot@corp.com"))
	require.NoError(t, err)
	assert.Equal(t, "PROJ", conn.EntityID())
	assert.Equal(t, []domain.EntityKind{domain.KindIssue}, conn.Kinds())

	ctx := context.Background()
	require.NoError(t, conn.Validate(ctx))

	it, err := conn.ListSince(ctx, domain.KindIssue, nil)
	require.NoError(t, err)

	var ids []string
	for it.Next(ctx) {
		assert.Equal(t, SchemaVersion, it.Record().SchemaVersion)
		ids = append(ids, it.Record().ExternalID)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"10100", "10101", "10102"}, ids)
	assert.Equal(t, 2, pages)

	_, err = conn.ListSince(ctx, domain.KindCommit, nil)
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}
