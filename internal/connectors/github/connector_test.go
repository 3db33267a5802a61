package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/trellis/internal/adapters/driven/auth"
	"github.com/custodia-labs/trellis/internal/core/domain"
)

func newTestConnector(t *testing.T, srv *httptest.Server, kinds ...domain.EntityKind) *Connector {
	t.Helper()
	cfg := domain.SourceConfig{
		Tag:        SourceTag,
		BaseURL:    srv.URL,
		RateLimit:  1000,
		RateBurst:  100,
		MaxRetries: 2,
		Kinds:      kinds,
	}
	conn, err := New(cfg, domain.TargetConfig{EntityID: "owner/repo"}, auth.NewStaticTokenProvider("ghp_test", ""))
	require.NoError(t, err)
	c := conn.(*Connector)
	c.client.retryDelay = time.Millisecond
	return c
}

func collect(t *testing.T, c *Connector, kind domain.EntityKind, since *time.Time) []domain.RawRecord {
	t.Helper()
	ctx := context.Background()
	it, err := c.ListSince(ctx, kind, since)
	require.NoError(t, err)
	defer it.Close()

	var recs []domain.RawRecord
	for it.Next(ctx) {
		recs = append(recs, it.Record())
	}
	require.NoError(t, it.Err())
	return recs
}

func TestNew_InvalidEntity(t *testing.T) {
	for _, id := range []string{"", "owner", "owner/", "/repo", "a/b/c"} {
		_, err := New(domain.SourceConfig{Tag: SourceTag}, domain.TargetConfig{EntityID: id}, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, id)
	}
}

func TestNew_UnsupportedKind(t *testing.T) {
	cfg := domain.SourceConfig{Tag: SourceTag, Kinds: []domain.EntityKind{domain.KindPipeline}}
	_, err := New(cfg, domain.TargetConfig{EntityID: "owner/repo"}, nil)
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}

func TestConnector_Kinds(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := newTestConnector(t, srv)
	assert.Equal(t, supportedKinds, c.Kinds())
	assert.Equal(t, "owner/repo", c.EntityID())
	assert.Equal(t, SourceTag, c.Source())

	c = newTestConnector(t, srv, domain.KindBranch, domain.KindCommit)
	assert.Equal(t, []domain.EntityKind{domain.KindCommit, domain.KindBranch}, c.Kinds())
}

func TestConnector_Validate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/repos/owner/repo", r.URL.Path)
		assert.Equal(t, "Bearer ghp_test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":1,"full_name":"owner/repo"}`))
	}))
	defer srv.Close()

	c := newTestConnector(t, srv)
	require.NoError(t, c.Validate(context.Background()))
}

func TestConnector_ValidateUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
	}))
	defer srv.Close()

	c := newTestConnector(t, srv)
	err := c.Validate(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
}

func TestConnector_ListCommitsPaginated(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/repos/owner/repo/commits", r.URL.Path)
		assert.Equal(t, "2024-03-01T00:00:00Z", r.URL.Query().Get("since"))
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))

		if r.URL.Query().Get("page") == "1" {
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v3/repos/owner/repo/commits?page=2>; rel="next"`, srvURL))
			_, _ = w.Write([]byte(`[{"sha":"aaa","commit":{"message":"fix #1"}}]`))
			return
		}
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		_, _ = w.Write([]byte(`[{"sha":"bbb","commit":{"message":"docs"}}]`))
	}))
	defer srv.Close()
	srvURL = srv.URL

	c := newTestConnector(t, srv)
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	recs := collect(t, c, domain.KindCommit, &since)

	require.Len(t, recs, 2)
	assert.Equal(t, "aaa", recs[0].ExternalID)
	assert.Equal(t, "bbb", recs[1].ExternalID)
	assert.Equal(t, domain.KindCommit, recs[0].Kind)
	assert.Equal(t, "owner/repo", recs[0].EntityID)
	assert.Equal(t, SchemaVersion, recs[0].SchemaVersion)
	assert.JSONEq(t, `{"sha":"aaa","commit":{"message":"fix #1"}}`, string(recs[0].Payload))
}

func TestConnector_ListIssuesSkipsPullRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/repos/owner/repo/issues", r.URL.Path)
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		assert.Equal(t, "asc", r.URL.Query().Get("direction"))
		assert.Empty(t, r.URL.Query().Get("since"))
		_, _ = w.Write([]byte(`[
			{"id":11,"number":1,"title":"bug"},
			{"id":12,"number":2,"title":"pr","pull_request":{"url":"x"}},
			{"id":13,"number":3,"title":"other","pull_request":null}
		]`))
	}))
	defer srv.Close()

	c := newTestConnector(t, srv)
	recs := collect(t, c, domain.KindIssue, nil)

	require.Len(t, recs, 2)
	assert.Equal(t, "11", recs[0].ExternalID)
	assert.Equal(t, "13", recs[1].ExternalID)
}

func TestConnector_ListPullsStopsAtWatermark(t *testing.T) {
	var srvURL string
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/v3/repos/owner/repo/pulls", r.URL.Path)
		assert.Equal(t, "desc", r.URL.Query().Get("direction"))
		w.Header().Set("Link", fmt.Sprintf(`<%s/api/v3/repos/owner/repo/pulls?page=2>; rel="next"`, srvURL))
		_, _ = w.Write([]byte(`[
			{"id":3,"updated_at":"2024-03-05T00:00:00Z"},
			{"id":2,"updated_at":"2024-03-02T00:00:00Z"},
			{"id":1,"updated_at":"2024-02-20T00:00:00Z"}
		]`))
	}))
	defer srv.Close()
	srvURL = srv.URL

	c := newTestConnector(t, srv)
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	recs := collect(t, c, domain.KindMergeRequest, &since)

	require.Len(t, recs, 2)
	assert.Equal(t, "3", recs[0].ExternalID)
	assert.Equal(t, "2", recs[1].ExternalID)
	assert.Equal(t, int32(1), calls.Load())
}

func TestConnector_ListTagsByName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/repos/owner/repo/tags", r.URL.Path)
		_, _ = w.Write([]byte(`[{"name":"v1.0.0","commit":{"sha":"aaa"}}]`))
	}))
	defer srv.Close()

	c := newTestConnector(t, srv)
	recs := collect(t, c, domain.KindTag, nil)
	require.Len(t, recs, 1)
	assert.Equal(t, "v1.0.0", recs[0].ExternalID)
}

func TestConnector_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"message":"bad gateway"}`))
			return
		}
		_, _ = w.Write([]byte(`[{"name":"main"}]`))
	}))
	defer srv.Close()

	c := newTestConnector(t, srv)
	recs := collect(t, c, domain.KindBranch, nil)
	require.Len(t, recs, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestConnector_SourceUnavailableAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"down"}`))
	}))
	defer srv.Close()

	c := newTestConnector(t, srv)
	ctx := context.Background()
	it, err := c.ListSince(ctx, domain.KindBranch, nil)
	require.NoError(t, err)
	defer it.Close()

	assert.False(t, it.Next(ctx))
	require.ErrorIs(t, it.Err(), domain.ErrSourceUnavailable)

	var unavailable *domain.SourceUnavailableError
	require.ErrorAs(t, it.Err(), &unavailable)
	assert.Equal(t, 3, unavailable.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestConnector_ExhaustedQuotaFailsFast(t *testing.T) {
	var calls atomic.Int32
	reset := time.Now().Add(time.Hour).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", fmt.Sprint(reset))
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"API rate limit exceeded"}`))
	}))
	defer srv.Close()

	c := newTestConnector(t, srv)
	ctx := context.Background()
	for range 2 {
		it, err := c.ListSince(ctx, domain.KindBranch, nil)
		require.NoError(t, err)

		assert.False(t, it.Next(ctx))
		require.ErrorIs(t, it.Err(), domain.ErrSourceUnavailable)
		var rlErr *RateLimitError
		assert.ErrorAs(t, it.Err(), &rlErr)
		it.Close()
	}
	assert.Equal(t, int32(1), calls.Load(), "the second listing never reaches the API")
}

func TestConnector_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	}))
	defer srv.Close()

	c := newTestConnector(t, srv)
	ctx := context.Background()
	it, err := c.ListSince(ctx, domain.KindTag, nil)
	require.NoError(t, err)

	assert.False(t, it.Next(ctx))
	assert.ErrorIs(t, it.Err(), domain.ErrNotFound)
	assert.True(t, IsNotFound(it.Err()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestConnector_Count(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("per_page"))
		switch r.URL.Path {
		case "/api/v3/repos/owner/repo/commits":
			w.Header().Set("Link", fmt.Sprintf(
				`<%[1]s/api/v3/repos/owner/repo/commits?per_page=1&page=2>; rel="next", <%[1]s/api/v3/repos/owner/repo/commits?per_page=1&page=42>; rel="last"`,
				srvURL))
			_, _ = w.Write([]byte(`[{"sha":"aaa"}]`))
		case "/api/v3/repos/owner/repo/branches":
			_, _ = w.Write([]byte(`[{"name":"main"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	c := newTestConnector(t, srv)
	ctx := context.Background()

	n, err := c.Count(ctx, string(domain.KindCommit))
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	n, err = c.Count(ctx, "repos/owner/repo/branches")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConnector_Closed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := newTestConnector(t, srv)
	require.NoError(t, c.Close())

	_, err := c.ListSince(context.Background(), domain.KindCommit, nil)
	assert.ErrorIs(t, err, domain.ErrConnectorClosed)
	assert.ErrorIs(t, c.Validate(context.Background()), domain.ErrConnectorClosed)
	_, err = c.Count(context.Background(), "commits")
	assert.ErrorIs(t, err, domain.ErrConnectorClosed)
}

func TestConnector_ListUnsupportedKind(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := newTestConnector(t, srv, domain.KindCommit)
	_, err := c.ListSince(context.Background(), domain.KindIssue, nil)
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
	_, err = c.ListSince(context.Background(), domain.KindPipeline, nil)
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}
