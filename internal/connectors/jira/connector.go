package jira

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/custodia-labs/trellis/internal/connectors/rest"
	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
)

const (
	// SourceTag is the source tag for Jira.
	SourceTag = "jira"

	// SchemaVersion tags payloads from the v2 REST API.
	SchemaVersion = "jira-v2"

	// PageSize is the maxResults requested per search page.
	PageSize = 50

	// jqlTimeLayout is the minute-precision format JQL accepts.
	jqlTimeLayout = "2006/01/02 15:04"
)

// Ensure New satisfies the builder signature.
var _ driven.ConnectorBuilder = New

// New creates a connector for the project key target.EntityID.
func New(cfg domain.SourceConfig, target domain.TargetConfig, tokens driven.TokenProvider) (driven.Connector, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("jira: base_url is required: %w", domain.ErrInvalidInput)
	}
	key := strings.ToUpper(strings.TrimSpace(target.EntityID))

	clientCfg := rest.ConfigFor(cfg, "", rest.AutoAuth(tokens))
	clientCfg.BaseURL = strings.TrimSuffix(clientCfg.BaseURL, "/") + "/rest/api/2"

	conn, err := rest.NewConnector(rest.NewClient(clientCfg), rest.ConnectorConfig{
		Source:        cfg.Tag,
		EntityID:      key,
		SchemaVersion: SchemaVersion,
		ValidatePath:  "project/" + url.PathEscape(key),
		Resources: map[domain.EntityKind]rest.Resource{
			domain.KindIssue: {
				Path:       "search",
				ResultsKey: "issues",
				IDField:    "id",
				Query: func(since *time.Time) url.Values {
					return url.Values{"jql": {JQL(key, since)}, "fields": {"*navigable"}}
				},
				Pager: func(path string, q url.Values) rest.Paginator {
					return rest.NewOffsetPaginator(path, q, PageSize)
				},
			},
		},
		Kinds: cfg.Kinds,
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// JQL builds the search query for a project, oldest updates first.
// JQL has minute precision, so the watermark is truncated down and the
// boundary minute is listed again.
func JQL(projectKey string, since *time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "project = %q", projectKey)
	if since != nil {
		fmt.Fprintf(&b, " AND updated >= %q", since.UTC().Truncate(time.Minute).Format(jqlTimeLayout))
	}
	b.WriteString(" ORDER BY updated ASC")
	return b.String()
}
