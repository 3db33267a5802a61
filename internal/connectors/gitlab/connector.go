package gitlab

import (
	"net/url"
	"strings"
	"time"

	"github.com/custodia-labs/trellis/internal/connectors/rest"
	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
)

const (
	// SourceTag is the source tag for GitLab.
	SourceTag = "gitlab"

	// SchemaVersion tags payloads from the v4 API.
	SchemaVersion = "gitlab-v4"

	// DefaultBaseURL is the API root of gitlab.com.
	DefaultBaseURL = "https://gitlab.com/api/v4"
)

// Ensure New satisfies the builder signature.
var _ driven.ConnectorBuilder = New

// New creates a connector for the project target.EntityID.
func New(cfg domain.SourceConfig, target domain.TargetConfig, tokens driven.TokenProvider) (driven.Connector, error) {
	clientCfg := rest.ConfigFor(cfg, DefaultBaseURL, rest.BearerAuth(tokens))
	clientCfg.BaseURL = apiRoot(clientCfg.BaseURL)

	project := "projects/" + url.PathEscape(target.EntityID)
	conn, err := rest.NewConnector(rest.NewClient(clientCfg), rest.ConnectorConfig{
		Source:        cfg.Tag,
		EntityID:      target.EntityID,
		SchemaVersion: SchemaVersion,
		ValidatePath:  project,
		Resources:     resources(project),
		Kinds:         cfg.Kinds,
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// apiRoot appends /api/v4 to an instance URL.
func apiRoot(base string) string {
	base = strings.TrimSuffix(base, "/")
	if strings.HasSuffix(base, "/api/v4") {
		return base
	}
	return base + "/api/v4"
}

func resources(project string) map[domain.EntityKind]rest.Resource {
	return map[domain.EntityKind]rest.Resource{
		domain.KindCommit: {
			Path:    project + "/repository/commits",
			IDField: "id",
			Query: func(since *time.Time) url.Values {
				q := url.Values{"with_stats": {"true"}, "all": {"true"}}
				if since != nil {
					q.Set("since", rest.FormatSince(*since))
				}
				return q
			},
		},
		domain.KindIssue: {
			Path:    project + "/issues",
			IDField: "id",
			Query:   updatedAfter(url.Values{"scope": {"all"}}),
		},
		domain.KindMergeRequest: {
			Path:    project + "/merge_requests",
			IDField: "id",
			Query:   updatedAfter(url.Values{"scope": {"all"}, "state": {"all"}}),
		},
		domain.KindPipeline: {
			Path:    project + "/pipelines",
			IDField: "id",
			Query:   updatedAfter(url.Values{}),
		},
		domain.KindDeployment: {
			Path:    project + "/deployments",
			IDField: "id",
			Query:   updatedAfter(url.Values{}),
		},
		domain.KindTag: {
			Path:    project + "/repository/tags",
			IDField: "name",
		},
		domain.KindBranch: {
			Path:    project + "/repository/branches",
			IDField: "name",
		},
		domain.KindPackage: {
			Path:    project + "/packages",
			IDField: "id",
		},
	}
}

// updatedAfter lists oldest changes first so an interrupted run has
// committed a contiguous prefix.
func updatedAfter(base url.Values) func(*time.Time) url.Values {
	return func(since *time.Time) url.Values {
		q := url.Values{"order_by": {"updated_at"}, "sort": {"asc"}}
		for k, v := range base {
			q[k] = v
		}
		if since != nil {
			q.Set("updated_after", rest.FormatSince(*since))
		}
		return q
	}
}
