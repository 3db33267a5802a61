package jenkins

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/custodia-labs/trellis/internal/connectors/rest"
	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
)

const (
	// SourceTag is the source tag for Jenkins.
	SourceTag = "jenkins"

	// SchemaVersion tags payloads from the JSON API.
	SchemaVersion = "jenkins-json"

	// BuildLimit is how many recent builds a listing requests.
	BuildLimit = 200

	buildFields = "number,url,result,building,timestamp,duration,displayName,fullDisplayName," +
		"actions[causes[shortDescription,userId,userName],lastBuiltRevision[SHA1,branch[name]]]," +
		"changeSets[items[commitId,msg,authorEmail]]"
)

// Ensure New satisfies the builder signature.
var _ driven.ConnectorBuilder = New

// New creates a connector for the job target.EntityID.
func New(cfg domain.SourceConfig, target domain.TargetConfig, tokens driven.TokenProvider) (driven.Connector, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("jenkins: base_url is required: %w", domain.ErrInvalidInput)
	}

	job := JobPath(target.EntityID)
	clientCfg := rest.ConfigFor(cfg, "", rest.BasicAuth(tokens))

	conn, err := rest.NewConnector(rest.NewClient(clientCfg), rest.ConnectorConfig{
		Source:        cfg.Tag,
		EntityID:      target.EntityID,
		SchemaVersion: SchemaVersion,
		ValidatePath:  job + "/api/json?tree=name",
		Resources: map[domain.EntityKind]rest.Resource{
			domain.KindPipeline: {
				Path:       job + "/api/json",
				ResultsKey: "builds",
				IDField:    "number",
				Query: func(*time.Time) url.Values {
					return url.Values{"tree": {fmt.Sprintf("builds[%s]{0,%d}", buildFields, BuildLimit)}}
				},
				Pager: func(path string, q url.Values) rest.Paginator {
					return rest.SinglePage{Path: path, Query: q}
				},
				Keep: FinishedSince,
			},
		},
		Kinds: cfg.Kinds,
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// JobPath turns "folder/job" into "job/folder/job/job".
func JobPath(name string) string {
	parts := strings.Split(strings.Trim(name, "/"), "/")
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString("job/")
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

type buildTimes struct {
	Building  bool  `json:"building"`
	Timestamp int64 `json:"timestamp"`
	Duration  int64 `json:"duration"`
}

// FinishedSince keeps running builds and builds that finished at or after
// since. Items that cannot be read are kept for the normaliser to reject.
func FinishedSince(item json.RawMessage, since *time.Time) bool {
	if since == nil {
		return true
	}
	var b buildTimes
	if err := json.Unmarshal(item, &b); err != nil {
		return true
	}
	if b.Building {
		return true
	}
	finished := time.UnixMilli(b.Timestamp + b.Duration)
	return !finished.Before(*since)
}
