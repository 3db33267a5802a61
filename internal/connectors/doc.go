// Package connectors holds the source connectors. Each subpackage knows how
// to list one source's entities page by page and hand them to the engine as
// raw records:
//
//   - rest: the shared HTTP client, retry policy and paginators
//   - gitlab, jira, jenkins: declarative endpoint tables over rest
//   - github: go-github based connector
//
// Connectors are registered with the SourceRegistry by cmd/trellis at
// start-up, together with the matching normaliser.
package connectors
