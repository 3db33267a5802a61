// Package github decodes GitHub REST API v3 payloads into domain entities
// using go-github's types.
//
// Pull requests are mapped to merge requests. GitHub has no pipelines,
// deployments or packages in the listings trellis reads; those kinds
// return domain.ErrUnsupportedType.
package github
