// Package gitlab implements a connector for one GitLab project.
//
// Records are listed from the REST API v4 with page/per_page pagination.
// Commits are filtered with since, the other updatable kinds with
// updated_after; tags, branches and packages are always listed in full.
//
// Configuration:
//
//   - base_url: instance URL, with or without /api/v4. Default gitlab.com.
//   - token / token_env: a personal or project access token (bearer).
//   - targets: project paths such as "group/subgroup/repo".
package gitlab
