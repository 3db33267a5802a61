// Package github implements a connector for one GitHub repository.
//
// The connector lists commits, issues, pull requests, tags and branches
// through go-github, keeping each item's JSON exactly as the API returned
// it. Pull requests map to the merge_request kind.
//
// # Architecture
//
// The connector follows the driven port pattern defined in [driven.Connector].
// It comprises the following components:
//
//   - Connector: builds listings for a kind and manages lifecycle
//   - Client: handles GitHub API communication with rate limiting and retries
//   - quota: token bucket pacing plus the API's X-RateLimit headers; an
//     exhausted quota resetting beyond MaxRetryDelay fails the call with a
//     [domain.SourceUnavailableError] rather than blocking the task
//
// # Incremental listings
//
// Commits and issues accept a since parameter. Pull requests do not, so
// they are listed most recently updated first and the listing stops at the
// first pull request updated before the watermark.
//
// # Authentication
//
// Personal access tokens (classic or fine-grained) are sent as bearer
// tokens. Requires 'repo' scope for private repositories. Authenticated
// clients get 5,000 requests per hour; unauthenticated ones only 60.
//
// # Enterprise
//
// Setting base_url points the client at a GitHub Enterprise Server; the
// /api/v3/ suffix is added when missing.
package github
