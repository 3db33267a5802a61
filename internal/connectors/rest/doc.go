// Package rest is the shared core of the HTTP source connectors.
//
// It provides a rate-limited, retrying [Client], the pagination strategies
// used by the tracker APIs ([PagePaginator], [OffsetPaginator],
// [SinglePage]), a lazy [Iterator] that turns pages into
// [domain.RawRecord] values, and a generic [Connector] that the gitlab,
// jira and jenkins packages configure with their resources.
//
// # Retries
//
// Every attempt first waits on the token bucket. Server errors (5xx), 429
// responses, timeouts and refused or reset connections are retried with
// exponential backoff up to MaxRetries times; once the budget is spent the
// call fails with a [domain.SourceUnavailableError]. Other 4xx responses,
// invalid URLs and TLS failures fail at once. A negative MaxRetries
// disables retries.
//
// # Authentication
//
// Bearer tokens are attached by an oauth2 transport built from the
// source's [driven.TokenProvider]; basic auth (Jira, Jenkins) sends the
// provider's username with the token as password.
package rest
