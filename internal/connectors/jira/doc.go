// Package jira implements a connector for one Jira project.
//
// Issues are listed through the search endpoint with a JQL query ordered
// by update time, paginated with startAt/maxResults. Jira exposes only the
// issue kind.
//
// Authentication uses basic auth (account email and API token) when a
// username is configured, else a bearer personal access token.
package jira
