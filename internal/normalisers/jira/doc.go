// Package jira decodes Jira REST API v2 issue payloads. Jira only
// exposes issues; every other kind returns domain.ErrUnsupportedType.
package jira
