// Package gitlab decodes GitLab REST API v4 payloads into domain entities.
//
// Issues and merge requests get human keys built from the project path
// and the project-scoped iid (group/repo#12, group/repo!7), which is how
// they are referenced in commit messages.
package gitlab
