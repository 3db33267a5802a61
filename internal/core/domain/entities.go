package domain

import (
	"strings"
	"time"
)

// ActorRef is whatever a source exposes about the person behind an action.
// Any subset of the fields may be set.
type ActorRef struct {
	ExternalID  string
	Username    string
	DisplayName string
	Email       string
}

// IsZero returns true if the reference carries no usable key.
func (a ActorRef) IsZero() bool {
	return a.Key() == ""
}

// Key returns the identifier used as external_user_id in identity mappings.
// The source's own id is preferred, then the username, then the email.
func (a ActorRef) Key() string {
	switch {
	case strings.TrimSpace(a.ExternalID) != "":
		return strings.TrimSpace(a.ExternalID)
	case strings.TrimSpace(a.Username) != "":
		return strings.TrimSpace(a.Username)
	default:
		return strings.ToLower(strings.TrimSpace(a.Email))
	}
}

// EmailDomain returns the lower-cased domain part of the email, if any.
func (a ActorRef) EmailDomain() string {
	_, domain, ok := strings.Cut(strings.TrimSpace(a.Email), "@")
	if !ok {
		return ""
	}
	return strings.ToLower(domain)
}

// EmailLocalPart returns the lower-cased part of the email before the @.
func (a ActorRef) EmailLocalPart() string {
	local, _, ok := strings.Cut(strings.TrimSpace(a.Email), "@")
	if !ok {
		return ""
	}
	return strings.ToLower(local)
}

// Commit is a normalised version-control commit.
// Natural key: (Source, ProjectID, SHA).
type Commit struct {
	Source      string
	ProjectID   string
	SHA         string
	Title       string
	Message     string
	Author      ActorRef
	AuthorID    string
	AuthoredAt  time.Time
	CommittedAt time.Time
	Additions   int
	Deletions   int
	WebURL      string
}

// Issue is a normalised tracker issue.
// Natural key: (Source, ProjectID, ExternalID).
type Issue struct {
	Source    string
	ProjectID string

	// ExternalID is the source's global id for the issue.
	ExternalID string

	// Key is the human reference used in free text (PROJ-42, group/repo#12).
	Key string

	Title           string
	Description     string
	State           string
	IssueType       string
	Priority        string
	Labels          []string
	Author          ActorRef
	AuthorID        string
	Assignee        ActorRef
	AssigneeID      string
	CreatedAt       time.Time
	SourceUpdatedAt time.Time
	ClosedAt        *time.Time
	WebURL          string
}

// MergeRequest is a normalised merge request or pull request.
// Natural key: (Source, ProjectID, ExternalID).
type MergeRequest struct {
	Source     string
	ProjectID  string
	ExternalID string

	// Key is the human reference used in free text (group/repo!7).
	Key string

	Number       int
	Title        string
	Description  string
	State        string
	SourceBranch string
	TargetBranch string
	Author       ActorRef
	AuthorID     string
	MergedBy     ActorRef
	MergedByID   string

	// IssueSource is the system of the first issue reference found in the
	// title or description. Set once and never overwritten.
	IssueSource string

	CreatedAt       time.Time
	SourceUpdatedAt time.Time
	MergedAt        *time.Time
	ClosedAt        *time.Time
	WebURL          string
}

// Pipeline is a normalised CI run (GitLab pipeline, Jenkins build).
// Natural key: (Source, ProjectID, ExternalID).
type Pipeline struct {
	Source          string
	ProjectID       string
	ExternalID      string
	Ref             string
	SHA             string
	Status          string
	Trigger         ActorRef
	TriggerID       string
	DurationSeconds int
	CreatedAt       time.Time
	SourceUpdatedAt time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	WebURL          string
}

// Deployment is a normalised deployment to an environment.
// Natural key: (Source, ProjectID, ExternalID).
type Deployment struct {
	Source          string
	ProjectID       string
	ExternalID      string
	Environment     string
	Status          string
	Ref             string
	SHA             string
	Deployer        ActorRef
	DeployerID      string
	CreatedAt       time.Time
	SourceUpdatedAt time.Time
	FinishedAt      *time.Time
}

// Tag is a normalised git tag.
// Natural key: (Source, ProjectID, Name).
type Tag struct {
	Source    string
	ProjectID string
	Name      string
	SHA       string
	Message   string
	CreatedAt *time.Time
}

// Branch is a normalised git branch.
// Natural key: (Source, ProjectID, Name).
type Branch struct {
	Source    string
	ProjectID string
	Name      string
	SHA       string
	Protected bool
	Default   bool
	Merged    bool
}

// Package is a normalised package registry entry.
// Natural key: (Source, ProjectID, ExternalID).
type Package struct {
	Source      string
	ProjectID   string
	ExternalID  string
	Name        string
	Version     string
	PackageType string
	CreatedAt   time.Time
}
