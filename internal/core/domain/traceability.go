package domain

import "time"

// LinkType classifies a traceability link.
type LinkType string

// Link types.
const (
	// LinkFixes is used when a closing keyword precedes the reference.
	LinkFixes LinkType = "fixes"

	// LinkMentions is used for any other reference.
	LinkMentions LinkType = "mentions"
)

// ArtifactRef identifies one artifact in one system.
type ArtifactRef struct {
	System string
	Type   string
	ID     string
}

// Artifact types used in links.
const (
	ArtifactCommit       = "commit"
	ArtifactIssue        = "issue"
	ArtifactMergeRequest = "merge_request"
)

// Reference is one cross-system reference found in free text.
type Reference struct {
	// Ref is the referenced artifact.
	Ref ArtifactRef

	// LinkType is fixes or mentions.
	LinkType LinkType

	// Match is the matched text including any closing keyword.
	Match string
}

// TraceabilityLink is a directed edge from a referenced artifact to the
// artifact whose text mentioned it. The seven key columns are unique.
type TraceabilityLink struct {
	ID           int64
	SourceSystem string
	SourceType   string
	SourceID     string
	TargetSystem string
	TargetType   string
	TargetID     string
	LinkType     LinkType
	RawData      string
	CreatedAt    time.Time
}
