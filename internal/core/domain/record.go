package domain

import (
	"encoding/json"
	"time"
)

// EntityKind identifies a kind of engineering artifact a source can list.
type EntityKind string

// Supported entity kinds.
const (
	KindCommit       EntityKind = "commit"
	KindIssue        EntityKind = "issue"
	KindMergeRequest EntityKind = "merge_request"
	KindPipeline     EntityKind = "pipeline"
	KindDeployment   EntityKind = "deployment"
	KindTag          EntityKind = "tag"
	KindBranch       EntityKind = "branch"
	KindPackage      EntityKind = "package"
)

// AllKinds lists every entity kind in the order a full sync processes them.
// Issues come before commits and merge requests so that references found in
// free text can point at rows that already exist.
var AllKinds = []EntityKind{
	KindIssue,
	KindCommit,
	KindMergeRequest,
	KindPipeline,
	KindDeployment,
	KindTag,
	KindBranch,
	KindPackage,
}

// IsValid returns true if the kind is one of the supported kinds.
func (k EntityKind) IsValid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// String returns the kind as stored in the warehouse.
func (k EntityKind) String() string {
	return string(k)
}

// RawRecord is one payload exactly as a source returned it.
// It is the connector's output before any interpretation.
type RawRecord struct {
	// Source is the source tag (gitlab, github, jira, jenkins).
	Source string

	// Kind is the entity kind the payload describes.
	Kind EntityKind

	// ExternalID is the source's own identifier for the record.
	ExternalID string

	// EntityID is the tracked entity the record was listed for.
	EntityID string

	// Payload is the verbatim JSON body of the record.
	Payload json.RawMessage

	// SchemaVersion identifies the source API version that produced the payload.
	SchemaVersion string

	// CollectedAt is when the connector fetched the record.
	CollectedAt time.Time
}

// StagingRecord is a RawRecord persisted in the append-only staging log.
type StagingRecord struct {
	// ID is the surrogate row id assigned by the warehouse.
	ID int64

	RawRecord
}
