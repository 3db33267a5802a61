package domain

import "time"

// MappingStatus is the review state of an identity mapping.
type MappingStatus string

// Mapping statuses.
const (
	// MappingPending awaits governance or human review.
	MappingPending MappingStatus = "PENDING"

	// MappingAuto was matched with medium confidence.
	MappingAuto MappingStatus = "AUTO"

	// MappingVerified was matched with high confidence or confirmed by a person.
	MappingVerified MappingStatus = "VERIFIED"
)

// Confidence thresholds for mapping statuses.
const (
	VerifiedThreshold = 0.9
	AutoThreshold     = 0.6
)

// StatusFor returns the mapping status a confidence score earns.
func StatusFor(score float64) MappingStatus {
	switch {
	case score >= VerifiedThreshold:
		return MappingVerified
	case score >= AutoThreshold:
		return MappingAuto
	default:
		return MappingPending
	}
}

// UserStatus is the lifecycle state of a global user.
type UserStatus string

// User statuses.
const (
	// UserActive is a confirmed person.
	UserActive UserStatus = "active"

	// UserProvisional was created because no existing user matched.
	UserProvisional UserStatus = "provisional"

	// UserMerged was folded into another user by governance.
	UserMerged UserStatus = "merged"
)

// GlobalUser is the canonical person record. Rows are versioned:
// at most one row per ID is current.
type GlobalUser struct {
	ID           string
	DisplayName  string
	PrimaryEmail string
	Username     string
	EmployeeID   string
	Status       UserStatus
	MergedInto   string

	SyncVersion   int
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
	IsCurrent     bool
}

// IdentityMapping links one external account to a global user.
// (SourceSystem, ExternalUserID) is unique.
type IdentityMapping struct {
	ID               int64
	GlobalUserID     string
	SourceSystem     string
	ExternalUserID   string
	ExternalUsername string
	ExternalEmail    string
	DisplayName      string
	Status           MappingStatus
	Confidence       float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IdentityConflict is a recorded ambiguous governance match.
type IdentityConflict struct {
	ID             int64
	MappingID      int64
	SourceSystem   string
	ExternalUserID string
	Candidates     []string
	Score          float64
	DetectedAt     time.Time
}

// Resolution is the outcome of resolving one actor reference.
type Resolution struct {
	// GlobalUserID is the canonical user the actor resolved to.
	GlobalUserID string

	// Confidence is the score of the tier that matched (0 when provisional).
	Confidence float64

	// Tier is the matching tier (0 for an existing mapping, -1 when provisional).
	Tier int

	// Created is true when a new mapping was written.
	Created bool

	// Provisional is true when a new global user was created.
	Provisional bool
}

// GovernanceReport summarises one governance pass.
type GovernanceReport struct {
	Scanned     int
	Verified    int
	Auto        int
	Unchanged   int
	Ambiguous   int
	UsersMerged int
}
