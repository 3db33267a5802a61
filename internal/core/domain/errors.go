package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates an unknown source tag or entity kind.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrSyncInProgress indicates a sync is already running for the target.
	ErrSyncInProgress = errors.New("sync in progress")

	// ErrTargetDisabled indicates the sync target is no longer configured.
	ErrTargetDisabled = errors.New("target disabled")

	// ErrConnectorClosed indicates the connector has been closed.
	ErrConnectorClosed = errors.New("connector closed")

	// ErrAuthRequired indicates the source requires a token but none is configured.
	ErrAuthRequired = errors.New("authentication required")

	// ErrAuthInvalid indicates the source rejected the configured credentials.
	ErrAuthInvalid = errors.New("authentication invalid")

	// ErrConnectorValidation indicates connector validation failed.
	ErrConnectorValidation = errors.New("connector validation failed")

	// Engine error taxonomy.

	// ErrSourceUnavailable indicates a source kept failing after bounded retries.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrMalformedPayload indicates a single record could not be interpreted.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrPartialPayload indicates a record whose key decoded but some
	// optional fields did not.
	ErrPartialPayload = errors.New("partial payload")

	// ErrAmbiguousIdentity indicates several identities scored equally.
	ErrAmbiguousIdentity = errors.New("ambiguous identity match")

	// ErrNoCurrentVersion indicates an SCD2 update found no current row.
	ErrNoCurrentVersion = errors.New("no current version")
)

// SourceUnavailableError is returned by connectors once transient failures
// (5xx, 429, timeouts, transport errors) exhaust the retry budget.
type SourceUnavailableError struct {
	Source   string
	Op       string
	Attempts int
	Err      error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s unavailable after %d attempts: %v", e.Source, e.Op, e.Attempts, e.Err)
}

// Unwrap returns the last underlying failure.
func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrSourceUnavailable.
func (e *SourceUnavailableError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

// MalformedPayloadError describes a record whose shape violates expectations.
type MalformedPayloadError struct {
	Source     string
	Kind       EntityKind
	ExternalID string
	Err        error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed %s %s payload %q: %v", e.Source, e.Kind, e.ExternalID, e.Err)
}

// Unwrap returns the decoding failure.
func (e *MalformedPayloadError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrMalformedPayload.
func (e *MalformedPayloadError) Is(target error) bool {
	return target == ErrMalformedPayload
}

// PartialPayloadError lists the optional fields of a record that could not
// be decoded. The entity is still usable with those fields left zero.
type PartialPayloadError struct {
	Source     string
	Kind       EntityKind
	ExternalID string
	Fields     []string
}

func (e *PartialPayloadError) Error() string {
	return fmt.Sprintf("partial %s %s payload %q: undecodable fields %s",
		e.Source, e.Kind, e.ExternalID, strings.Join(e.Fields, ","))
}

// Is reports whether target is ErrPartialPayload.
func (e *PartialPayloadError) Is(target error) bool {
	return target == ErrPartialPayload
}

// AmbiguousIdentityMatch records a governance decision that was not taken
// because several global users tied for the best score.
type AmbiguousIdentityMatch struct {
	SourceSystem   string
	ExternalUserID string
	Candidates     []string
	Score          float64
}

func (e *AmbiguousIdentityMatch) Error() string {
	return fmt.Sprintf("ambiguous identity match for %s/%s: %d candidates at %.2f (%s)",
		e.SourceSystem, e.ExternalUserID, len(e.Candidates), e.Score, strings.Join(e.Candidates, ","))
}

// Is reports whether target is ErrAmbiguousIdentity.
func (e *AmbiguousIdentityMatch) Is(target error) bool {
	return target == ErrAmbiguousIdentity
}
