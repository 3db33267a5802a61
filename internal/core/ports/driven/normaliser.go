package driven

import "github.com/custodia-labs/trellis/internal/core/domain"

// Normaliser decodes a source's raw payloads into domain entities.
// Each source provides one implementation. Kinds a source does not expose
// return domain.ErrUnsupportedType; payloads that cannot be interpreted
// return a *domain.MalformedPayloadError.
//
// The project is the tracked entity the record was listed for; normalisers
// use its ExternalID to build human references (group/repo#12).
type Normaliser interface {
	// Source returns the source tag this normaliser handles.
	Source() string

	Commit(rec domain.RawRecord, project *domain.Project) (*domain.Commit, error)
	Issue(rec domain.RawRecord, project *domain.Project) (*domain.Issue, error)
	MergeRequest(rec domain.RawRecord, project *domain.Project) (*domain.MergeRequest, error)
	Pipeline(rec domain.RawRecord, project *domain.Project) (*domain.Pipeline, error)
	Deployment(rec domain.RawRecord, project *domain.Project) (*domain.Deployment, error)
	Tag(rec domain.RawRecord, project *domain.Project) (*domain.Tag, error)
	Branch(rec domain.RawRecord, project *domain.Project) (*domain.Branch, error)
	Package(rec domain.RawRecord, project *domain.Project) (*domain.Package, error)
}
