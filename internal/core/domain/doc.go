// Package domain defines the core business entities for trellis.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - RawRecord / StagingRecord: a payload exactly as a source returned it
//   - Commit, Issue, MergeRequest, Pipeline, ...: normalised warehouse rows
//   - GlobalUser / IdentityMapping: canonical people and their aliases
//   - TraceabilityLink: a cross-system reference between artifacts
//   - SyncTarget / SyncTask / SyncLog: scheduling and observability
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
