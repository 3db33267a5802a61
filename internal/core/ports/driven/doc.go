// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
//   - Connector / RecordIterator: lazy, paginated record listing per source
//   - Normaliser: decodes raw payloads into domain entities
//   - Warehouse / UnitOfWork: transactional repositories for batch writes
//   - TargetStore, SyncLogStore, StagingStore, SchedulerStore: engine state
//   - TokenProvider: source credentials
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter, connector, or normaliser package
package driven
