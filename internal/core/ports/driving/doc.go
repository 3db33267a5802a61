// Package driving defines what the engine offers to its callers: running
// and replaying sync tasks, scheduling, staging retention, identity
// governance and status reporting. The CLI is the only caller today.
//
// Implementations live in internal/core/services.
package driving
