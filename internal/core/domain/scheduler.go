package domain

import "time"

// SyncStatus is the scheduling state of a sync target.
type SyncStatus string

// Sync target states.
const (
	StatusNeverSynced SyncStatus = "NEVER_SYNCED"
	StatusQueued      SyncStatus = "QUEUED"
	StatusSyncing     SyncStatus = "SYNCING"
	StatusSuccess     SyncStatus = "SUCCESS"
	StatusFailed      SyncStatus = "FAILED"
)

// JobType distinguishes a full sync from an incremental one.
type JobType string

// Job types.
const (
	JobFull        JobType = "full"
	JobIncremental JobType = "incremental"

	// JobReplay re-transforms staged payloads without contacting the source.
	JobReplay JobType = "replay"
)

// SyncTarget is one tracked source entity (a repository, Jira project or
// Jenkins job) together with its scheduling state.
type SyncTarget struct {
	ID           int64
	Source       string
	EntityID     string
	Name         string
	Organization string
	Status       SyncStatus
	Interval     time.Duration

	// LastSyncedAt is when the last successful sync finished.
	LastSyncedAt *time.Time

	// Watermark is when the last successful sync started.
	// The next incremental sync lists records changed since then.
	Watermark *time.Time

	LastError string

	// Enabled is false once the target is no longer configured. Disabled
	// targets are never claimed.
	Enabled bool

	UpdatedAt time.Time
}

// Key returns a string identifying the target within a process.
func (t SyncTarget) Key() string {
	return t.Source + "/" + t.EntityID
}

// SyncTask is the message dispatched by the scheduler to a worker.
type SyncTask struct {
	Source         string
	EntityID       string
	JobType        JobType
	SinceWatermark *time.Time
}

// Key returns a string identifying the task's target.
func (t SyncTask) Key() string {
	return t.Source + "/" + t.EntityID
}

// SyncLog is the append-only record of one finished sync task.
type SyncLog struct {
	ID               string
	Source           string
	EntityID         string
	JobType          JobType
	Status           SyncStatus
	StartedAt        time.Time
	FinishedAt       time.Time
	RecordsProcessed int
	ErrorCount       int
	Error            string
}

// SyncProgress reports a running sync task.
type SyncProgress struct {
	Task      SyncTask
	Kind      EntityKind
	Batches   int
	Records   int
	Malformed int
	StartedAt time.Time
}

// ScheduledTask represents a recurring background task.
type ScheduledTask struct {
	// ID is the unique identifier for the task.
	ID string

	// Name is a human-readable name for the task.
	Name string

	// Interval defines how often the task should run.
	Interval time.Duration

	// LastRun is when the task last ran.
	LastRun time.Time

	// NextRun is when the task should run next.
	NextRun time.Time

	// LastError contains the last error message, if any.
	LastError string

	// LastSuccess is when the task last completed successfully.
	LastSuccess time.Time

	// Enabled indicates whether the task is active.
	Enabled bool
}

// TaskResult represents the outcome of a task execution.
type TaskResult struct {
	TaskID         string
	StartedAt      time.Time
	EndedAt        time.Time
	Success        bool
	Error          string
	ItemsProcessed int
}

// Task IDs for built-in tasks.
const (
	TaskIDStagingRetention   = "staging-retention"
	TaskIDIdentityGovernance = "identity-governance"
)
