package domain

import (
	"fmt"
	"strings"
	"time"
)

// Warehouse drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the process configuration. It is built once at start-up and
// passed by reference to the scheduler and workers.
type Config struct {
	Warehouse WarehouseConfig
	Sync      SyncConfig
	Retention RetentionConfig
	Identity  IdentityConfig
	Sources   []SourceConfig
}

// WarehouseConfig selects the SQL warehouse.
type WarehouseConfig struct {
	// Driver is sqlite or postgres.
	Driver string

	// DSN is the data directory for sqlite or a connection string for postgres.
	DSN string
}

// SyncConfig holds scheduler and batch settings.
type SyncConfig struct {
	BatchSize       int
	Workers         int
	PollInterval    time.Duration
	DefaultInterval time.Duration
}

// RetentionConfig controls staging cleanup. Days <= 0 retains forever.
type RetentionConfig struct {
	Days     int
	Interval time.Duration
}

// IdentityConfig holds identity resolution settings.
type IdentityConfig struct {
	InternalDomains    []string
	GovernanceInterval time.Duration

	// People is the roster of confirmed users governance matches against.
	People []PersonConfig
}

// PersonConfig is one confirmed person. ID becomes the global user id.
type PersonConfig struct {
	ID          string
	DisplayName string
	Email       string
	Username    string
	EmployeeID  string
}

// IsInternalDomain returns true if the email domain belongs to the organisation.
func (c IdentityConfig) IsInternalDomain(domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false
	}
	for _, d := range c.InternalDomains {
		if strings.EqualFold(strings.TrimSpace(d), domain) {
			return true
		}
	}
	return false
}

// SourceConfig configures one source system.
type SourceConfig struct {
	// Tag selects the source variant (gitlab, github, jira, jenkins).
	Tag string

	BaseURL string

	// Token is the API token. TokenEnv names an environment variable holding it.
	Token    string
	TokenEnv string

	// Username is used for basic auth (Jira email, Jenkins user).
	Username string

	// Interval is the staleness threshold for incremental syncs.
	Interval time.Duration

	// RateLimit is requests per second; RateBurst the bucket size.
	RateLimit float64
	RateBurst int

	// MaxRetries is the retry budget per request. Zero uses
	// DefaultMaxRetries; a negative value disables retries.
	MaxRetries int
	Timeout    time.Duration

	// Kinds restricts which entity kinds are synced. Empty means all the
	// connector supports.
	Kinds []EntityKind

	Targets []TargetConfig
}

// TargetConfig is one tracked entity of a source.
type TargetConfig struct {
	// EntityID is the project path, Jira project key or Jenkins job name.
	EntityID     string
	Name         string
	Organization string
}

// Default configuration values.
const (
	DefaultBatchSize       = 100
	DefaultWorkers         = 4
	DefaultPollInterval    = time.Minute
	DefaultSyncInterval    = time.Hour
	DefaultRetentionDays   = 30
	DefaultRateLimit       = 10.0
	DefaultRateBurst       = 5
	DefaultMaxRetries      = 3
	DefaultTimeout         = 30 * time.Second
	DefaultTaskInterval    = 24 * time.Hour
	DefaultGovernanceEvery = 6 * time.Hour
)

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Warehouse: WarehouseConfig{Driver: DriverSQLite},
		Sync: SyncConfig{
			BatchSize:       DefaultBatchSize,
			Workers:         DefaultWorkers,
			PollInterval:    DefaultPollInterval,
			DefaultInterval: DefaultSyncInterval,
		},
		Retention: RetentionConfig{
			Days:     DefaultRetentionDays,
			Interval: DefaultTaskInterval,
		},
		Identity: IdentityConfig{
			GovernanceInterval: DefaultGovernanceEvery,
		},
	}
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.Warehouse.Driver == "" {
		c.Warehouse.Driver = def.Warehouse.Driver
	}
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = def.Sync.BatchSize
	}
	if c.Sync.Workers <= 0 {
		c.Sync.Workers = def.Sync.Workers
	}
	if c.Sync.PollInterval <= 0 {
		c.Sync.PollInterval = def.Sync.PollInterval
	}
	if c.Sync.DefaultInterval <= 0 {
		c.Sync.DefaultInterval = def.Sync.DefaultInterval
	}
	if c.Retention.Interval <= 0 {
		c.Retention.Interval = def.Retention.Interval
	}
	if c.Identity.GovernanceInterval <= 0 {
		c.Identity.GovernanceInterval = def.Identity.GovernanceInterval
	}
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.Interval <= 0 {
			src.Interval = c.Sync.DefaultInterval
		}
		if src.RateLimit <= 0 {
			src.RateLimit = DefaultRateLimit
		}
		if src.RateBurst <= 0 {
			src.RateBurst = DefaultRateBurst
		}
		if src.MaxRetries == 0 {
			src.MaxRetries = DefaultMaxRetries
		}
		if src.Timeout <= 0 {
			src.Timeout = DefaultTimeout
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Warehouse.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("%w: warehouse driver %q", ErrInvalidInput, c.Warehouse.Driver)
	}
	if c.Warehouse.Driver == DriverPostgres && c.Warehouse.DSN == "" {
		return fmt.Errorf("%w: postgres warehouse requires a dsn", ErrInvalidInput)
	}

	people := make(map[string]bool)
	for _, p := range c.Identity.People {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("%w: identity person without id", ErrInvalidInput)
		}
		if people[p.ID] {
			return fmt.Errorf("%w: duplicate identity person %q", ErrInvalidInput, p.ID)
		}
		people[p.ID] = true
	}

	seen := make(map[string]bool)
	for _, src := range c.Sources {
		if src.Tag == "" {
			return fmt.Errorf("%w: source without tag", ErrInvalidInput)
		}
		if seen[src.Tag] {
			return fmt.Errorf("%w: duplicate source %q", ErrInvalidInput, src.Tag)
		}
		seen[src.Tag] = true
		for _, k := range src.Kinds {
			if !k.IsValid() {
				return fmt.Errorf("%w: source %q kind %q", ErrUnsupportedType, src.Tag, k)
			}
		}
		for _, t := range src.Targets {
			if t.EntityID == "" {
				return fmt.Errorf("%w: source %q has a target without entity_id", ErrInvalidInput, src.Tag)
			}
		}
	}
	return nil
}

// Source returns the configuration for a source tag.
func (c *Config) Source(tag string) (SourceConfig, bool) {
	for _, src := range c.Sources {
		if src.Tag == tag {
			return src, true
		}
	}
	return SourceConfig{}, false
}

// Target returns the configuration for one target of a source.
func (c *Config) Target(tag, entityID string) (TargetConfig, bool) {
	src, ok := c.Source(tag)
	if !ok {
		return TargetConfig{}, false
	}
	for _, t := range src.Targets {
		if t.EntityID == entityID {
			return t, true
		}
	}
	return TargetConfig{}, false
}
