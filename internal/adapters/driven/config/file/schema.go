package file

import (
	"fmt"
	"time"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

// duration decodes TOML strings such as "90s" or "1h30m".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = duration(parsed)
	return nil
}

// fileConfig mirrors config.toml.
type fileConfig struct {
	Warehouse struct {
		Driver string `toml:"driver"`
		DSN    string `toml:"dsn"`
	} `toml:"warehouse"`

	Sync struct {
		BatchSize       int      `toml:"batch_size"`
		Workers         int      `toml:"workers"`
		PollInterval    duration `toml:"poll_interval"`
		DefaultInterval duration `toml:"default_interval"`
	} `toml:"sync"`

	Retention struct {
		Days     *int     `toml:"days"`
		Interval duration `toml:"interval"`
	} `toml:"retention"`

	Identity struct {
		InternalDomains    []string     `toml:"internal_domains"`
		GovernanceInterval duration     `toml:"governance_interval"`
		People             []personFile `toml:"people"`
	} `toml:"identity"`

	Sources []sourceFile `toml:"sources"`
}

type personFile struct {
	ID          string `toml:"id"`
	DisplayName string `toml:"display_name"`
	Email       string `toml:"email"`
	Username    string `toml:"username"`
	EmployeeID  string `toml:"employee_id"`
}

type sourceFile struct {
	Tag        string       `toml:"tag"`
	BaseURL    string       `toml:"base_url"`
	Token      string       `toml:"token"`
	TokenEnv   string       `toml:"token_env"`
	Username   string       `toml:"username"`
	Interval   duration     `toml:"interval"`
	RateLimit  float64      `toml:"rate_limit"`
	RateBurst  int          `toml:"rate_burst"`
	MaxRetries int          `toml:"max_retries"`
	Timeout    duration     `toml:"timeout"`
	Kinds      []string     `toml:"kinds"`
	Targets    []targetFile `toml:"targets"`
}

type targetFile struct {
	EntityID     string `toml:"entity_id"`
	Name         string `toml:"name"`
	Organization string `toml:"organization"`
}

// toDomain converts the file layout. Unset values stay zero so that
// ApplyDefaults can fill them; an explicit retention of 0 is kept.
func (f *fileConfig) toDomain() domain.Config {
	cfg := domain.Config{
		Warehouse: domain.WarehouseConfig{
			Driver: f.Warehouse.Driver,
			DSN:    f.Warehouse.DSN,
		},
		Sync: domain.SyncConfig{
			BatchSize:       f.Sync.BatchSize,
			Workers:         f.Sync.Workers,
			PollInterval:    time.Duration(f.Sync.PollInterval),
			DefaultInterval: time.Duration(f.Sync.DefaultInterval),
		},
		Retention: domain.RetentionConfig{
			Days:     domain.DefaultRetentionDays,
			Interval: time.Duration(f.Retention.Interval),
		},
		Identity: domain.IdentityConfig{
			InternalDomains:    f.Identity.InternalDomains,
			GovernanceInterval: time.Duration(f.Identity.GovernanceInterval),
		},
	}
	if f.Retention.Days != nil {
		cfg.Retention.Days = *f.Retention.Days
	}

	for _, p := range f.Identity.People {
		cfg.Identity.People = append(cfg.Identity.People, domain.PersonConfig{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Email:       p.Email,
			Username:    p.Username,
			EmployeeID:  p.EmployeeID,
		})
	}

	for _, s := range f.Sources {
		src := domain.SourceConfig{
			Tag:        s.Tag,
			BaseURL:    s.BaseURL,
			Token:      s.Token,
			TokenEnv:   s.TokenEnv,
			Username:   s.Username,
			Interval:   time.Duration(s.Interval),
			RateLimit:  s.RateLimit,
			RateBurst:  s.RateBurst,
			MaxRetries: s.MaxRetries,
			Timeout:    time.Duration(s.Timeout),
		}
		for _, k := range s.Kinds {
			src.Kinds = append(src.Kinds, domain.EntityKind(k))
		}
		for _, t := range s.Targets {
			src.Targets = append(src.Targets, domain.TargetConfig{
				EntityID:     t.EntityID,
				Name:         t.Name,
				Organization: t.Organization,
			})
		}
		cfg.Sources = append(cfg.Sources, src)
	}
	return cfg
}
