package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
	"github.com/custodia-labs/trellis/internal/logger"
)

// Ensure ConfigStore implements the interface.
var _ driven.ConfigStore = (*ConfigStore)(nil)

// DefaultDebounce is how long Watch waits for writes to settle.
const DefaultDebounce = 250 * time.Millisecond

// ConfigStore reads config.toml from the trellis config directory.
type ConfigStore struct {
	filePath string
	debounce time.Duration
}

// NewConfigStore creates a TOML config store for path.
// If path is empty, defaults to ~/.trellis/config.toml.
func NewConfigStore(path string) (*ConfigStore, error) {
	if path == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "config.toml")
	}
	return &ConfigStore{filePath: path, debounce: DefaultDebounce}, nil
}

// DefaultDir returns ~/.trellis.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".trellis"), nil
}

// Path returns the configuration file path.
func (s *ConfigStore) Path() string {
	return s.filePath
}

// Load reads the configuration file. A missing file yields the defaults.
func (s *ConfigStore) Load() (*domain.Config, error) {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file yet - run with defaults
			cfg := domain.DefaultConfig()
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a TOML document.
// Unknown keys are rejected so typos do not silently disable settings.
func Parse(data []byte) (*domain.Config, error) {
	var f fileConfig
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("parse config: %w: %s", domain.ErrInvalidInput, strict.String())
		}
		return nil, fmt.Errorf("parse config: %w: %w", domain.ErrInvalidInput, err)
	}

	cfg := f.toDomain()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch reloads the file whenever it changes and passes every valid
// configuration to onChange. The parent directory is watched because
// editors often replace the file rather than write it in place.
// Blocks until ctx is cancelled.
func (s *ConfigStore) Watch(ctx context.Context, onChange func(domain.Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.filePath)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.filePath), err)
	}
	logger.Debug("watching config", "path", s.filePath)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if s.handleFsEvent(event) {
				pending = time.After(s.debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)

		case <-pending:
			pending = nil
			if _, err := os.Stat(s.filePath); err != nil {
				continue
			}
			cfg, err := s.Load()
			if err != nil {
				logger.Warn("ignoring invalid config change", "path", s.filePath, "error", err)
				continue
			}
			logger.Info("config reloaded", "path", s.filePath, "sources", len(cfg.Sources))
			onChange(*cfg)
		}
	}
}

// handleFsEvent reports whether event changes the config file.
func (s *ConfigStore) handleFsEvent(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != filepath.Clean(s.filePath) {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write)
}
