package services

import (
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
)

// SourceVariant is everything the engine needs to sync one kind of source.
type SourceVariant struct {
	// Build creates a connector for one tracked entity.
	Build driven.ConnectorBuilder

	// Normaliser decodes the source's payloads.
	Normaliser driven.Normaliser
}

// SourceRegistry maps source tags to their variants.
// Built-in sources are registered explicitly at start-up.
type SourceRegistry struct {
	mu       sync.RWMutex
	variants map[string]SourceVariant
}

// NewSourceRegistry creates an empty registry.
func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{variants: make(map[string]SourceVariant)}
}

// Register adds a variant under tag. Registering a tag twice is an error.
func (r *SourceRegistry) Register(tag string, v SourceVariant) error {
	if tag == "" || v.Build == nil || v.Normaliser == nil {
		return fmt.Errorf("%w: incomplete source variant %q", domain.ErrInvalidInput, tag)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.variants[tag]; exists {
		return fmt.Errorf("%w: source %q already registered", domain.ErrInvalidInput, tag)
	}
	r.variants[tag] = v
	return nil
}

// Get returns the variant for tag.
func (r *SourceRegistry) Get(tag string) (SourceVariant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variants[tag]
	if !ok {
		return SourceVariant{}, fmt.Errorf("%w: source %q", domain.ErrUnsupportedType, tag)
	}
	return v, nil
}

// Tags returns the registered tags in sorted order.
func (r *SourceRegistry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.variants))
	for tag := range r.variants {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
