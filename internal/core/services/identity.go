package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
)

// Match scores of the resolver tiers.
const (
	scoreEmail         = 1.0
	scoreExternalID    = 1.0
	scoreInternalName  = 0.8
	scoreExternalName  = 0.7
	scoreEmailHandle   = 0.8
	scoreEmployeeID    = 0.95
	scoreInternalEmail = 0.9
)

// userSet is a set of global user ids.
type userSet map[string]struct{}

func (s userSet) add(id string) {
	s[id] = struct{}{}
}

// only returns the single user of the set, or false if it holds zero or
// several users.
func (s userSet) only() (string, bool) {
	if len(s) != 1 {
		return "", false
	}
	for id := range s {
		return id, true
	}
	return "", false
}

// MatchIndex is the in-memory lookup the resolver matches actor
// references against.
type MatchIndex struct {
	mappings map[mappingKey]domain.IdentityMapping
	users    map[string]domain.GlobalUser

	byEmail      map[string]userSet
	byExternalID map[mappingKey]userSet
	byUsername   map[string]userSet
	byName       map[string]userSet
	byEmployeeID map[string]userSet
}

type mappingKey struct {
	system string
	id     string
}

// NewMatchIndex builds an index from mappings and current users.
// Merged users are left out.
func NewMatchIndex(mappings []domain.IdentityMapping, users []domain.GlobalUser) *MatchIndex {
	idx := &MatchIndex{
		mappings:     make(map[mappingKey]domain.IdentityMapping, len(mappings)),
		users:        make(map[string]domain.GlobalUser, len(users)),
		byEmail:      make(map[string]userSet),
		byExternalID: make(map[mappingKey]userSet),
		byUsername:   make(map[string]userSet),
		byName:       make(map[string]userSet),
		byEmployeeID: make(map[string]userSet),
	}
	for i := range users {
		idx.addUser(users[i])
	}
	for i := range mappings {
		idx.addMapping(mappings[i])
	}
	return idx
}

func (idx *MatchIndex) addUser(u domain.GlobalUser) {
	if u.Status == domain.UserMerged {
		return
	}
	idx.users[u.ID] = u
	addTo(idx.byEmail, strings.ToLower(strings.TrimSpace(u.PrimaryEmail)), u.ID)
	addTo(idx.byUsername, strings.ToLower(strings.TrimSpace(u.Username)), u.ID)
	addTo(idx.byName, normalizeName(u.DisplayName), u.ID)
	addTo(idx.byEmployeeID, strings.ToLower(strings.TrimSpace(u.EmployeeID)), u.ID)
}

func (idx *MatchIndex) addMapping(m domain.IdentityMapping) {
	key := mappingKey{system: m.SourceSystem, id: m.ExternalUserID}
	idx.mappings[key] = m
	// Mappings of merged users still answer tier 0 but never match.
	if _, known := idx.users[m.GlobalUserID]; !known {
		return
	}
	addTo(idx.byEmail, strings.ToLower(strings.TrimSpace(m.ExternalEmail)), m.GlobalUserID)
	if idx.byExternalID[key] == nil {
		idx.byExternalID[key] = make(userSet)
	}
	idx.byExternalID[key].add(m.GlobalUserID)
	addTo(idx.byUsername, strings.ToLower(strings.TrimSpace(m.ExternalUsername)), m.GlobalUserID)
	addTo(idx.byName, normalizeName(m.ExternalUsername), m.GlobalUserID)
}

// Mapping returns the mapping of an external account.
func (idx *MatchIndex) Mapping(system, externalUserID string) (domain.IdentityMapping, bool) {
	m, ok := idx.mappings[mappingKey{system: system, id: externalUserID}]
	return m, ok
}

// Match runs the matching tiers in order and returns the first tier that
// identifies exactly one user. Returns tier 0 if nothing matched.
func (idx *MatchIndex) Match(system string, ref domain.ActorRef, internal func(string) bool) (string, float64, int) {
	// Tier 1: email.
	if email := strings.ToLower(strings.TrimSpace(ref.Email)); email != "" {
		if id, ok := idx.byEmail[email].only(); ok {
			return id, scoreEmail, 1
		}
	}

	// Tier 2: external id within the system, or username anywhere.
	ids := make(userSet)
	if ref.ExternalID != "" {
		for id := range idx.byExternalID[mappingKey{system: system, id: strings.TrimSpace(ref.ExternalID)}] {
			ids.add(id)
		}
	}
	if username := strings.ToLower(strings.TrimSpace(ref.Username)); username != "" {
		for id := range idx.byUsername[username] {
			ids.add(id)
		}
	}
	if id, ok := ids.only(); ok {
		return id, scoreExternalID, 2
	}

	// Tier 3: normalized display name.
	if name := normalizeName(ref.DisplayName); name != "" {
		if id, ok := idx.byName[name].only(); ok {
			score := scoreExternalName
			if internal != nil && internal(ref.EmailDomain()) {
				score = scoreInternalName
			}
			return id, score, 3
		}
	}

	// Tier 4: email local part as a username or employee id.
	if local := ref.EmailLocalPart(); local != "" {
		ids := make(userSet)
		for id := range idx.byUsername[local] {
			ids.add(id)
		}
		for id := range idx.byEmployeeID[local] {
			ids.add(id)
		}
		if id, ok := ids.only(); ok {
			return id, scoreEmailHandle, 4
		}
	}

	return "", 0, 0
}

func addTo(m map[string]userSet, key, id string) {
	if key == "" || id == "" {
		return
	}
	if m[key] == nil {
		m[key] = make(userSet)
	}
	m[key].add(id)
}

var nameFolder = cases.Fold()

// normalizeName case-folds s, strips diacritics, treats . _ - as spaces
// and collapses whitespace.
func normalizeName(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	folded := nameFolder.String(stripped)
	folded = strings.Map(func(r rune) rune {
		switch r {
		case '.', '_', '-':
			return ' '
		}
		return r
	}, folded)
	return strings.Join(strings.Fields(folded), " ")
}

// IdentityResolver maps actor references of one source system to global
// users. A resolver and its index belong to one sync task.
type IdentityResolver struct {
	cfg   domain.IdentityConfig
	index *MatchIndex
	now   func() time.Time
}

// NewIdentityResolver creates a resolver with an empty index.
func NewIdentityResolver(cfg domain.IdentityConfig) *IdentityResolver {
	return &IdentityResolver{
		cfg:   cfg,
		index: NewMatchIndex(nil, nil),
		now:   time.Now,
	}
}

// Load replaces the index with every mapping and current user.
func (r *IdentityResolver) Load(ctx context.Context, reader driven.IdentityReader) error {
	users, err := reader.ListCurrentUsers(ctx)
	if err != nil {
		return fmt.Errorf("load identity index: %w", err)
	}
	mappings, err := reader.ListMappings(ctx)
	if err != nil {
		return fmt.Errorf("load identity index: %w", err)
	}
	r.index = NewMatchIndex(mappings, users)
	return nil
}

// Resolve returns the global user of ref, creating a mapping (and a
// provisional user when nothing matches) through w.
// A reference without any identifier fails with domain.ErrInvalidInput.
func (r *IdentityResolver) Resolve(ctx context.Context, w driven.IdentityRepository, system string, ref domain.ActorRef) (domain.Resolution, error) {
	key := ref.Key()
	if key == "" {
		return domain.Resolution{}, fmt.Errorf("%w: %s actor reference has no identifier", domain.ErrInvalidInput, system)
	}

	if m, ok := r.index.Mapping(system, key); ok {
		return domain.Resolution{GlobalUserID: m.GlobalUserID, Confidence: m.Confidence, Tier: 0}, nil
	}

	userID, score, tier := r.index.Match(system, ref, r.cfg.IsInternalDomain)
	res := domain.Resolution{GlobalUserID: userID, Confidence: score, Tier: tier}

	var provisional *domain.GlobalUser
	if userID == "" {
		provisional = &domain.GlobalUser{
			ID:            uuid.NewString(),
			DisplayName:   firstNonEmpty(ref.DisplayName, ref.Username, key),
			PrimaryEmail:  strings.ToLower(strings.TrimSpace(ref.Email)),
			Username:      strings.TrimSpace(ref.Username),
			Status:        domain.UserProvisional,
			SyncVersion:   1,
			EffectiveFrom: r.now(),
			IsCurrent:     true,
		}
		res = domain.Resolution{GlobalUserID: provisional.ID, Tier: -1, Provisional: true}
	}

	// The mapping is claimed before the provisional user is written, so a
	// task that loses the claim leaves no user behind.
	mapping := &domain.IdentityMapping{
		GlobalUserID:     res.GlobalUserID,
		SourceSystem:     system,
		ExternalUserID:   key,
		ExternalUsername: strings.TrimSpace(ref.Username),
		ExternalEmail:    strings.ToLower(strings.TrimSpace(ref.Email)),
		DisplayName:      strings.TrimSpace(ref.DisplayName),
		Status:           domain.StatusFor(res.Confidence),
		Confidence:       res.Confidence,
	}
	stored, err := w.EnsureMapping(ctx, mapping)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("create mapping for %s/%s: %w", system, key, err)
	}

	if stored.GlobalUserID != mapping.GlobalUserID {
		// Another task mapped the account first.
		r.index.addMapping(*stored)
		return domain.Resolution{GlobalUserID: stored.GlobalUserID, Confidence: stored.Confidence, Tier: 0}, nil
	}

	if provisional != nil {
		if err := w.InsertGlobalUser(ctx, provisional); err != nil {
			return domain.Resolution{}, fmt.Errorf("create provisional user for %s/%s: %w", system, key, err)
		}
		r.index.addUser(*provisional)
	}
	res.Created = true
	r.index.addMapping(*stored)
	return res, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
