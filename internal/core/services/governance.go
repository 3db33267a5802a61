package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
	"github.com/custodia-labs/trellis/internal/core/ports/driving"
	"github.com/custodia-labs/trellis/internal/logger"
)

// Ensure GovernanceService implements the interface.
var _ driving.IdentityGovernance = (*GovernanceService)(nil)

// GovernanceService re-scores unverified identity mappings against
// confirmed users and repoints them when the evidence is strong enough.
type GovernanceService struct {
	reader   driven.IdentityReader
	uow      driven.UnitOfWork
	versions *VersionService
	now      func() time.Time

	cfgMu sync.RWMutex
	cfg   domain.IdentityConfig
}

// NewGovernanceService creates a governance service.
func NewGovernanceService(reader driven.IdentityReader, uow driven.UnitOfWork, versions *VersionService, cfg domain.IdentityConfig) *GovernanceService {
	return &GovernanceService{
		reader:   reader,
		uow:      uow,
		versions: versions,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetConfig replaces the roster and domains used by later runs.
func (g *GovernanceService) SetConfig(cfg domain.IdentityConfig) {
	g.cfgMu.Lock()
	defer g.cfgMu.Unlock()
	g.cfg = cfg
}

func (g *GovernanceService) config() domain.IdentityConfig {
	g.cfgMu.RLock()
	defer g.cfgMu.RUnlock()
	return g.cfg
}

// Run seeds the configured roster and then performs one pass over every
// PENDING and AUTO mapping. Each decision commits in its own transaction.
func (g *GovernanceService) Run(ctx context.Context) (*domain.GovernanceReport, error) {
	cfg := g.config()
	if _, err := g.SeedRoster(ctx, cfg.People); err != nil {
		return nil, fmt.Errorf("governance: %w", err)
	}

	users, err := g.reader.ListCurrentUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("governance: %w", err)
	}
	mappings, err := g.reader.ListMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("governance: %w", err)
	}
	sort.Slice(mappings, func(i, j int) bool { return mappings[i].ID < mappings[j].ID })

	usersByID := make(map[string]*domain.GlobalUser, len(users))
	for i := range users {
		usersByID[users[i].ID] = &users[i]
	}
	byUser := make(map[string][]*domain.IdentityMapping)
	for i := range mappings {
		m := &mappings[i]
		byUser[m.GlobalUserID] = append(byUser[m.GlobalUserID], m)
	}

	report := &domain.GovernanceReport{}
	for i := range mappings {
		m := &mappings[i]
		if m.Status == domain.MappingVerified {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		best, tied := g.bestCandidates(cfg, m, users, byUser)
		if best < domain.AutoThreshold {
			report.Unchanged++
			continue
		}

		if len(tied) > 1 {
			if err := g.recordConflict(ctx, m, tied, best); err != nil {
				return report, err
			}
			report.Ambiguous++
			continue
		}

		target := tied[0]
		if target == m.GlobalUserID && best <= m.Confidence {
			report.Unchanged++
			continue
		}

		previous := m.GlobalUserID
		merged, err := g.repoint(ctx, m, target, best, usersByID[previous])
		if err != nil {
			return report, err
		}

		byUser[previous] = removeMapping(byUser[previous], m)
		byUser[target] = append(byUser[target], m)
		if merged {
			usersByID[previous].Status = domain.UserMerged
			usersByID[previous].MergedInto = target
			report.UsersMerged++
		}

		switch m.Status {
		case domain.MappingVerified:
			report.Verified++
		case domain.MappingAuto:
			report.Auto++
		}
	}

	logger.Info("identity governance complete",
		"scanned", report.Scanned,
		"verified", report.Verified,
		"auto", report.Auto,
		"ambiguous", report.Ambiguous,
		"merged", report.UsersMerged)
	return report, nil
}

// SeedRoster makes every configured person a current active global user.
// Changed attributes of a known person create a new version.
// Returns how many users were created or versioned.
func (g *GovernanceService) SeedRoster(ctx context.Context, people []domain.PersonConfig) (int, error) {
	if len(people) == 0 {
		return 0, nil
	}

	changed := 0
	err := g.uow.WithinTx(ctx, func(ctx context.Context, w driven.Warehouse) error {
		for _, p := range people {
			values := map[string]any{
				"display_name":  strings.TrimSpace(p.DisplayName),
				"primary_email": lower(p.Email),
				"username":      strings.TrimSpace(p.Username),
				"employee_id":   strings.TrimSpace(p.EmployeeID),
				"status":        string(domain.UserActive),
			}
			cur, created, err := g.versions.EnsureInitial(ctx, w, domain.EntityGlobalUser, p.ID, values)
			if err != nil {
				return fmt.Errorf("seed person %s: %w", p.ID, err)
			}
			if created {
				changed++
				continue
			}
			if sameValues(cur.Values, values) {
				continue
			}
			if _, err := g.versions.CloseCurrentAndInsertNewIn(ctx, w, domain.EntityGlobalUser,
				map[string]any{"id": p.ID}, values); err != nil {
				return fmt.Errorf("version person %s: %w", p.ID, err)
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		logger.Info("identity roster updated", "users", changed)
	}
	return changed, nil
}

// bestCandidates returns the best score for m and every confirmed user
// reaching it.
func (g *GovernanceService) bestCandidates(cfg domain.IdentityConfig, m *domain.IdentityMapping, users []domain.GlobalUser, byUser map[string][]*domain.IdentityMapping) (float64, []string) {
	best := 0.0
	var tied []string
	for i := range users {
		u := &users[i]
		if u.Status != domain.UserActive {
			continue
		}
		score := g.score(cfg, m, u, byUser[u.ID])
		switch {
		case score <= 0:
		case score > best:
			best = score
			tied = []string{u.ID}
		case score == best:
			tied = append(tied, u.ID)
		}
	}
	sort.Strings(tied)
	return best, tied
}

// score rates how well m matches u, given u's other mappings.
func (g *GovernanceService) score(cfg domain.IdentityConfig, m *domain.IdentityMapping, u *domain.GlobalUser, mapped []*domain.IdentityMapping) float64 {
	emails := map[string]bool{lower(u.PrimaryEmail): true}
	usernames := map[string]bool{lower(u.Username): true}
	names := map[string]bool{normalizeName(u.DisplayName): true}
	for _, other := range mapped {
		if other.ID == m.ID {
			continue
		}
		emails[lower(other.ExternalEmail)] = true
		usernames[lower(other.ExternalUsername)] = true
		names[normalizeName(other.ExternalUsername)] = true
		names[normalizeName(other.DisplayName)] = true
	}
	delete(emails, "")
	delete(usernames, "")
	delete(names, "")

	ref := domain.ActorRef{Username: m.ExternalUsername, Email: m.ExternalEmail}
	email := lower(m.ExternalEmail)
	local := ref.EmailLocalPart()
	emailDomain := ref.EmailDomain()
	internal := cfg.IsInternalDomain(emailDomain)

	score := 0.0
	raise := func(s float64) {
		if s > score {
			score = s
		}
	}

	if email != "" && emails[email] {
		raise(scoreEmail)
	}
	if username := lower(m.ExternalUsername); username != "" && usernames[username] {
		raise(scoreExternalID)
	}
	if emp := lower(u.EmployeeID); emp != "" {
		if emp == lower(m.ExternalUsername) || emp == local || emp == lower(m.ExternalUserID) {
			raise(scoreEmployeeID)
		}
	}

	name := normalizeName(firstNonEmpty(m.DisplayName, m.ExternalUsername))
	if name != "" && names[name] {
		switch {
		case internal && sharesDomain(emails, emailDomain):
			raise(scoreInternalEmail)
		case internal:
			raise(scoreInternalName)
		default:
			raise(scoreExternalName)
		}
	}

	if local != "" && usernames[local] {
		raise(scoreEmailHandle)
	}
	return score
}

// repoint moves m to target and closes the previous user when it was
// provisional and has no mappings left. Reports whether it was closed.
func (g *GovernanceService) repoint(ctx context.Context, m *domain.IdentityMapping, target string, score float64, previous *domain.GlobalUser) (bool, error) {
	updated := *m
	updated.GlobalUserID = target
	updated.Confidence = score
	updated.Status = domain.StatusFor(score)

	merged := false
	err := g.uow.WithinTx(ctx, func(ctx context.Context, w driven.Warehouse) error {
		if err := w.UpdateMapping(ctx, &updated); err != nil {
			return err
		}
		if previous == nil || previous.ID == target || previous.Status != domain.UserProvisional {
			return nil
		}

		n, err := w.CountMappings(ctx, previous.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		_, err = g.versions.CloseCurrentAndInsertNewIn(ctx, w, domain.EntityGlobalUser,
			map[string]any{"id": previous.ID},
			map[string]any{"status": string(domain.UserMerged), "merged_into": target})
		if errors.Is(err, domain.ErrNoCurrentVersion) {
			return nil
		}
		merged = err == nil
		return err
	})
	if err != nil {
		return false, fmt.Errorf("repoint mapping %s/%s: %w", m.SourceSystem, m.ExternalUserID, err)
	}

	logger.Debug("mapping repointed",
		"system", m.SourceSystem,
		"external_user", m.ExternalUserID,
		"from", m.GlobalUserID,
		"to", target,
		"score", score)
	*m = updated
	return merged, nil
}

func (g *GovernanceService) recordConflict(ctx context.Context, m *domain.IdentityMapping, candidates []string, score float64) error {
	match := &domain.AmbiguousIdentityMatch{
		SourceSystem:   m.SourceSystem,
		ExternalUserID: m.ExternalUserID,
		Candidates:     candidates,
		Score:          score,
	}
	logger.Warn("identity match left unresolved", "error", match)

	err := g.uow.WithinTx(ctx, func(ctx context.Context, w driven.Warehouse) error {
		return w.RecordConflict(ctx, &domain.IdentityConflict{
			MappingID:      m.ID,
			SourceSystem:   m.SourceSystem,
			ExternalUserID: m.ExternalUserID,
			Candidates:     candidates,
			Score:          score,
			DetectedAt:     g.now(),
		})
	})
	if err != nil {
		return fmt.Errorf("record identity conflict: %w", err)
	}
	return nil
}

func sameValues(current, values map[string]any) bool {
	for k, v := range values {
		if stringValue(current[k]) != stringValue(v) {
			return false
		}
	}
	return true
}

func removeMapping(list []*domain.IdentityMapping, m *domain.IdentityMapping) []*domain.IdentityMapping {
	out := list[:0]
	for _, other := range list {
		if other != m {
			out = append(out, other)
		}
	}
	return out
}

func sharesDomain(emails map[string]bool, emailDomain string) bool {
	if emailDomain == "" {
		return false
	}
	for email := range emails {
		if strings.HasSuffix(email, "@"+emailDomain) {
			return true
		}
	}
	return false
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
