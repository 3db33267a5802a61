package services

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
)

// referencePattern is one fixed cross-system reference pattern.
type referencePattern struct {
	re *regexp.Regexp

	// build turns the captured id into the referenced artifact.
	build func(id, system, project string) domain.ArtifactRef
}

// referencePatterns are tried in order; the order decides which system
// becomes a merge request's issue source.
var referencePatterns = []referencePattern{
	{
		// Jira issue keys: PROJ-42.
		re: regexp.MustCompile(`\b([A-Z][A-Z0-9_]+-\d+)\b`),
		build: func(id, _, _ string) domain.ArtifactRef {
			return domain.ArtifactRef{System: "jira", Type: domain.ArtifactIssue, ID: id}
		},
	},
	{
		// Issues of the artifact's own system: #12.
		re: regexp.MustCompile(`(?:^|[^\w&/])#(\d+)\b`),
		build: func(id, system, project string) domain.ArtifactRef {
			return domain.ArtifactRef{System: system, Type: domain.ArtifactIssue, ID: project + "#" + id}
		},
	},
	{
		// Merge requests of the artifact's own system: !7.
		re: regexp.MustCompile(`(?:^|[^\w&/])!(\d+)\b`),
		build: func(id, system, project string) domain.ArtifactRef {
			return domain.ArtifactRef{System: system, Type: domain.ArtifactMergeRequest, ID: project + "!" + id}
		},
	},
}

// closingKeyword matches a fix/close/resolve keyword at the end of the text
// preceding a reference.
var closingKeyword = regexp.MustCompile(`(?i)\b(fix|fixe[sd]|fixing|close[sd]?|closing|resolve[sd]?|resolving)\s*:?\s*$`)

// TraceabilityExtractor finds cross-system references in free text and
// records them as traceability links.
type TraceabilityExtractor struct{}

// NewTraceabilityExtractor creates an extractor.
func NewTraceabilityExtractor() *TraceabilityExtractor {
	return &TraceabilityExtractor{}
}

// Extract scans texts for references. system and project describe the
// artifact the texts belong to and qualify #n and !n references.
// References are deduplicated; a reference preceded by a closing keyword
// anywhere in the texts is a fixes link.
func (e *TraceabilityExtractor) Extract(system, project string, texts ...string) []domain.Reference {
	type hit struct {
		pattern int
		pos     int
		ref     domain.Reference
	}

	found := make(map[domain.ArtifactRef]*hit)
	var order []domain.ArtifactRef

	for ti, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		for pi, p := range referencePatterns {
			for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
				idStart, idEnd := m[2], m[3]
				id := text[idStart:idEnd]
				ref := p.build(id, system, project)

				// The marker (#, !) is part of the reference text.
				refStart := idStart
				if pi > 0 {
					refStart = idStart - 1
				}
				linkType := domain.LinkMentions
				match := text[refStart:idEnd]
				if kw := closingKeyword.FindStringIndex(text[:refStart]); kw != nil {
					linkType = domain.LinkFixes
					match = text[kw[0]:idEnd]
				}

				if h, ok := found[ref]; ok {
					if linkType == domain.LinkFixes && h.ref.LinkType != domain.LinkFixes {
						h.ref.LinkType = domain.LinkFixes
						h.ref.Match = match
					}
					continue
				}
				found[ref] = &hit{
					pattern: pi,
					pos:     ti<<32 | refStart,
					ref:     domain.Reference{Ref: ref, LinkType: linkType, Match: match},
				}
				order = append(order, ref)
			}
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := found[order[i]], found[order[j]]
		if a.pattern != b.pattern {
			return a.pattern < b.pattern
		}
		return a.pos < b.pos
	})

	refs := make([]domain.Reference, 0, len(order))
	for _, key := range order {
		refs = append(refs, found[key].ref)
	}
	return refs
}

// Record writes one link per reference, from the referenced artifact to
// the artifact whose text mentioned it. Existing links are left alone.
// Returns how many links were created.
func (e *TraceabilityExtractor) Record(ctx context.Context, w driven.LinkRepository, artifact domain.ArtifactRef, refs []domain.Reference) (int, error) {
	created := 0
	for _, ref := range refs {
		if ref.Ref == artifact {
			continue
		}
		link := &domain.TraceabilityLink{
			SourceSystem: ref.Ref.System,
			SourceType:   ref.Ref.Type,
			SourceID:     ref.Ref.ID,
			TargetSystem: artifact.System,
			TargetType:   artifact.Type,
			TargetID:     artifact.ID,
			LinkType:     ref.LinkType,
			RawData:      ref.Match,
		}

		exists, err := w.LinkExists(ctx, link)
		if err != nil {
			return created, fmt.Errorf("record link %s -> %s: %w", ref.Ref.ID, artifact.ID, err)
		}
		if exists {
			continue
		}
		inserted, err := w.InsertLink(ctx, link)
		if err != nil {
			return created, fmt.Errorf("record link %s -> %s: %w", ref.Ref.ID, artifact.ID, err)
		}
		if inserted {
			created++
		}
	}
	return created, nil
}

// IssueSource returns the system of the first reference, or "" if none.
func IssueSource(refs []domain.Reference) string {
	if len(refs) == 0 {
		return ""
	}
	return refs[0].Ref.System
}
