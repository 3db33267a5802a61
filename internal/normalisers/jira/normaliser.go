package jira

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
	"github.com/custodia-labs/trellis/internal/normalisers"
)

// SourceTag is the source tag this normaliser handles.
const SourceTag = "jira"

// timeLayout is Jira's timestamp format (no colon in the zone offset).
const timeLayout = "2006-01-02T15:04:05.000-0700"

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// Normaliser decodes Jira payloads.
type Normaliser struct{}

// New creates a Jira normaliser.
func New() *Normaliser {
	return &Normaliser{}
}

// Source returns the source tag.
func (n *Normaliser) Source() string {
	return SourceTag
}

// jiraTime accepts Jira's offset format and RFC 3339.
type jiraTime struct {
	time.Time
}

func (t *jiraTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	for _, layout := range []string{timeLayout, time.RFC3339Nano} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return errors.New("unrecognised time " + s)
}

func (t *jiraTime) ptr() *time.Time {
	if t == nil {
		return nil
	}
	return normalisers.TimePtr(t.Time)
}

type user struct {
	AccountID    string `json:"accountId"`
	Name         string `json:"name"`
	Key          string `json:"key"`
	EmailAddress string `json:"emailAddress"`
	DisplayName  string `json:"displayName"`
}

// ref prefers the Cloud account id, then the Server user key.
func (u *user) ref() domain.ActorRef {
	if u == nil {
		return domain.ActorRef{}
	}
	id := u.AccountID
	if id == "" {
		id = u.Key
	}
	return domain.ActorRef{
		ExternalID:  id,
		Username:    u.Name,
		DisplayName: u.DisplayName,
		Email:       u.EmailAddress,
	}
}

type named struct {
	Name string `json:"name"`
}

type issuePayload struct {
	ID     string          `json:"id"`
	Key    string          `json:"key"`
	Self   string          `json:"self"`
	Fields json.RawMessage `json:"fields"`
}

// issueFields is decoded on its own so one bad field does not lose the rest.
type issueFields struct {
	Summary        string          `json:"summary"`
	Description    json.RawMessage `json:"description"`
	Status         *named          `json:"status"`
	IssueType      *named          `json:"issuetype"`
	Priority       *named          `json:"priority"`
	Labels         []string        `json:"labels"`
	Reporter       *user           `json:"reporter"`
	Creator        *user           `json:"creator"`
	Assignee       *user           `json:"assignee"`
	Created        jiraTime        `json:"created"`
	Updated        jiraTime        `json:"updated"`
	ResolutionDate *jiraTime       `json:"resolutiondate"`
}

// Issue decodes a Jira issue. The key (PROJ-42) is the reference used in
// commit messages and merge request titles.
func (n *Normaliser) Issue(rec domain.RawRecord, _ *domain.Project) (*domain.Issue, error) {
	var p issuePayload
	err := normalisers.Decode(rec, &p)
	if normalisers.Fatal(err) {
		return nil, err
	}
	if p.ID == "" || p.Key == "" {
		return nil, normalisers.Missing(rec, "key")
	}

	var f issueFields
	if len(p.Fields) > 0 {
		err = normalisers.JoinPartial(err, normalisers.DecodeObject(rec, "fields", p.Fields, &f))
	}
	author := f.Reporter
	if author == nil {
		author = f.Creator
	}
	return &domain.Issue{
		ExternalID:      p.ID,
		Key:             p.Key,
		Title:           f.Summary,
		Description:     description(f.Description),
		State:           nameOf(f.Status),
		IssueType:       strings.ToLower(nameOf(f.IssueType)),
		Priority:        strings.ToLower(nameOf(f.Priority)),
		Labels:          f.Labels,
		Author:          author.ref(),
		Assignee:        f.Assignee.ref(),
		CreatedAt:       f.Created.Time,
		SourceUpdatedAt: f.Updated.Time,
		ClosedAt:        f.ResolutionDate.ptr(),
		WebURL:          browseURL(p.Self, p.Key),
	}, err
}

// Commit is not exposed by Jira.
func (n *Normaliser) Commit(_ domain.RawRecord, _ *domain.Project) (*domain.Commit, error) {
	return nil, normalisers.Unsupported(SourceTag, domain.KindCommit)
}

// MergeRequest is not exposed by Jira.
func (n *Normaliser) MergeRequest(_ domain.RawRecord, _ *domain.Project) (*domain.MergeRequest, error) {
	return nil, normalisers.Unsupported(SourceTag, domain.KindMergeRequest)
}

// Pipeline is not exposed by Jira.
func (n *Normaliser) Pipeline(_ domain.RawRecord, _ *domain.Project) (*domain.Pipeline, error) {
	return nil, normalisers.Unsupported(SourceTag, domain.KindPipeline)
}

// Deployment is not exposed by Jira.
func (n *Normaliser) Deployment(_ domain.RawRecord, _ *domain.Project) (*domain.Deployment, error) {
	return nil, normalisers.Unsupported(SourceTag, domain.KindDeployment)
}

// Tag is not exposed by Jira.
func (n *Normaliser) Tag(_ domain.RawRecord, _ *domain.Project) (*domain.Tag, error) {
	return nil, normalisers.Unsupported(SourceTag, domain.KindTag)
}

// Branch is not exposed by Jira.
func (n *Normaliser) Branch(_ domain.RawRecord, _ *domain.Project) (*domain.Branch, error) {
	return nil, normalisers.Unsupported(SourceTag, domain.KindBranch)
}

// Package is not exposed by Jira.
func (n *Normaliser) Package(_ domain.RawRecord, _ *domain.Project) (*domain.Package, error) {
	return nil, normalisers.Unsupported(SourceTag, domain.KindPackage)
}

func nameOf(n *named) string {
	if n == nil {
		return ""
	}
	return n.Name
}

// description returns v2 wiki markup as is. Atlassian document format
// bodies (v3) are flattened to their text nodes.
func description(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	var sb strings.Builder
	doc.text(&sb)
	return strings.TrimSpace(sb.String())
}

type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []adfNode `json:"content"`
}

func (n adfNode) text(sb *strings.Builder) {
	sb.WriteString(n.Text)
	for _, c := range n.Content {
		c.text(sb)
	}
	if n.Type == "paragraph" || n.Type == "heading" {
		sb.WriteString("\n")
	}
}

// browseURL derives the issue's web page from its REST self link.
func browseURL(self, key string) string {
	i := strings.Index(self, "/rest/api/")
	if i < 0 {
		return ""
	}
	return self[:i] + "/browse/" + key
}
