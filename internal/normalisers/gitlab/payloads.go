package gitlab

import (
	"strconv"
	"time"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

type user struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	PublicEmail string `json:"public_email"`
}

func (u *user) ref() domain.ActorRef {
	if u == nil {
		return domain.ActorRef{}
	}
	ref := domain.ActorRef{
		Username:    u.Username,
		DisplayName: u.Name,
		Email:       u.Email,
	}
	if u.ID != 0 {
		ref.ExternalID = strconv.FormatInt(u.ID, 10)
	}
	if ref.Email == "" {
		ref.Email = u.PublicEmail
	}
	return ref
}

type commitPayload struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Message       string    `json:"message"`
	AuthorName    string    `json:"author_name"`
	AuthorEmail   string    `json:"author_email"`
	AuthoredDate  time.Time `json:"authored_date"`
	CommittedDate time.Time `json:"committed_date"`
	WebURL        string    `json:"web_url"`
	Stats         *struct {
		Additions int `json:"additions"`
		Deletions int `json:"deletions"`
	} `json:"stats"`
}

type issuePayload struct {
	ID          int64      `json:"id"`
	IID         int        `json:"iid"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	State       string     `json:"state"`
	IssueType   string     `json:"issue_type"`
	Type        string     `json:"type"`
	Severity    string     `json:"severity"`
	Labels      []string   `json:"labels"`
	Author      *user      `json:"author"`
	Assignee    *user      `json:"assignee"`
	Assignees   []user     `json:"assignees"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at"`
	WebURL      string     `json:"web_url"`
}

type mergeRequestPayload struct {
	ID           int64      `json:"id"`
	IID          int        `json:"iid"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	State        string     `json:"state"`
	SourceBranch string     `json:"source_branch"`
	TargetBranch string     `json:"target_branch"`
	Author       *user      `json:"author"`
	MergedBy     *user      `json:"merged_by"`
	MergeUser    *user      `json:"merge_user"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	MergedAt     *time.Time `json:"merged_at"`
	ClosedAt     *time.Time `json:"closed_at"`
	WebURL       string     `json:"web_url"`
}

type pipelinePayload struct {
	ID         int64      `json:"id"`
	Ref        string     `json:"ref"`
	SHA        string     `json:"sha"`
	Status     string     `json:"status"`
	User       *user      `json:"user"`
	Duration   *float64   `json:"duration"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	WebURL     string     `json:"web_url"`
}

type deploymentPayload struct {
	ID          int64  `json:"id"`
	Ref         string `json:"ref"`
	SHA         string `json:"sha"`
	Status      string `json:"status"`
	User        *user  `json:"user"`
	Environment *struct {
		Name string `json:"name"`
	} `json:"environment"`
	Deployable *struct {
		FinishedAt *time.Time `json:"finished_at"`
	} `json:"deployable"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

type commitRef struct {
	ID        string     `json:"id"`
	CreatedAt *time.Time `json:"created_at"`
}

type tagPayload struct {
	Name      string     `json:"name"`
	Message   string     `json:"message"`
	Target    string     `json:"target"`
	Commit    *commitRef `json:"commit"`
	CreatedAt *time.Time `json:"created_at"`
}

type branchPayload struct {
	Name      string     `json:"name"`
	Merged    bool       `json:"merged"`
	Protected bool       `json:"protected"`
	Default   bool       `json:"default"`
	Commit    *commitRef `json:"commit"`
}

type packagePayload struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	PackageType string    `json:"package_type"`
	CreatedAt   time.Time `json:"created_at"`
}
