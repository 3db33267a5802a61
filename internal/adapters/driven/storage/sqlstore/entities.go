package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

// Entity upserts key on the natural key and overwrite every other column,
// so replaying a payload leaves the row unchanged apart from updated_at.

// UpsertCommit inserts or updates a commit by (source, project_id, sha).
func (w *warehouse) UpsertCommit(ctx context.Context, c *domain.Commit) error {
	_, err := w.exec(ctx, `
		INSERT INTO commits (source, project_id, sha, title, message, author_ref, author_name, author_email,
			author_id, authored_at, committed_at, additions, deletions, web_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, project_id, sha) DO UPDATE SET
			title = excluded.title,
			message = excluded.message,
			author_ref = excluded.author_ref,
			author_name = excluded.author_name,
			author_email = excluded.author_email,
			author_id = excluded.author_id,
			authored_at = excluded.authored_at,
			committed_at = excluded.committed_at,
			additions = excluded.additions,
			deletions = excluded.deletions,
			web_url = excluded.web_url,
			updated_at = excluded.updated_at
	`, c.Source, c.ProjectID, c.SHA, c.Title, c.Message, c.Author.Key(), c.Author.DisplayName, c.Author.Email,
		c.AuthorID, formatNullableTime(c.AuthoredAt), formatNullableTime(c.CommittedAt),
		c.Additions, c.Deletions, c.WebURL, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upserting commit %s: %w", c.SHA, err)
	}
	return nil
}

// UpsertIssue inserts or updates an issue by (source, project_id, external_id).
func (w *warehouse) UpsertIssue(ctx context.Context, i *domain.Issue) error {
	labels, err := json.Marshal(nonNilStrings(i.Labels))
	if err != nil {
		return fmt.Errorf("marshalling labels: %w", err)
	}

	_, err = w.exec(ctx, `
		INSERT INTO issues (source, project_id, external_id, issue_key, title, description, state, issue_type,
			priority, labels, author_ref, author_id, assignee_ref, assignee_id, created_at, source_updated_at,
			closed_at, web_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, project_id, external_id) DO UPDATE SET
			issue_key = excluded.issue_key,
			title = excluded.title,
			description = excluded.description,
			state = excluded.state,
			issue_type = excluded.issue_type,
			priority = excluded.priority,
			labels = excluded.labels,
			author_ref = excluded.author_ref,
			author_id = excluded.author_id,
			assignee_ref = excluded.assignee_ref,
			assignee_id = excluded.assignee_id,
			created_at = excluded.created_at,
			source_updated_at = excluded.source_updated_at,
			closed_at = excluded.closed_at,
			web_url = excluded.web_url,
			updated_at = excluded.updated_at
	`, i.Source, i.ProjectID, i.ExternalID, i.Key, i.Title, i.Description, i.State, i.IssueType,
		i.Priority, string(labels), i.Author.Key(), i.AuthorID, i.Assignee.Key(), i.AssigneeID,
		formatNullableTime(i.CreatedAt), formatNullableTime(i.SourceUpdatedAt), formatTimePtr(i.ClosedAt),
		i.WebURL, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upserting issue %s: %w", i.ExternalID, err)
	}
	return nil
}

// UpsertMergeRequest inserts or updates a merge request by
// (source, project_id, external_id). issue_source is never overwritten here.
func (w *warehouse) UpsertMergeRequest(ctx context.Context, mr *domain.MergeRequest) error {
	_, err := w.exec(ctx, `
		INSERT INTO merge_requests (source, project_id, external_id, mr_key, number, title, description, state,
			source_branch, target_branch, author_ref, author_id, merged_by_ref, merged_by_id, created_at,
			source_updated_at, merged_at, closed_at, web_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, project_id, external_id) DO UPDATE SET
			mr_key = excluded.mr_key,
			number = excluded.number,
			title = excluded.title,
			description = excluded.description,
			state = excluded.state,
			source_branch = excluded.source_branch,
			target_branch = excluded.target_branch,
			author_ref = excluded.author_ref,
			author_id = excluded.author_id,
			merged_by_ref = excluded.merged_by_ref,
			merged_by_id = excluded.merged_by_id,
			created_at = excluded.created_at,
			source_updated_at = excluded.source_updated_at,
			merged_at = excluded.merged_at,
			closed_at = excluded.closed_at,
			web_url = excluded.web_url,
			updated_at = excluded.updated_at
	`, mr.Source, mr.ProjectID, mr.ExternalID, mr.Key, mr.Number, mr.Title, mr.Description, mr.State,
		mr.SourceBranch, mr.TargetBranch, mr.Author.Key(), mr.AuthorID, mr.MergedBy.Key(), mr.MergedByID,
		formatNullableTime(mr.CreatedAt), formatNullableTime(mr.SourceUpdatedAt), formatTimePtr(mr.MergedAt),
		formatTimePtr(mr.ClosedAt), mr.WebURL, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upserting merge request %s: %w", mr.ExternalID, err)
	}
	return nil
}

// SetIssueSource sets issue_source only while it is still empty.
func (w *warehouse) SetIssueSource(ctx context.Context, source, projectID, externalID, issueSource string) (bool, error) {
	res, err := w.exec(ctx, `
		UPDATE merge_requests SET issue_source = ?
		WHERE source = ? AND project_id = ? AND external_id = ? AND issue_source = ''
	`, issueSource, source, projectID, externalID)
	if err != nil {
		return false, fmt.Errorf("setting issue source: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("setting issue source: %w", err)
	}
	return n > 0, nil
}

// UpsertPipeline inserts or updates a pipeline by (source, project_id, external_id).
func (w *warehouse) UpsertPipeline(ctx context.Context, p *domain.Pipeline) error {
	_, err := w.exec(ctx, `
		INSERT INTO pipelines (source, project_id, external_id, ref, sha, status, trigger_ref, trigger_id,
			duration_seconds, created_at, source_updated_at, started_at, finished_at, web_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, project_id, external_id) DO UPDATE SET
			ref = excluded.ref,
			sha = excluded.sha,
			status = excluded.status,
			trigger_ref = excluded.trigger_ref,
			trigger_id = excluded.trigger_id,
			duration_seconds = excluded.duration_seconds,
			created_at = excluded.created_at,
			source_updated_at = excluded.source_updated_at,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			web_url = excluded.web_url,
			updated_at = excluded.updated_at
	`, p.Source, p.ProjectID, p.ExternalID, p.Ref, p.SHA, p.Status, p.Trigger.Key(), p.TriggerID,
		p.DurationSeconds, formatNullableTime(p.CreatedAt), formatNullableTime(p.SourceUpdatedAt),
		formatTimePtr(p.StartedAt), formatTimePtr(p.FinishedAt), p.WebURL, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upserting pipeline %s: %w", p.ExternalID, err)
	}
	return nil
}

// UpsertDeployment inserts or updates a deployment by (source, project_id, external_id).
func (w *warehouse) UpsertDeployment(ctx context.Context, d *domain.Deployment) error {
	_, err := w.exec(ctx, `
		INSERT INTO deployments (source, project_id, external_id, environment, status, ref, sha, deployer_ref,
			deployer_id, created_at, source_updated_at, finished_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, project_id, external_id) DO UPDATE SET
			environment = excluded.environment,
			status = excluded.status,
			ref = excluded.ref,
			sha = excluded.sha,
			deployer_ref = excluded.deployer_ref,
			deployer_id = excluded.deployer_id,
			created_at = excluded.created_at,
			source_updated_at = excluded.source_updated_at,
			finished_at = excluded.finished_at,
			updated_at = excluded.updated_at
	`, d.Source, d.ProjectID, d.ExternalID, d.Environment, d.Status, d.Ref, d.SHA, d.Deployer.Key(),
		d.DeployerID, formatNullableTime(d.CreatedAt), formatNullableTime(d.SourceUpdatedAt),
		formatTimePtr(d.FinishedAt), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upserting deployment %s: %w", d.ExternalID, err)
	}
	return nil
}

// UpsertTag inserts or updates a tag by (source, project_id, name).
func (w *warehouse) UpsertTag(ctx context.Context, t *domain.Tag) error {
	_, err := w.exec(ctx, `
		INSERT INTO tags (source, project_id, name, sha, message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, project_id, name) DO UPDATE SET
			sha = excluded.sha,
			message = excluded.message,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`, t.Source, t.ProjectID, t.Name, t.SHA, t.Message, formatTimePtr(t.CreatedAt), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upserting tag %s: %w", t.Name, err)
	}
	return nil
}

// UpsertBranch inserts or updates a branch by (source, project_id, name).
func (w *warehouse) UpsertBranch(ctx context.Context, b *domain.Branch) error {
	_, err := w.exec(ctx, `
		INSERT INTO branches (source, project_id, name, sha, protected, is_default, merged, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, project_id, name) DO UPDATE SET
			sha = excluded.sha,
			protected = excluded.protected,
			is_default = excluded.is_default,
			merged = excluded.merged,
			updated_at = excluded.updated_at
	`, b.Source, b.ProjectID, b.Name, b.SHA, boolToInt(b.Protected), boolToInt(b.Default), boolToInt(b.Merged),
		formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upserting branch %s: %w", b.Name, err)
	}
	return nil
}

// UpsertPackage inserts or updates a package by (source, project_id, external_id).
func (w *warehouse) UpsertPackage(ctx context.Context, p *domain.Package) error {
	_, err := w.exec(ctx, `
		INSERT INTO packages (source, project_id, external_id, name, version, package_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, project_id, external_id) DO UPDATE SET
			name = excluded.name,
			version = excluded.version,
			package_type = excluded.package_type,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`, p.Source, p.ProjectID, p.ExternalID, p.Name, p.Version, p.PackageType,
		formatNullableTime(p.CreatedAt), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upserting package %s: %w", p.ExternalID, err)
	}
	return nil
}

// TouchProjectActivity moves last_activity_at of the current project row
// forward. The column is not versioned, so it is updated in place.
func (w *warehouse) TouchProjectActivity(ctx context.Context, projectID string, at time.Time) error {
	if at.IsZero() {
		return nil
	}
	ts := formatTime(at)
	_, err := w.exec(ctx, `
		UPDATE projects SET last_activity_at = ?
		WHERE id = ? AND is_current = 1 AND (last_activity_at IS NULL OR last_activity_at < ?)
	`, ts, projectID, ts)
	if err != nil {
		return fmt.Errorf("touching project activity %s: %w", projectID, err)
	}
	return nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
