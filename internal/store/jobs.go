package store

import (
	"context"
	"fmt"
	"time"

	"github.com/propelship/leadforge/internal/models"
)

// UpsertJob inserts a discovered posting. The natural key makes re-runs
// idempotent: a posting already persisted for this run is silently kept
// as-is. Returns whether a new row was written.
func (c *Client) UpsertJob(ctx context.Context, job *models.JobPosting) (bool, error) {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO jobs (
			agent_id, source_id, title, company, location, remote,
			description, url, site, posted_at, score, admitted, scored,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
		ON CONFLICT (agent_id, company, title, site) DO NOTHING`

	res, err := c.db.ExecContext(ctx, query,
		job.AgentID, job.SourceID, job.Title, job.Company, job.Location, job.Remote,
		job.Description, job.URL, job.Site, job.PostedAt,
		job.Score, job.Admitted, job.Scored,
		job.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const jobColumns = `
	id, agent_id, source_id, title, company, location, remote,
	description, url, site, posted_at, score, admitted, scored, created_at`

// ListJobs returns every posting persisted for a run.
func (c *Client) ListJobs(ctx context.Context, agentID string) ([]models.JobPosting, error) {
	var jobs []models.JobPosting
	query := `SELECT` + jobColumns + ` FROM jobs WHERE agent_id = $1 ORDER BY id`

	if err := c.db.SelectContext(ctx, &jobs, query, agentID); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// ListUnscoredJobs returns postings the scoring stage has not marked yet.
// The resumption path uses this to process only what is left.
func (c *Client) ListUnscoredJobs(ctx context.Context, agentID string) ([]models.JobPosting, error) {
	var jobs []models.JobPosting
	query := `SELECT` + jobColumns + ` FROM jobs WHERE agent_id = $1 AND NOT scored ORDER BY id`

	if err := c.db.SelectContext(ctx, &jobs, query, agentID); err != nil {
		return nil, fmt.Errorf("failed to list unscored jobs: %w", err)
	}
	return jobs, nil
}

// ListAdmittedJobs returns postings that passed the score threshold.
func (c *Client) ListAdmittedJobs(ctx context.Context, agentID string) ([]models.JobPosting, error) {
	var jobs []models.JobPosting
	query := `SELECT` + jobColumns + ` FROM jobs WHERE agent_id = $1 AND admitted ORDER BY id`

	if err := c.db.SelectContext(ctx, &jobs, query, agentID); err != nil {
		return nil, fmt.Errorf("failed to list admitted jobs: %w", err)
	}
	return jobs, nil
}

// MarkJobScored records the scoring stage's single mutation of a posting.
func (c *Client) MarkJobScored(ctx context.Context, id int64, score float64, admitted bool) error {
	query := `UPDATE jobs SET score = $1, admitted = $2, scored = TRUE WHERE id = $3`

	if _, err := c.db.ExecContext(ctx, query, score, admitted, id); err != nil {
		return fmt.Errorf("failed to mark job scored: %w", err)
	}
	return nil
}
