package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/propelship/leadforge/internal/models"
)

// CreateAgent inserts a new run in its initial state.
func (c *Client) CreateAgent(ctx context.Context, agent *models.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	now := time.Now()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	if agent.Status == "" {
		agent.Status = models.StatusCreated
	}

	query := `
		INSERT INTO agents (
			id, query, status, progress, hours_old, min_score, tier,
			tags, target_roles, error, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)`

	_, err := c.db.ExecContext(ctx, query,
		agent.ID, agent.Query, agent.Status, agent.Progress,
		agent.HoursOld, agent.MinScore, agent.Tier,
		stringList(agent.Tags), stringList(agent.TargetRoles),
		agent.Error, agent.CreatedAt, agent.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	c.logger.Debug("Agent created",
		zap.String("agent_id", agent.ID),
		zap.String("query", agent.Query),
	)
	return nil
}

const agentColumns = `
	id, query, status, progress, hours_old, min_score, tier,
	tags, target_roles,
	total_jobs, admitted_jobs, total_contacts, verified_contacts,
	total_campaigns, failed_units,
	error, created_at, updated_at, completed_at`

// GetAgent loads one run. Returns models.ErrNotFound for unknown ids.
func (c *Client) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	var row agentRow
	query := `SELECT` + agentColumns + ` FROM agents WHERE id = $1`

	err := c.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return row.toAgent(), nil
}

// ListAgents returns all runs, newest first.
func (c *Client) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	var rows []agentRow
	query := `SELECT` + agentColumns + ` FROM agents ORDER BY created_at DESC`

	if err := c.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	agents := make([]*models.Agent, 0, len(rows))
	for i := range rows {
		agents = append(agents, rows[i].toAgent())
	}
	return agents, nil
}

// UpdateAgentStatus moves a run from one state to another as a single
// compare-and-set. Returns false when the run was not in the expected
// state, so a second writer loses cleanly.
func (c *Client) UpdateAgentStatus(ctx context.Context, id string, from, to models.AgentStatus) (bool, error) {
	query := `UPDATE agents SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`

	res, err := c.db.ExecContext(ctx, query, to, time.Now(), id, from)
	if err != nil {
		return false, fmt.Errorf("failed to update agent status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if n == 1 {
		c.logger.Debug("Agent status changed",
			zap.String("agent_id", id),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
	}
	return n == 1, nil
}

// UpdateAgentProgress raises the persisted progress. GREATEST keeps it
// monotonic no matter how stale the writer's view was.
func (c *Client) UpdateAgentProgress(ctx context.Context, id string, progress float64) error {
	query := `UPDATE agents SET progress = GREATEST(progress, $1), updated_at = $2 WHERE id = $3`

	if _, err := c.db.ExecContext(ctx, query, progress, time.Now(), id); err != nil {
		return fmt.Errorf("failed to update agent progress: %w", err)
	}
	return nil
}

// UpdateAgentCounts overwrites the per-stage counters. Called by the
// executor at stage boundaries, never concurrently for one run.
func (c *Client) UpdateAgentCounts(ctx context.Context, id string, counts models.StageCounts) error {
	query := `
		UPDATE agents SET
			total_jobs = $1, admitted_jobs = $2,
			total_contacts = $3, verified_contacts = $4,
			total_campaigns = $5, failed_units = $6,
			updated_at = $7
		WHERE id = $8`

	_, err := c.db.ExecContext(ctx, query,
		counts.TotalJobs, counts.AdmittedJobs,
		counts.TotalContacts, counts.VerifiedCount,
		counts.TotalCampaigns, counts.FailedUnits,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update agent counts: %w", err)
	}
	return nil
}

// CompleteAgent moves a run to a terminal state. The guard rejects the
// write when the run is already terminal, so nothing ever leaves a
// terminal state.
func (c *Client) CompleteAgent(ctx context.Context, id string, to models.AgentStatus, errMsg string) (bool, error) {
	if !to.Terminal() {
		return false, fmt.Errorf("complete agent: %s is not a terminal state", to)
	}

	query := `
		UPDATE agents SET status = $1, error = $2, completed_at = $3, updated_at = $4
		WHERE id = $5 AND status NOT IN ('completed', 'cancelled', 'failed')`

	now := time.Now()
	res, err := c.db.ExecContext(ctx, query, to, errMsg, now, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to complete agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if n == 1 {
		c.logger.Info("Agent reached terminal state",
			zap.String("agent_id", id),
			zap.String("status", string(to)),
		)
	}
	return n == 1, nil
}
